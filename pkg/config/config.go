package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"FinScan/internal/domain/models"
)

// Config is the full runtime configuration. Load order: YAML file, env
// overrides, defaults for whatever is still zero, then validation. A config
// that fails validation never reaches the stores.
type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Mode        string `yaml:"mode" default:"serve" validate:"oneof=once serve"`
	Backend     string `yaml:"backend" default:"memory" validate:"oneof=memory clickhouse"`

	Logger struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
		CacheBackend    string        `yaml:"cache_backend" default:"memory" validate:"oneof=memory redis none"`
		RateCapacity    float64       `yaml:"rate_capacity" default:"10"`
		RateRefill      float64       `yaml:"rate_refill" default:"5"`
	} `yaml:"server"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finscan"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	} `yaml:"clickhouse"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		AlertsTopic  string        `yaml:"alerts_topic" default:"finscan.signals"`
		BarsTopic    string        `yaml:"bars_topic" default:"finscan.bars"`
		LogsTopic    string        `yaml:"logs_topic" default:"finscan.logs"`
		RequiredAcks int           `yaml:"required_acks" default:"1"`
		Compression  string        `yaml:"compression" default:"snappy"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
		Async        bool          `yaml:"async"`
		Consumer     struct {
			GroupID         string        `yaml:"group_id" default:"finscan-bars"`
			Workers         int           `yaml:"workers" default:"2"`
			BufferSize      int           `yaml:"buffer_size" default:"1024"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic        string        `yaml:"dlq_topic"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"earliest" validate:"oneof=earliest latest"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finscan"`
	} `yaml:"redis"`

	Provider struct {
		BaseURL        string        `yaml:"base_url"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		MaxAttempts    int           `yaml:"max_attempts" default:"4"`
		Backoff        time.Duration `yaml:"backoff" default:"250ms"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		Stream         bool          `yaml:"stream"`
	} `yaml:"provider"`

	Universe struct {
		Watchlist  []string `yaml:"watchlist"`
		Timeframes []string `yaml:"timeframes" validate:"dive,oneof=1m 5m 15m 1h 4h 1d"`
		BaseTF     string   `yaml:"base_tf" default:"1m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
		Exchange   string   `yaml:"exchange" default:"US"`
	} `yaml:"universe"`

	Detectors []DetectorConfig `yaml:"detectors" validate:"dive"`

	Scan struct {
		Interval        time.Duration `yaml:"interval" default:"30s"`
		Shards          int           `yaml:"shards" default:"4" validate:"gte=1"`
		WarmupBars      int           `yaml:"warmup_bars" default:"300"`
		BatchSize       int           `yaml:"batch_size" default:"500"`
		DetectorTimeout time.Duration `yaml:"detector_timeout" default:"2s"`
		ConfirmTFs      []string      `yaml:"confirm_timeframes" validate:"dive,oneof=1m 5m 15m 1h 4h 1d"`
	} `yaml:"scan"`

	Labeling struct {
		Horizons     []HorizonConfig `yaml:"horizons" validate:"dive"`
		Targets      []float64       `yaml:"targets"`
		Stop         float64         `yaml:"stop" default:"0.01"`
		SameBar      string          `yaml:"same_bar" default:"stop_first" validate:"oneof=stop_first target_first"`
		LabelVersion int             `yaml:"label_version" default:"1" validate:"gte=1"`
		Interval     time.Duration   `yaml:"interval" default:"1m"`
		BatchSize    int             `yaml:"batch_size" default:"200"`
		Queue        struct {
			Enabled bool   `yaml:"enabled"`
			Name    string `yaml:"name" default:"finscan:labeling"`
			Workers int    `yaml:"workers" default:"2"`
		} `yaml:"queue"`
	} `yaml:"labeling"`

	Baseline struct {
		Rate       float64 `yaml:"rate" default:"0.02" validate:"gte=0,lte=1"`
		MinSpacing int     `yaml:"min_spacing" default:"20" validate:"gte=1"`
		Lookback   int     `yaml:"lookback" default:"500"`
		Seed       int64   `yaml:"seed" default:"1"`
	} `yaml:"baseline"`

	Scoring struct {
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout" default:"3s"`
		Attempts int           `yaml:"attempts" default:"2"`
	} `yaml:"scoring"`
}

// DetectorConfig declares one detector instance to register.
type DetectorConfig struct {
	ID          string             `yaml:"id" validate:"required"`
	Version     string             `yaml:"version" validate:"required"`
	Kind        string             `yaml:"kind" validate:"oneof=rule model"`
	Description string             `yaml:"description"`
	Params      map[string]float64 `yaml:"params"`
}

// HorizonConfig is one forward-labeling window.
type HorizonConfig struct {
	Timeframe string `yaml:"timeframe" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	Bars      int    `yaml:"bars" validate:"gte=1"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from raw YAML bytes.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with FINSCAN_* environment
// variables before validation.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("FINSCAN_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("FINSCAN_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("FINSCAN_WATCHLIST"); v != "" {
		c.Universe.Watchlist = splitList(v)
	}
	if v := os.Getenv("FINSCAN_TIMEFRAMES"); v != "" {
		c.Universe.Timeframes = splitList(v)
	}
	if v := os.Getenv("FINSCAN_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("FINSCAN_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("FINSCAN_PROVIDER_WS_URL"); v != "" {
		c.Provider.WebSocketURL = v
	}
	if v := os.Getenv("FINSCAN_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("FINSCAN_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("FINSCAN_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("FINSCAN_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("FINSCAN_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("FINSCAN_LABEL_VERSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Labeling.LabelVersion = n
		}
	}

	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Finalize applies defaults and validates. Exposed so tests and embedded
// callers can run the same pipeline Load uses.
func (c *Config) Finalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	c.applySliceDefaults()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &models.ConfigValidationError{
				Field: fe.Namespace(),
				Msg:   fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return c.Validate()
}

// applySliceDefaults fills slice fields the tag-based defaults cannot express.
func (c *Config) applySliceDefaults() {
	if len(c.Universe.Timeframes) == 0 {
		c.Universe.Timeframes = []string{"1m", "5m", "15m"}
	}
	if len(c.Scan.ConfirmTFs) == 0 {
		c.Scan.ConfirmTFs = []string{"15m", "1h", "4h"}
	}
	if len(c.Labeling.Horizons) == 0 {
		c.Labeling.Horizons = []HorizonConfig{{Timeframe: "5m", Bars: 12}, {Timeframe: "15m", Bars: 20}}
	}
	if len(c.Labeling.Targets) == 0 {
		c.Labeling.Targets = []float64{0.01, 0.02}
	}
	if len(c.Detectors) == 0 {
		c.Detectors = []DetectorConfig{{
			ID:      "breakout20",
			Version: "1",
			Kind:    "rule",
			Params:  map[string]float64{},
		}}
	}
}

// Validate covers the cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	if len(c.Universe.Watchlist) == 0 {
		return &models.ConfigValidationError{Field: "universe.watchlist", Msg: "must list at least one symbol"}
	}
	for i, s := range c.Universe.Watchlist {
		if strings.TrimSpace(s) == "" {
			return &models.ConfigValidationError{Field: fmt.Sprintf("universe.watchlist[%d]", i), Msg: "empty symbol"}
		}
	}
	for i, t := range c.Labeling.Targets {
		if t <= 0 {
			return &models.ConfigValidationError{Field: fmt.Sprintf("labeling.targets[%d]", i), Msg: "must be positive"}
		}
		if i > 0 && t <= c.Labeling.Targets[i-1] {
			return &models.ConfigValidationError{Field: fmt.Sprintf("labeling.targets[%d]", i), Msg: "targets must be strictly ascending"}
		}
	}
	if c.Labeling.Stop <= 0 {
		return &models.ConfigValidationError{Field: "labeling.stop", Msg: "must be positive"}
	}
	seen := make(map[string]bool, len(c.Detectors))
	for i, d := range c.Detectors {
		key := d.ID + "@" + d.Version
		if seen[key] {
			return &models.ConfigValidationError{Field: fmt.Sprintf("detectors[%d]", i), Msg: "duplicate id@version " + key}
		}
		seen[key] = true
		if d.Kind == "model" && c.Scoring.URL == "" {
			return &models.ConfigValidationError{Field: "scoring.url", Msg: "required when a model detector is configured"}
		}
	}
	if c.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return &models.ConfigValidationError{Field: "clickhouse.host", Msg: "required for clickhouse backend"}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return &models.ConfigValidationError{Field: "kafka.brokers", Msg: "required when kafka is enabled"}
	}
	if c.Provider.Stream && c.Provider.WebSocketURL == "" {
		return &models.ConfigValidationError{Field: "provider.websocket_url", Msg: "required when streaming is enabled"}
	}
	if c.Labeling.Queue.Enabled && !c.Redis.Enabled {
		return &models.ConfigValidationError{Field: "labeling.queue.enabled", Msg: "requires redis"}
	}
	if c.Server.CacheBackend == "redis" && !c.Redis.Enabled {
		return &models.ConfigValidationError{Field: "server.cache_backend", Msg: "redis cache requires redis"}
	}
	return nil
}

// Horizons converts the configured windows into domain horizons.
func (c *Config) Horizons() []models.Horizon {
	out := make([]models.Horizon, 0, len(c.Labeling.Horizons))
	for _, h := range c.Labeling.Horizons {
		out = append(out, models.Horizon{Timeframe: h.Timeframe, Bars: h.Bars})
	}
	return out
}

// TargetGrid assembles the exit grid outcomes are labeled against.
func (c *Config) TargetGrid() models.TargetSet {
	return models.TargetSet{
		Targets: c.Labeling.Targets,
		Stop:    c.Labeling.Stop,
		SameBar: models.SameBarPolicy(c.Labeling.SameBar),
	}
}

// DetectorSpecs converts detector declarations into domain specs.
func (c *Config) DetectorSpecs() []models.DetectorSpec {
	out := make([]models.DetectorSpec, 0, len(c.Detectors))
	for _, d := range c.Detectors {
		out = append(out, models.DetectorSpec{
			ID:          d.ID,
			Version:     d.Version,
			Kind:        models.DetectorKind(d.Kind),
			Description: d.Description,
			Params:      d.Params,
		})
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
