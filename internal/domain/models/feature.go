package models

// FeatureSchemaVersion tags the snapshot layout so downstream consumers can
// detect incompatible feature sets across detector versions.
const FeatureSchemaVersion = "fv1"

// Feature keys present in a warm snapshot. A key absent from the map means
// the indicator has not warmed up yet; consumers must treat it as not
// evaluable, never substitute a default.
const (
	FeatRSI14         = "rsi_14"
	FeatMACDLine      = "macd_line"
	FeatMACDSignal    = "macd_signal"
	FeatMACDHist      = "macd_hist"
	FeatMACDHistPrev  = "macd_hist_prev"
	FeatSMA20         = "sma_20"
	FeatSMA50         = "sma_50"
	FeatSMA200        = "sma_200"
	FeatEMA20         = "ema_20"
	FeatEMA50         = "ema_50"
	FeatEMA200        = "ema_200"
	FeatATR14         = "atr_14"
	FeatBBWidth       = "bb_width_20_2"
	FeatBBPctB        = "bb_pct_b_20_2"
	FeatBBWidthPctile = "bb_width_pctile_60"
	FeatStochRSI      = "stoch_rsi_14"
	FeatRelVol10      = "rel_vol_10"
	FeatRelVol10Prev  = "rel_vol_10_prev"
	FeatRelVol20      = "rel_vol_20"
	FeatVWAPDist      = "vwap_dist"
	FeatHHV10         = "hhv_10"
	FeatHHV10Prev     = "hhv_10_prev"
	FeatClosePrev     = "close_prev"
	FeatClose         = "close"
	FeatVolume        = "volume"
)

// FeatureVector is a point-in-time snapshot of indicator values for one
// (symbol, timeframe) stream. The schema version makes the key layout
// explicit for downstream consumers.
type FeatureVector struct {
	SchemaVersion string
	Values        map[string]float64
}

// NewFeatureVector allocates an empty snapshot under the current schema.
func NewFeatureVector() FeatureVector {
	return FeatureVector{SchemaVersion: FeatureSchemaVersion, Values: make(map[string]float64)}
}

// Get returns the value and whether the feature is present (warmed up).
func (fv FeatureVector) Get(key string) (float64, bool) {
	v, ok := fv.Values[key]
	return v, ok
}

// Has reports whether every named feature is present.
func (fv FeatureVector) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := fv.Values[k]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy; snapshots stored on signals must not
// alias the engine's live state.
func (fv FeatureVector) Clone() FeatureVector {
	out := FeatureVector{SchemaVersion: fv.SchemaVersion, Values: make(map[string]float64, len(fv.Values))}
	for k, v := range fv.Values {
		out.Values[k] = v
	}
	return out
}
