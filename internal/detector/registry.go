package detector

import (
	"fmt"
	"sync"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/service"
)

// Registry holds the closed set of detectors for a run. Detectors are
// registered explicitly at startup from configuration, never discovered at
// runtime; a duplicate id+version is a configuration error.
type Registry struct {
	mu      sync.RWMutex
	ordered []service.Detector
	byKey   map[string]service.Detector
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]service.Detector)}
}

// Register adds a detector. The (id, version) pair must be unique.
func (r *Registry) Register(d service.Detector) error {
	spec := d.Spec()
	if spec.ID == "" || spec.Version == "" {
		return &models.ConfigValidationError{Field: "detectors", Msg: "id and version are required"}
	}
	key := spec.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[key]; exists {
		return &models.ConfigValidationError{Field: "detectors", Msg: fmt.Sprintf("duplicate detector %s", key)}
	}
	r.byKey[key] = d
	r.ordered = append(r.ordered, d)
	return nil
}

// Detectors returns the registered detectors in registration order.
func (r *Registry) Detectors() []service.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.Detector, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Specs returns the specs of all registered detectors.
func (r *Registry) Specs() []models.DetectorSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DetectorSpec, 0, len(r.ordered))
	for _, d := range r.ordered {
		out = append(out, d.Spec())
	}
	return out
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Build constructs a registry from configured specs. Rule detectors are
// matched by id; model detectors require a scorer. Unknown kinds or ids
// refuse to start.
func Build(specs []models.DetectorSpec, scorer service.Scorer) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		var (
			d   service.Detector
			err error
		)
		switch spec.Kind {
		case models.DetectorRule:
			switch spec.ID {
			case BreakoutID:
				d, err = NewBreakout(spec)
			default:
				err = &models.ConfigValidationError{Field: "detectors", Msg: fmt.Sprintf("unknown rule detector %q", spec.ID)}
			}
		case models.DetectorModel:
			d, err = NewModel(spec, scorer)
		default:
			err = &models.ConfigValidationError{Field: "detectors", Msg: fmt.Sprintf("unknown detector kind %q", spec.Kind)}
		}
		if err != nil {
			return nil, err
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
