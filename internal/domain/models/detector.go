package models

// DetectorKind separates the two detector variants behind one evaluation
// contract.
type DetectorKind string

const (
	DetectorRule  DetectorKind = "rule"
	DetectorModel DetectorKind = "model"
)

// DetectorSpec is the persisted identity of a detector. Immutable once any
// signal references (ID, Version); a parameter change mints a new version.
type DetectorSpec struct {
	ID          string
	Version     string
	Kind        DetectorKind
	Description string
	Params      map[string]float64
}

// Key returns the natural identity "id@version".
func (d DetectorSpec) Key() string { return d.ID + "@" + d.Version }
