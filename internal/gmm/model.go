// Package gmm defines the ground-motion model contract and the registry
// that resolves model identifiers into live model instances.
package gmm

import (
	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// Model is the capability interface every ground-motion prediction model
// must implement. Implementations are read-only after construction and safe
// for concurrent use.
type Model interface {
	// Name returns the display name of the model.
	Name() string

	// Predict returns the predicted mean log-amplitude per record of the
	// context and one standard deviation array per requested type, in the
	// order requested. Arrays are per-record; a single shared inter-event
	// term may be returned as a length-1 array.
	Predict(ctx *gmdata.Context, im imt.IMT, types []gmdata.StddevType) (mean []float64, stddevs [][]float64, err error)

	// StddevTypes returns the standard deviation types the model defines,
	// always including Total.
	StddevTypes() []gmdata.StddevType

	// PeriodRange returns the minimum and maximum spectral period, in
	// seconds, covered by the model's coefficient tables.
	PeriodRange() (min, max float64)

	// ScalarCoefficients returns names of the model's non-spectral
	// coefficient sets (e.g. PGA, PGV table entries).
	ScalarCoefficients() []string
}

// ModelSet is an order-preserving, immutable collection of resolved models.
type ModelSet struct {
	names  []string
	models map[string]Model
}

// Names returns model display names in resolution order. The returned slice
// must not be modified.
func (s *ModelSet) Names() []string {
	return s.names
}

// Get returns the model bound to the given display name, or nil.
func (s *ModelSet) Get(name string) Model {
	return s.models[name]
}

// Len returns the number of models in the set.
func (s *ModelSet) Len() int {
	return len(s.names)
}
