// Package gmdata defines the strong-motion data model shared by the
// residual engine: earthquake contexts (rupture, sites, distances and
// observed amplitudes), the database contract that produces them, and the
// result structures attached by the analysis pipeline.
package gmdata

import (
	"math"

	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// StddevType identifies a standard deviation component declared by a
// ground-motion model. The string values double as residual-type keys in
// aggregated stores and reports.
type StddevType string

const (
	StdTotal StddevType = "Total"
	StdInter StddevType = "Inter event"
	StdIntra StddevType = "Intra event"
)

// Component selects the horizontal component-of-motion definition used when
// retrieving observed amplitudes.
type Component string

const (
	ComponentGeometric Component = "Geometric"
	ComponentGMRotI50  Component = "GMRotI50"
	ComponentGMRotD50  Component = "GMRotD50"
	ComponentRotD50    Component = "RotD50"
)

// Rupture describes the source of one event. Rake is NaN when the catalog
// carries no rake; the expected-motion stage substitutes 0 once per context
// before any model is invoked.
type Rupture struct {
	Mag   float64
	Depth float64
	Rake  float64
	Dip   float64
}

// NewRupture returns a rupture with unset rake and dip.
func NewRupture(mag, depth float64) *Rupture {
	return &Rupture{Mag: mag, Depth: depth, Rake: math.NaN(), Dip: math.NaN()}
}

// EnsureRake applies the default rake of 0 when none is set.
func (r *Rupture) EnsureRake() {
	if math.IsNaN(r.Rake) {
		r.Rake = 0.0
	}
}

// Sites holds the per-record site parameters of one context.
type Sites struct {
	IDs       []string
	Vs30      []float64
	Elevation []float64
}

// Distances holds the per-record source-to-site distance metrics of one
// context, each parallel to the site arrays.
type Distances struct {
	Repi  []float64
	Rhypo []float64
	Rjb   []float64
	Rrup  []float64
}

// ExpectedCell holds the predicted mean and the standard deviation arrays
// for one (model, IMT) pair in one context. A nil *ExpectedCell marks the
// pair inapplicable (spectral period outside the model's valid range).
//
// Stddev arrays are per-record except for a single shared inter-event term,
// which may be length 1.
type ExpectedCell struct {
	Mean   []float64
	Stddev map[StddevType][]float64
}

// ResidualCell holds the residuals for one (model, IMT) pair in one context.
// A nil *ResidualCell marks the pair inapplicable. Inter and Intra are nil
// when the model declares no within/between-event decomposition.
type ResidualCell struct {
	Total []float64
	Inter []float64
	Intra []float64
}

// Context is one earthquake-like grouping: a rupture, N site records with
// distances, and observed amplitudes per IMT. The Expected and Residual
// structures are attached by the analysis pipeline at its stage boundaries
// and are nil before the corresponding stage has run.
type Context struct {
	EventID      string
	Rupture      *Rupture
	Sites        *Sites
	Distances    *Distances
	Observations map[imt.IMT][]float64

	Expected map[string]map[imt.IMT]*ExpectedCell
	Residual map[string]map[imt.IMT]*ResidualCell
}

// NumRecords returns the number of site records in the context.
func (c *Context) NumRecords() int {
	if c.Sites == nil {
		return 0
	}
	return len(c.Sites.IDs)
}
