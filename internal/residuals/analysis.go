// Package residuals computes ground-motion residuals and ranking statistics
// for a set of candidate ground-motion models against observed amplitudes.
//
// The aggregated stores follow the shape
//
//	model -> IMT -> {"Total": [], "Inter event": [], "Intra event": []}
//
// with a nil entry marking a (model, IMT) pair whose spectral period falls
// outside the model's valid range.
package residuals

import (
	"fmt"
	"math"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/gmm"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
	"github.com/ftbernales/gmpe-smtk/internal/log"
)

// interEventTolerance is the absolute tolerance under which a per-record
// inter-event residual vector is collapsed to a single shared value.
const interEventTolerance = 1e-12

// Options controls a residual analysis run.
type Options struct {
	// Component selects the horizontal component-of-motion definition.
	Component gmdata.Component
	// Normalise divides the decomposed residuals by their standard
	// deviations, yielding standardized values.
	Normalise bool
}

// DefaultOptions returns the standard geometric-mean, normalised setup.
func DefaultOptions() Options {
	return Options{Component: gmdata.ComponentGeometric, Normalise: true}
}

// Analysis derives sets of residuals for a list of ground-motion models and
// aggregates them across all contexts of a database. Construct with New,
// run once with Compute, then query the statistics methods.
type Analysis struct {
	set  *gmm.ModelSet
	imts []imt.IMT
	opts Options

	// types holds the declared residual types per applicable (model, IMT)
	// pair; a nil slice marks the pair inapplicable.
	types    map[string]map[imt.IMT][]gmdata.StddevType
	saLimits map[string][2]float64
	scalars  map[string][]string

	residuals     map[string]map[imt.IMT]map[gmdata.StddevType][]float64
	modelled      map[string]map[imt.IMT]map[gmdata.StddevType][]float64
	modelledMean  map[string]map[imt.IMT][]float64
	uniqueIndices map[string]map[imt.IMT][][]int

	contexts   []*gmdata.Context
	numRecords int
	computed   bool
}

// New prepares an analysis for the resolved model set and IMT list. Pairs
// whose spectral period lies outside a model's coefficient range are marked
// inapplicable up front and skipped everywhere downstream.
func New(set *gmm.ModelSet, imts []imt.IMT, opts Options) *Analysis {
	a := &Analysis{
		set:           set,
		imts:          imts,
		opts:          opts,
		types:         make(map[string]map[imt.IMT][]gmdata.StddevType),
		saLimits:      make(map[string][2]float64),
		scalars:       make(map[string][]string),
		residuals:     make(map[string]map[imt.IMT]map[gmdata.StddevType][]float64),
		modelled:      make(map[string]map[imt.IMT]map[gmdata.StddevType][]float64),
		modelledMean:  make(map[string]map[imt.IMT][]float64),
		uniqueIndices: make(map[string]map[imt.IMT][][]int),
	}

	for _, name := range set.Names() {
		model := set.Get(name)
		minPer, maxPer := model.PeriodRange()
		a.saLimits[name] = [2]float64{minPer, maxPer}
		a.scalars[name] = model.ScalarCoefficients()

		a.types[name] = make(map[imt.IMT][]gmdata.StddevType)
		a.residuals[name] = make(map[imt.IMT]map[gmdata.StddevType][]float64)
		a.modelled[name] = make(map[imt.IMT]map[gmdata.StddevType][]float64)
		a.modelledMean[name] = make(map[imt.IMT][]float64)
		a.uniqueIndices[name] = make(map[imt.IMT][][]int)

		// The decomposition needs both the between- and within-event
		// terms; a partial declaration degrades to Total only.
		declared := model.StddevTypes()
		if hasType(declared, gmdata.StdInter) != hasType(declared, gmdata.StdIntra) {
			log.Infof("model %s declares a partial inter/intra decomposition, using Total residuals only", name)
			declared = []gmdata.StddevType{gmdata.StdTotal}
		}

		for _, im := range imts {
			if im.IsSpectral() && (im.Period() < minPer || im.Period() > maxPer) {
				log.Infof("IMT %s outside period range for model %s", im, name)
				a.types[name][im] = nil
				a.residuals[name][im] = nil
				a.modelled[name][im] = nil
				continue
			}
			a.types[name][im] = declared
			a.residuals[name][im] = make(map[gmdata.StddevType][]float64, len(declared))
			a.modelled[name][im] = make(map[gmdata.StddevType][]float64, len(declared))
			for _, st := range declared {
				a.residuals[name][im][st] = nil
				a.modelled[name][im][st] = nil
			}
		}
	}
	return a
}

// Models returns model display names in resolution order.
func (a *Analysis) Models() []string { return a.set.Names() }

// IMTs returns the analysis IMT list in caller order.
func (a *Analysis) IMTs() []imt.IMT { return a.imts }

// Contexts returns the processed contexts, in database order. Nil before
// Compute has run.
func (a *Analysis) Contexts() []*gmdata.Context { return a.contexts }

// NumRecords returns the total record count across all contexts.
func (a *Analysis) NumRecords() int { return a.numRecords }

// Types returns the declared residual types for a (model, IMT) pair, nil
// when the pair is inapplicable.
func (a *Analysis) Types(model string, im imt.IMT) []gmdata.StddevType {
	return a.types[model][im]
}

// PeriodLimits returns the valid spectral period range of a model.
func (a *Analysis) PeriodLimits(model string) (min, max float64) {
	lim := a.saLimits[model]
	return lim[0], lim[1]
}

// ScalarCoefficients returns the non-spectral coefficient names declared by
// a model.
func (a *Analysis) ScalarCoefficients(model string) []string {
	return a.scalars[model]
}

// Residuals returns the aggregated residual arrays for a (model, IMT)
// pair, keyed by residual type; nil when the pair is inapplicable.
func (a *Analysis) Residuals(model string, im imt.IMT) map[gmdata.StddevType][]float64 {
	return a.residuals[model][im]
}

// Modelled returns the aggregated expected standard deviation arrays for a
// (model, IMT) pair; nil when the pair is inapplicable.
func (a *Analysis) Modelled(model string, im imt.IMT) map[gmdata.StddevType][]float64 {
	return a.modelled[model][im]
}

// ModelledMean returns the aggregated expected mean array for a
// (model, IMT) pair.
func (a *Analysis) ModelledMean(model string, im imt.IMT) []float64 {
	return a.modelledMean[model][im]
}

// UniqueIndices returns, per context, the indices of the inter-event
// residual values the context contributed: a single index when the context
// collapsed to one shared value, the full record range otherwise.
func (a *Analysis) UniqueIndices(model string, im imt.IMT) [][]int {
	return a.uniqueIndices[model][im]
}

// Compute runs the full pipeline: contexts, unit conversion, expected
// motions, residual decomposition and aggregation. It may be called once
// per Analysis.
func (a *Analysis) Compute(db gmdata.Database) error {
	if a.computed {
		return fmt.Errorf("analysis already computed")
	}

	contexts, err := db.GetContexts(a.opts.Component, a.imts)
	if err != nil {
		return fmt.Errorf("failed to get contexts: %w", err)
	}

	for _, ctx := range contexts {
		// Observed accelerations arrive in cm/s/s and are converted to g
		// before any residual is formed.
		for _, im := range a.imts {
			if !im.IsAcceleration() {
				continue
			}
			converted, err := gmdata.ConvertAccelUnits(ctx.Observations[im], "cm/s/s", "g")
			if err != nil {
				return err
			}
			ctx.Observations[im] = converted
		}

		if err := a.expectedMotions(ctx); err != nil {
			return err
		}
		a.calculateResiduals(ctx)
		a.accumulate(ctx)
		a.contexts = append(a.contexts, ctx)
		a.numRecords += ctx.NumRecords()
	}

	a.computed = true
	return nil
}

// accumulate appends one context's residuals and expected values to the
// aggregated stores, collapsing constant inter-event vectors to a single
// shared value per context.
func (a *Analysis) accumulate(ctx *gmdata.Context) {
	for _, name := range a.set.Names() {
		for _, im := range a.imts {
			rc := ctx.Residual[name][im]
			if rc == nil {
				continue
			}
			ec := ctx.Expected[name][im]
			for _, st := range a.types[name][im] {
				values := residualByType(rc, st)
				if values == nil {
					log.Debugf("no %s residuals for model %s, %s", st, name, im)
					continue
				}
				if st == gmdata.StdInter {
					if isConstant(values, interEventTolerance) {
						a.residuals[name][im][st] = append(a.residuals[name][im][st], values[0])
						a.uniqueIndices[name][im] = append(a.uniqueIndices[name][im], []int{0})
					} else {
						// Per-site inter-event residuals, e.g. models with
						// site-dependent between-event terms.
						a.residuals[name][im][st] = append(a.residuals[name][im][st], values...)
						a.uniqueIndices[name][im] = append(a.uniqueIndices[name][im], fullRange(len(values)))
					}
				} else {
					a.residuals[name][im][st] = append(a.residuals[name][im][st], values...)
				}
				a.modelled[name][im][st] = append(a.modelled[name][im][st], ec.Stddev[st]...)
			}
			a.modelledMean[name][im] = append(a.modelledMean[name][im], ec.Mean...)
		}
	}
}

// Magnitudes returns an event magnitude per record, aligned with the
// aggregated per-record arrays.
func (a *Analysis) Magnitudes() []float64 {
	var mags []float64
	for _, ctx := range a.contexts {
		for i := 0; i < ctx.NumRecords(); i++ {
			mags = append(mags, ctx.Rupture.Mag)
		}
	}
	return mags
}

func residualByType(rc *gmdata.ResidualCell, st gmdata.StddevType) []float64 {
	switch st {
	case gmdata.StdTotal:
		return rc.Total
	case gmdata.StdInter:
		return rc.Inter
	case gmdata.StdIntra:
		return rc.Intra
	}
	return nil
}

func isConstant(values []float64, tol float64) bool {
	for _, v := range values {
		if math.Abs(v-values[0]) >= tol {
			return false
		}
	}
	return true
}

func fullRange(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func lnSlice(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log(v)
	}
	return out
}
