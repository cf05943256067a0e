package residuals

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
	"github.com/ftbernales/gmpe-smtk/internal/log"
)

// TypeStat holds the descriptive statistics of one residual-type array.
// MedianLH is NaN until LikelihoodValues has run.
type TypeStat struct {
	Mean     float64
	StdDev   float64
	MedianLH float64
}

// Statistics returns NaN-aware mean and standard deviation per residual
// type, for every applicable (model, IMT) pair.
func (a *Analysis) Statistics() map[string]map[imt.IMT]map[gmdata.StddevType]*TypeStat {
	out := make(map[string]map[imt.IMT]map[gmdata.StddevType]*TypeStat, a.set.Len())
	for _, name := range a.set.Names() {
		out[name] = make(map[imt.IMT]map[gmdata.StddevType]*TypeStat, len(a.imts))
		for _, im := range a.imts {
			res := a.residuals[name][im]
			if res == nil {
				continue
			}
			stats := make(map[gmdata.StddevType]*TypeStat, len(a.types[name][im]))
			for _, st := range a.types[name][im] {
				clean := dropNaN(res[st])
				stats[st] = &TypeStat{
					Mean:     stat.Mean(clean, nil),
					StdDev:   math.Sqrt(stat.Moment(2, clean, nil)),
					MedianLH: math.NaN(),
				}
			}
			out[name][im] = stats
		}
	}
	return out
}

// LikelihoodValues returns, per residual type, the likelihood values of
// Scherbaum et al. (2004), Eq. 9, along with the descriptive statistics
// augmented with the NaN-aware median likelihood. Residuals are assumed
// standardized.
func (a *Analysis) LikelihoodValues() (
	map[string]map[imt.IMT]map[gmdata.StddevType][]float64,
	map[string]map[imt.IMT]map[gmdata.StddevType]*TypeStat,
) {
	statistics := a.Statistics()
	lhValues := make(map[string]map[imt.IMT]map[gmdata.StddevType][]float64, a.set.Len())
	for _, name := range a.set.Names() {
		lhValues[name] = make(map[imt.IMT]map[gmdata.StddevType][]float64, len(a.imts))
		for _, im := range a.imts {
			res := a.residuals[name][im]
			if res == nil {
				log.Infof("IMT %s not found in residuals for %s", im, name)
				continue
			}
			cell := make(map[gmdata.StddevType][]float64, len(a.types[name][im]))
			for _, st := range a.types[name][im] {
				lh := make([]float64, len(res[st]))
				for i, z := range res[st] {
					lh[i] = 1.0 - math.Erf(math.Abs(z)/math.Sqrt2)
				}
				cell[st] = lh
				statistics[name][im][st].MedianLH = nanPercentile(lh, 50.0)
			}
			lhValues[name][im] = cell
		}
	}
	return lhValues, statistics
}

// LLHResult holds the average sample log-likelihood of Scherbaum et al.
// (2009) for one model: per-IMT values plus the aggregate over every
// requested IMT.
type LLHResult struct {
	PerIMT map[imt.IMT]float64
	All    float64
}

// LogLikelihoodValues computes the Scherbaum et al. (2009) LLH over the
// given IMT subset for every model, together with the derived model
// weights (2^-LLH normalized to sum to one; a lower LLH yields a higher
// weight).
func (a *Analysis) LogLikelihoodValues(imts []imt.IMT) (map[string]*LLHResult, map[string]float64) {
	normal := distuv.UnitNormal
	llh := make(map[string]*LLHResult, a.set.Len())
	for _, name := range a.set.Names() {
		result := &LLHResult{PerIMT: make(map[imt.IMT]float64, len(imts)), All: math.NaN()}
		var pooled []float64
		for _, im := range imts {
			res := a.residualsForRequested(name, im)
			if res == nil {
				log.Infof("IMT %s not found in residuals for %s", im, name)
				result.PerIMT[im] = math.NaN()
				continue
			}
			total := res[gmdata.StdTotal]
			asll := make([]float64, len(total))
			var sum float64
			for i, z := range total {
				asll[i] = normal.LogProb(z) / math.Ln2
				sum += asll[i]
			}
			pooled = append(pooled, asll...)
			result.PerIMT[im] = -sum / float64(len(asll))
		}
		if len(pooled) > 0 {
			var sum float64
			for _, v := range pooled {
				sum += v
			}
			result.All = -sum / float64(len(pooled))
		}
		llh[name] = result
	}

	// Model weights from the aggregate LLH.
	weights := make(map[string]float64, a.set.Len())
	var wsum float64
	for _, name := range a.set.Names() {
		w := math.Pow(2.0, -llh[name].All)
		weights[name] = w
		wsum += w
	}
	for name := range weights {
		weights[name] /= wsum
	}
	return llh, weights
}

// residualsForRequested guards LLH IMT subsets that are not part of the
// analysis IMT list.
func (a *Analysis) residualsForRequested(model string, im imt.IMT) map[gmdata.StddevType][]float64 {
	for _, known := range a.imts {
		if known == im {
			return a.residuals[model][im]
		}
	}
	return nil
}

// dropNaN returns the values with NaN entries removed.
func dropNaN(values []float64) []float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	return clean
}

// nanPercentile returns the pct-th percentile of the non-NaN values using
// linear interpolation between order statistics. gonum's quantile kinds
// interpolate the empirical CDF differently, so this matches the reference
// percentile definition directly. Returns NaN for an all-NaN input.
func nanPercentile(values []float64, pct float64) float64 {
	clean := dropNaN(values)
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	h := float64(len(clean)-1) * pct / 100.0
	lo := int(math.Floor(h))
	if lo >= len(clean)-1 {
		return clean[len(clean)-1]
	}
	frac := h - float64(lo)
	return clean[lo] + frac*(clean[lo+1]-clean[lo])
}
