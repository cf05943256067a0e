package residuals

import (
	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/gmm"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// The named analyses below are single-purpose wrappers kept for callers
// that want one statistic without driving the full Analysis API. Each
// runs a fresh residual computation against the database.

// LikelihoodAnalysis computes residuals and returns the Scherbaum et al.
// (2004) likelihood arrays with per-type statistics including the median
// likelihood.
func LikelihoodAnalysis(set *gmm.ModelSet, imts []imt.IMT, db gmdata.Database, opts Options) (
	*Analysis,
	map[string]map[imt.IMT]map[gmdata.StddevType][]float64,
	map[string]map[imt.IMT]map[gmdata.StddevType]*TypeStat,
	error,
) {
	a := New(set, imts, opts)
	if err := a.Compute(db); err != nil {
		return nil, nil, nil, err
	}
	lh, stats := a.LikelihoodValues()
	return a, lh, stats, nil
}

// LLHAnalysis computes residuals and returns the Scherbaum et al. (2009)
// log-likelihoods and derived model weights.
func LLHAnalysis(set *gmm.ModelSet, imts []imt.IMT, db gmdata.Database, opts Options) (*Analysis, map[string]*LLHResult, map[string]float64, error) {
	a := New(set, imts, opts)
	if err := a.Compute(db); err != nil {
		return nil, nil, nil, err
	}
	llh, weights := a.LogLikelihoodValues(imts)
	return a, llh, weights, nil
}

// MultivariateLLHAnalysis computes residuals and returns the Mak et al.
// (2017) full-covariance negative log-likelihoods, per IMT and summed.
func MultivariateLLHAnalysis(set *gmm.ModelSet, imts []imt.IMT, db gmdata.Database, opts Options, sumIMTs bool) (
	*Analysis,
	map[string]map[imt.IMT]float64,
	map[string]float64,
	error,
) {
	a := New(set, imts, opts)
	if err := a.Compute(db); err != nil {
		return nil, nil, nil, err
	}
	perIMT, summed := a.MultivariateLLH(sumIMTs)
	return a, perIMT, summed, nil
}

// EDRAnalysis computes residuals and returns the Kale and Akkar (2013)
// Euclidean distance-based ranking values.
func EDRAnalysis(set *gmm.ModelSet, imts []imt.IMT, db gmdata.Database, opts Options, bandwidth, multiplier float64) (*Analysis, map[string]*EDRValues, error) {
	a := New(set, imts, opts)
	if err := a.Compute(db); err != nil {
		return nil, nil, err
	}
	return a, a.EDR(bandwidth, multiplier), nil
}
