package residuals

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
)

// EDRValues holds the Euclidean Distance-Based Ranking results for one
// model: the normalized expected minimum distance, the square root of the
// bias correction factor, and the combined EDR score. Lower EDR indicates
// better fit.
type EDRValues struct {
	MDENorm   float64
	SqrtKappa float64
	EDR       float64
}

// EDR applies the Euclidean Distance-Based Ranking method of Kale & Akkar
// (2013) to every model, pooling observations across all IMTs and
// contexts. bandwidth is the discretization width of the distance grid and
// multiplier bounds the integration limits at multiplier times the total
// standard deviation (Eq. 8 of Kale & Akkar).
func (a *Analysis) EDR(bandwidth, multiplier float64) map[string]*EDRValues {
	out := make(map[string]*EDRValues, a.set.Len())
	for _, name := range a.set.Names() {
		obs, expected, stddev := a.edrInformation(name)
		mdeNorm, sqrtKappa, edr := getEDR(obs, expected, stddev, bandwidth, multiplier)
		out[name] = &EDRValues{MDENorm: mdeNorm, SqrtKappa: sqrtKappa, EDR: edr}
	}
	return out
}

// edrInformation pools the log-observations, expected means and total
// standard deviations of one model over every applicable IMT and context.
func (a *Analysis) edrInformation(model string) (obs, expected, stddev []float64) {
	for _, im := range a.imts {
		if a.residuals[model][im] == nil {
			continue
		}
		for _, ctx := range a.contexts {
			cell := ctx.Expected[model][im]
			obs = append(obs, lnSlice(ctx.Observations[im])...)
			expected = append(expected, cell.Mean...)
			stddev = append(stddev, cell.Stddev[gmdata.StdTotal]...)
		}
	}
	return obs, expected, stddev
}

// getEDR evaluates the expected minimum distance per record by numerical
// integration over the discretized distance grid, then aggregates the
// MDE norm and the kappa-corrected EDR.
func getEDR(obs, expected, stddev []float64, bandwidth, multiplier float64) (mdeNorm, sqrtKappa, edr float64) {
	normal := distuv.UnitNormal
	nvals := len(obs)
	minD := bandwidth / 2.0
	kappa := edrKappa(obs, expected)

	muD := make([]float64, nvals)
	var dcMax float64
	for i := range obs {
		muD[i] = obs[i] - expected[i]
		d1c := math.Abs(obs[i] - (expected[i] - multiplier*stddev[i]))
		d2c := math.Abs(obs[i] - (expected[i] + multiplier*stddev[i]))
		dcMax = math.Max(dcMax, math.Max(d1c, d2c))
	}
	dcMax = math.Ceil(dcMax)

	numD := int(math.Ceil((dcMax - minD) / bandwidth))
	mde := make([]float64, nvals)
	for iloc := 0; iloc < numD; iloc++ {
		dVal := minD + float64(iloc)*bandwidth
		d1 := dVal - minD
		d2 := dVal + minD
		for i := 0; i < nvals; i++ {
			p1 := normal.CDF((d1-muD[i])/stddev[i]) - normal.CDF((-d1-muD[i])/stddev[i])
			p2 := normal.CDF((d2-muD[i])/stddev[i]) - normal.CDF((-d2-muD[i])/stddev[i])
			mde[i] += (p2 - p1) * dVal
		}
	}

	var sumSq float64
	for _, v := range mde {
		sumSq += v * v
	}
	invN := 1.0 / float64(nvals)
	mdeNorm = math.Sqrt(invN * sumSq)
	edr = math.Sqrt(kappa * invN * sumSq)
	return mdeNorm, math.Sqrt(kappa), edr
}

// edrKappa returns the correction factor kappa from the least-squares
// bias fit of predictions on observations. The denominator is unguarded:
// perfectly correlated inputs divide by zero, surfacing as Inf/NaN.
func edrKappa(obs, expected []float64) float64 {
	muA := stat.Mean(obs, nil)
	muY := stat.Mean(expected, nil)
	var num, den float64
	for i := range obs {
		num += (obs[i] - muA) * (expected[i] - muY)
		den += (obs[i] - muA) * (obs[i] - muA)
	}
	b1 := num / den
	b0 := muY - b1*muA

	var deOrig, deCorr float64
	for i := range obs {
		yc := expected[i] - ((b0 + b1*obs[i]) - obs[i])
		deOrig += (obs[i] - expected[i]) * (obs[i] - expected[i])
		deCorr += (obs[i] - yc) * (obs[i] - yc)
	}
	return deOrig / deCorr
}
