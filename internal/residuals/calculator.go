package residuals

import (
	"fmt"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// expectedMotions invokes every applicable model for every IMT of the
// context and attaches the Expected structure. The rake default is applied
// once per context, before the first model invocation.
func (a *Analysis) expectedMotions(ctx *gmdata.Context) error {
	ctx.Rupture.EnsureRake()

	ctx.Expected = make(map[string]map[imt.IMT]*gmdata.ExpectedCell, a.set.Len())
	for _, name := range a.set.Names() {
		model := a.set.Get(name)
		cells := make(map[imt.IMT]*gmdata.ExpectedCell, len(a.imts))
		for _, im := range a.imts {
			types := a.types[name][im]
			if types == nil {
				cells[im] = nil
				continue
			}
			mean, stddevs, err := model.Predict(ctx, im, types)
			if err != nil {
				return fmt.Errorf("model %s failed for event %s, %s: %w", name, ctx.EventID, im, err)
			}
			cell := &gmdata.ExpectedCell{
				Mean:   mean,
				Stddev: make(map[gmdata.StddevType][]float64, len(types)),
			}
			for k, st := range types {
				cell.Stddev[st] = stddevs[k]
			}
			cells[im] = cell
		}
		ctx.Expected[name] = cells
	}
	return nil
}

// calculateResiduals converts the context's expected motions into total
// residuals and, where the model declares both components, into the
// random-effects decomposition. Inputs are never mutated.
func (a *Analysis) calculateResiduals(ctx *gmdata.Context) {
	ctx.Residual = make(map[string]map[imt.IMT]*gmdata.ResidualCell, a.set.Len())
	for _, name := range a.set.Names() {
		cells := make(map[imt.IMT]*gmdata.ResidualCell, len(a.imts))
		for _, im := range a.imts {
			ec := ctx.Expected[name][im]
			if ec == nil {
				cells[im] = nil
				continue
			}
			obs := lnSlice(ctx.Observations[im])
			total := ec.Stddev[gmdata.StdTotal]
			rc := &gmdata.ResidualCell{Total: make([]float64, len(obs))}
			for i := range obs {
				rc.Total[i] = (obs[i] - ec.Mean[i]) / total[i]
			}
			if hasType(a.types[name][im], gmdata.StdInter) && hasType(a.types[name][im], gmdata.StdIntra) {
				rc.Inter, rc.Intra = randomEffects(
					obs, ec.Mean,
					ec.Stddev[gmdata.StdInter], ec.Stddev[gmdata.StdIntra],
					a.opts.Normalise)
			}
			cells[im] = rc
		}
		ctx.Residual[name] = cells
	}
}

// randomEffects computes the inter- and intra-event residuals using the
// inter-event residual formula of Abrahamson & Youngs (1992), Eq. 10. The
// between-event term tau may be a single shared value (length 1) or
// per-record; the per-record phi enters the denominator even though a
// single event term results, matching the reference formulation.
func randomEffects(obs, mean, tau, phi []float64, normalise bool) (inter, intra []float64) {
	n := len(mean)
	var sum float64
	for i := range mean {
		sum += obs[i] - mean[i]
	}

	inter = make([]float64, n)
	intra = make([]float64, n)
	for i := 0; i < n; i++ {
		t := broadcast(tau, i)
		p := broadcast(phi, i)
		eta := (t * t * sum) / (float64(n)*t*t + p*p)
		res := obs[i] - (mean[i] + eta)
		if normalise {
			eta /= t
			res /= p
		}
		inter[i] = eta
		intra[i] = res
	}
	return inter, intra
}

// broadcast indexes a possibly length-1 array as if repeated per record.
func broadcast(values []float64, i int) float64 {
	if len(values) == 1 {
		return values[0]
	}
	return values[i]
}

func hasType(types []gmdata.StddevType, st gmdata.StddevType) bool {
	for _, t := range types {
		if t == st {
			return true
		}
	}
	return false
}
