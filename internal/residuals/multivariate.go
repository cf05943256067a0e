package residuals

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
	"github.com/ftbernales/gmpe-smtk/internal/log"
)

// buildMatrices constructs the observation, expected-mean and covariance
// inputs of the multivariate log-likelihood, following the implementation
// in the supplement to Mak et al. (2017). The covariance is
//
//	V = diag(phi^2) + Z Z^T
//
// where column j of Z carries event j's inter-event standard deviation at
// the rows of its records, encoding the shared between-event correlation.
// When a model has no decomposition for the IMT the total standard
// deviation stands in for the within-event term and the inter-event
// contribution is zero.
func buildMatrices(contexts []*gmdata.Context, model string, im imt.IMT) (obs, expected []float64, v *mat.Dense, nrecs int) {
	neqs := len(contexts)
	for _, ctx := range contexts {
		nrecs += ctx.NumRecords()
	}

	rVec := make([]float64, nrecs)
	obs = make([]float64, nrecs)
	expected = make([]float64, nrecs)
	z := mat.NewDense(nrecs, neqs, nil)

	i := 0
	for j, ctx := range contexts {
		cell := ctx.Expected[model][im]
		n := ctx.NumRecords()
		lnObs := lnSlice(ctx.Observations[im])
		copy(obs[i:i+n], lnObs)
		copy(expected[i:i+n], cell.Mean)

		intra, hasIntra := cell.Stddev[gmdata.StdIntra]
		inter, hasInter := cell.Stddev[gmdata.StdInter]
		if !hasIntra && !hasInter {
			// Only the total sigma exists; used as the intra-event term.
			copy(rVec[i:i+n], cell.Stddev[gmdata.StdTotal])
			i += n
			continue
		}
		copy(rVec[i:i+n], intra)
		for k := 0; k < n; k++ {
			z.Set(i+k, j, broadcast(inter, k))
		}
		i += n
	}

	v = mat.NewDense(nrecs, nrecs, nil)
	v.Mul(z, z.T())
	for k := 0; k < nrecs; k++ {
		v.Set(k, k, v.At(k, k)+rVec[k]*rVec[k])
	}
	return obs, expected, v, nrecs
}

// multivariateLL returns the multivariate normal negative log-likelihood of
// Mak et al. (2017), Eq. 7, for one model and IMT over the given contexts.
// NaN inputs propagate uncontrolled through the factorization and solve.
func multivariateLL(contexts []*gmdata.Context, model string, im imt.IMT) float64 {
	obs, expected, v, nrecs := buildMatrices(contexts, model, im)

	var lu mat.LU
	lu.Factorize(v)
	logdet, _ := lu.LogDet()

	b := make([]float64, nrecs)
	for i := range b {
		b[i] = obs[i] - expected[i]
	}
	bVec := mat.NewVecDense(nrecs, b)
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, bVec); err != nil {
		return math.NaN()
	}
	quad := mat.Dot(bVec, &x)
	return (float64(nrecs)*math.Log(2.0*math.Pi) + logdet + quad) / 2.0
}

// MultivariateLLH computes the multivariate LLH of Mak et al. (2017) for
// every model and IMT. Inapplicable pairs contribute 0. When sumIMTs is
// true the per-model sums over IMTs (skipping NaN values) are also
// returned; otherwise the second return is nil.
func (a *Analysis) MultivariateLLH(sumIMTs bool) (map[string]map[imt.IMT]float64, map[string]float64) {
	values := make(map[string]map[imt.IMT]float64, a.set.Len())
	for _, name := range a.set.Names() {
		log.Debugf("computing multivariate LLH for %s", name)
		values[name] = make(map[imt.IMT]float64, len(a.imts))
		for _, im := range a.imts {
			if a.residuals[name][im] == nil {
				values[name][im] = 0.0
				continue
			}
			values[name][im] = multivariateLL(a.contexts, name, im)
		}
	}
	if !sumIMTs {
		return values, nil
	}
	summed := make(map[string]float64, a.set.Len())
	for _, name := range a.set.Names() {
		var total float64
		for _, im := range a.imts {
			if math.IsNaN(values[name][im]) {
				continue
			}
			total += values[name][im]
		}
		summed[name] = total
	}
	return values, summed
}

// BootstrapOptions controls the cluster-bootstrap run.
type BootstrapOptions struct {
	// Iterations is the number of bootstrap resamples.
	Iterations int
	// Workers sets the number of concurrent iteration workers; values
	// below 2 run sequentially. Output is identical for any worker count
	// given the same seed.
	Workers int
	// Seed seeds the resampling source.
	Seed int64
	// SumIMTs selects the summed-over-IMTs distinctiveness variant.
	SumIMTs bool
}

// BootstrapResult holds the bootstrap output cube and the pairwise
// distinctiveness derived from it. Model and IMT order match the analysis.
type BootstrapResult struct {
	Models []string
	IMTs   []imt.IMT

	// Outputs is the models x IMTs x iterations cube of multivariate LLH
	// values on the resampled event sets.
	Outputs [][][]float64

	// DistinctivenessByIMT is models x models x IMTs; nil when SumIMTs.
	DistinctivenessByIMT [][][]float64
	// Distinctiveness is models x models, summed over IMTs; nil unless
	// SumIMTs.
	Distinctiveness [][]float64
}

// BootstrapMultivariateLLH applies the cluster bootstrap of Mak et al.
// (2017): whole events are resampled with replacement, the multivariate
// LLH is recomputed for every model and IMT on each resample, and the
// pairwise distinctiveness is derived from the resulting cube.
//
// Every resample index set is drawn up front from the seeded source, so
// iterations are pure and run concurrently on disjoint output slices when
// Workers > 1.
func (a *Analysis) BootstrapMultivariateLLH(opts BootstrapOptions) (*BootstrapResult, error) {
	if !a.computed {
		return nil, fmt.Errorf("analysis has not been computed")
	}
	if opts.Iterations < 1 {
		return nil, fmt.Errorf("bootstrap needs at least 1 iteration, got %d", opts.Iterations)
	}

	neqs := len(a.contexts)
	names := a.set.Names()
	outputs := make([][][]float64, len(names))
	for i := range outputs {
		outputs[i] = make([][]float64, len(a.imts))
		for j := range outputs[i] {
			outputs[i][j] = make([]float64, opts.Iterations)
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	samples := make([][]int, opts.Iterations)
	for it := range samples {
		idx := make([]int, neqs)
		for k := range idx {
			idx[k] = rng.Intn(neqs)
		}
		samples[it] = idx
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > opts.Iterations {
		workers = opts.Iterations
	}

	iterations := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range iterations {
				a.bootstrapIteration(samples[it], it, outputs)
			}
		}()
	}
	for it := 0; it < opts.Iterations; it++ {
		log.Debugf("bootstrap %d of %d", it+1, opts.Iterations)
		iterations <- it
	}
	close(iterations)
	wg.Wait()

	result := &BootstrapResult{
		Models:  names,
		IMTs:    a.imts,
		Outputs: outputs,
	}
	if opts.SumIMTs {
		result.Distinctiveness = distinctivenessSummed(outputs)
	} else {
		result.DistinctivenessByIMT = distinctivenessByIMT(outputs)
	}
	return result, nil
}

// bootstrapIteration computes one resample's LLH values, writing only the
// iteration's own slice of the output cube.
func (a *Analysis) bootstrapIteration(sample []int, it int, outputs [][][]float64) {
	resampled := make([]*gmdata.Context, len(sample))
	for k, idx := range sample {
		resampled[k] = a.contexts[idx]
	}
	for i, name := range a.set.Names() {
		for j, im := range a.imts {
			if a.residuals[name][im] == nil {
				outputs[i][j][it] = 0.0
				continue
			}
			outputs[i][j][it] = multivariateLL(resampled, name, im)
		}
	}
}

// distinctivenessByIMT implements Eq. 9 of Mak et al. (2017) per IMT: the
// fraction of bootstrap draws in which model i outperforms model j minus
// the reverse fraction.
func distinctivenessByIMT(outputs [][][]float64) [][][]float64 {
	nmodels := len(outputs)
	nimts := len(outputs[0])
	nbs := float64(len(outputs[0][0]))
	d := make([][][]float64, nmodels)
	for i := range d {
		d[i] = make([][]float64, nmodels)
		for j := range d[i] {
			d[i][j] = make([]float64, nimts)
			if i == j {
				continue
			}
			for k := 0; k < nimts; k++ {
				var iWins, jWins int
				for b := range outputs[i][k] {
					if outputs[i][k][b] < outputs[j][k][b] {
						iWins++
					}
					if outputs[j][k][b] < outputs[i][k][b] {
						jWins++
					}
				}
				d[i][j][k] = float64(iWins-jWins) / nbs
			}
		}
	}
	return d
}

// distinctivenessSummed is the summed-over-IMTs variant, normalized by the
// iteration and IMT counts.
func distinctivenessSummed(outputs [][][]float64) [][]float64 {
	nmodels := len(outputs)
	nimts := len(outputs[0])
	nbs := float64(len(outputs[0][0]))
	d := make([][]float64, nmodels)
	for i := range d {
		d[i] = make([]float64, nmodels)
	}
	for i := 0; i < nmodels; i++ {
		for j := 0; j < nmodels; j++ {
			if i == j {
				continue
			}
			var iWins, jWins int
			for k := 0; k < nimts; k++ {
				for b := range outputs[i][k] {
					if outputs[i][k][b] < outputs[j][k][b] {
						iWins++
					}
					if outputs[j][k][b] < outputs[i][k][b] {
						jWins++
					}
				}
			}
			d[i][j] = float64(iWins-jWins) / (nbs * float64(nimts))
		}
	}
	return d
}
