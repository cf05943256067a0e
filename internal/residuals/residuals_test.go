package residuals

import (
	"fmt"
	"math"
	"testing"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/gmm"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

const epsilon = 1e-9

// gravity in cm/s/s, matching the observed-amplitude storage unit.
const gravity = 980.665

// stubModel is a configurable test model: constant ln-mean prediction and
// constant standard deviations, with an optional echo mode that predicts
// the exact log-observation of every record.
type stubModel struct {
	name    string
	mean    float64
	sigma   map[gmdata.StddevType]float64
	types   []gmdata.StddevType
	minPer  float64
	maxPer  float64
	echoObs bool
}

func (m *stubModel) Name() string { return m.name }

func (m *stubModel) Predict(ctx *gmdata.Context, im imt.IMT, types []gmdata.StddevType) ([]float64, [][]float64, error) {
	n := ctx.NumRecords()
	mean := make([]float64, n)
	for i := range mean {
		if m.echoObs {
			mean[i] = math.Log(ctx.Observations[im][i])
		} else {
			mean[i] = m.mean
		}
	}
	stddevs := make([][]float64, len(types))
	for k, st := range types {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = m.sigma[st]
		}
		stddevs[k] = vals
	}
	return mean, stddevs, nil
}

func (m *stubModel) StddevTypes() []gmdata.StddevType { return m.types }

func (m *stubModel) PeriodRange() (float64, float64) { return m.minPer, m.maxPer }

func (m *stubModel) ScalarCoefficients() []string { return []string{"PGA"} }

// newDecomposedModel returns a stub declaring all three residual types with
// tau = 0.3 and phi = 0.5.
func newDecomposedModel(name string, lnMean float64) *stubModel {
	tau, phi := 0.3, 0.5
	return &stubModel{
		name: name,
		mean: lnMean,
		sigma: map[gmdata.StddevType]float64{
			gmdata.StdTotal: math.Sqrt(tau*tau + phi*phi),
			gmdata.StdInter: tau,
			gmdata.StdIntra: phi,
		},
		types:  []gmdata.StddevType{gmdata.StdTotal, gmdata.StdInter, gmdata.StdIntra},
		minPer: 0.01,
		maxPer: 10.0,
	}
}

// newTotalOnlyModel returns a stub declaring only the total sigma.
func newTotalOnlyModel(name string, lnMean, sigma float64) *stubModel {
	return &stubModel{
		name:   name,
		mean:   lnMean,
		sigma:  map[gmdata.StddevType]float64{gmdata.StdTotal: sigma},
		types:  []gmdata.StddevType{gmdata.StdTotal},
		minPer: 0.01,
		maxPer: 10.0,
	}
}

func resolveSet(t *testing.T, models ...gmm.Model) *gmm.ModelSet {
	t.Helper()
	specs := make([]gmm.Spec, len(models))
	for i, m := range models {
		specs[i] = gmm.FromInstance(m)
	}
	set, err := gmm.NewRegistry().Resolve(specs)
	if err != nil {
		t.Fatalf("failed to resolve model set: %v", err)
	}
	return set
}

// testObsG holds the observed PGA values in g for the two test events.
var testObsG = [][]float64{
	{0.01, 0.012, 0.009},
	{0.02, 0.018},
}

// newTestDatabase builds two events with PGA observations stored in
// cm/s/s, three records for the first and two for the second.
func newTestDatabase() *gmdata.StaticDatabase {
	toCMS := func(g []float64) []float64 {
		out := make([]float64, len(g))
		for i, v := range g {
			out[i] = v * gravity
		}
		return out
	}
	ctxA := &gmdata.Context{
		EventID: "EQ-A",
		Rupture: gmdata.NewRupture(6.0, 10.0),
		Sites: &gmdata.Sites{
			IDs:       []string{"STA", "STB", "STC"},
			Vs30:      []float64{400, 600, 800},
			Elevation: []float64{10, 20, 30},
		},
		Distances: &gmdata.Distances{
			Repi:  []float64{20, 35, 50},
			Rhypo: []float64{22, 36, 51},
			Rjb:   []float64{18, 33, 48},
			Rrup:  []float64{19, 34, 49},
		},
		Observations: map[imt.IMT][]float64{imt.PGA(): toCMS(testObsG[0])},
	}
	ctxB := &gmdata.Context{
		EventID: "EQ-B",
		Rupture: gmdata.NewRupture(5.5, 15.0),
		Sites: &gmdata.Sites{
			IDs:       []string{"STA", "STB"},
			Vs30:      []float64{400, 600},
			Elevation: []float64{10, 20},
		},
		Distances: &gmdata.Distances{
			Repi:  []float64{10, 25},
			Rhypo: []float64{13, 27},
			Rjb:   []float64{8, 23},
			Rrup:  []float64{9, 24},
		},
		Observations: map[imt.IMT][]float64{imt.PGA(): toCMS(testObsG[1])},
	}
	return gmdata.NewStaticDatabase([]*gmdata.Context{ctxA, ctxB})
}

// newMultiEventDatabase builds four events, each recorded at both STA and
// STB, with PGA observations stored in cm/s/s.
func newMultiEventDatabase() *gmdata.StaticDatabase {
	obsG := [][]float64{
		{0.010, 0.014},
		{0.022, 0.016},
		{0.008, 0.011},
		{0.030, 0.024},
	}
	mags := []float64{5.5, 6.0, 5.2, 6.4}
	var ctxs []*gmdata.Context
	for e, event := range obsG {
		obs := make([]float64, len(event))
		for i, v := range event {
			obs[i] = v * gravity
		}
		ctxs = append(ctxs, &gmdata.Context{
			EventID: fmt.Sprintf("EQ-%d", e+1),
			Rupture: gmdata.NewRupture(mags[e], 12.0),
			Sites: &gmdata.Sites{
				IDs:       []string{"STA", "STB"},
				Vs30:      []float64{400, 600},
				Elevation: []float64{10, 20},
			},
			Distances: &gmdata.Distances{
				Repi:  []float64{20, 35},
				Rhypo: []float64{22, 36},
				Rjb:   []float64{18, 33},
				Rrup:  []float64{19, 34},
			},
			Observations: map[imt.IMT][]float64{imt.PGA(): obs},
		})
	}
	return gmdata.NewStaticDatabase(ctxs)
}

func computeAnalysis(t *testing.T, opts Options, models ...gmm.Model) *Analysis {
	t.Helper()
	a := New(resolveSet(t, models...), []imt.IMT{imt.PGA()}, opts)
	if err := a.Compute(newTestDatabase()); err != nil {
		t.Fatalf("failed to compute residuals: %v", err)
	}
	return a
}

func TestTotalResiduals(t *testing.T) {
	lnMean := math.Log(0.011)
	model := newDecomposedModel("ModelA", lnMean)
	a := computeAnalysis(t, DefaultOptions(), model)

	res := a.Residuals("ModelA", imt.PGA())
	if res == nil {
		t.Fatal("expected residuals for ModelA PGA")
	}
	total := res[gmdata.StdTotal]
	if len(total) != 5 {
		t.Fatalf("expected 5 total residuals, got %d", len(total))
	}

	sigmaT := math.Sqrt(0.3*0.3 + 0.5*0.5)
	i := 0
	for _, event := range testObsG {
		for _, obsG := range event {
			want := (math.Log(obsG) - lnMean) / sigmaT
			if math.Abs(total[i]-want) > epsilon {
				t.Errorf("total[%d] = %v, want %v", i, total[i], want)
			}
			i++
		}
	}
}

func TestRandomEffectsRoundTrip(t *testing.T) {
	lnMean := math.Log(0.011)
	model := newDecomposedModel("ModelA", lnMean)
	a := computeAnalysis(t, Options{Component: gmdata.ComponentGeometric, Normalise: false}, model)

	for _, ctx := range a.Contexts() {
		rc := ctx.Residual["ModelA"][imt.PGA()]
		for i := range rc.Total {
			lnObs := math.Log(ctx.Observations[imt.PGA()][i])
			got := lnMean + rc.Inter[i] + rc.Intra[i]
			if math.Abs(got-lnObs) > epsilon {
				t.Errorf("event %s record %d: mean+inter+intra = %v, want ln(obs) = %v",
					ctx.EventID, i, got, lnObs)
			}
		}
		// All records of one event share the between-event term.
		for i := 1; i < len(rc.Inter); i++ {
			if math.Abs(rc.Inter[i]-rc.Inter[0]) > epsilon {
				t.Errorf("event %s: inter-event residual varies across records", ctx.EventID)
			}
		}
	}

	// The two events have different misfits, so their terms differ.
	etaA := a.Contexts()[0].Residual["ModelA"][imt.PGA()].Inter[0]
	etaB := a.Contexts()[1].Residual["ModelA"][imt.PGA()].Inter[0]
	if math.Abs(etaA-etaB) < 1e-6 {
		t.Errorf("expected distinct inter-event terms, got %v and %v", etaA, etaB)
	}
}

func TestInterEventResidualFormula(t *testing.T) {
	lnMean := math.Log(0.011)
	tau, phi := 0.3, 0.5
	model := newDecomposedModel("ModelA", lnMean)
	a := computeAnalysis(t, Options{Component: gmdata.ComponentGeometric, Normalise: false}, model)

	for e, ctx := range a.Contexts() {
		n := float64(len(testObsG[e]))
		var sum float64
		for _, obsG := range testObsG[e] {
			sum += math.Log(obsG) - lnMean
		}
		want := (tau * tau * sum) / (n*tau*tau + phi*phi)
		got := ctx.Residual["ModelA"][imt.PGA()].Inter[0]
		if math.Abs(got-want) > epsilon {
			t.Errorf("event %s: inter-event residual = %v, want %v", ctx.EventID, got, want)
		}
	}
}

func TestNormalisation(t *testing.T) {
	lnMean := math.Log(0.011)
	model := newDecomposedModel("ModelA", lnMean)
	raw := computeAnalysis(t, Options{Component: gmdata.ComponentGeometric, Normalise: false}, model)
	norm := computeAnalysis(t, DefaultOptions(), model)

	tau, phi := 0.3, 0.5
	for e := range testObsG {
		rawRC := raw.Contexts()[e].Residual["ModelA"][imt.PGA()]
		normRC := norm.Contexts()[e].Residual["ModelA"][imt.PGA()]
		for i := range rawRC.Inter {
			if math.Abs(normRC.Inter[i]*tau-rawRC.Inter[i]) > epsilon {
				t.Errorf("event %d record %d: normalised inter mismatch", e, i)
			}
			if math.Abs(normRC.Intra[i]*phi-rawRC.Intra[i]) > epsilon {
				t.Errorf("event %d record %d: normalised intra mismatch", e, i)
			}
		}
	}
}

func TestInterEventCollapse(t *testing.T) {
	model := newDecomposedModel("ModelA", math.Log(0.011))
	a := computeAnalysis(t, DefaultOptions(), model)

	res := a.Residuals("ModelA", imt.PGA())
	if got := len(res[gmdata.StdInter]); got != 2 {
		t.Errorf("expected 2 collapsed inter-event residuals, got %d", got)
	}
	if got := len(res[gmdata.StdIntra]); got != 5 {
		t.Errorf("expected 5 intra-event residuals, got %d", got)
	}

	idx := a.UniqueIndices("ModelA", imt.PGA())
	if len(idx) != 2 || len(idx[0]) != 1 || idx[0][0] != 0 || len(idx[1]) != 1 || idx[1][0] != 0 {
		t.Errorf("unexpected unique indices %v", idx)
	}

	// Modelled standard deviations keep the full per-record extent even
	// when the residual collapsed.
	mod := a.Modelled("ModelA", imt.PGA())
	if got := len(mod[gmdata.StdInter]); got != 5 {
		t.Errorf("expected 5 modelled inter-event sigmas, got %d", got)
	}
	if got := len(a.ModelledMean("ModelA", imt.PGA())); got != 5 {
		t.Errorf("expected 5 modelled means, got %d", got)
	}
}

func TestTotalOnlyModelHasNoDecomposition(t *testing.T) {
	model := newTotalOnlyModel("TotalOnly", math.Log(0.011), 0.6)
	a := computeAnalysis(t, DefaultOptions(), model)

	res := a.Residuals("TotalOnly", imt.PGA())
	if len(res[gmdata.StdTotal]) != 5 {
		t.Fatalf("expected 5 total residuals, got %d", len(res[gmdata.StdTotal]))
	}
	if _, ok := res[gmdata.StdInter]; ok {
		t.Error("total-only model must not produce inter-event residuals")
	}
	for _, ctx := range a.Contexts() {
		rc := ctx.Residual["TotalOnly"][imt.PGA()]
		if rc.Inter != nil || rc.Intra != nil {
			t.Errorf("event %s: unexpected decomposition on total-only model", ctx.EventID)
		}
	}
}

func TestPartialDecompositionDegradesToTotal(t *testing.T) {
	// Declaring a between-event term without the within-event term (or
	// the reverse) cannot support the decomposition; only total
	// residuals are produced.
	interOnly := &stubModel{
		name: "InterOnly",
		mean: math.Log(0.011),
		sigma: map[gmdata.StddevType]float64{
			gmdata.StdTotal: 0.6,
			gmdata.StdInter: 0.3,
		},
		types:  []gmdata.StddevType{gmdata.StdTotal, gmdata.StdInter},
		minPer: 0.01,
		maxPer: 10.0,
	}
	intraOnly := &stubModel{
		name: "IntraOnly",
		mean: math.Log(0.011),
		sigma: map[gmdata.StddevType]float64{
			gmdata.StdTotal: 0.6,
			gmdata.StdIntra: 0.5,
		},
		types:  []gmdata.StddevType{gmdata.StdTotal, gmdata.StdIntra},
		minPer: 0.01,
		maxPer: 10.0,
	}
	a := computeAnalysis(t, DefaultOptions(), interOnly, intraOnly)

	for _, name := range []string{"InterOnly", "IntraOnly"} {
		types := a.Types(name, imt.PGA())
		if len(types) != 1 || types[0] != gmdata.StdTotal {
			t.Errorf("model %s: expected Total-only types, got %v", name, types)
		}
		res := a.Residuals(name, imt.PGA())
		if len(res[gmdata.StdTotal]) != 5 {
			t.Errorf("model %s: expected 5 total residuals, got %d", name, len(res[gmdata.StdTotal]))
		}
		if _, ok := res[gmdata.StdInter]; ok {
			t.Errorf("model %s: unexpected inter-event residuals", name)
		}
		if _, ok := res[gmdata.StdIntra]; ok {
			t.Errorf("model %s: unexpected intra-event residuals", name)
		}
	}
}

func TestSpectralPeriodOutsideRange(t *testing.T) {
	model := newDecomposedModel("Narrow", math.Log(0.011))
	model.maxPer = 2.0
	set := resolveSet(t, model)
	imts := []imt.IMT{imt.PGA(), imt.SA(4.0)}

	db := newTestDatabase()
	// The static fixture only stores PGA; add SA(4) observations so the
	// context build succeeds.
	ctxs, err := db.GetContexts(gmdata.ComponentGeometric, []imt.IMT{imt.PGA()})
	if err != nil {
		t.Fatalf("failed to get contexts: %v", err)
	}
	for _, ctx := range ctxs {
		ctx.Observations[imt.SA(4.0)] = ctx.Observations[imt.PGA()]
	}
	a := New(set, imts, DefaultOptions())
	if err := a.Compute(gmdata.NewStaticDatabase(ctxs)); err != nil {
		t.Fatalf("failed to compute residuals: %v", err)
	}

	if a.Residuals("Narrow", imt.SA(4.0)) != nil {
		t.Error("expected nil residuals for out-of-range period")
	}
	if a.Types("Narrow", imt.SA(4.0)) != nil {
		t.Error("expected nil types for out-of-range period")
	}
	if a.Residuals("Narrow", imt.PGA()) == nil {
		t.Error("in-range IMT must remain applicable")
	}

	stats := a.Statistics()
	if _, ok := stats["Narrow"][imt.SA(4.0)]; ok {
		t.Error("statistics must skip the inapplicable pair")
	}
}

func TestComputeTwiceFails(t *testing.T) {
	model := newDecomposedModel("ModelA", math.Log(0.011))
	a := computeAnalysis(t, DefaultOptions(), model)
	if err := a.Compute(newTestDatabase()); err == nil {
		t.Fatal("expected error on second Compute")
	}
}

func TestMagnitudes(t *testing.T) {
	model := newDecomposedModel("ModelA", math.Log(0.011))
	a := computeAnalysis(t, DefaultOptions(), model)
	want := []float64{6.0, 6.0, 6.0, 5.5, 5.5}
	got := a.Magnitudes()
	if len(got) != len(want) {
		t.Fatalf("expected %d magnitudes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("magnitude[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRakeDefaultApplied(t *testing.T) {
	model := newDecomposedModel("ModelA", math.Log(0.011))
	a := computeAnalysis(t, DefaultOptions(), model)
	for _, ctx := range a.Contexts() {
		if math.IsNaN(ctx.Rupture.Rake) {
			t.Errorf("event %s: rake default not applied", ctx.EventID)
		}
		if ctx.Rupture.Rake != 0.0 {
			t.Errorf("event %s: rake = %v, want 0", ctx.EventID, ctx.Rupture.Rake)
		}
	}
}
