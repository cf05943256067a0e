package gmm

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// tableData is the on-disk layout of a table-backed model file, serialized
// with msgpack. Amplitude grids hold the natural log of the median motion
// over the magnitude and distance nodes.
type tableData struct {
	Name       string                 `msgpack:"name"`
	Magnitudes []float64              `msgpack:"magnitudes"`
	Distances  []float64              `msgpack:"distances"`
	IMLs       map[string][][]float64 `msgpack:"imls"`
	Sigma      map[string]float64     `msgpack:"sigma"`
}

// TableModel is a ground-motion model backed by tabulated median amplitudes
// over magnitude and distance, with a total standard deviation per IMT. It
// declares no between/within-event decomposition.
type TableModel struct {
	name      string
	mags      []float64
	dists     []float64
	grids     map[string][][]float64
	sigma     map[string]float64
	saPeriods []float64
	scalars   []string
}

// LoadTableModel reads a msgpack table-model file.
func LoadTableModel(path string) (*TableModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table file: %w", err)
	}
	var data tableData
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode table file: %w", err)
	}
	return NewTableModel(&data)
}

// NewTableModel validates decoded table data and builds the model.
func NewTableModel(data *tableData) (*TableModel, error) {
	if data.Name == "" {
		return nil, fmt.Errorf("table model has no name")
	}
	if len(data.Magnitudes) < 2 || len(data.Distances) < 2 {
		return nil, fmt.Errorf("table model %s needs at least 2 magnitude and 2 distance nodes", data.Name)
	}
	if !sort.Float64sAreSorted(data.Magnitudes) || !sort.Float64sAreSorted(data.Distances) {
		return nil, fmt.Errorf("table model %s has unsorted magnitude or distance nodes", data.Name)
	}

	m := &TableModel{
		name:  data.Name,
		mags:  data.Magnitudes,
		dists: data.Distances,
		grids: data.IMLs,
		sigma: data.Sigma,
	}
	for key, grid := range data.IMLs {
		if len(grid) != len(m.mags) {
			return nil, fmt.Errorf("table model %s: %s grid has %d magnitude rows, want %d",
				data.Name, key, len(grid), len(m.mags))
		}
		for _, row := range grid {
			if len(row) != len(m.dists) {
				return nil, fmt.Errorf("table model %s: %s grid row has %d distance columns, want %d",
					data.Name, key, len(row), len(m.dists))
			}
		}
		if _, ok := data.Sigma[key]; !ok {
			return nil, fmt.Errorf("table model %s: no sigma for %s", data.Name, key)
		}
		im, err := imt.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("table model %s: %w", data.Name, err)
		}
		if im.IsSpectral() {
			m.saPeriods = append(m.saPeriods, im.Period())
		} else {
			m.scalars = append(m.scalars, key)
		}
	}
	sort.Float64s(m.saPeriods)
	sort.Strings(m.scalars)
	return m, nil
}

// Name returns the model display name from the table file.
func (m *TableModel) Name() string { return m.name }

// StddevTypes declares the table model's single Total component.
func (m *TableModel) StddevTypes() []gmdata.StddevType {
	return []gmdata.StddevType{gmdata.StdTotal}
}

// PeriodRange returns the span of tabulated spectral periods; zero range
// when the table holds only scalar IMTs.
func (m *TableModel) PeriodRange() (min, max float64) {
	if len(m.saPeriods) == 0 {
		return 0, 0
	}
	return m.saPeriods[0], m.saPeriods[len(m.saPeriods)-1]
}

// ScalarCoefficients returns the non-spectral IMT keys of the table.
func (m *TableModel) ScalarCoefficients() []string {
	return m.scalars
}

// Predict interpolates the tabulated grid at each record's magnitude and
// distance. Spectral IMTs between tabulated periods are log-log
// interpolated from the bracketing period grids.
func (m *TableModel) Predict(ctx *gmdata.Context, im imt.IMT, types []gmdata.StddevType) ([]float64, [][]float64, error) {
	for _, st := range types {
		if st != gmdata.StdTotal {
			return nil, nil, fmt.Errorf("table model %s defines only the Total stddev, requested %s", m.name, st)
		}
	}
	n := ctx.NumRecords()
	dists, err := m.recordDistances(ctx, n)
	if err != nil {
		return nil, nil, err
	}

	mean := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := m.interpolate(im, ctx.Rupture.Mag, dists[i])
		if err != nil {
			return nil, nil, err
		}
		mean[i] = v
	}

	sigma, err := m.sigmaFor(im)
	if err != nil {
		return nil, nil, err
	}
	stddevs := make([][]float64, len(types))
	for k := range types {
		arr := make([]float64, n)
		for i := range arr {
			arr[i] = sigma
		}
		stddevs[k] = arr
	}
	return mean, stddevs, nil
}

// recordDistances picks the first defined distance metric per record in
// order of preference Rrup, Rjb, Rhypo, Repi.
func (m *TableModel) recordDistances(ctx *gmdata.Context, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		d := math.NaN()
		for _, candidate := range []float64{
			ctx.Distances.Rrup[i], ctx.Distances.Rjb[i],
			ctx.Distances.Rhypo[i], ctx.Distances.Repi[i],
		} {
			if !math.IsNaN(candidate) {
				d = candidate
				break
			}
		}
		if math.IsNaN(d) {
			return nil, fmt.Errorf("event %s record %d has no usable distance", ctx.EventID, i)
		}
		out[i] = d
	}
	return out, nil
}

func (m *TableModel) interpolate(im imt.IMT, mag, dist float64) (float64, error) {
	if grid, ok := m.grids[im.String()]; ok {
		return bilinear(grid, m.mags, m.dists, mag, dist), nil
	}
	if !im.IsSpectral() {
		return 0, fmt.Errorf("table model %s has no grid for %s", m.name, im)
	}
	// Bracket the requested period among tabulated SA grids.
	period := im.Period()
	lo, hi := -1, -1
	for k, p := range m.saPeriods {
		if p <= period {
			lo = k
		}
		if p >= period {
			hi = k
			break
		}
	}
	if lo < 0 || hi < 0 {
		return 0, fmt.Errorf("table model %s has no grids bracketing period %g", m.name, period)
	}
	gLo := m.grids[imt.SA(m.saPeriods[lo]).String()]
	gHi := m.grids[imt.SA(m.saPeriods[hi]).String()]
	vLo := bilinear(gLo, m.mags, m.dists, mag, dist)
	if lo == hi {
		return vLo, nil
	}
	vHi := bilinear(gHi, m.mags, m.dists, mag, dist)
	// Log-period interpolation of ln amplitudes.
	f := (math.Log(period) - math.Log(m.saPeriods[lo])) /
		(math.Log(m.saPeriods[hi]) - math.Log(m.saPeriods[lo]))
	return vLo + f*(vHi-vLo), nil
}

func (m *TableModel) sigmaFor(im imt.IMT) (float64, error) {
	if s, ok := m.sigma[im.String()]; ok {
		return s, nil
	}
	if !im.IsSpectral() {
		return 0, fmt.Errorf("table model %s has no sigma for %s", m.name, im)
	}
	period := im.Period()
	lo, hi := -1, -1
	for k, p := range m.saPeriods {
		if p <= period {
			lo = k
		}
		if p >= period {
			hi = k
			break
		}
	}
	if lo < 0 || hi < 0 {
		return 0, fmt.Errorf("table model %s has no sigma bracketing period %g", m.name, period)
	}
	sLo := m.sigma[imt.SA(m.saPeriods[lo]).String()]
	if lo == hi {
		return sLo, nil
	}
	sHi := m.sigma[imt.SA(m.saPeriods[hi]).String()]
	f := (math.Log(period) - math.Log(m.saPeriods[lo])) /
		(math.Log(m.saPeriods[hi]) - math.Log(m.saPeriods[lo]))
	return sLo + f*(sHi-sLo), nil
}

// bilinear interpolates grid[mag][dist] at (mag, dist), clamping to the
// table edges.
func bilinear(grid [][]float64, mags, dists []float64, mag, dist float64) float64 {
	i, fm := bracket(mags, mag)
	j, fd := bracket(dists, dist)
	v00 := grid[i][j]
	v01 := grid[i][j+1]
	v10 := grid[i+1][j]
	v11 := grid[i+1][j+1]
	return v00*(1-fm)*(1-fd) + v01*(1-fm)*fd + v10*fm*(1-fd) + v11*fm*fd
}

// bracket returns the lower node index and interpolation fraction for v
// within the sorted nodes, clamped to [nodes[0], nodes[len-1]].
func bracket(nodes []float64, v float64) (int, float64) {
	n := len(nodes)
	if v <= nodes[0] {
		return 0, 0
	}
	if v >= nodes[n-1] {
		return n - 2, 1
	}
	i := sort.SearchFloat64s(nodes, v)
	if nodes[i] == v {
		if i == n-1 {
			return n - 2, 1
		}
		return i, 0
	}
	i--
	return i, (v - nodes[i]) / (nodes[i+1] - nodes[i])
}

// WriteTableModelFile serializes a table model definition to a msgpack
// file, the format accepted by `TableRef(path=...)` identifiers.
func WriteTableModelFile(path, name string, mags, dists []float64, imls map[string][][]float64, sigma map[string]float64) error {
	data := tableData{
		Name:       name,
		Magnitudes: mags,
		Distances:  dists,
		IMLs:       imls,
		Sigma:      sigma,
	}
	if _, err := NewTableModel(&data); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(&data)
	if err != nil {
		return fmt.Errorf("failed to encode table model: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write table file: %w", err)
	}
	return nil
}
