package residuals

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/gmm"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
	"github.com/ftbernales/gmpe-smtk/internal/log"
)

// SiteCell holds the single-station terms of one (model, IMT) pair at one
// site: copied residual and modelled arrays, the site bias dS2Ss, the
// bias-corrected within-event residuals dWo,es and the single-station phi.
// Decomposition fields are nil when the model defines no within-event
// term.
type SiteCell struct {
	Records       int
	Total         []float64
	ExpectedTotal []float64
	Inter         []float64
	Intra         []float64
	ExpectedInter []float64
	ExpectedIntra []float64
	DeltaS2SS     float64
	DeltaWoes     []float64
	PhiSS         float64
}

// SiteResiduals pairs one site's independent residual analysis with its
// per-(model, IMT) single-station terms.
type SiteResiduals struct {
	SiteID   string
	Analysis *Analysis
	Cells    map[string]map[imt.IMT]*SiteCell
}

// PhiS2SS summarizes the per-site bias terms across all analyzed sites.
type PhiS2SS struct {
	Mean   float64
	StdDev float64
}

// SingleStationAnalysis derives residual sets recorded at specific
// stations and the single-station variability terms of Rodriguez-Marek et
// al. (2011).
type SingleStationAnalysis struct {
	siteIDs []string
	set     *gmm.ModelSet
	imts    []imt.IMT
	sites   []*SiteResiduals
}

// NewSingleStationAnalysis prepares the analysis for a fixed site list.
func NewSingleStationAnalysis(siteIDs []string, set *gmm.ModelSet, imts []imt.IMT) *SingleStationAnalysis {
	return &SingleStationAnalysis{siteIDs: siteIDs, set: set, imts: imts}
}

// Sites returns the per-site residual analyses, populated by
// ComputeSiteResiduals.
func (s *SingleStationAnalysis) Sites() []*SiteResiduals { return s.sites }

// ComputeSiteResiduals runs an independent, non-normalised residual
// analysis on each site's sub-database.
func (s *SingleStationAnalysis) ComputeSiteResiduals(db gmdata.Database, component gmdata.Component) error {
	for _, siteID := range s.siteIDs {
		log.Debugf("computing residuals for site %s", siteID)
		siteDB, err := db.SelectFromSiteID(siteID)
		if err != nil {
			return fmt.Errorf("failed to select site %s: %w", siteID, err)
		}
		analysis := New(s.set, s.imts, Options{Component: component, Normalise: false})
		if err := analysis.Compute(siteDB); err != nil {
			return fmt.Errorf("failed to compute residuals for site %s: %w", siteID, err)
		}
		s.sites = append(s.sites, &SiteResiduals{
			SiteID:   siteID,
			Analysis: analysis,
			Cells:    make(map[string]map[imt.IMT]*SiteCell),
		})
	}
	return nil
}

// Statistics fills the per-site single-station terms and returns the
// station-averaged phi_ss (Rodriguez-Marek et al. 2011, Eq. 10) and the
// phi_s2ss summary per model and IMT. Pairs without a within-event
// decomposition are skipped with a diagnostic notice.
func (s *SingleStationAnalysis) Statistics() (
	map[string]map[imt.IMT]float64,
	map[string]map[imt.IMT]*PhiS2SS,
	error,
) {
	if len(s.sites) == 0 {
		return nil, nil, fmt.Errorf("no site residuals computed")
	}
	s.fillSiteCells()

	phiSS := make(map[string]map[imt.IMT]float64, s.set.Len())
	phiS2SS := make(map[string]map[imt.IMT]*PhiS2SS, s.set.Len())
	for _, name := range s.set.Names() {
		phiSS[name] = make(map[imt.IMT]float64, len(s.imts))
		phiS2SS[name] = make(map[imt.IMT]*PhiS2SS, len(s.imts))
		for _, im := range s.imts {
			first := s.sites[0].Cells[name][im]
			if first == nil || first.Intra == nil {
				log.Infof("model %s and IMT %s do not have defined random effects residuals", name, im)
				continue
			}
			var numerator float64
			var totalRecords int
			biases := make([]float64, 0, len(s.sites))
			for _, site := range s.sites {
				cell := site.Cells[name][im]
				biases = append(biases, cell.DeltaS2SS)
				totalRecords += cell.Records
				for _, v := range cell.Intra {
					numerator += (v - cell.DeltaS2SS) * (v - cell.DeltaS2SS)
				}
			}
			phiS2SS[name][im] = &PhiS2SS{
				Mean:   stat.Mean(biases, nil),
				StdDev: math.Sqrt(stat.Moment(2, biases, nil)),
			}
			phiSS[name][im] = math.Sqrt(numerator / float64(totalRecords-1))
		}
	}
	return phiSS, phiS2SS, nil
}

// fillSiteCells computes each site's bias and corrected within-event terms
// from its residual analysis (Rodriguez-Marek et al. 2011, Eqs. 8 and 11).
func (s *SingleStationAnalysis) fillSiteCells() {
	for _, site := range s.sites {
		for _, name := range s.set.Names() {
			cells := site.Cells[name]
			if cells == nil {
				cells = make(map[imt.IMT]*SiteCell, len(s.imts))
				site.Cells[name] = cells
			}
			for _, im := range s.imts {
				res := site.Analysis.Residuals(name, im)
				if res == nil {
					cells[im] = nil
					continue
				}
				modelled := site.Analysis.Modelled(name, im)
				cell := &SiteCell{
					Records:       len(res[gmdata.StdTotal]),
					Total:         append([]float64(nil), res[gmdata.StdTotal]...),
					ExpectedTotal: append([]float64(nil), modelled[gmdata.StdTotal]...),
				}
				cells[im] = cell
				intra, ok := res[gmdata.StdIntra]
				if !ok || intra == nil {
					// Model has no within-event term for this IMT.
					continue
				}
				cell.Intra = append([]float64(nil), intra...)
				cell.Inter = append([]float64(nil), res[gmdata.StdInter]...)
				cell.ExpectedIntra = append([]float64(nil), modelled[gmdata.StdIntra]...)
				cell.ExpectedInter = append([]float64(nil), modelled[gmdata.StdInter]...)

				n := float64(len(cell.Intra))
				var sum float64
				for _, v := range cell.Intra {
					sum += v
				}
				cell.DeltaS2SS = sum / n

				cell.DeltaWoes = make([]float64, len(cell.Intra))
				var sq float64
				for i, v := range cell.Intra {
					cell.DeltaWoes[i] = v - cell.DeltaS2SS
					sq += cell.DeltaWoes[i] * cell.DeltaWoes[i]
				}
				cell.PhiSS = math.Sqrt(sq / (n - 1))
			}
		}
	}
}
