package residuals

import (
	"fmt"
	"io"
	"strings"

	"github.com/ftbernales/gmpe-smtk/internal/gmdata"
	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// WriteReport emits a flat-file rendering of the computed residuals, one
// block per event with a header line followed by one row per record.
// Inapplicable (model, IMT) pairs render as empty columns.
func (a *Analysis) WriteReport(w io.Writer, sep string) error {
	if !a.computed {
		return fmt.Errorf("residuals have not been computed")
	}
	if sep == "" {
		sep = ","
	}
	if _, err := fmt.Fprintf(w, "Ground Motion Residuals%s", "\n"); err != nil {
		return err
	}

	header := a.reportHeader(sep)
	for _, ctx := range a.contexts {
		if err := a.writeContext(w, sep, header, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analysis) reportHeader(sep string) string {
	cols := []string{"Site ID", "Vs30", "Repi", "Rhypo", "Rjb", "Rrup"}
	for _, im := range a.imts {
		cols = append(cols, fmt.Sprintf("Obs. %s", im))
	}
	for _, name := range a.set.Names() {
		for _, im := range a.imts {
			types := a.reportTypes(name, im)
			cols = append(cols, fmt.Sprintf("Exp. %s %s Mean", name, im))
			for _, st := range types {
				cols = append(cols, fmt.Sprintf("Exp. %s %s %s", name, im, st))
			}
			for _, st := range types {
				cols = append(cols, fmt.Sprintf("Res. %s %s %s", name, im, st))
			}
		}
	}
	return strings.Join(cols, sep)
}

// reportTypes fixes the column layout for a (model, IMT) pair; an
// inapplicable pair still occupies a Total-only set of empty columns.
func (a *Analysis) reportTypes(name string, im imt.IMT) []gmdata.StddevType {
	if types := a.types[name][im]; types != nil {
		return types
	}
	return []gmdata.StddevType{gmdata.StdTotal}
}

func (a *Analysis) writeContext(w io.Writer, sep, header string, ctx *gmdata.Context) error {
	rup := ctx.Rupture
	if _, err := fmt.Fprintf(w, "Event ID: %s%sMagnitude: %g%sDepth: %g%sRake: %g%sDip: %g\n",
		ctx.EventID, sep, rup.Mag, sep, rup.Depth, sep, rup.Rake, sep, rup.Dip); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for i := 0; i < ctx.NumRecords(); i++ {
		row := []string{
			ctx.Sites.IDs[i],
			fmt.Sprintf("%g", ctx.Sites.Vs30[i]),
			fmt.Sprintf("%g", ctx.Distances.Repi[i]),
			fmt.Sprintf("%g", ctx.Distances.Rhypo[i]),
			fmt.Sprintf("%g", ctx.Distances.Rjb[i]),
			fmt.Sprintf("%g", ctx.Distances.Rrup[i]),
		}
		for _, im := range a.imts {
			row = append(row, fmt.Sprintf("%.6e", ctx.Observations[im][i]))
		}
		for _, name := range a.set.Names() {
			for _, im := range a.imts {
				types := a.reportTypes(name, im)
				exp := ctx.Expected[name][im]
				res := ctx.Residual[name][im]
				if exp == nil || res == nil {
					for j := 0; j < 1+2*len(types); j++ {
						row = append(row, "")
					}
					continue
				}
				row = append(row, fmt.Sprintf("%.6e", exp.Mean[i]))
				for _, st := range types {
					row = append(row, fmt.Sprintf("%.6e", broadcast(exp.Stddev[st], i)))
				}
				for _, st := range types {
					row = append(row, fmt.Sprintf("%.6e", broadcast(residualByType(res, st), i)))
				}
			}
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, sep)); err != nil {
			return err
		}
	}
	return nil
}

// WriteReport emits the per-site single-station terms, one block per
// (site, model, IMT) triple with the site bias and single-station phi
// followed by the corrected within-event residual of each record.
func (s *SingleStationAnalysis) WriteReport(w io.Writer, sep string) error {
	if len(s.sites) == 0 {
		return fmt.Errorf("no site residuals computed")
	}
	if sep == "" {
		sep = ","
	}
	s.fillSiteCells()
	if _, err := fmt.Fprintln(w, "Single Station Residual Analysis"); err != nil {
		return err
	}
	for _, site := range s.sites {
		if _, err := fmt.Fprintf(w, "Site: %s%sRecords: %d\n",
			site.SiteID, sep, site.Analysis.NumRecords()); err != nil {
			return err
		}
		for _, name := range s.set.Names() {
			for _, im := range s.imts {
				cell := site.Cells[name][im]
				if cell == nil || cell.Intra == nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "%s%s%s%sdS2Ss: %.6e%sphi_ss,s: %.6e\n",
					name, sep, im, sep, cell.DeltaS2SS, sep, cell.PhiSS); err != nil {
					return err
				}
				for i, v := range cell.DeltaWoes {
					if _, err := fmt.Fprintf(w, "%d%s%.6e%s%.6e\n",
						i, sep, cell.Intra[i], sep, v); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
