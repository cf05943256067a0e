package gmdata

import (
	"fmt"

	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

// Database yields earthquake contexts for residual analysis. Contexts are
// returned in a stable event order with a stable per-event record order;
// the residual engine depends on that ordering for per-record alignment.
type Database interface {
	// GetContexts assembles one context per event, restricted to the given
	// IMTs, with observed amplitudes for the requested component of motion.
	GetContexts(component Component, imts []imt.IMT) ([]*Context, error)

	// SelectFromSiteID derives a sub-database containing only the records
	// observed at the given site, preserving event and record order. Events
	// with no record at the site are dropped.
	SelectFromSiteID(siteID string) (Database, error)
}

// StaticDatabase is an in-memory Database over a fixed set of contexts,
// used when contexts are constructed programmatically rather than read from
// a record store.
type StaticDatabase struct {
	contexts []*Context
}

// NewStaticDatabase wraps the given contexts. The slice is not copied.
func NewStaticDatabase(contexts []*Context) *StaticDatabase {
	return &StaticDatabase{contexts: contexts}
}

// GetContexts returns shallow per-analysis copies of the stored contexts so
// that repeated analyses never see another run's attached results.
func (d *StaticDatabase) GetContexts(component Component, imts []imt.IMT) ([]*Context, error) {
	out := make([]*Context, 0, len(d.contexts))
	for _, ctx := range d.contexts {
		obs := make(map[imt.IMT][]float64, len(imts))
		for _, im := range imts {
			vals, ok := ctx.Observations[im]
			if !ok {
				return nil, fmt.Errorf("event %s has no observations for %s", ctx.EventID, im)
			}
			obs[im] = append([]float64(nil), vals...)
		}
		rup := *ctx.Rupture
		out = append(out, &Context{
			EventID:      ctx.EventID,
			Rupture:      &rup,
			Sites:        ctx.Sites,
			Distances:    ctx.Distances,
			Observations: obs,
		})
	}
	return out, nil
}

// SelectFromSiteID returns a StaticDatabase holding only the records
// observed at siteID.
func (d *StaticDatabase) SelectFromSiteID(siteID string) (Database, error) {
	var selected []*Context
	for _, ctx := range d.contexts {
		var idx []int
		for i, id := range ctx.Sites.IDs {
			if id == siteID {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			continue
		}
		selected = append(selected, subsetContext(ctx, idx))
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no records found for site %s", siteID)
	}
	return NewStaticDatabase(selected), nil
}

// subsetContext extracts the records at the given indices into a new
// context, copying every parallel array.
func subsetContext(ctx *Context, idx []int) *Context {
	pick := func(src []float64) []float64 {
		if src == nil {
			return nil
		}
		out := make([]float64, len(idx))
		for k, i := range idx {
			out[k] = src[i]
		}
		return out
	}
	ids := make([]string, len(idx))
	for k, i := range idx {
		ids[k] = ctx.Sites.IDs[i]
	}
	obs := make(map[imt.IMT][]float64, len(ctx.Observations))
	for im, vals := range ctx.Observations {
		obs[im] = pick(vals)
	}
	rup := *ctx.Rupture
	return &Context{
		EventID: ctx.EventID,
		Rupture: &rup,
		Sites: &Sites{
			IDs:       ids,
			Vs30:      pick(ctx.Sites.Vs30),
			Elevation: pick(ctx.Sites.Elevation),
		},
		Distances: &Distances{
			Repi:  pick(ctx.Distances.Repi),
			Rhypo: pick(ctx.Distances.Rhypo),
			Rjb:   pick(ctx.Distances.Rjb),
			Rrup:  pick(ctx.Distances.Rrup),
		},
		Observations: obs,
	}
}
