package gmdata

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/ftbernales/gmpe-smtk/internal/imt"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := OpenRecordStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func loadTestEvents(t *testing.T, store *RecordStore) {
	t.Helper()
	rupA := NewRupture(6.5, 12.0)
	rupA.Rake = 45.0
	err := store.AddEvent(rupA, "EQ-A", []EventRecord{
		{
			SiteID: "STA", Vs30: 760, Repi: 10, Rhypo: 15, Rjb: 9, Rrup: 12,
			Amplitudes: map[Component]map[string]float64{
				ComponentGeometric: {"PGA": 98.0, "SA(0.3)": 150.0},
			},
		},
		{
			SiteID: "STB", Vs30: 450, Repi: 30, Rhypo: 33, Rjb: 28, Rrup: 31,
			Amplitudes: map[Component]map[string]float64{
				ComponentGeometric: {"PGA": 49.0, "SA(0.3)": 80.0},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to add event EQ-A: %v", err)
	}

	err = store.AddEvent(NewRupture(5.8, 8.0), "EQ-B", []EventRecord{
		{
			SiteID: "STA", Vs30: 760, Repi: 22, Rhypo: 24, Rjb: 20, Rrup: 23,
			Amplitudes: map[Component]map[string]float64{
				ComponentGeometric: {"PGA": 20.0, "SA(0.3)": 35.0},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to add event EQ-B: %v", err)
	}
}

func TestRecordStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	loadTestEvents(t, store)

	sa03, err := imt.Parse("SA(0.3)")
	if err != nil {
		t.Fatal(err)
	}
	contexts, err := store.GetContexts(ComponentGeometric, []imt.IMT{imt.PGA(), sa03})
	if err != nil {
		t.Fatalf("GetContexts failed: %v", err)
	}
	if len(contexts) != 2 {
		t.Fatalf("expected 2 contexts, got %d", len(contexts))
	}

	ctxA := contexts[0]
	if ctxA.EventID != "EQ-A" {
		t.Fatalf("expected EQ-A first, got %s", ctxA.EventID)
	}
	if ctxA.NumRecords() != 2 {
		t.Fatalf("expected 2 records for EQ-A, got %d", ctxA.NumRecords())
	}
	if ctxA.Rupture.Mag != 6.5 || ctxA.Rupture.Rake != 45.0 {
		t.Errorf("rupture mismatch: %+v", ctxA.Rupture)
	}
	pga := ctxA.Observations[imt.PGA()]
	if pga[0] != 98.0 || pga[1] != 49.0 {
		t.Errorf("expected PGA [98 49], got %v", pga)
	}
	if ctxA.Distances.Rrup[1] != 31 {
		t.Errorf("expected Rrup 31 for second record, got %g", ctxA.Distances.Rrup[1])
	}

	ctxB := contexts[1]
	if !math.IsNaN(ctxB.Rupture.Rake) {
		t.Errorf("EQ-B rake should be unset, got %g", ctxB.Rupture.Rake)
	}
}

func TestRecordStoreSelectFromSiteID(t *testing.T) {
	store := newTestStore(t)
	loadTestEvents(t, store)

	sub, err := store.SelectFromSiteID("STA")
	if err != nil {
		t.Fatalf("SelectFromSiteID failed: %v", err)
	}
	contexts, err := sub.GetContexts(ComponentGeometric, []imt.IMT{imt.PGA()})
	if err != nil {
		t.Fatalf("GetContexts failed: %v", err)
	}
	// STA recorded both events, one record each
	if len(contexts) != 2 {
		t.Fatalf("expected 2 contexts for STA, got %d", len(contexts))
	}
	for _, ctx := range contexts {
		if ctx.NumRecords() != 1 {
			t.Errorf("event %s: expected 1 record, got %d", ctx.EventID, ctx.NumRecords())
		}
		if ctx.Sites.IDs[0] != "STA" {
			t.Errorf("event %s: expected site STA, got %s", ctx.EventID, ctx.Sites.IDs[0])
		}
	}

	if _, err := store.SelectFromSiteID("NOPE"); err == nil {
		t.Error("expected error for unknown site")
	}
}

func TestRecordStoreMissingObservation(t *testing.T) {
	store := newTestStore(t)
	loadTestEvents(t, store)

	if _, err := store.GetContexts(ComponentRotD50, []imt.IMT{imt.PGA()}); err == nil {
		t.Error("expected error for component with no stored amplitudes")
	}
}

func TestRecordStoreSiteIDs(t *testing.T) {
	store := newTestStore(t)
	loadTestEvents(t, store)

	ids, err := store.SiteIDs()
	if err != nil {
		t.Fatalf("SiteIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "STA" || ids[1] != "STB" {
		t.Errorf("expected [STA STB], got %v", ids)
	}
}
