package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"cabincraft.ai/internal/sim/catalogs"
	"cabincraft.ai/internal/sim/tuning"
)

func TestSQLiteIndex_RecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs", "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok := Run{
		RunID: "run_a", Seed: 42, Backend: "memory", StartedAt: t0, FinishedAt: t0.Add(time.Second),
		AreaFrom: [3]int{0, -64, 0}, AreaTo: [3]int{63, 319, 63},
		HasSite: true, SiteX: 15, SiteZ: 30, Variance: 0.5, Target: 63, Floor: "minecraft:oak_planks",
		HasHouse: true, Axis: "x", Length: 7, Width: 9, WallHeight: 5, Origin: [3]int{17, 64, 33}, Writes: 400,
	}
	failed := Run{
		RunID: "run_b", Seed: 7, Backend: "gdmc", StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(time.Minute),
		Code: "E_NO_SITE", Message: "no water-free candidate",
	}
	for _, r := range []Run{ok, failed} {
		if err := idx.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	got, err := idx.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "run_b" || got[1].RunID != "run_a" {
		t.Fatalf("runs=%+v", got)
	}
	if got[0].OK() || got[0].HasSite || got[0].Code != "E_NO_SITE" {
		t.Fatalf("failed run=%+v", got[0])
	}
	a := got[1]
	if !a.OK() || !a.HasHouse || a.Origin != [3]int{17, 64, 33} || a.AreaTo != [3]int{63, 319, 63} || a.Variance != 0.5 {
		t.Fatalf("ok run=%+v", a)
	}
	if !a.StartedAt.Equal(t0) {
		t.Fatalf("started=%v", a.StartedAt)
	}

	if got, _ := idx.RecentRuns(ctx, 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	cats := catalogs.Defaults()
	digest, err := idx.UpsertCatalogs(ctx, cats, tuning.Defaults())
	if err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if len(digest) != 64 {
		t.Fatalf("digest=%q", digest)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 3 {
		t.Fatalf("catalog rows=%d want 3", n)
	}
	var stored string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='materials'`).Scan(&stored); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stored != cats.Digest {
		t.Fatalf("materials digest=%q want %q", stored, cats.Digest)
	}
}

func TestSQLiteIndex_RecentRunsSubSecondOrder(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order so rowid cannot mask the timestamp sort.
	for _, r := range []Run{
		{RunID: "later", Backend: "memory", StartedAt: t0.Add(500 * time.Millisecond), FinishedAt: t0.Add(time.Second)},
		{RunID: "earlier", Backend: "memory", StartedAt: t0, FinishedAt: t0.Add(time.Second)},
	} {
		if err := idx.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	got, err := idx.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "later" || got[1].RunID != "earlier" {
		t.Fatalf("runs=%+v", got)
	}
	if !got[0].StartedAt.Equal(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("started=%v", got[0].StartedAt)
	}
}
