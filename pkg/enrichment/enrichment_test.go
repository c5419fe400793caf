package enrichment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestLookup(t *testing.T) *Lookup {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/enrich.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE units (
		unit_number TEXT, unit_type TEXT,
		container_number TEXT, id_trailer TEXT, id_vehicle TEXT
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = db.Exec(`INSERT INTO units VALUES ('U1', 'CONTAINER', 'C123', '', '')`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	return New(db, "sqlite", "units", time.Hour, time.Hour)
}

func TestLookupHitAndMiss(t *testing.T) {
	l := openTestLookup(t)
	ctx := context.Background()

	hit, err := l.LookupUnit(ctx, "U1", "CONTAINER")
	if err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}
	if !hit.HasData || hit.ContainerNumber != "C123" {
		t.Errorf("unexpected hit result: %+v", hit)
	}

	miss, err := l.LookupUnit(ctx, "UNKNOWN", "X")
	if err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}
	if miss.HasData {
		t.Errorf("expected hasData=false for unknown unit, got %+v", miss)
	}
}

func TestLookupServesFromCacheWithoutHittingStore(t *testing.T) {
	l := openTestLookup(t)
	ctx := context.Background()

	first, err := l.LookupUnit(ctx, "U1", "CONTAINER")
	if err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}

	// Mutate the backing row directly; a cache hit should not see this.
	if _, err := l.db.Exec(`UPDATE units SET container_number = 'CHANGED'`); err != nil {
		t.Fatalf("update: %v", err)
	}

	second, err := l.LookupUnit(ctx, "U1", "CONTAINER")
	if err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}
	if second.ContainerNumber != first.ContainerNumber {
		t.Errorf("expected cached result %q, got %q", first.ContainerNumber, second.ContainerNumber)
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/enrich2.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE units (unit_number TEXT, unit_type TEXT, container_number TEXT, id_trailer TEXT, id_vehicle TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO units VALUES ('U1', 'CONTAINER', 'C1', '', '')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := New(db, "sqlite", "units", 0, 0)
	ctx := context.Background()

	if _, err := l.LookupUnit(ctx, "U1", "CONTAINER"); err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}
	if _, err := db.Exec(`UPDATE units SET container_number = 'C2'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := l.LookupUnit(ctx, "U1", "CONTAINER")
	if err != nil {
		t.Fatalf("LookupUnit: %v", err)
	}
	if got.ContainerNumber != "C2" {
		t.Errorf("expected fresh lookup to see C2, got %q", got.ContainerNumber)
	}
}
