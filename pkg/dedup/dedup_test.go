package dedup

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", t.TempDir()+"/dedup_test.db")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE ing_orders (
		id_ingest INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		amount REAL
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	return New(db, "sqlite")
}

func TestDedupLifecycle(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	exists, err := idx.ExistsByMessageID(ctx, "ing_orders", "k1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected no row yet")
	}

	if _, err := idx.db.Exec(`INSERT INTO ing_orders (message_id, amount) VALUES (?, ?)`, "k1", 10.5); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	exists, err = idx.ExistsByMessageID(ctx, "ing_orders", "k1")
	if err != nil || !exists {
		t.Fatalf("expected row to exist, err=%v", err)
	}

	row, err := idx.FindByMessageID(ctx, "ing_orders", "k1")
	if err != nil || row == nil {
		t.Fatalf("find: %v %v", row, err)
	}
	if row["message_id"] != "k1" {
		t.Errorf("unexpected row: %+v", row)
	}

	n, err := idx.DeleteByMessageID(ctx, "ing_orders", "k1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row deleted, got %d", n)
	}

	exists, _ = idx.ExistsByMessageID(ctx, "ing_orders", "k1")
	if exists {
		t.Error("expected row to be gone after delete")
	}
}

func TestRejectsInvalidTableName(t *testing.T) {
	idx := openTestIndex(t)
	_, err := idx.ExistsByMessageID(context.Background(), "orders; DROP TABLE x", "k1")
	if err == nil {
		t.Fatal("expected error for invalid identifier")
	}
}
