package queryparser

import "testing"

func TestNormalizeReplacesLiteralsAndCollapsesWhitespace(t *testing.T) {
	got := Normalize(`SELECT  *   FROM orders WHERE id = 42 AND name = 'bob'`)
	want := "SELECT * FROM orders WHERE id = ? AND name = ?"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestFingerprintIsStableAndSixteenHexChars(t *testing.T) {
	a := Fingerprint("SELECT * FROM orders WHERE id = ?")
	b := Fingerprint("SELECT * FROM orders WHERE id = ?")
	if a != b {
		t.Errorf("expected stable fingerprint, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d (%q)", len(a), a)
	}
}

func TestParseLineExtractsFields(t *testing.T) {
	line := `{"query":"SELECT * FROM orders WHERE id = 42","duration_ms":12.5,"row_count":1,"method":"select","timestamp":"2026-01-01T00:00:00Z"}`
	parsed, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if parsed.NormalizedQuery != "SELECT * FROM orders WHERE id = ?" {
		t.Errorf("unexpected normalized query: %q", parsed.NormalizedQuery)
	}
	if parsed.Point.DurationMs != 12.5 || parsed.Point.RowCount != 1 || parsed.Point.Method != "SELECT" {
		t.Errorf("unexpected execution point: %+v", parsed.Point)
	}
	if parsed.QueryHash == "" {
		t.Error("expected non-empty query hash")
	}
}

func TestParseLineRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseLine("not json"); err == nil {
		t.Fatal("expected ParseError for invalid json line")
	}
}

func TestParseLineRejectsMissingQuery(t *testing.T) {
	if _, err := ParseLine(`{"duration_ms":1}`); err == nil {
		t.Fatal("expected ParseError for missing query field")
	}
}
