package logtail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline/pkg/model"
	"github.com/ridgeline-oss/ridgeline/pkg/queryparser"
)

func queryHashFor(t *testing.T, line string) string {
	t.Helper()
	parsed, err := queryparser.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", line, err)
	}
	return parsed.QueryHash
}

// unreachableClient points at a loopback port nothing listens on, so a
// persistPosition call fails fast with a connection error instead of
// hanging or panicking, letting the tests exercise the in-memory status
// bookkeeping that happens before that call without a live Redis.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
}

type fakeForwarder struct {
	recorded []model.ExecutionPoint
	failHash string
}

func (f *fakeForwarder) Record(ctx context.Context, hash, normalizedQuery string, ep model.ExecutionPoint) error {
	if hash == f.failHash {
		return context.DeadlineExceeded
	}
	f.recorded = append(f.recorded, ep)
	return nil
}

func TestStrippedEmpty(t *testing.T) {
	cases := map[string]bool{
		"":          true,
		"   ":       true,
		"\t \r":     true,
		"x":         false,
		"  query  ": false,
	}
	for line, want := range cases {
		if got := strippedEmpty(line); got != want {
			t.Errorf("strippedEmpty(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestPollDetectsRotationAndResetsPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.log")
	if err := os.WriteFile(path, []byte(`{"query":"select 1"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	tl := New(path, time.Second, unreachableClient(), "logprocessor:position", time.Hour, &fakeForwarder{}, nil)
	tl.status.CurrentPos = 10_000 // far beyond the file's actual size: simulates a rotated/truncated file

	err := tl.poll(context.Background())
	if err == nil {
		t.Fatal("expected an error from the unreachable persistPosition call")
	}

	status := tl.Status()
	if status.CurrentPos != 0 {
		t.Errorf("expected rotation to reset CurrentPos to 0, got %d", status.CurrentPos)
	}
	if !status.FileExists {
		t.Error("expected FileExists to be true")
	}
}

func TestPollIsNoOpWhenFileUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.log")
	content := []byte(`{"query":"select 1"}` + "\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	tl := New(path, time.Second, unreachableClient(), "logprocessor:position", time.Hour, &fakeForwarder{}, nil)
	tl.status.CurrentPos = int64(len(content))

	if err := tl.poll(context.Background()); err != nil {
		t.Fatalf("expected no-op poll to succeed without touching redis, got %v", err)
	}
}

func TestReadFromParsesValidInvalidAndEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.log")
	lines := []string{
		`{"query":"select * from orders where id = 1","duration_ms":12,"row_count":1,"method":"SELECT"}`,
		`not valid json`,
		`   `,
		`{"query":"select * from orders where id = 2","duration_ms":30,"row_count":1,"method":"SELECT"}`,
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	fwd := &fakeForwarder{}
	tl := New(path, time.Second, unreachableClient(), "logprocessor:position", time.Hour, fwd, nil)

	err := tl.readFrom(context.Background(), 0)
	if err == nil {
		t.Fatal("expected an error from the unreachable persistPosition call")
	}

	status := tl.Status()
	if status.LinesProcessed != 4 {
		t.Errorf("expected 4 lines processed (blank line still counted, skipped after), got %d", status.LinesProcessed)
	}
	if status.EntriesParsed != 2 {
		t.Errorf("expected 2 entries parsed, got %d", status.EntriesParsed)
	}
	if status.ParseErrors != 1 {
		t.Errorf("expected 1 parse error for the invalid JSON line, got %d", status.ParseErrors)
	}
	if len(fwd.recorded) != 2 {
		t.Errorf("expected forwarder to receive 2 execution points, got %d", len(fwd.recorded))
	}
}

func TestReadFromCountsForwarderFailureAsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.log")
	line := `{"query":"select * from orders where id = 3","duration_ms":5,"row_count":1,"method":"SELECT"}`
	if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	hash := queryHashFor(t, line)
	fwd := &fakeForwarder{failHash: hash}
	tl := New(path, time.Second, unreachableClient(), "logprocessor:position", time.Hour, fwd, nil)

	_ = tl.readFrom(context.Background(), 0)

	status := tl.Status()
	if status.ParseErrors != 1 {
		t.Errorf("expected forwarder failure to count as a parse error, got %d", status.ParseErrors)
	}
	if status.EntriesParsed != 0 {
		t.Errorf("expected no entries parsed when the forwarder rejects the only line, got %d", status.EntriesParsed)
	}
}
