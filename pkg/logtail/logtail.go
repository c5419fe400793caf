// Package logtail implements LogTailer: a polling follower of a growing
// log file with rotation detection and a durable read offset, running on
// a single dedicated goroutine.
//
// Grounded on the same cooperative-shutdown poll-loop shape used by
// internal/orchestrator (a ctx.Done select alongside a bounded-interval
// wait) and on pkg/source/redis for the go-redis/v9 key/value calls the
// durable offset is persisted through.
package logtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/model"
	"github.com/ridgeline-oss/ridgeline/pkg/queryparser"
)

// Forwarder is QueryAggregator's Record operation, declared locally so
// tests can substitute a fake.
type Forwarder interface {
	Record(ctx context.Context, hash, normalizedQuery string, ep model.ExecutionPoint) error
}

// shutdownGrace bounds how long Stop waits for the poll loop to quiesce.
const shutdownGrace = 5 * time.Second

// Tailer is the LogTailer (LT).
type Tailer struct {
	path         string
	pollInterval time.Duration
	client       *redis.Client
	positionKey  string
	ttl          time.Duration
	forwarder    Forwarder
	logger       ridgeline.Logger

	mu     sync.Mutex
	status model.ProcessorStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Tailer. positionKey is the fixed process identifier the
// current_position is persisted under (e.g. "logprocessor:position"); ttl
// should be at least 30 days so a long outage does not lose the offset.
func New(path string, pollInterval time.Duration, client *redis.Client, positionKey string, ttl time.Duration, forwarder Forwarder, logger ridgeline.Logger) *Tailer {
	return &Tailer{
		path:         path,
		pollInterval: pollInterval,
		client:       client,
		positionKey:  positionKey,
		ttl:          ttl,
		forwarder:    forwarder,
		logger:       logger,
		status:       model.ProcessorStatus{FilePath: path},
	}
}

// Start loads the durable offset and launches the single polling
// goroutine.
func (t *Tailer) Start(ctx context.Context) error {
	pos, err := t.loadPosition(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.status.CurrentPos = pos
	t.status.StartTime = time.Now().UTC()
	t.status.IsRunning = true
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.loop(runCtx)
	return nil
}

// Stop cancels the poll loop and waits up to shutdownGrace for it to
// quiesce.
func (t *Tailer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	select {
	case <-t.done:
	case <-time.After(shutdownGrace):
	}
	t.mu.Lock()
	t.status.IsRunning = false
	t.mu.Unlock()
}

// Status returns a snapshot of the tailer's current state.
func (t *Tailer) Status() model.ProcessorStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tailer) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.poll(ctx); err != nil && t.logger != nil {
				t.logger.Warn("log tailer poll failed", "path", t.path, "error", err)
			}
		}
	}
}

func (t *Tailer) poll(ctx context.Context) error {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		t.mu.Lock()
		t.status.FileExists = false
		t.mu.Unlock()
		return nil
	}
	if err != nil {
		return &ridgeline.TransientIOError{Op: "stat_log_file", Err: err}
	}

	t.mu.Lock()
	t.status.FileExists = true
	t.status.FileSize = info.Size()
	currentPos := t.status.CurrentPos
	t.mu.Unlock()

	if info.Size() < currentPos {
		// Rotation: file shrank below the last known offset.
		currentPos = 0
		t.mu.Lock()
		t.status.CurrentPos = 0
		t.mu.Unlock()
		if err := t.persistPosition(ctx, 0); err != nil {
			return err
		}
	}

	if info.Size() == currentPos {
		return nil
	}

	return t.readFrom(ctx, currentPos)
}

func (t *Tailer) readFrom(ctx context.Context, offset int64) error {
	f, err := os.Open(t.path)
	if err != nil {
		return &ridgeline.TransientIOError{Op: "open_log_file", Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return &ridgeline.TransientIOError{Op: "seek_log_file", Err: err}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lines, parsed, parseErrors int64
	var lastLineEnd int64 = offset

	for scanner.Scan() {
		line := scanner.Text()
		lastLineEnd += int64(len(line)) + 1
		lines++

		if strippedEmpty(line) {
			continue
		}

		result, err := queryparser.ParseLine(line)
		if err != nil {
			parseErrors++
			continue
		}
		if fwdErr := t.forwarder.Record(ctx, result.QueryHash, result.NormalizedQuery, result.Point); fwdErr != nil {
			parseErrors++
			continue
		}
		parsed++
	}
	if err := scanner.Err(); err != nil {
		return &ridgeline.TransientIOError{Op: "read_log_file", Err: err}
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		pos = lastLineEnd
	}

	t.mu.Lock()
	t.status.CurrentPos = pos
	t.status.LinesProcessed += lines
	t.status.EntriesParsed += parsed
	t.status.ParseErrors += parseErrors
	t.status.LastReadTime = time.Now().UTC()
	t.mu.Unlock()

	return t.persistPosition(ctx, pos)
}

func strippedEmpty(line string) bool {
	for _, r := range line {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}

func (t *Tailer) loadPosition(ctx context.Context) (int64, error) {
	val, err := t.client.Get(ctx, t.positionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, &ridgeline.TransientIOError{Op: "load_position", Err: err}
	}
	return val, nil
}

func (t *Tailer) persistPosition(ctx context.Context, pos int64) error {
	if err := t.client.Set(ctx, t.positionKey, pos, t.ttl).Err(); err != nil {
		return &ridgeline.TransientIOError{Op: "persist_position", Err: err}
	}
	return nil
}
