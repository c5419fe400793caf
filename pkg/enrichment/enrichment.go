// Package enrichment implements EnrichmentLookup: a cached lookup from a
// (unit_number, unit_type) pair to downstream identifiers, backed by a SQL
// source with positive/negative TTL caching.
//
// Grounded on internal/engine/registry.go's lookupCache: a plain map
// guarded by a sync.RWMutex, with per-entry expiry driven by a goroutine
// that sleeps for the TTL then deletes the key.
package enrichment

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/sqlutil"
)

// Result is the outcome of a lookupUnit call. HasData distinguishes a
// resolved-but-empty unit from one that genuinely has no match, per the
// contract's requirement that a negative result be distinguishable from an
// unresolved one.
type Result struct {
	ContainerNumber string
	IDTrailer       string
	IDVehicle       string
	HasData         bool
}

type cacheEntry struct {
	result Result
}

// Lookup is the EnrichmentLookup (EL).
type Lookup struct {
	db     *sql.DB
	driver string
	table  string

	positiveTTL time.Duration
	negativeTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New builds a Lookup against table, expected to carry columns
// unit_number, unit_type, container_number, id_trailer, id_vehicle.
// positiveTTL and negativeTTL of zero disable caching for that outcome.
func New(db *sql.DB, driver, table string, positiveTTL, negativeTTL time.Duration) *Lookup {
	return &Lookup{
		db:          db,
		driver:      sqlutil.NormalizeDriver(driver),
		table:       table,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		cache:       make(map[string]cacheEntry),
	}
}

// LookupUnit resolves (unitNumber, unitType) to downstream identifiers,
// serving from cache when a live entry exists.
func (l *Lookup) LookupUnit(ctx context.Context, unitNumber, unitType string) (Result, error) {
	key := unitNumber + "\x1f" + unitType

	l.mu.RLock()
	entry, found := l.cache[key]
	l.mu.RUnlock()
	if found {
		return entry.result, nil
	}

	result, err := l.queryUnit(ctx, unitNumber, unitType)
	if err != nil {
		return Result{}, err
	}

	ttl := l.negativeTTL
	if result.HasData {
		ttl = l.positiveTTL
	}
	if ttl > 0 {
		l.mu.Lock()
		l.cache[key] = cacheEntry{result: result}
		l.mu.Unlock()

		go func() {
			time.Sleep(ttl)
			l.mu.Lock()
			delete(l.cache, key)
			l.mu.Unlock()
		}()
	}

	return result, nil
}

func (l *Lookup) queryUnit(ctx context.Context, unitNumber, unitType string) (Result, error) {
	ident, err := sqlutil.QuoteIdent(l.driver, l.table)
	if err != nil {
		return Result{}, &ridgeline.ConfigError{Reason: err.Error()}
	}
	query := sqlutil.Rewrite(l.driver, fmt.Sprintf(
		`SELECT container_number, id_trailer, id_vehicle FROM %s WHERE unit_number = ? AND unit_type = ?`, ident))

	row := l.db.QueryRowContext(ctx, query, unitNumber, unitType)
	var container, trailer, vehicle sql.NullString
	err = row.Scan(&container, &trailer, &vehicle)
	if err == sql.ErrNoRows {
		return Result{HasData: false}, nil
	}
	if err != nil {
		return Result{}, &ridgeline.StoreError{Op: "enrichment_lookup", Err: err}
	}

	return Result{
		ContainerNumber: container.String,
		IDTrailer:       trailer.String,
		IDVehicle:       vehicle.String,
		HasData:         true,
	}, nil
}
