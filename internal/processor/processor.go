// Package processor implements StreamProcessorBase: the template every
// concrete stream processor shares — dedup, resend handling, payload
// parsing, enrichment, and transactional persistence — with model
// construction left to a per-table Builder hook.
//
// Grounded on pkg/engine's DetermineIdempotencyKey precedence logic (for
// the dedup-key resolution shape) and pkg/sink/postgres's transactional,
// dynamic-column upsert style (for Persist).
package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/dedup"
	"github.com/ridgeline-oss/ridgeline/pkg/enrichment"
	"github.com/ridgeline-oss/ridgeline/pkg/sqlutil"
)

// Row is one target model, keyed by column name. Builders fill in the
// typed payload columns; Base fills in message_id and, on a hit, the three
// enrichment columns.
type Row map[string]interface{}

// Builder is the subclass hook: given a parsed payload, it returns zero or
// more rows for its target table. An empty slice is a valid no-op.
type Builder interface {
	Table() string
	Build(ctx context.Context, messageID, eventType string, payload map[string]interface{}) ([]Row, error)
}

// Base is the StreamProcessorBase (SPB) template, parameterized by one
// Builder. Register it with the orchestrator directly — it implements
// orchestrator.StreamProcessor given a StreamKey/ConsumerGroup pair.
type Base struct {
	streamKey     string
	consumerGroup string

	db      *sql.DB
	driver  string
	dedup   *dedup.Index
	enrich  *enrichment.Lookup
	builder Builder
	logger  ridgeline.Logger
}

// New builds a Base bound to one builder/table.
func New(streamKey, consumerGroup string, db *sql.DB, driver string, dedupIdx *dedup.Index, enrich *enrichment.Lookup, builder Builder, logger ridgeline.Logger) *Base {
	return &Base{
		streamKey:     streamKey,
		consumerGroup: consumerGroup,
		db:            db,
		driver:        sqlutil.NormalizeDriver(driver),
		dedup:         dedupIdx,
		enrich:        enrich,
		builder:       builder,
		logger:        logger,
	}
}

func (b *Base) StreamKey() string     { return b.streamKey }
func (b *Base) ConsumerGroup() string { return b.consumerGroup }

// Process implements the template steps 1-7 of the stream processor
// contract over already wire-decoded fields.
func (b *Base) Process(ctx context.Context, fields map[string]string) error {
	messageID := fields["message_id"]
	if messageID == "" {
		if b.logger != nil {
			b.logger.Warn("dropping record with empty message_id", "table", b.builder.Table())
		}
		return nil
	}
	eventType := fields["event_type"]

	resend, err := parseResend(fields["metadata"])
	if err != nil {
		return &ridgeline.ParseError{Context: "metadata", Err: err}
	}

	if resend {
		n, err := b.dedup.DeleteByMessageID(ctx, b.builder.Table(), messageID)
		if err != nil {
			return err
		}
		if b.logger != nil {
			b.logger.Info("resend: deleted prior rows", "table", b.builder.Table(), "message_id", messageID, "count", n)
		}
	} else {
		exists, err := b.dedup.ExistsByMessageID(ctx, b.builder.Table(), messageID)
		if err != nil {
			return err
		}
		if exists {
			if b.logger != nil {
				b.logger.Debug("dedup skip", "table", b.builder.Table(), "message_id", messageID)
			}
			return nil
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(fields["payload"]), &payload); err != nil {
		return &ridgeline.ParseError{Context: "payload", Err: err}
	}

	rows, err := b.builder.Build(ctx, messageID, eventType, payload)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if b.enrich != nil {
		unitNumber, _ := payload["unit_number"].(string)
		unitType, _ := payload["unit_type_code"].(string)
		if unitNumber != "" || unitType != "" {
			hit, err := b.enrich.LookupUnit(ctx, unitNumber, unitType)
			if err == nil && hit.HasData {
				for i := range rows {
					rows[i]["container_number"] = hit.ContainerNumber
					rows[i]["id_trailer"] = hit.IDTrailer
					rows[i]["id_vehicle"] = hit.IDVehicle
				}
			}
		}
	}

	for i := range rows {
		rows[i]["message_id"] = messageID
	}

	return b.persist(ctx, rows)
}

// persist inserts every row into the builder's table in a single
// transaction; a failure on any row leaves the table unchanged.
func (b *Base) persist(ctx context.Context, rows []Row) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &ridgeline.StoreError{Op: "persist_begin", Err: err}
	}
	defer tx.Rollback()

	ident, err := sqlutil.QuoteIdent(b.driver, b.builder.Table())
	if err != nil {
		return &ridgeline.ConfigError{Reason: err.Error()}
	}

	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		placeholders := make([]string, len(cols))
		args := make([]interface{}, len(cols))
		quotedCols := make([]string, len(cols))
		for i, c := range cols {
			q, err := sqlutil.QuoteIdent(b.driver, c)
			if err != nil {
				return &ridgeline.ConfigError{Reason: err.Error()}
			}
			quotedCols[i] = q
			placeholders[i] = "?"
			args[i] = row[c]
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
		query = sqlutil.Rewrite(b.driver, query)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return &ridgeline.StoreError{Op: "persist_insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &ridgeline.StoreError{Op: "persist_commit", Err: err}
	}
	return nil
}

// parseResend implements the wire contract: resend is true when the
// metadata value is the boolean true or the case-insensitive string
// "true".
func parseResend(metadataJSON string) (bool, error) {
	if metadataJSON == "" {
		return false, nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
		return false, err
	}
	v, ok := meta["resend"]
	if !ok {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strings.EqualFold(t, "true"), nil
	default:
		return false, nil
	}
}
