// Package sqlutil provides small driver-aware SQL helpers shared by the
// raw event store, the dedup index, and the stream processor's persistence
// step.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// QuoteIdent validates and quotes a bare SQL identifier (table or column
// name) for the target driver.
func QuoteIdent(driver, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %s", name)
	}
	switch driver {
	case "pgx", "postgres":
		return `"` + name + `"`, nil
	case "sqlite", "mysql", "mariadb":
		return "`" + name + "`", nil
	default:
		return `"` + name + `"`, nil
	}
}

// Placeholder returns a bind placeholder for the driver at a 1-based index.
func Placeholder(driver string, index int) string {
	switch driver {
	case "pgx", "postgres":
		return fmt.Sprintf("$%d", index)
	default:
		return "?"
	}
}

// Rewrite replaces every '?' in query, in order, with the driver's
// placeholder style. Queries are always authored with '?' and rewritten at
// the call site, matching how the raw store and dedup index stay portable
// between the pgx-backed production driver and the sqlite driver used in
// tests.
func Rewrite(driver, query string) string {
	if driver != "pgx" && driver != "postgres" {
		return query
	}
	var b strings.Builder
	idx := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(Placeholder(driver, idx))
			idx++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NormalizeDriver maps a sql.Open driver name to the canonical family used
// by QuoteIdent/Placeholder/Rewrite.
func NormalizeDriver(driver string) string {
	switch driver {
	case "pgx":
		return "pgx"
	case "postgres", "pq":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return driver
	}
}
