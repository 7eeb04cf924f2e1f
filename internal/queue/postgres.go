package queue

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

const postgresQueueTable = "canon_queue_items"

var postgresDialect = dialect{
	driver: "postgres",
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				topic TEXT NOT NULL,
				payload BYTEA NOT NULL,
				visible_at BIGINT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				enqueued_at BIGINT NOT NULL
			)`, postgresQuoteIdentifier(table)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (topic, visible_at)",
				postgresQuoteIdentifier(table+"_topic_visible_idx"),
				postgresQuoteIdentifier(table)),
		}
	},
	placeholders: dollarPlaceholders,
	quote:        postgresQuoteIdentifier,

	// Concurrent consumers skip rows another transaction is leasing.
	lockClause: "\n\t\tFOR UPDATE SKIP LOCKED",
}

// NewPostgresQueue connects lazily to the postgres database at dsn; the
// table is created on first use.
func NewPostgresQueue(dsn string, opts Options) (Queue, error) {
	return newSQLQueue(dsn, postgresQueueTable, postgresDialect, opts)
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
