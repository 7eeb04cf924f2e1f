package queue

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteQueueTable = "queue_items"

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				topic TEXT NOT NULL,
				payload BLOB NOT NULL,
				visible_at INTEGER NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				enqueued_at INTEGER NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_topic_visible_idx ON %s (topic, visible_at)`, table, table),
		}
	},
	configure: func(db *sql.DB) {
		// One writer; dequeue transactions serialize on the connection.
		db.SetMaxOpenConns(1)
	},
}

// NewSQLiteQueue opens (creating if needed) a queue stored in the SQLite
// file at path. The file may be shared with the document store.
func NewSQLiteQueue(path string, opts Options) (Queue, error) {
	if path == "" {
		return nil, ErrInvalidInput
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	return newSQLQueue(dsn, sqliteQueueTable, sqliteDialect, opts)
}
