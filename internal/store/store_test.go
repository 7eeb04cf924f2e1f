package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"records", "canonical_references", "key_index", "field_history",
		"projection_tasks", "projections", "rejections", "parked_records",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

// Schema tests

func TestSchema_KeyIndexPrimaryKey(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "key_index")
	for _, col := range []string{"namespace", "value", "reference_id", "bound_by", "bound_at"} {
		if !contains(columns, col) {
			t.Errorf("key_index missing column %q", col)
		}
	}

	// Seed one reference so the FK holds, then prove the duplicate key insert fails.
	if _, err := s.db.Exec(`INSERT INTO canonical_references (id, model, created_at, updated_at) VALUES ('r1', 'm', 1, 1), ('r2', 'm', 1, 1)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO key_index VALUES ('m.k', 'v', 'r1', 'rec', 1)`); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO key_index VALUES ('m.k', 'v', 'r2', 'rec', 1)`); err == nil {
		t.Error("expected primary key violation for second owner of the same key")
	}
}

func TestSchema_BusinessKeyUniquePerModel(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO canonical_references (id, model, business_key, created_at, updated_at) VALUES ('r1', 'm', 'BK', 1, 1)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO canonical_references (id, model, business_key, created_at, updated_at) VALUES ('r2', 'm', 'BK', 1, 1)`); err == nil {
		t.Error("expected unique violation for duplicate business key in one model")
	}
	if _, err := s.db.Exec(`INSERT INTO canonical_references (id, model, business_key, created_at, updated_at) VALUES ('r3', 'other', 'BK', 1, 1)`); err != nil {
		t.Errorf("same business key in another model should be allowed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO canonical_references (id, model, created_at, updated_at) VALUES ('r4', 'm', 1, 1), ('r5', 'm', 1, 1)`); err != nil {
		t.Errorf("multiple NULL business keys should be allowed: %v", err)
	}
}

func TestConstraint_ForeignKeyHistoryToReference(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO field_history (reference_id, field_path, version, record_id, source_id, occurred_at, value)
		VALUES ('missing', 'name', 1, 'rec', 'src', 1, '"x"')
	`)
	if err == nil {
		t.Error("expected foreign key violation for history of unknown reference")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("DROP INDEX idx_projection_tasks_status"); err != nil {
		t.Fatalf("failed to drop index: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "projection_tasks")
	if !contains(indexes, "idx_projection_tasks_status") {
		t.Errorf("expected idx_projection_tasks_status after migration, got %v", indexes)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
