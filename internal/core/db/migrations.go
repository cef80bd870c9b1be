package db

import (
	"fmt"
)

// migrate brings databases created by older releases up to the current schema
func (db *DB) migrate() error {
	// Migration 1: derived step columns added after the first release
	for _, col := range []struct{ name, decl string }{
		{"pre_test_rest_time", "REAL"},
		{"ocv", "REAL"},
		{"annotation", "TEXT"},
		{"original_step_type", "TEXT"},
	} {
		if err := db.addColumnIfMissing("steps", col.name, col.decl); err != nil {
			return fmt.Errorf("migration 001: %w", err)
		}
	}

	// Migration 2: experiment operator and ingestion tracking
	for _, col := range []struct{ name, decl string }{
		{"operator", "TEXT"},
		{"ingestion_id", "TEXT"},
	} {
		if err := db.addColumnIfMissing("experiments", col.name, col.decl); err != nil {
			return fmt.Errorf("migration 002: %w", err)
		}
	}

	return nil
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&n)
	return n > 0, err
}

func (db *DB) addColumnIfMissing(table, column, decl string) error {
	ok, err := db.hasColumn(table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := db.conn.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s;`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}
