package database

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openBare(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return gdb
}

func TestMigrateAppliesAllStepsOnce(t *testing.T) {
	gdb := openBare(t)

	applied, err := Migrate(gdb)
	if err != nil {
		t.Fatalf("first migration run failed: %v", err)
	}
	if applied != len(migrationSteps) {
		t.Fatalf("expected %d applied steps, got %d", len(migrationSteps), applied)
	}

	var ledger []Migration
	if err := gdb.Order("version ASC").Find(&ledger).Error; err != nil {
		t.Fatal(err)
	}
	if len(ledger) != len(migrationSteps) {
		t.Fatalf("ledger has %d rows, want %d", len(ledger), len(migrationSteps))
	}
	for i, row := range ledger {
		if row.Version != migrationSteps[i].Version || row.Name != migrationSteps[i].Name {
			t.Fatalf("ledger row %d mismatch: %+v", i, row)
		}
	}

	// Second run is a no-op.
	applied, err = Migrate(gdb)
	if err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	if applied != 0 {
		t.Fatalf("re-run applied %d steps, want 0", applied)
	}
}

func TestMigrateProducesWorkingSchema(t *testing.T) {
	gdb := openBare(t)
	if _, err := Migrate(gdb); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{
		"contacts", "message_map", "reaction_map",
		"scheduled_messages", "call_records", "app_state", "migrations",
	} {
		if !gdb.Migrator().HasTable(table) {
			t.Fatalf("table %s missing after migration", table)
		}
	}

	// Columns added by versioned steps, not the baseline.
	if !gdb.Migrator().HasColumn(&Contact{}, "alias") {
		t.Fatal("contacts.alias missing")
	}
	if !gdb.Migrator().HasColumn(&Contact{}, "is_archived") {
		t.Fatal("contacts.is_archived missing")
	}
	if !gdb.Migrator().HasColumn(&MessageMap{}, "content") {
		t.Fatal("message_map.content missing")
	}
	if !gdb.Migrator().HasColumn(&MessageMap{}, "sender_jid") {
		t.Fatal("message_map.sender_jid missing")
	}
}
