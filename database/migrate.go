package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// migrationStep is one schema change. Steps run in ascending version
// order, each inside its own transaction, and are recorded in the
// migrations ledger so re-running is a no-op. The Up functions guard
// with HasTable/HasColumn because early deployments created some of
// these columns before the ledger existed.
type migrationStep struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

var migrationSteps = []migrationStep{
	{
		Version: 1,
		Name:    "add_contact_alias_and_muted",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			if !m.HasColumn(&Contact{}, "alias") {
				if err := m.AddColumn(&Contact{}, "alias"); err != nil {
					return err
				}
			}
			if !m.HasColumn(&Contact{}, "is_muted") {
				return m.AddColumn(&Contact{}, "is_muted")
			}
			return nil
		},
	},
	{
		Version: 2,
		Name:    "add_message_content_for_search",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			if !m.HasColumn(&MessageMap{}, "content") {
				return m.AddColumn(&MessageMap{}, "content")
			}
			return nil
		},
	},
	{
		Version: 3,
		Name:    "create_scheduled_messages_table",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasTable(&ScheduledMessage{}) {
				return tx.Migrator().CreateTable(&ScheduledMessage{})
			}
			return nil
		},
	},
	{
		Version: 4,
		Name:    "create_reaction_map_table",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasTable(&ReactionMap{}) {
				return tx.Migrator().CreateTable(&ReactionMap{})
			}
			return nil
		},
	},
	{
		Version: 5,
		Name:    "add_contact_last_active_and_archived",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			if !m.HasColumn(&Contact{}, "last_active_at") {
				if err := m.AddColumn(&Contact{}, "last_active_at"); err != nil {
					return err
				}
			}
			if !m.HasColumn(&Contact{}, "is_archived") {
				return m.AddColumn(&Contact{}, "is_archived")
			}
			return nil
		},
	},
	{
		Version: 6,
		Name:    "add_message_sender_jid",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			if !m.HasColumn(&MessageMap{}, "sender_jid") {
				return m.AddColumn(&MessageMap{}, "sender_jid")
			}
			return nil
		},
	},
}

// Migrate creates the baseline tables and then applies every pending
// versioned migration. It returns the number of steps applied.
func Migrate(db *gorm.DB) (int, error) {
	if err := db.AutoMigrate(
		&Migration{},
		&Contact{},
		&MessageMap{},
		&CallRecord{},
		&AppState{},
	); err != nil {
		return 0, fmt.Errorf("baseline migration: %w", err)
	}

	applied := make(map[int]bool)
	var ledger []Migration
	if res := db.Order("version ASC").Find(&ledger); res.Error != nil {
		return 0, fmt.Errorf("read migrations ledger: %w", res.Error)
	}
	for _, entry := range ledger {
		applied[entry.Version] = true
	}

	ran := 0
	for _, step := range migrationSteps {
		if applied[step.Version] {
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&Migration{
				Version:   step.Version,
				Name:      step.Name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("migration v%d (%s): %w", step.Version, step.Name, err)
		}
		ran++
	}

	return ran, nil
}
