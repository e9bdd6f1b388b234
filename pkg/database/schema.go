package database

import (
	"database/sql"
	"fmt"

	"github.com/samber/lo"
)

// requiredColumns lists, per table, the columns the stores read or write
var requiredColumns = map[string][]string{
	"users":             {"id", "display_name", "created_at"},
	"chat_rooms":        {"id", "name", "is_private", "is_deleted", "created_by", "created_at"},
	"chat_room_users":   {"room_id", "user_id", "joined_at"},
	"messages":          {"id", "room_id", "to_user", "from_user", "body", "timestamp"},
	"schema_migrations": {"version", "applied_at"},
}

var requiredIndexes = []string{
	"idx_chat_rooms_deleted",
	"idx_chat_room_users_user",
	"idx_messages_room_time",
	"idx_messages_to_user",
}

// SchemaValidator checks a live database against the expected schema
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check and returns the first mismatch
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTables(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTables verifies each required table exists with its columns
func (v *SchemaValidator) ValidateTables() error {
	for table, columns := range requiredColumns {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}

		actual, err := v.columns(table)
		if err != nil {
			return fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		if missing, _ := lo.Difference(columns, actual); len(missing) > 0 {
			return fmt.Errorf("table %s is missing columns %v", table, missing)
		}
	}
	return nil
}

// ValidateIndexes verifies the indexes backing history and membership lookups
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&count)
	return count > 0, err
}

func (v *SchemaValidator) columns(table string) ([]string, error) {
	// table comes from requiredColumns, never from input
	rows, err := v.db.Query(fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
