package store

import (
	"database/sql"
	"fmt"
)

const createCodeBlocksTable = `
CREATE TABLE IF NOT EXISTS code_blocks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	code         TEXT NOT NULL,
	solution     TEXT NOT NULL DEFAULT '',
	mentor_id    TEXT NOT NULL DEFAULT '',
	participants TEXT NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(createCodeBlocksTable); err != nil {
		return fmt.Errorf("failed to create code_blocks table: %w", err)
	}
	return nil
}
