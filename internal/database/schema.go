package database

import (
	"context"
	"database/sql"
)

// accountsTable keeps the account document as JSON next to its number.
// The unique key on number backs the one-row-per-number rule that
// create's delete-then-insert relies on.
const accountsTable = `CREATE TABLE IF NOT EXISTS accounts (
	id     BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	number VARCHAR(64)     NOT NULL,
	data   JSON            NOT NULL,
	UNIQUE KEY uq_accounts_number (number)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the accounts table when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, accountsTable)
	return err
}
