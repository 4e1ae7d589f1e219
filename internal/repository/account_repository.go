package repository

import (
	"context"
	"database/sql"
	"errors"
	"iter"

	"github.com/iliyamo/account-service/internal/model"
)

// AccountRepo mirrors the 'accounts' table: one row per number with the
// account document in a JSON column.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

// Get returns the account stored for number.  ok is false when no row
// exists; that is not an error.
func (r *AccountRepo) Get(ctx context.Context, number string) (acc model.Account, ok bool, err error) {
	var data []byte
	err = r.DB.QueryRowContext(ctx,
		"SELECT data FROM accounts WHERE number=? LIMIT 1", number).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, err
	}
	acc, err = model.UnmarshalPayload(number, data)
	if err != nil {
		return model.Account{}, false, err
	}
	return acc, true, nil
}

// Create replaces any existing row for the account's number with a fresh
// one inside a single serializable transaction.  It reports true when no
// row existed before.  Delete-then-insert replaces the whole document, so
// no field of an earlier registration survives.
func (r *AccountRepo) Create(ctx context.Context, a model.Account) (fresh bool, err error) {
	if a.Number == "" {
		return false, ErrEmptyNumber
	}
	data, err := model.MarshalPayload(a)
	if err != nil {
		return false, err
	}

	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE number=?", a.Number)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO accounts (number, data) VALUES (?, ?)", a.Number, string(data)); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return removed == 0, nil
}

// Update overwrites the stored document for the account's number and
// returns ErrAccountNotFound when there is none.  The document is bound as
// a string: MySQL refuses JSON from binary parameters.  Rows affected
// counts matched rows because the DSN sets clientFoundRows.
func (r *AccountRepo) Update(ctx context.Context, a model.Account) error {
	if a.Number == "" {
		return ErrEmptyNumber
	}
	data, err := model.MarshalPayload(a)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE accounts SET data=? WHERE number=?", string(data), a.Number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Count returns the number of distinct registered numbers.
func (r *AccountRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(DISTINCT number) FROM accounts").Scan(&n)
	return n, err
}

// Page returns up to limit accounts ordered by number, skipping offset.
func (r *AccountRepo) Page(ctx context.Context, offset, limit int) ([]model.Account, error) {
	if offset < 0 || limit <= 0 {
		return nil, ErrInvalidPage
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT number, data FROM accounts ORDER BY number LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// PageFrom returns up to limit accounts whose number sorts strictly after
// cursor.  An empty cursor starts from the beginning.
func (r *AccountRepo) PageFrom(ctx context.Context, cursor string, limit int) ([]model.Account, error) {
	if limit <= 0 {
		return nil, ErrInvalidPage
	}
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = r.DB.QueryContext(ctx,
			"SELECT number, data FROM accounts ORDER BY number LIMIT ?", limit)
	} else {
		rows, err = r.DB.QueryContext(ctx,
			"SELECT number, data FROM accounts WHERE number > ? ORDER BY number LIMIT ?", cursor, limit)
	}
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// All streams every account.  Each range over the returned sequence runs
// its own query; stopping early closes the cursor.
func (r *AccountRepo) All(ctx context.Context) iter.Seq2[model.Account, error] {
	return func(yield func(model.Account, error) bool) {
		rows, err := r.DB.QueryContext(ctx, "SELECT number, data FROM accounts")
		if err != nil {
			yield(model.Account{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAccount(rows)
			if !yield(a, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Account{}, err)
		}
	}
}

func scanAccount(rows *sql.Rows) (model.Account, error) {
	var (
		number string
		data   []byte
	)
	if err := rows.Scan(&number, &data); err != nil {
		return model.Account{}, err
	}
	return model.UnmarshalPayload(number, data)
}

func collect(rows *sql.Rows) ([]model.Account, error) {
	defer rows.Close()
	out := []model.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
