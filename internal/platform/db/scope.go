package db

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medevac/medevac/internal/platform/apperr"
)

// ChangeChannel is the LISTEN/NOTIFY channel row-change triggers publish on.
const ChangeChannel = "medevac_changes"

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// SQL is the statement builder for Postgres placeholders.
var SQL = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Scoped starts a SELECT over table that only sees rows whose tenantCol equals
// tenantID. Tenant-owned records are always read through it.
func Scoped(table, tenantCol string, tenantID uuid.UUID, cols ...string) sq.SelectBuilder {
	return SQL.Select(cols...).From(table).Where(sq.Eq{tenantCol: tenantID})
}

// ScopedUpdate starts an UPDATE of one tenant-owned row.
func ScopedUpdate(table, tenantCol string, tenantID, id uuid.UUID) sq.UpdateBuilder {
	return SQL.Update(table).Where(sq.Eq{"id": id, tenantCol: tenantID})
}

// QueryRow builds b and runs it as a single-row query.
func QueryRow(ctx context.Context, q Querier, b sq.Sqlizer) (pgx.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryRow(ctx, query, args...), nil
}

// Query builds b and runs it.
func Query(ctx context.Context, q Querier, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.Query(ctx, query, args...)
}

// Exec builds b and executes it, returning the number of affected rows.
func Exec(ctx context.Context, q Querier, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// countOf wraps b, without its page window, in SELECT COUNT(*).
func countOf(b sq.SelectBuilder) sq.SelectBuilder {
	return SQL.Select("COUNT(*)").FromSelect(b.RemoveLimit().RemoveOffset(), "q")
}

// Count runs SELECT COUNT(*) over the same FROM/WHERE as b.
func Count(ctx context.Context, q Querier, b sq.SelectBuilder) (int, error) {
	row, err := QueryRow(ctx, q, countOf(b))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Translate maps pgx errors onto the store sentinels.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
