package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	BranchIDKey contextKey = "branch_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

// BranchHeader lets a client act on behalf of a specific hospital branch.
const BranchHeader = "X-Branch-ID"

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Querier is the subset of pgx shared by pooled connections, acquired
// connections and transactions. Repositories run every statement through it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ScopeMiddleware acquires one connection per request, points its
// search_path at the HMIS schema and resolves the acting branch.
func ScopeMiddleware(pool *pgxpool.Pool, schema string, defaultBranch int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			branch, err := extractBranchID(c, defaultBranch)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid branch identifier")
			}
			if !schemaPattern.MatchString(schema) {
				return echo.NewHTTPError(http.StatusInternalServerError, "invalid schema configuration")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "schema resolution failed")
			}

			ctx = context.WithValue(ctx, BranchIDKey, branch)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("branch_id", branch)

			return next(c)
		}
	}
}

func extractBranchID(c echo.Context, defaultBranch int) (int, error) {
	if bid, ok := c.Get("jwt_branch_id").(int); ok && bid > 0 {
		return bid, nil
	}
	raw := c.Request().Header.Get(BranchHeader)
	if raw == "" {
		raw = c.QueryParam("branch_id")
	}
	if raw == "" {
		return defaultBranch, nil
	}
	bid, err := strconv.Atoi(raw)
	if err != nil || bid <= 0 {
		return 0, fmt.Errorf("invalid branch id %q", raw)
	}
	return bid, nil
}

// ConnFromContext returns the active transaction if one is open, otherwise
// the request-scoped connection, otherwise nil.
func ConnFromContext(ctx context.Context) Querier {
	if tx, ok := ctx.Value(DBTxKey).(pgx.Tx); ok && tx != nil {
		return tx
	}
	if conn, ok := ctx.Value(DBConnKey).(*pgxpool.Conn); ok && conn != nil {
		return conn
	}
	return nil
}

// BranchFromContext returns the branch resolved by ScopeMiddleware, or 0.
func BranchFromContext(ctx context.Context) int {
	bid, _ := ctx.Value(BranchIDKey).(int)
	return bid
}

// EnsureSchema creates the schema if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %s", schema)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}
