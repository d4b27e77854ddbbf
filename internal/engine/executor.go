package engine

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/types"
)

// Options tunes an SQLExecutor
type Options struct {
	// Timeout bounds one execution; zero means only the caller's context applies
	Timeout time.Duration
	// MaxRows stops materialisation after this many rows; zero means unlimited
	MaxRows int
}

// SQLExecutor runs statements on a dedicated connection taken from the pool
// and always hands it back, whether the statement succeeds or not
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
}

// NewExecutor creates an executor over db
func NewExecutor(db *sql.DB, opts Options) *SQLExecutor {
	return &SQLExecutor{db: db, timeout: opts.Timeout, maxRows: opts.MaxRows}
}

// Execute runs sqlText and materialises every row in order. Engine errors
// are returned as execution errors wrapping the driver's error unchanged.
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string) (*types.ResultSet, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	budget := remaining(ctx)

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, e.failure(ctx, budget, err, "failed to acquire connection")
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, e.failure(ctx, budget, err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, e.failure(ctx, budget, err, "failed to read result columns")
	}

	rs := &types.ResultSet{Columns: columns, Rows: [][]any{}}

	for rows.Next() {
		if e.maxRows > 0 && len(rs.Rows) >= e.maxRows {
			rs.Truncated = true
			break
		}

		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, e.failure(ctx, budget, err, "failed to scan row")
		}

		for i, v := range values {
			values[i] = normalizeValue(v)
		}

		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, e.failure(ctx, budget, err, "query failed")
	}

	return rs, nil
}

// remaining returns the time left before ctx's deadline, or zero when it has none
func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}

	return time.Until(deadline).Round(time.Millisecond)
}

// failure classifies err. budget is the time the query had when it started;
// the deadline may be the executor's timeout or the caller's, whichever is sooner.
func (e *SQLExecutor) failure(ctx context.Context, budget time.Duration, err error, message string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg := "query did not finish before its deadline"
		if budget > 0 {
			msg = fmt.Sprintf("query did not finish within %s", budget)
		}

		return errors.Wrap(err, errors.ErrTypeTimeout, msg).
			WithSuggestion("Narrow the question or raise engine.query_timeout")
	}

	return errors.Wrap(err, errors.ErrTypeExecution, message)
}

// normalizeValue turns driver-specific scan results into plain values
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *big.Int:
		if x != nil && x.IsInt64() {
			return x.Int64()
		}

		return x
	default:
		return v
	}
}
