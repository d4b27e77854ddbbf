package testutil

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/require"
)

// RunConcurrent executes the given function concurrently n times.
// Waits for all goroutines to complete before returning.
// Any panics are captured and reported as test failures.
func RunConcurrent(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		go func(workerID int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("worker %d panicked: %v", workerID, r)
				}
			}()
			fn(workerID)
		}(i)
	}

	wg.Wait()
}

// NewScenarioDB opens an in-memory DuckDB seeded with ScenarioSeedSQL
func NewScenarioDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// a single connection keeps every statement on the same in-memory database
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), ShortTestTimeout)
	defer cancel()

	for _, stmt := range ScenarioSeedSQL {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	return db
}
