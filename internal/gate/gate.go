// Package gate holds the per-session confirmation state machine that stands
// between a generated query and its execution.
package gate

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/types"
)

// State of a gate
type State string

const (
	StateEmpty     State = "empty"
	StateProposed  State = "proposed"
	StateConfirmed State = "confirmed"
	StateExecuted  State = "executed"
)

// Executor runs one SQL statement
type Executor interface {
	Execute(ctx context.Context, sql string) (*types.ResultSet, error)
}

// Gate is owned by exactly one session. Its methods are safe to call from
// several goroutines but it is not meant to be shared between sessions.
type Gate struct {
	mu     sync.Mutex
	id     string
	state  State
	query  *types.GeneratedQuery
	result *types.ResultSet
}

// New returns a gate with nothing proposed
func New() *Gate {
	return &Gate{state: StateEmpty}
}

// Propose replaces whatever the gate held with q in the proposed state and
// returns the new proposal id. Any previous result is discarded.
func (g *Gate) Propose(q types.GeneratedQuery) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.id = uuid.NewString()
	g.state = StateProposed
	g.query = &q
	g.result = nil

	return g.id
}

// Acknowledge records the external approval of the proposed query
func (g *Gate) Acknowledge() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateProposed {
		return errors.NewStateError("acknowledge", string(g.state))
	}

	g.state = StateConfirmed

	return nil
}

// Execute runs the confirmed query exactly once through exec. On failure the
// gate returns to proposed and needs a fresh acknowledgment.
func (g *Gate) Execute(ctx context.Context, exec Executor) (*types.ResultSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateConfirmed {
		return nil, errors.NewStateError("execute", string(g.state))
	}

	rs, err := exec.Execute(ctx, g.query.SQL)
	if err != nil {
		g.state = StateProposed
		return nil, err
	}

	g.state = StateExecuted
	g.result = rs

	return rs, nil
}

// Reset discards the proposal and any result
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.id = ""
	g.state = StateEmpty
	g.query = nil
	g.result = nil
}

// State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// ID returns the current proposal id, empty when nothing is proposed
func (g *Gate) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.id
}

// Query returns a copy of the proposed query
func (g *Gate) Query() (types.GeneratedQuery, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.query == nil {
		return types.GeneratedQuery{}, false
	}

	return *g.query, true
}

// Result returns the result of the last successful execution of the current proposal
func (g *Gate) Result() (*types.ResultSet, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.result, g.result != nil
}
