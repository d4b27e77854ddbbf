package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/gate"
	"github.com/kyleking/sql-assist/internal/types"
)

// Session is one user's interaction. Each session owns its gate; sessions
// never share proposals.
type Session struct {
	id       string
	pipeline *Pipeline
	gate     *gate.Gate

	mu       sync.Mutex
	proposal *Proposal
}

// NewSession starts an interaction with nothing proposed
func (p *Pipeline) NewSession() *Session {
	return &Session{
		id:       uuid.NewString(),
		pipeline: p,
		gate:     gate.New(),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Submit proposes a query for question. Whatever the session held before,
// including an executed result, is discarded.
func (s *Session) Submit(ctx context.Context, question string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proposal = nil
	s.gate.Reset()

	proposal, err := s.pipeline.Propose(ctx, question)
	if err != nil {
		return nil, err
	}

	if !proposal.Rejected() {
		proposal.ID = s.gate.Propose(proposal.Query)
	}

	s.proposal = proposal

	return proposal, nil
}

// Acknowledge confirms the current proposal and executes it once
func (s *Session) Acknowledge(ctx context.Context) (*types.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proposal != nil && s.proposal.Rejected() {
		return nil, errors.NewStateError("acknowledge", "rejected").
			WithSuggestion("Rephrase the question to get a new proposal")
	}

	if err := s.gate.Acknowledge(); err != nil {
		return nil, err
	}

	return s.pipeline.execute(ctx, s.gate)
}

// Proposal returns the current proposal, if any
func (s *Session) Proposal() (*Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.proposal, s.proposal != nil
}

// State returns the gate state
func (s *Session) State() gate.State {
	return s.gate.State()
}

// Result returns the result of the executed proposal
func (s *Session) Result() (*types.ResultSet, bool) {
	return s.gate.Result()
}
