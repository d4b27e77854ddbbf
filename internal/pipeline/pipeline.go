// Package pipeline wires retrieval, prompt synthesis, generation, validation
// and the confirmation gate into the two operations a user interface calls:
// Submit and Acknowledge.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/gate"
	"github.com/kyleking/sql-assist/internal/llm"
	"github.com/kyleking/sql-assist/internal/logging"
	"github.com/kyleking/sql-assist/internal/metrics"
	"github.com/kyleking/sql-assist/internal/prompt"
	"github.com/kyleking/sql-assist/internal/retrieval"
	"github.com/kyleking/sql-assist/internal/schema"
	"github.com/kyleking/sql-assist/internal/types"
	"github.com/kyleking/sql-assist/internal/validate"
)

// Config holds the collaborators of a Pipeline. Index may be nil, in which
// case every prompt carries the full schema.
type Config struct {
	Model     *schema.Model
	Index     *retrieval.Index
	Generator llm.Generator
	Validator *validate.Validator
	Executor  gate.Executor
	TopK      int
	Examples  []prompt.Example
	Logger    *logging.Logger
}

// Pipeline is immutable after New and may be shared by any number of sessions
type Pipeline struct {
	model     *schema.Model
	rels      []schema.Relationship
	index     *retrieval.Index
	synth     *prompt.Synthesizer
	generator llm.Generator
	validator *validate.Validator
	executor  gate.Executor
	topK      int
	examples  []prompt.Example
	logger    *logging.Logger
}

// Proposal is a generated query together with its verdict
type Proposal struct {
	// ID identifies the proposal in the session's gate; empty when rejected
	ID       string
	Question string
	Query    types.GeneratedQuery
	Verdict  validate.Verdict
	Context  prompt.Context
}

// Rejected reports whether the proposal may not be executed
func (p *Proposal) Rejected() bool {
	return !p.Verdict.Accepted
}

// New validates cfg and derives the schema relationships. A malformed
// foreign-key reference fails here so nothing runs on a partial schema.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Model == nil {
		return nil, errors.New(errors.ErrTypeInternal, "pipeline requires a schema model")
	}

	if cfg.Generator == nil {
		return nil, errors.New(errors.ErrTypeInternal, "pipeline requires a generator")
	}

	if cfg.Executor == nil {
		return nil, errors.New(errors.ErrTypeInternal, "pipeline requires an executor")
	}

	rels, err := cfg.Model.Relationships()
	if err != nil {
		return nil, err
	}

	if cfg.Validator == nil {
		cfg.Validator = validate.New(validate.PolicyMultiTable, true)
	}

	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger()
	}

	for _, r := range cfg.Model.DanglingRelationships(rels) {
		cfg.Logger.WithField("relationship", r.String()).Warn("relationship references an undeclared table")
	}

	return &Pipeline{
		model:     cfg.Model,
		rels:      rels,
		index:     cfg.Index,
		synth:     prompt.NewSynthesizer(),
		generator: cfg.Generator,
		validator: cfg.Validator,
		executor:  cfg.Executor,
		topK:      cfg.TopK,
		examples:  cfg.Examples,
		logger:    cfg.Logger,
	}, nil
}

// Model returns the schema the pipeline was built with
func (p *Pipeline) Model() *schema.Model {
	return p.model
}

// Relationships returns the declared relationships
func (p *Pipeline) Relationships() []schema.Relationship {
	return append([]schema.Relationship(nil), p.rels...)
}

// DescribeSchema renders every table, column and relationship
func (p *Pipeline) DescribeSchema() string {
	return prompt.FullContext(p.model, p.rels).Text()
}

// Propose runs retrieval, generation and validation for question. A query
// that fails validation is returned with a rejected verdict, not an error.
func (p *Pipeline) Propose(ctx context.Context, question string) (*Proposal, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question cannot be empty")
	}

	log := p.logger.WithField("question", question)

	pctx, err := p.schemaContext(ctx, question)
	if err != nil {
		metrics.ObserveProposal(metrics.Outcome(err))
		log.ErrorWithErr("schema retrieval failed", err)

		return nil, err
	}

	req := p.synth.Build(question, pctx, p.examples)
	log.Debugf("prompt built in %s mode with %d characters", pctx.Mode, len(req.UserPrompt()))

	start := time.Now()
	q, err := p.generator.Generate(ctx, req)
	metrics.ObserveGeneration(time.Since(start))

	if err != nil {
		metrics.ObserveProposal(metrics.Outcome(err))
		log.WithField("elapsed", time.Since(start).String()).ErrorWithErr("generation failed", err)

		return nil, err
	}

	verdict := p.validator.Check(q.SQL, p.rels, p.model)
	metrics.ObserveValidation(verdict.Outcome())
	metrics.ObserveProposal(verdict.Outcome())

	fields := log.WithFields(map[string]interface{}{
		"verdict": verdict.Outcome(),
		"tables":  strings.Join(verdict.Tables, ","),
	})
	if verdict.Outcome() == "advisory" {
		fields.Warnf("proposed query matches no declared relationship: %s", verdict.Reason)
	} else {
		fields.Infof("proposed query: %s", verdict.Reason)
	}

	log.Debugf("generated sql: %s", q.SQL)

	return &Proposal{
		Question: question,
		Query:    *q,
		Verdict:  verdict,
		Context:  pctx,
	}, nil
}

func (p *Pipeline) schemaContext(ctx context.Context, question string) (prompt.Context, error) {
	if p.index == nil {
		return prompt.FullContext(p.model, p.rels), nil
	}

	matches, err := p.index.Retrieve(ctx, question, p.topK)
	if err != nil {
		return prompt.Context{}, err
	}

	tables := retrieval.Tables(matches)
	p.logger.Debugf("retrieved %d schema columns from %s", len(matches), strings.Join(tables, ", "))

	return prompt.RetrievedContext(retrieval.Descriptors(matches), tables), nil
}

// execute runs sql through the executor and records the outcome
func (p *Pipeline) execute(ctx context.Context, g *gate.Gate) (*types.ResultSet, error) {
	start := time.Now()
	rs, err := g.Execute(ctx, p.executor)

	if err != nil && errors.IsType(err, errors.ErrTypeState) {
		return nil, err
	}

	metrics.ObserveExecution(metrics.Outcome(err), time.Since(start))

	if err != nil {
		p.logger.ErrorWithErr("execution failed", err)
		return nil, err
	}

	p.logger.WithFields(map[string]interface{}{
		"rows":      rs.RowCount(),
		"truncated": rs.Truncated,
		"elapsed":   time.Since(start).String(),
	}).Info("query executed")

	return rs, nil
}
