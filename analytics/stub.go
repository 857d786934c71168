package analytics

import (
	"context"

	"github.com/justapithecus/cascadewatch/types"
)

// StubClient accepts writes without persisting. Used for local dry runs
// before a real bulk-storage backend is configured, and in tests.
type StubClient struct {
	Candidates [][]types.Candidate
	Decisions  [][]types.Decision
	Events     [][]types.FinalEvent
	Closed     bool

	// FailWrites, if set, makes every Write* call return this error.
	FailWrites error
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteCandidates implements Client.
func (c *StubClient) WriteCandidates(_ context.Context, _ string, _ Config, candidates []types.Candidate) error {
	if c.FailWrites != nil {
		return c.FailWrites
	}
	c.Candidates = append(c.Candidates, candidates)
	return nil
}

// WriteDecisions implements Client.
func (c *StubClient) WriteDecisions(_ context.Context, _ string, _ Config, decisions []types.Decision) error {
	if c.FailWrites != nil {
		return c.FailWrites
	}
	c.Decisions = append(c.Decisions, decisions)
	return nil
}

// WriteFinalEvents implements Client.
func (c *StubClient) WriteFinalEvents(_ context.Context, _ string, _ Config, events []types.FinalEvent) error {
	if c.FailWrites != nil {
		return c.FailWrites
	}
	c.Events = append(c.Events, events)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.Closed = true
	return nil
}

var _ Client = (*StubClient)(nil)
