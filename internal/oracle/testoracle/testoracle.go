// Package testoracle provides a deterministic, scripted implementation of
// oracle.Oracle for reproducibility tests (SPEC_FULL.md §10.4): given the
// same sequence of calls, it always returns the same responses, with no
// network access and no randomness of its own.
package testoracle

import (
	"context"
	"fmt"

	"github.com/emotionsim/engine/internal/oracle"
	"github.com/emotionsim/engine/internal/simerr"
)

// Scripted is an Oracle that replays a fixed list of responses in order,
// one per call to Generate, optionally emitting token chunks first.
type Scripted struct {
	script []scriptedCall
	calls  int
}

type scriptedCall struct {
	tokens   []string
	response oracle.Response
	err      error
}

// New creates an empty Scripted oracle; use Script to add turns.
func New() *Scripted {
	return &Scripted{}
}

// Script appends one scripted turn: the tokens streamed (in order) followed
// by the final response. Calls to Generate consume scripted turns in the
// order they were added.
func (s *Scripted) Script(tokens []string, resp oracle.Response) *Scripted {
	s.script = append(s.script, scriptedCall{tokens: tokens, response: resp})
	return s
}

// ScriptError appends a turn that fails with err instead of returning a
// response, modeling an oracle timeout or parse failure (§7, Oracle errors).
func (s *Scripted) ScriptError(err error) *Scripted {
	s.script = append(s.script, scriptedCall{err: err})
	return s
}

// Generate implements oracle.Oracle by replaying the next scripted turn.
func (s *Scripted) Generate(ctx context.Context, req oracle.Request, onToken func(oracle.StreamChunk)) (oracle.Response, error) {
	if s.calls >= len(s.script) {
		return oracle.Response{}, simerr.Oracle("testoracle", "generate",
			fmt.Sprintf("script exhausted after %d calls", s.calls), nil)
	}
	call := s.script[s.calls]
	s.calls++

	if call.err != nil {
		return oracle.Response{}, call.err
	}

	if onToken != nil {
		for _, tok := range call.tokens {
			onToken(oracle.StreamChunk{Token: tok})
		}
	}
	return call.response, nil
}

// Calls reports how many turns have been consumed so far.
func (s *Scripted) Calls() int { return s.calls }
