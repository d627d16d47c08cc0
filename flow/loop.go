package flow

import (
	"context"
	"errors"
)

// LoopConfig configures a Loop: the node run on each iteration and the
// condition that stops it.
type LoopConfig[I any, O any] struct {
	// Node is the unit executed each iteration.
	Node Node[I, O]

	// MaxIterations caps the iteration count (0-based: MaxIterations=10
	// means iterations 0-9). <= 0 means no cap; the loop then relies
	// entirely on Terminator. When both are set, Terminator is still
	// evaluated on every iteration, including the last one the cap allows,
	// and an error it returns is returned from Run.
	MaxIterations int

	// Terminator decides whether to stop after an iteration, given the
	// iteration index, the loop's original input, and that iteration's
	// output. nil with no MaxIterations means the loop runs exactly once;
	// nil with MaxIterations set runs until the cap.
	Terminator func(context.Context, int, I, O) (bool, error)
}

// validate checks if the LoopConfig is valid and ready to use.
// Returns an error if the config or its Node field is nil.
func (cfg *LoopConfig[I, O]) validate() error {
	if cfg == nil {
		return errors.New("loop config cannot be nil")
	}

	if cfg.Node == nil {
		return errors.New("loop node cannot be nil")
	}

	return nil
}

// Loop represents a node that executes another node repeatedly until a termination condition is met.
// The output of each iteration can be used to determine if the loop should continue.
type Loop[I any, O any] struct {
	node          Node[I, O]
	maxIterations int
	terminator    func(context.Context, int, I, O) (bool, error)
}

// NewLoop creates a new Loop instance with the provided configuration.
// Returns an error if the configuration is invalid.
//
// Example:
//
//	loop, err := NewLoop(&LoopConfig{
//	    Node: myNode,
//	    Terminator: func(ctx context.Context, iteration int, input I, output O) (bool, error) {
//	        return iteration >= 9, nil // Stop after 10 iterations (0-9)
//	    },
//	})
func NewLoop[I any, O any](cfg *LoopConfig[I, O]) (*Loop[I, O], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Loop[I, O]{
		node:          cfg.Node,
		maxIterations: cfg.MaxIterations,
		terminator:    cfg.Terminator,
	}, nil
}

// shouldTerminate applies the stop rule: both limits set stops on whichever
// fires first (OR logic); MaxIterations alone stops at the cap; Terminator
// alone defers entirely to it; neither set runs exactly once.
func (l *Loop[I, O]) shouldTerminate(ctx context.Context, iteration int, input I, output O) (bool, error) {
	if l.maxIterations > 0 && l.terminator != nil {
		terminator, err := l.terminator(ctx, iteration, input, output)
		if err != nil {
			return false, err
		}
		return (iteration >= l.maxIterations-1) || terminator, nil
	}

	// Case 2: Only max iterations set
	if l.maxIterations > 0 {
		return iteration >= l.maxIterations-1, nil
	}

	if l.terminator == nil {
		return true, nil
	}

	return l.terminator(ctx, iteration, input, output)
}

// Run repeatedly invokes the node against the same original input until
// shouldTerminate says stop, returning the last iteration's output. Callers
// that need to accumulate state across iterations must close over a
// variable outside input/output themselves; Loop does not thread state for
// them.
func (l *Loop[I, O]) Run(ctx context.Context, input I) (O, error) {
	var iteration int

	for {
		output, err := l.node.Run(ctx, input)
		if err != nil {
			return output, err
		}

		shouldStop, err := l.shouldTerminate(ctx, iteration, input, output)
		if err != nil {
			return output, err
		}

		if shouldStop {
			return output, nil
		}

		iteration++
	}
}
