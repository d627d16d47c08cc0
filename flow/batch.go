package flow

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// BatchConfig contains the configuration for creating a Batch node.
// Generic parameters:
//   - I: input type for the batch as a whole
//   - O: output type after aggregation
//   - T: type of each segment after the input is divided
//   - R: output type after a single segment is processed
type BatchConfig[I any, O any, T any, R any] struct {
	// Node processes a single segment.
	Node Node[T, R]

	// Segmenter divides the batch input into individually processable segments.
	Segmenter func(context.Context, I) ([]T, error)

	// Aggregator combines the per-segment results into the batch output.
	Aggregator func(context.Context, []R) (O, error)

	// ConcurrencyLimit bounds how many segments run at once. <= 1 means sequential.
	ConcurrencyLimit int

	// ContinueOnError keeps processing remaining segments after one fails,
	// instead of aborting the whole batch on the first error.
	ContinueOnError bool
}

// validate checks that the BatchConfig has everything required to build a Batch.
func (cfg *BatchConfig[I, O, T, R]) validate() error {
	if cfg == nil {
		return errors.New("batch config cannot be nil")
	}
	if cfg.Node == nil {
		return errors.New("batch node cannot be nil")
	}
	if cfg.Segmenter == nil {
		return errors.New("segmenter is required: batch processing needs a function to divide input into segments")
	}
	if cfg.Aggregator == nil {
		return errors.New("aggregator is required: batch processing needs a function to combine segment results")
	}
	return nil
}

// Batch splits an input into segments, runs a node over each segment (sequentially
// or with bounded concurrency), and aggregates the per-segment results into a
// single output. It is the shape behind per-document dispatch in a larger batch
// executor: one document's extraction pipeline is the segment node, the document
// set is the input, and the aggregator assembles the run's final report.
type Batch[I any, O any, T any, R any] struct {
	node             Node[T, R]
	segmenter        func(context.Context, I) ([]T, error)
	aggregator       func(context.Context, []R) (O, error)
	concurrencyLimit int
	continueOnError  bool
}

// NewBatch creates a Batch from the given configuration, validating it first.
func NewBatch[I any, O any, T any, R any](cfg *BatchConfig[I, O, T, R]) (*Batch[I, O, T, R], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Batch[I, O, T, R]{
		node:             cfg.Node,
		segmenter:        cfg.Segmenter,
		aggregator:       cfg.Aggregator,
		concurrencyLimit: cfg.ConcurrencyLimit,
		continueOnError:  cfg.ContinueOnError,
	}, nil
}

// getConcurrencyLimit returns the effective concurrency limit, defaulting to 1
// (sequential processing) when unset or non-positive.
func (b *Batch[I, O, T, R]) getConcurrencyLimit() int {
	if b.concurrencyLimit <= 0 {
		return 1
	}
	return b.concurrencyLimit
}

// runSequential processes segments one at a time, in order.
// If continueOnError is false, it stops and returns on the first error.
func (b *Batch[I, O, T, R]) runSequential(ctx context.Context, segments []T) ([]R, error) {
	var results []R
	for _, segment := range segments {
		res, err := b.node.Run(ctx, segment)
		if err == nil {
			results = append(results, res)
		} else if !b.continueOnError {
			return nil, err
		}
	}
	return results, nil
}

// runConcurrent processes segments with bounded concurrency via errgroup,
// preserving the original segment order in the returned results.
func (b *Batch[I, O, T, R]) runConcurrent(ctx context.Context, segments []T) ([]R, error) {
	order := make([]*R, len(segments))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.getConcurrencyLimit())

	for i, segment := range segments {
		group.Go(func() error {
			res, err := b.node.Run(groupCtx, segment)
			if err == nil {
				order[i] = &res
			}
			if !b.continueOnError {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	results := make([]R, 0, len(segments))
	for _, r := range order {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// run segments the input, processes the segments, and aggregates the results.
func (b *Batch[I, O, T, R]) run(ctx context.Context, input I) (output O, err error) {
	segments, err := b.segmenter(ctx, input)
	if err != nil {
		return
	}

	var results []R
	if b.getConcurrencyLimit() <= 1 {
		results, err = b.runSequential(ctx, segments)
	} else {
		results, err = b.runConcurrent(ctx, segments)
	}
	if err != nil {
		return
	}

	return b.aggregator(ctx, results)
}

// Run implements the Node interface for Batch.
func (b *Batch[I, O, T, R]) Run(ctx context.Context, input I) (O, error) {
	return b.run(ctx, input)
}
