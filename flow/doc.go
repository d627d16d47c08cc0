/*
Package flow provides a small, composable pipeline framework used throughout this
module to stage document processing: filtering, classification, tiered extraction,
validation, auditing, and the bounded revision loop that ties them together.

# Core Concepts

Node is the fundamental building block. Any type implementing Run can act as a
pipeline stage:

	type Node[I any, O any] interface {
	    Run(ctx context.Context, input I) (O, error)
	}

Processor adapts a plain function into a Node:

	classify := Processor[[]Chunk, []Classification](func(ctx context.Context, chunks []Chunk) ([]Classification, error) {
	    return classifyChunks(ctx, chunks)
	})

# Sequential Composition

Flow chains nodes so that each one's output feeds the next one's input:

	pipeline, err := NewFlow(filterNode, classifyNode, extractNode)
	if err != nil {
	    // no nodes provided
	}
	result, err := pipeline.Run(ctx, document)

Join is a convenience wrapper with the same semantics, returning a Node[any, any]
so a Flow can be nested inside a larger composition - for example as the
per-segment node of a Batch.

# Iteration

Loop re-runs a node until a Terminator condition is satisfied, or a hard
MaxIterations ceiling is reached:

	loop, err := NewLoop(&LoopConfig[Draft, Draft]{
	    Node:          reviseNode,
	    MaxIterations: 3,
	    Terminator: func(ctx context.Context, iteration int, in, out Draft) (bool, error) {
	        return out.Score >= acceptThreshold, nil
	    },
	})

The extraction controller uses this shape to drive the bounded revision loop
(re-extract, re-validate, re-audit) until the overall score clears the
configured threshold or the iteration budget runs out.

# Fan-out / Fan-in

Batch splits an input into segments, runs a node over each (sequentially or
concurrently, bounded by ConcurrencyLimit), and aggregates the results:

	batch, err := NewBatch(&BatchConfig[[]Document, RunReport, Document, DocumentResult]{
	    Node:             perDocumentPipeline,
	    Segmenter:        func(ctx context.Context, docs []Document) ([]Document, error) { return docs, nil },
	    Aggregator:       aggregateRunReport,
	    ConcurrencyLimit: workerCount,
	    ContinueOnError:  true,
	})

This is the shape behind a batch executor's per-document dispatch, and also
behind the field auditor's per-field fan-out: segments are an extraction's
non-null fields rather than documents, and the node is a single adversarial
field check instead of a whole per-document pipeline.

The tiered cascade's own tier escalation (regex miss routes to a local model,
a low-confidence local result routes to a cloud model) is driven directly by
the cascade rather than through a flow node, since each tier's thresholds
depend on per-field calibration that a generic branch resolver would need to
duplicate.

# Error Handling

All Run methods propagate context cancellation and deadlines as ordinary
errors, so standard errors.Is checks work:

	result, err := pipeline.Run(ctx, input)
	if errors.Is(err, context.DeadlineExceeded) {
	    // the pipeline ran out of time
	}

# Thread Safety

All node types are safe for concurrent use once constructed. Processor
functions that close over shared state remain the caller's responsibility to
synchronize.
*/
package flow
