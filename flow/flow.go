package flow

import (
	"context"
	"errors"
)

// Flow is a sequential pipeline of nodes. Each node's output becomes the next
// node's input; the first error encountered stops the pipeline immediately.
type Flow struct {
	nodes []Node[any, any]
}

// NewFlow builds a Flow from the given nodes, in execution order.
// Returns an error if no nodes are provided.
func NewFlow(nodes ...Node[any, any]) (*Flow, error) {
	if len(nodes) == 0 {
		return nil, errors.New("no nodes provided")
	}
	return &Flow{nodes: nodes}, nil
}

// Run executes the pipeline's nodes in order, threading each node's output
// into the next node's input, and returns the last node's output. It checks
// for context cancellation before each node runs so a canceled or expired
// context stops the pipeline even between otherwise-fast nodes.
func (f *Flow) Run(ctx context.Context, input any) (any, error) {
	output := input
	for _, node := range f.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		output, err = node.Run(ctx, output)
		if err != nil {
			return nil, err
		}
	}
	return output, nil
}
