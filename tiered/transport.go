// transport.go declares the LLM capability the cascade depends on, and the
// response-schema generation that makes structured output requests typed.
package tiered

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// Message is one turn of a chat-style LLM call.
type Message struct {
	Role    string
	Content string
}

// Usage reports token/cost accounting for one call, when the transport can
// supply it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Transport is the minimal capability the cascade needs from a model
// provider. Implementations for the local and cloud streams are
// interchangeable behind this interface; the cascade owns no transport
// globals.
type Transport interface {
	Chat(ctx context.Context, model string, messages []Message, responseSchema *jsonschema.Schema, deadline time.Time) (any, *Usage, error)
}

// Factory selects a Transport implementation by provider name.
type Factory interface {
	Transport(provider string) (Transport, error)
}

// SchemaFor generates a jsonschema.Schema for the Go type of target, for
// use as a Chat call's responseSchema.
func SchemaFor(target any) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	return reflector.Reflect(target)
}

// TypeName returns a stable name for a reflected target, useful for
// building prompts that mention the expected response shape.
func TypeName(target any) string {
	t := reflect.TypeOf(target)
	if t == nil {
		return "unknown"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}
