package llm

import (
	"context"
	"encoding/json"
)

// Result is the typed outcome of a gateway call.
type Result[T any] struct {
	OK           bool
	Data         T
	ErrorMessage string
	RawSnippet   string
}

// Call runs prompt through c and decodes the validated object into T.
func Call[T any](ctx context.Context, c Client, prompt string, schema *Schema, opts *Options) Result[T] {
	raw := c.CallJSON(ctx, prompt, schema, opts)
	if !raw.OK {
		return Result[T]{ErrorMessage: raw.ErrorMessage, RawSnippet: raw.RawSnippet}
	}
	var data T
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return Result[T]{ErrorMessage: "Schema validation failed: " + err.Error(), RawSnippet: raw.RawSnippet}
	}
	return Result[T]{OK: true, Data: data, RawSnippet: raw.RawSnippet}
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, schema *Schema, opts *Options) RawResult

func (f ClientFunc) CallJSON(ctx context.Context, prompt string, schema *Schema, opts *Options) RawResult {
	return f(ctx, prompt, schema, opts)
}

// Reply builds the RawResult a model reply of content would produce, running
// the same extraction and schema checks as the gateway. Used by stub clients.
func Reply(content string, schema *Schema) RawResult {
	if content == "" {
		return RawResult{ErrorMessage: MsgMissingContent}
	}
	data, err := schema.Check([]byte(ExtractJSON(content)))
	if err != nil {
		return RawResult{ErrorMessage: err.Error(), RawSnippet: Snippet(content)}
	}
	return RawResult{OK: true, Data: data, RawSnippet: Snippet(content)}
}
