package executor

import (
	"context"
)

// Runtime defines the host integration surface for field resolution, batching,
// abstract type resolution, and leaf-value serialization used by the Executor.
//
// General contract
//   - The Executor performs a breadth-first execution. At each depth it drains all
//     synchronous fields first via ResolveSync, then calls BatchResolveAsync ONCE
//     with all async tasks collected at that depth. The next depth does not begin
//     until BatchResolveAsync returns and those results are completed.
//   - ResolveSync is never invoked for fields marked async, and BatchResolveAsync
//     is only invoked when there is at least one async field at the current depth.
//   - Errors returned from any method are converted into located GraphQL errors.
//     An error that is a *language.Error contributes its Message and Extensions
//     verbatim; any other error contributes err.Error().
//   - Implementations must be concurrency-safe. The Executor may call these
//     methods concurrently for different operations.
//
// Object/field identifiers
// - objectType is the GraphQL type name (e.g. "User").
// - field is the GraphQL field name on that type (e.g. "posts").
// - source is the parent object value (the root value for root fields).
// - args is the map of argument names to already-coerced Go values.
//
// Partial success and determinism
//   - BatchResolveAsync must return one AsyncResolveResult per task, in task
//     order. Failures in one element do not affect the others.
type Runtime interface {
	// ResolveSync resolves a synchronous field value immediately.
	// Return (nil, nil) to produce a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one execution depth of async field tasks.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union).
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value. For enums, return the symbolic name as string.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// SubscriptionRuntime is implemented by runtimes that can open a source
// stream for a root subscription field.
type SubscriptionRuntime interface {
	Runtime

	// Subscribe returns a stream of source events for the subscription root
	// field described by task. The stream must be closed when ctx is done.
	// Every event is executed against the operation's selection set with the
	// event as the root value.
	Subscribe(ctx context.Context, task AsyncResolveTask) (<-chan any, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (the root value for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Info describes the field occurrence in the executing document.
	Info *ResolveInfo
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
}
