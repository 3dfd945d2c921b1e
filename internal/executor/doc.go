// Package executor implements a breadth-first GraphQL executor that hands
// resolver work to a Runtime one depth at a time.
//
// # Execution Model
//
// The executor picks the operation, coerces variables against the operation's
// variable definitions and then walks the selection set level by level:
//
//   - Fields whose schema.Field.Async flag is false are resolved immediately via
//     Runtime.ResolveSync. Object results keep expanding in the same depth.
//   - Fields marked Async are queued as AsyncResolveTask values. Once the
//     current depth has been expanded, all queued tasks are passed to
//     Runtime.BatchResolveAsync in a single call.
//   - Completed values are written into a response tree at their response
//     path. A Non-Null violation nulls the nearest nullable ancestor and prunes
//     any task queued beneath it.
//
// Root mutation fields are resolved serially in document order.
//
// Each async task carries a ResolveInfo describing the field occurrence: the
// field and parent type names, the response path, the AST nodes, the
// operation, its fragments and the coerced variables. ResolveInfo can flatten
// the field's sub-selection into a list of slash-joined names.
//
// # Value Completion
//
//   - Leaf values are serialized with Runtime.SerializeLeafValue.
//   - Interface and union values are resolved with Runtime.ResolveType and the
//     concrete type is checked against the schema. Fragments whose type
//     condition names an interface or union apply to each possible type.
//   - List elements are completed with index-aware paths.
//
// # Errors
//
// Errors are collected as located GraphQL errors and execution continues with
// partial data. An error that wraps a *language.Error keeps its message and
// extensions; any other error contributes err.Error().
//
// # Subscriptions
//
// Executor.Subscribe opens the source stream through a SubscriptionRuntime and
// executes the operation once per event, with the event as the root value.
package executor
