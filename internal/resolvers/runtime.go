package resolvers

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/appsynclocal/appsync"
	directives "github.com/hanpama/appsynclocal/internal/directives"
	executor "github.com/hanpama/appsynclocal/internal/executor"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// TypeNamer lets resolved values name their concrete GraphQL type.
type TypeNamer interface {
	GraphQLTypeName() string
}

// Runtime executes fields against a ResolverMap. Every field first passes
// its authorization policies, then its resolver; fields without a resolver
// read the property of the same name from their source.
type Runtime struct {
	schema    *schema.Schema
	resolvers ResolverMap
	table     *directives.Table
	auth      directives.Evaluator
	// MaxConcurrency bounds the resolvers run at once within one depth;
	// zero means unbounded.
	MaxConcurrency int
}

var _ executor.SubscriptionRuntime = (*Runtime)(nil)

// NewRuntime returns a Runtime and marks every field that has a resolver or
// a policy as async on sch, so that its handler receives resolve info.
func NewRuntime(sch *schema.Schema, resolvers ResolverMap, table *directives.Table, auth directives.Evaluator) *Runtime {
	r := &Runtime{schema: sch, resolvers: resolvers, table: table, auth: auth}
	for _, t := range sch.ObjectTypes() {
		for _, f := range t.Fields {
			if r.lookup(t.Name, f.Name) != nil || len(table.Policies(t.Name, f.Name)) > 0 {
				f.SetAsync(true)
			}
		}
	}
	return r
}

// lookup finds the resolvers of a field. Root types are looked up under
// their canonical bucket so custom root type names still match.
func (r *Runtime) lookup(typeName, fieldName string) *FieldConfig {
	if root := r.schema.RootTypeName(typeName); root != "" {
		if cfg := r.resolvers.Field(root, fieldName); cfg != nil {
			return cfg
		}
	}
	return r.resolvers.Field(typeName, fieldName)
}

func (r *Runtime) resolve(ctx context.Context, typeName, fieldName string, source any, args map[string]any, info *executor.ResolveInfo) (any, error) {
	if policies := r.table.Policies(typeName, fieldName); len(policies) > 0 {
		rc := appsync.RequestContextFrom(ctx)
		if err := r.auth.Authorize(ctx, rc, directives.FieldKey{Type: typeName, Field: fieldName}, policies); err != nil {
			return nil, err
		}
	}
	if cfg := r.lookup(typeName, fieldName); cfg != nil && cfg.Resolve != nil {
		return cfg.Resolve(ctx, ResolveParams{Source: source, Args: args, Info: info})
	}
	return DefaultResolve(source, fieldName), nil
}

// ResolveSync implements executor.Runtime.
func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	return r.resolve(ctx, objectType, field, source, args, nil)
}

// BatchResolveAsync implements executor.Runtime. Root mutation fields run one
// after another in document order; all other tasks run concurrently.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	run := func(i int) {
		t := tasks[i]
		v, err := r.resolve(ctx, t.ObjectType, t.Field, t.Source, t.Args, t.Info)
		results[i] = executor.AsyncResolveResult{Value: v, Error: err}
	}

	var concurrent []int
	for i, t := range tasks {
		if r.schema.RootTypeName(t.ObjectType) == "Mutation" {
			run(i)
			continue
		}
		concurrent = append(concurrent, i)
	}

	var g errgroup.Group
	if r.MaxConcurrency > 0 {
		g.SetLimit(r.MaxConcurrency)
	}
	for _, i := range concurrent {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Subscribe implements executor.SubscriptionRuntime. The subscription field's
// policies are checked once, when the stream is opened.
func (r *Runtime) Subscribe(ctx context.Context, task executor.AsyncResolveTask) (<-chan any, error) {
	if policies := r.table.Policies(task.ObjectType, task.Field); len(policies) > 0 {
		rc := appsync.RequestContextFrom(ctx)
		if err := r.auth.Authorize(ctx, rc, directives.FieldKey{Type: task.ObjectType, Field: task.Field}, policies); err != nil {
			return nil, err
		}
	}
	cfg := r.lookup(task.ObjectType, task.Field)
	if cfg == nil || cfg.Subscribe == nil {
		return nil, errors.Errorf("no subscription source for %s.%s", task.ObjectType, task.Field)
	}
	return cfg.Subscribe(ctx, task.Args)
}

// ResolveType implements executor.Runtime using the "__typename" key of map
// values or TypeNamer. An abstract type with a single possible type needs
// neither.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	switch v := value.(type) {
	case TypeNamer:
		return v.GraphQLTypeName(), nil
	case map[string]any:
		if name, ok := v["__typename"].(string); ok && name != "" {
			return name, nil
		}
	}
	if name, ok := DefaultResolve(value, "__typename").(string); ok && name != "" {
		return name, nil
	}
	if t := r.schema.Types[abstractType]; t != nil && len(t.PossibleTypes) == 1 {
		return t.PossibleTypes[0], nil
	}
	return "", errors.Errorf("cannot resolve the concrete type of %s from %T; return a __typename", abstractType, value)
}

// SerializeLeafValue implements executor.Runtime.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	return SerializeLeaf(r.schema, scalarOrEnumTypeName, value)
}
