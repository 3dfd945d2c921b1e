package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MockResolver resolves one field occurrence for MockRuntime.
type MockResolver func(ctx context.Context, source any, args map[string]any) (any, error)

// MockStream opens a source stream for a subscription root field.
type MockStream func(ctx context.Context, args map[string]any) (<-chan any, error)

func NewMockValueResolver(val any) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func NewMockErrorResolver(err error) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one resolver invocation.
type Call struct {
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	Async      bool
}

// MockRuntime is a SubscriptionRuntime backed by resolvers keyed
// "Type.field". Fields without a resolver resolve to nil. Abstract types are
// resolved from a "__typename" map entry and leaves are passed through.
type MockRuntime struct {
	mu        sync.Mutex
	resolvers map[string]MockResolver
	streams   map[string]MockStream
	calls     []Call
	tasks     []AsyncResolveTask
}

func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{
		resolvers: make(map[string]MockResolver, len(resolvers)),
		streams:   make(map[string]MockStream),
	}
	for k, r := range resolvers {
		m.resolvers[k] = r
	}
	return m
}

func (m *MockRuntime) SetResolver(objectType, field string, r MockResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[objectType+"."+field] = r
}

func (m *MockRuntime) SetStream(objectType, field string, s MockStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[objectType+"."+field] = s
}

func (m *MockRuntime) call(ctx context.Context, c Call) (any, error) {
	m.mu.Lock()
	r := m.resolvers[c.ObjectType+"."+c.Field]
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	return r(ctx, c.Source, c.Args)
}

func (m *MockRuntime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	return m.call(ctx, Call{ObjectType: objectType, Field: field, Source: source, Args: args})
}

// BatchResolveAsync runs the tasks grouped by "Type.field", groups in order
// of first appearance, and returns results in task order.
func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	m.mu.Lock()
	m.tasks = append(m.tasks, tasks...)
	m.mu.Unlock()

	var order []string
	groups := make(map[string][]int)
	for i, t := range tasks {
		key := t.ObjectType + "." + t.Field
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]AsyncResolveResult, len(tasks))
	for _, key := range order {
		for _, i := range groups[key] {
			t := tasks[i]
			v, err := m.call(ctx, Call{ObjectType: t.ObjectType, Field: t.Field, Source: t.Source, Args: t.Args, Async: true})
			results[i] = AsyncResolveResult{Value: v, Error: err}
		}
	}
	return results
}

func (m *MockRuntime) Subscribe(ctx context.Context, task AsyncResolveTask) (<-chan any, error) {
	m.mu.Lock()
	stream := m.streams[task.ObjectType+"."+task.Field]
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	if stream == nil {
		return nil, errors.Errorf("no stream for %s.%s", task.ObjectType, task.Field)
	}
	return stream(ctx, task.Args)
}

func (m *MockRuntime) ResolveType(_ context.Context, abstractType string, value any) (string, error) {
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", errors.Errorf("cannot resolve concrete type of %s", abstractType)
}

func (m *MockRuntime) SerializeLeafValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

// GetCalls returns the recorded resolver calls in order.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// GetTasks returns the async and subscription tasks received so far.
func (m *MockRuntime) GetTasks() []AsyncResolveTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AsyncResolveTask(nil), m.tasks...)
}

func splitKey(key string) (objectType, field string) {
	objectType, field, _ = strings.Cut(key, ".")
	return objectType, field
}
