package resolvers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/appsynclocal/appsync"
	directives "github.com/hanpama/appsynclocal/internal/directives"
	pubsub "github.com/hanpama/appsynclocal/internal/pubsub"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// ServerKind selects how subscription source streams are built from the
// pub/sub. Both kinds deliver the same payloads.
type ServerKind string

const (
	// ServerApollo reads each topic through a channel iterator.
	ServerApollo ServerKind = "apollo"
	// ServerYoga registers a callback per topic.
	ServerYoga ServerKind = "yoga"
)

// ParseServerKind accepts "apollo" or "yoga", case-insensitively.
func ParseServerKind(s string) (ServerKind, error) {
	switch k := ServerKind(strings.ToLower(s)); k {
	case ServerApollo, ServerYoga:
		return k, nil
	case "":
		return ServerApollo, nil
	}
	return "", errors.Errorf("unknown server kind %q", s)
}

// SubscribeFunc opens the source stream of a subscription field.
type SubscribeFunc func(ctx context.Context, args map[string]any) (<-chan any, error)

// FieldConfig holds the resolvers of one field.
type FieldConfig struct {
	Resolve   FieldResolver
	Subscribe SubscribeFunc
}

// ResolverMap maps a type name and a field name to the field's resolvers.
// Root fields are keyed under "Query", "Mutation" and "Subscription".
type ResolverMap map[string]map[string]*FieldConfig

// Field returns the config of typeName.fieldName, or nil.
func (m ResolverMap) Field(typeName, fieldName string) *FieldConfig {
	return m[typeName][fieldName]
}

// DuplicateHandlerError is returned when two handler files resolve the same
// field.
type DuplicateHandlerError struct {
	Type  string
	Field string
	Paths []string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("duplicate handlers for %s.%s: %s", e.Type, e.Field, strings.Join(e.Paths, ", "))
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// Schema declares the subscription fields and is used to reject handlers
	// for undeclared fields.
	Schema *schema.Schema
	// Root is the handler directory. When empty, Registry keys are used as
	// the file list.
	Root     string
	Pattern  string
	Registry appsync.Registry
	Kind     ServerKind
	// PubSub backs subscriptions and mutation publishing. Nil disables both.
	PubSub *pubsub.PubSub
	// Directives supplies the SubscribeSet and subscription topics.
	Directives *directives.Table
	Logger     *zap.Logger
}

type loaded struct {
	file    HandlerFile
	resolve FieldResolver
}

// Merge discovers and adapts every handler and assembles the ResolverMap.
// Any loader error aborts the merge.
func Merge(ctx context.Context, opts MergeOptions) (ResolverMap, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	files, err := Discover(opts.Root, opts.Pattern, opts.Registry)
	if err != nil {
		return nil, err
	}

	bridge := Bridge{Subscribed: opts.Directives.Subscribed()}
	if opts.PubSub != nil {
		bridge.Publisher = opts.PubSub
	}

	queries := map[string]*FieldConfig{}
	mutations := map[string]*FieldConfig{}
	subscriptions := map[string]*FieldConfig{}
	types := map[string]map[string]*FieldConfig{}

	if opts.Schema != nil {
		if sub := opts.Schema.GetSubscriptionType(); sub != nil {
			for _, f := range sub.Fields {
				subscriptions[f.Name] = &FieldConfig{
					Subscribe: subscribeTopics(opts.PubSub, opts.Kind, opts.Directives.Topics(f.Name)),
					Resolve:   identity,
				}
			}
		}
	}

	results := make([]loaded, len(files))
	g, _ := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			h := opts.Registry[f.Path]
			if h == nil {
				return errors.Errorf("%s: handler is nil", f.Path)
			}
			typeName, fieldName := f.Field()
			if err := checkDeclared(opts.Schema, f.Type, typeName, fieldName); err != nil {
				return errors.Wrap(err, f.Path)
			}
			results[i] = loaded{file: f, resolve: Adapt(h, typeName, fieldName, bridge)}
			log.Info("initialized api", zap.String("type", string(f.Type)), zap.String("definition", f.Definition))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[[2]string][]string{}
	for _, l := range results {
		typeName, fieldName := l.file.Field()
		key := [2]string{typeName, fieldName}
		seen[key] = append(seen[key], l.file.Path)

		switch l.file.Type {
		case Query:
			queries[fieldName] = &FieldConfig{Resolve: l.resolve}
		case Mutation:
			mutations[fieldName] = &FieldConfig{Resolve: l.resolve}
		case Subscription:
			cfg := subscriptions[fieldName]
			if cfg == nil {
				cfg = &FieldConfig{}
				subscriptions[fieldName] = cfg
			}
			cfg.Resolve = l.resolve
		case Type:
			if types[typeName] == nil {
				types[typeName] = map[string]*FieldConfig{}
			}
			types[typeName][fieldName] = &FieldConfig{Resolve: l.resolve}
		}
	}
	if err := duplicates(seen); err != nil {
		return nil, err
	}

	out := ResolverMap{}
	if len(queries) > 0 {
		out[string(Query)] = queries
	}
	if len(mutations) > 0 {
		out[string(Mutation)] = mutations
	}
	if len(subscriptions) > 0 {
		out[string(Subscription)] = subscriptions
	}
	for typeName, fields := range types {
		if out[typeName] == nil {
			out[typeName] = map[string]*FieldConfig{}
		}
		for name, cfg := range fields {
			out[typeName][name] = cfg
		}
	}
	return out, nil
}

func duplicates(seen map[[2]string][]string) error {
	keys := make([][2]string, 0, len(seen))
	for k, paths := range seen {
		if len(paths) > 1 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i][0]+"."+keys[i][1] < keys[j][0]+"."+keys[j][1]
	})
	k := keys[0]
	return &DuplicateHandlerError{Type: k[0], Field: k[1], Paths: seen[k]}
}

// checkDeclared rejects handlers for fields the schema does not declare.
func checkDeclared(sch *schema.Schema, kind ResolverTypeName, typeName, fieldName string) error {
	if sch == nil {
		return nil
	}
	var t *schema.Type
	switch kind {
	case Query:
		t = sch.GetQueryType()
	case Mutation:
		t = sch.GetMutationType()
	case Subscription:
		t = sch.GetSubscriptionType()
	default:
		t = sch.Types[typeName]
	}
	if t == nil {
		return errors.Errorf("type %s is not defined in the schema", typeName)
	}
	if t.Field(fieldName) == nil {
		return errors.Errorf("%s.%s is defined in resolvers, but not in the schema", typeName, fieldName)
	}
	return nil
}

func identity(ctx context.Context, p ResolveParams) (any, error) { return p.Source, nil }

// subscribeTopics builds the source stream of a subscription field that
// listens on topics.
func subscribeTopics(ps *pubsub.PubSub, kind ServerKind, topics []string) SubscribeFunc {
	return func(ctx context.Context, args map[string]any) (<-chan any, error) {
		if ps == nil {
			return nil, errors.New("subscriptions are not configured")
		}
		if kind == ServerYoga {
			return callbackStream(ctx, ps, topics), nil
		}
		return iteratorStream(ctx, ps, topics), nil
	}
}

func iteratorStream(ctx context.Context, ps *pubsub.PubSub, topics []string) <-chan any {
	if len(topics) == 1 {
		return ps.Subscribe(ctx, topics[0])
	}
	out := make(chan any)
	var wg sync.WaitGroup
	for _, topic := range topics {
		ch := ps.Subscribe(ctx, topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range ch {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// callbackStream registers one callback per topic. The callbacks only
// enqueue, so a subscriber that stops reading never blocks Publish.
func callbackStream(ctx context.Context, ps *pubsub.PubSub, topics []string) <-chan any {
	q := pubsub.NewQueue()
	cancels := make([]func(), 0, len(topics))
	for _, topic := range topics {
		cancels = append(cancels, ps.SubscribeFunc(topic, q.Push))
	}
	return q.Drain(ctx, pubsub.DefaultBuffer, cancels...)
}
