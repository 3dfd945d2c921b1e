// Package devserver assembles the AppSync emulator from a schema directory
// and a handler registry, and serves it over HTTP and WebSocket.
package devserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hanpama/appsynclocal/appsync"
	cognito "github.com/hanpama/appsynclocal/internal/cognito"
	config "github.com/hanpama/appsynclocal/internal/config"
	directives "github.com/hanpama/appsynclocal/internal/directives"
	executor "github.com/hanpama/appsynclocal/internal/executor"
	introspection "github.com/hanpama/appsynclocal/internal/introspection"
	pubsub "github.com/hanpama/appsynclocal/internal/pubsub"
	resolvers "github.com/hanpama/appsynclocal/internal/resolvers"
	schema "github.com/hanpama/appsynclocal/internal/schema"
	server "github.com/hanpama/appsynclocal/internal/server"
)

// HealthPath answers GET with 200 once the server is assembled.
const HealthPath = "/health"

const shutdownTimeout = 5 * time.Second

// Options configures New.
type Options struct {
	// Config defaults to config.Load(nil).
	Config *config.Config
	// Registry maps handler paths, relative to the handler root, to handlers.
	Registry appsync.Registry
	// TypeDefs replaces the schema directory when non-empty.
	TypeDefs []string
	// Resolvers replace merged handlers field by field.
	Resolvers resolvers.ResolverMap
	// Verifier replaces the Cognito verifier built from Config.
	Verifier cognito.Verifier
	Logger   *zap.Logger
}

// Server is an assembled emulator.
type Server struct {
	Schema    *schema.Schema
	Table     *directives.Table
	PubSub    *pubsub.PubSub
	Resolvers resolvers.ResolverMap

	cfg     *config.Config
	log     *zap.Logger
	graphql *server.Handler
	router  *mux.Router
}

// New loads the schema, compiles its directives, merges the handlers and
// builds the HTTP handler.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(nil); err != nil {
			return nil, err
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	sch, err := LoadSchema(cfg.GraphQLDir, opts.TypeDefs)
	if err != nil {
		return nil, err
	}
	table, err := directives.Compile(sch)
	if err != nil {
		return nil, errors.Wrap(err, "compile directives")
	}
	kind, err := resolvers.ParseServerKind(cfg.ServerKind)
	if err != nil {
		return nil, err
	}

	ps := pubsub.New()
	rmap, err := resolvers.Merge(ctx, resolvers.MergeOptions{
		Schema:     sch,
		Root:       cfg.LambdaDir,
		Pattern:    cfg.ResolverFilePattern,
		Registry:   opts.Registry,
		Kind:       kind,
		PubSub:     ps,
		Directives: table,
		Logger:     log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "load handlers")
	}
	for typeName, fields := range opts.Resolvers {
		if rmap[typeName] == nil {
			rmap[typeName] = map[string]*resolvers.FieldConfig{}
		}
		for fieldName, fc := range fields {
			rmap[typeName][fieldName] = fc
		}
	}

	verifier := opts.Verifier
	if verifier == nil && cfg.CognitoEnabled() {
		v, err := cognito.NewVerifier(cognito.Config{
			UserPoolID: cfg.UserPoolID,
			ClientID:   cfg.UserPoolClientID,
			Region:     cfg.CognitoRegion,
			Issuer:     cfg.CognitoIssuer,
			JWKSURL:    cfg.CognitoJWKSURL,
			TokenUse:   cognito.TokenUseAccess,
		})
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	if guarded := cognitoFields(table); verifier == nil && len(guarded) > 0 {
		log.Warn("no user pool configured; fields guarded by @aws_cognito_user_pools will reject every request",
			zap.Stringers("fields", guarded))
	}

	var rt executor.Runtime = resolvers.NewRuntime(sch, rmap, table, directives.Evaluator{Verifier: verifier, Logger: log})
	served := sch
	if cfg.Introspection {
		w, err := introspection.Wrap(rt, sch)
		if err != nil {
			return nil, err
		}
		rt, served = w.Runtime, w.Schema
	}

	sopts := []server.Option{server.WithTimeout(cfg.Timeout), server.WithLogger(log)}
	if cfg.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.CORS {
		sopts = append(sopts, server.WithCORS("*"))
	}
	gql, err := server.New(rt, served, sopts...)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle(cfg.Path, gql)
	router.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &Server{
		Schema:    sch,
		Table:     table,
		PubSub:    ps,
		Resolvers: rmap,
		cfg:       cfg,
		log:       log,
		graphql:   gql,
		router:    router,
	}, nil
}

// LoadSchema builds the schema from typeDefs, or from every .graphql file
// under dir when typeDefs is empty. The AppSync prelude is always included.
func LoadSchema(dir string, typeDefs []string) (*schema.Schema, error) {
	if len(typeDefs) > 0 {
		return schema.BuildFromSDL(typeDefs...)
	}
	sources, err := schema.LoadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "load schema from %s", dir)
	}
	if len(sources) == 0 {
		return nil, errors.Errorf("no %s files under %s", schema.SchemaFileExt, dir)
	}
	return schema.BuildFromSources(sources...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Addr is the configured listen address.
func (s *Server) Addr() string { return fmt.Sprintf(":%d", s.cfg.Port) }

// ListenAndServe listens on the configured port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests and
// closes WebSocket connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.graphql.Shutdown)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("server ready", zap.String("url", "http://"+displayAddr(ln.Addr())+s.cfg.Path))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func displayAddr(a net.Addr) string {
	if tcp, ok := a.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		return fmt.Sprintf("localhost:%d", tcp.Port)
	}
	return a.String()
}

// cognitoFields lists the fields carrying at least one Cognito user pool
// policy, sorted.
func cognitoFields(table *directives.Table) []directives.FieldKey {
	var out []directives.FieldKey
	for _, key := range table.Protected() {
		for _, p := range table.Policies(key.Type, key.Field) {
			if p.Kind == directives.KindCognitoUserPools {
				out = append(out, key)
				break
			}
		}
	}
	return out
}
