package devserver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanpama/appsynclocal/appsync"
	codegen "github.com/hanpama/appsynclocal/internal/codegen"
	config "github.com/hanpama/appsynclocal/internal/config"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	logging "github.com/hanpama/appsynclocal/internal/logging"
	otel "github.com/hanpama/appsynclocal/internal/otel"
	resolvers "github.com/hanpama/appsynclocal/internal/resolvers"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// Version is set at build time with -ldflags "-X ...devserver.Version=...".
var Version = "dev"

// Main runs the command line with registry linked in and exits on error.
// A project's own binary calls it with its generated Registry.
func Main(registry appsync.Registry) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Command(registry).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// Command builds the root command: serve, compile-sdl, generate and version.
func Command(registry appsync.Registry) *cobra.Command {
	root := &cobra.Command{
		Use:           "appsynclocal",
		Short:         "Run AppSync Lambda resolvers against a local GraphQL server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCommand(registry),
		compileSDLCommand(),
		generateCommand(),
		versionCommand(),
	)
	return root
}

func serveCommand(registry appsync.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the schema with the linked handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, registry)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, registry appsync.Registry) error {
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	defer logging.Attach(bus, log)()

	shutdown, err := otel.Setup(ctx, cfg.OTelEndpoint, cfg.OTelService)
	if err != nil {
		return errors.Wrap(err, "otel setup")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()

	srv, err := New(ctx, Options{Config: cfg, Registry: registry, Logger: log})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func compileSDLCommand() *cobra.Command {
	var dir, out string
	cmd := &cobra.Command{
		Use:   "compile-sdl",
		Short: "Merge and validate the schema files, AppSync prelude included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sch, err := LoadSchema(dir, nil)
			if err != nil {
				return err
			}
			sdl := schema.Render(sch)
			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), sdl)
				return err
			}
			return errors.Wrapf(os.WriteFile(out, []byte(sdl), 0o644), "write %s", out)
		},
	}
	cmd.Flags().StringVar(&dir, "graphql-dir", "graphql", "directory of *.graphql schema files")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to a file instead of stdout")
	return cmd
}

func generateCommand() *cobra.Command {
	var opts codegen.Options
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the handler registry for a handler directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := codegen.Write(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Root, "lambda-dir", "lambdas", "handler root directory")
	cmd.Flags().StringVar(&opts.Pattern, "resolver-file-pattern", resolvers.DefaultPattern, "glob selecting handler files")
	cmd.Flags().StringVar(&opts.Package, "package", "", "package name of the generated file")
	cmd.Flags().StringVar(&opts.Output, "out", codegen.DefaultOutput, "file name written inside the handler root")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
