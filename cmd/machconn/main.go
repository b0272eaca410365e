package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/machconn/pkg/connector/bindings"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"github.com/ajitpratap0/machconn/pkg/logger"
	"github.com/ajitpratap0/machconn/pkg/observability"
)

var version = "0.1.0"

// Setting keys shared by flags and MACHCONN_* environment variables
const (
	keyConfig      = "config"
	keyLogLevel    = "log-level"
	keyMetricsAddr = "metrics-addr"
	keyTrace       = "trace"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	r := registry.NewRegistry(nil)
	if err := bindings.RegisterAll(r); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand(r, viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command needs
type app struct {
	reg    *registry.Registry
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCommand(reg *registry.Registry, v *viper.Viper) *cobra.Command {
	a := &app{reg: reg, v: v, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "machconn",
		Short: "machconn - machine connector framework",
		Long: `machconn connects to machines, controllers, historians and digital twins
through one connector model. Connectors are described in a YAML service file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP(keyConfig, "c", "machconn.yaml", "Path to the service descriptor")
	flags.String(keyLogLevel, "info", "Log level (debug, info, warn, error)")
	flags.String(keyMetricsAddr, "", "Serve Prometheus metrics on this address (e.g. :9464)")
	flags.Bool(keyTrace, false, "Export trace spans to stderr")
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("MACHCONN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "machconn v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(a.listCommand(), a.readCommand(), a.replayCommand(), a.writeCommand(), a.getCommand())
	return root
}

func (a *app) init() error {
	if err := logger.Init(logger.Config{
		Level:       a.v.GetString(keyLogLevel),
		Encoding:    "console",
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	a.logger = logger.Get()
	return nil
}

func (a *app) listCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available connector types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTypes(cmd.OutOrStdout(), a.reg.Types(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the connector descriptions as JSON")
	return cmd
}

func printTypes(out io.Writer, infos []registry.ConnectorInfo, asJSON bool) error {
	if asJSON {
		data, err := jsonpool.MarshalIndent(infos, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCAPABILITIES\tSETTINGS\tDESCRIPTION")
	for _, info := range infos {
		settings := make([]string, 0, len(info.RequiredSettings)+len(info.OptionalSettings))
		for _, s := range info.RequiredSettings {
			settings = append(settings, s+"*")
		}
		settings = append(settings, info.OptionalSettings...)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			info.Type,
			strings.Join(info.Capabilities.Flags(), ","),
			strings.Join(settings, ","),
			info.Description)
	}
	return tw.Flush()
}

// withServices runs fn with tracing and the metrics endpoint set up as
// configured
func (a *app) withServices(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.v.GetBool(keyTrace) {
		cfg := observability.DefaultConfig()
		cfg.ServiceVersion = version
		cfg.SamplingRate = 1
		cfg.Writer = os.Stderr
		if err := observability.Initialize(ctx, cfg); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(shutdownCtx)
		}()
	}

	if addr := a.v.GetString(keyMetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		a.logger.Info("serving metrics", zap.String("addr", addr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return fn(ctx)
}
