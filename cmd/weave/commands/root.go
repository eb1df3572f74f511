package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"weave/internal/config"
)

var (
	// Global flags
	configPath  string
	logLevel    string
	logFile     string
	rootPath    string
	libPath     string
	policy      string
	metricsAddr string
	trace       bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var logOut *os.File
	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "weave runs agent scripts",
		Long: `weave is an embedded scripting language for composing agent workflows.

Programs chain functions with pipes, fan out with parallel lists and wrap
calls with the @poet decorator for validation, retries and timeouts.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logOut = configureLogWriter(logFile)
			slog.SetDefault(slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
				Level: logLevelFromString(logLevel),
			})))
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logOut != nil && logOut != os.Stderr {
				logOut.Close()
			}
		},
	}
	rootCmd.SetVersionTemplate("weave version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (.yaml or .toml)")
	flags.StringVar(&logLevel, "log-level", "error", "log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "log file path (if not set, logs to stderr)")
	flags.StringVar(&rootPath, "root", config.DefaultRootPath, "directory imports resolve against")
	flags.StringVar(&libPath, "lib-path", "", "fallback directory for imports")
	flags.StringVar(&policy, "failure-policy", "", "parallel failure policy: fail_fast or partial")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&trace, "trace", false, "export trace spans")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newASTCommand())
	rootCmd.AddCommand(newReplCommand(version))
	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig layers the config file, the environment and explicit flags.
func loadConfig(cmd *cobra.Command, version string) (config.Configuration, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Runtime.RootPath = rootPath
	}
	if flags.Changed("lib-path") {
		cfg.Runtime.LibPath = libPath
	}
	if flags.Changed("failure-policy") {
		cfg.Runtime.FailurePolicy = policy
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
		cfg.Metrics.Enabled = metricsAddr != ""
	}
	if flags.Changed("trace") {
		cfg.Tracing.Enabled = trace
	}
	cfg.Version = version
	return cfg, cfg.Validate()
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "weave version 'v%s' %s %s\n", version, buildDate, commit)
		},
	}
}

func configureLogWriter(logFile string) *os.File {
	if logFile == "" {
		return os.Stderr
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory for '%s': %v; falling back to stderr\n", logFile, err)
		return os.Stderr
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file '%s': %v; falling back to stderr\n", logFile, err)
		return os.Stderr
	}
	return f
}

func logLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
