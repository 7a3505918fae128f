package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/cli/ui"
	"github.com/conduit-lang/weave/internal/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPathFlag string
	noColorFlag    bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Declarative object-to-store mapping engine",
		Long: color.CyanString(`Weave - resource graphs over pluggable stores

Weave resolves typed resources, their computed attributes and their
multi-hop relationships against memory, SQL, Redis or DynamoDB stores,
and dumps the resolved graphs as nested or side-loaded records.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Path to a config file (default: ./weave.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewCheckCommand())
	rootCmd.AddCommand(NewPredicateCommand())
	rootCmd.AddCommand(NewDemoCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the weave version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			table := ui.NewTable(cmd.OutOrStdout(), noColorFlag, "Component", "Version")
			table.AddRow("weave", Version)
			table.AddRow("git commit", GitCommit)
			table.AddRow("build date", BuildDate)
			table.AddRow("go", goVer)
			table.Render()
		},
	}
}

// loadConfig reads --config, or weave.yaml in the working directory
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPathFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the configured logger; commands log to stderr
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		ui.Message{Level: ui.LevelError, Text: "Error", Detail: err.Error(), NoColor: noColorFlag}.
			Write(rootCmd.ErrOrStderr())
		return err
	}
	return nil
}
