package commands

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/weave/internal/cli/ui"
	"github.com/conduit-lang/weave/internal/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the weave configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and WEAVE_*
environment overrides have been applied. Credentials in store.url are redacted.`,
		Example: `  weave config show
  WEAVE_STORE_BACKEND=sqlite WEAVE_STORE_URL=file:weave.db weave config show`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			table := ui.NewTable(cmd.OutOrStdout(), noColorFlag, "Key", "Value")
			for _, row := range settings(cfg) {
				table.AddRow(row[0], row[1])
			}
			table.Render()
			return nil
		},
	})
	return cmd
}

func settings(cfg *config.Config) [][2]string {
	return [][2]string{
		{"store.backend", cfg.Store.Backend},
		{"store.url", redact(cfg.Store.URL)},
		{"store.prefix", cfg.Store.Prefix},
		{"store.table_prefix", cfg.Store.TablePrefix},
		{"store.region", cfg.Store.Region},
		{"engine.dump_depth", strconv.Itoa(cfg.Engine.DumpDepth)},
		{"engine.dump_style", cfg.Engine.DumpStyle},
		{"engine.simulate", strconv.FormatBool(cfg.Engine.Simulate)},
		{"engine.backfill", cfg.Engine.Backfill},
		{"log.level", cfg.Log.Level},
		{"log.development", strconv.FormatBool(cfg.Log.Development)},
	}
}

// redact hides the password of a URL-shaped DSN
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
