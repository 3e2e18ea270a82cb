package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"bmscore-go/services/config"
	"bmscore-go/store"
)

var versionInfo = "dev"

type globalFlags struct {
	configPath string
	profile    string
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "bmsd",
		Short: "bmsd - battery management core",
		Long: `bmsd runs the battery management core against an LTC6804 chain,
publishing cell telemetry and faults on the vehicle CAN bus.

The store subcommands inspect and edit the persisted battery parameters.`,
		Version: versionInfo,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "embedded configuration profile (bench, pack)")

	root.AddCommand(newRunCmd(g), newStoreCmd(g))
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersionInfo sets the string reported by --version.
func SetVersionInfo(v, c, d string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// load resolves the configuration: an explicit file wins over a profile,
// and with neither the defaults apply.
func (g *globalFlags) load() (*config.Config, error) {
	switch {
	case g.configPath != "":
		return config.Load(g.configPath)
	case g.profile != "":
		return config.Embedded(g.profile)
	}
	return config.Parse(nil)
}

// openStore opens the configured backend. The returned close func is never nil.
func openStore(cfg config.StoreConfig) (store.Store, func() error, error) {
	switch cfg.Backend {
	case "file":
		f, err := store.OpenFile(cfg.Path, cfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store %s: %w", cfg.Path, err)
		}
		return f, f.Close, nil
	case "memory":
		return store.NewMemory(cfg.Size), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
