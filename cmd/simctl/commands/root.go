package commands

import (
	"fmt"

	"github.com/atlas-desktop/simulation-engine/internal/app"
	"github.com/atlas-desktop/simulation-engine/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configFile string

	v           = config.New()
	bindings    = map[*cobra.Command]map[string]string{}
	application *app.App
	logger      *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "simctl",
	Short: "Stochastic backtesting with Monte Carlo scenarios and bootstrap resampling",
	Long: `simctl runs a strategy across many simulated price paths and reports
confidence intervals, scenario breakdowns and robustness scores.

Configuration is read from simengine.yaml (or --config), SIMENGINE_*
environment variables and flags, in increasing order of precedence.

Examples:
  simctl montecarlo --data SPY=./data/SPY.json --simulations 500 --seed 42
  simctl bootstrap --data ./data/SPY.json --samples 1000 --block-size 20
  simctl serve --port 8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bind(cmd.Root(), cmd); err != nil {
			return err
		}

		cfg, err := config.Load(v, configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger = app.NewLogger(cfg.Log.Level)
		application = app.New(logger, cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./simengine.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data-dir", "./data", "directory of stored price series")

	bindFlags(rootCmd, map[string]string{
		"log-level": "log.level",
		"data-dir":  "data.data_dir",
	})
}

// bindFlags records which viper keys a command's flags override
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	bindings[cmd] = keys
}

// bind ties the flags of the running commands to their viper keys. Binding
// happens at run time so subcommands may share keys.
func bind(cmds ...*cobra.Command) error {
	for _, cmd := range cmds {
		for flag, key := range bindings[cmd] {
			f := cmd.Flags().Lookup(flag)
			if f == nil {
				f = cmd.PersistentFlags().Lookup(flag)
			}
			if f == nil {
				return fmt.Errorf("flag --%s of %s is not defined", flag, cmd.Name())
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
	}
	return nil
}
