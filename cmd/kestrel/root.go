package main

import (
	"runtime"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the resolved configuration to subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *domain.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "kestrel",
		Short:         "Worst-cell KPI synthesis for radio networks.",
		Long:          `Kestrel extracts KPI rows from operator workbooks, counts worst-cell alarms per rule and serves the results over HTTP.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogger(cfg.Logging)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to a YAML config file")
	root.PersistentFlags().String("tier", string(domain.TierCommunity), "Deployment tier: community or pro")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	_ = a.v.BindPFlag("tier", root.PersistentFlags().Lookup("tier"))
	_ = a.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(a),
		newRulesCmd(a),
		newEvaluateCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kestrel.",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("kestrel\n")
			cmd.Printf("  Version: %s\n", Version)
			cmd.Printf("  Commit:  %s\n", Commit)
			cmd.Printf("  Built:   %s\n", BuildDate)
			cmd.Printf("  Runtime: %s\n", runtime.Version())
		},
	}
}
