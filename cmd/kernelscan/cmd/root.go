package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/config"
	"github.com/abramin/kernelscan/internal/store"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kernelscan",
	Short: "kernelscan - find GPU kernels and everything they reach in JVM bytecode",
	Long: `kernelscan analyzes compiled Java applications and finds the kernel
classes a GPU code generator must translate.

Classes are loaded lazily and only as deeply as needed: hierarchy for
most of the class path, signatures for application classes, and method
bodies only for code reachable from a kernel entry method.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kernelscan.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every class and method as it is processed")
}

func GetConfig() *config.Config {
	return cfg
}

// openStore opens the configured report store.
func openStore() (*store.Store, error) {
	st, err := store.OpenDSN(cfg.Store.Dir, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// loadReport loads the run named by args, or the latest run.
func loadReport(st *store.Store, args []string) (*store.Report, error) {
	var (
		run *store.Run
		err error
	)
	if len(args) > 0 && args[0] != "latest" {
		run, err = st.GetRun(store.RunID(args[0]))
	} else {
		run, err = st.LatestRun()
	}
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, fmt.Errorf("%w (run `kernelscan analyze` first)", err)
	}
	if err != nil {
		return nil, err
	}
	return st.Report(run.ID)
}
