package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var runsLimit int

var kernelsCmd = &cobra.Command{
	Use:   "kernels [run-id]",
	Short: "Print the kernel classes of a run",
	Long: `Print one kernel class per line, the list the code generator consumes.
Without a run ID the latest run is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rep, err := loadReport(st, args)
		if err != nil {
			return err
		}
		for _, k := range rep.Kernels {
			fmt.Println(k)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs stored yet.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-6s  %3d kernels  %6s methods  %s\n",
				r.ID, r.Backend, r.KernelCount, humanize.Comma(int64(r.MethodCount)),
				humanize.RelTime(r.StartedAt, time.Now(), "ago", "from now"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kernelsCmd)
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
}
