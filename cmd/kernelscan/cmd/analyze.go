package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/runner"
)

var (
	analyzeBackend      string
	analyzeStagingDir   string
	analyzeClassPath    []string
	analyzeClassPathDir []string
	analyzeFresh        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [jar-or-dir...]",
	Short: "Find kernel classes and the code they reach",
	Long: `Analyze compiled application code and record which classes a GPU
code generator needs.

The analyze command:
- Copies every input jar or class directory into the staging directory
- Catalogs staged classes, applying the runtime/keep/ignore package rules
- Detects kernel classes by their marker interface and entry method
- Follows every call reachable from the kernels, loading bodies on demand
- Persists the run to .kernelscan/report.db and writes report.json

Arguments replace the inputs listed in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if len(args) > 0 {
			cfg.Inputs = args
		}
		if analyzeBackend != "" {
			cfg.Backend = analyzeBackend
		}
		if analyzeStagingDir != "" {
			cfg.StagingDir = analyzeStagingDir
		}
		if len(analyzeClassPath) > 0 {
			cfg.ClassPath = analyzeClassPath
		}
		if len(analyzeClassPathDir) > 0 {
			cfg.ClassPathDirs = analyzeClassPathDir
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := runner.New(cfg, runner.Options{Verbose: verbose, Fresh: analyzeFresh}).Run(ctx)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		res := result.Analysis
		fmt.Println()
		fmt.Printf("Analysis complete!\n")
		fmt.Printf("  Run:          %s\n", result.RunID)
		fmt.Printf("  Backend:      %s (%s)\n", result.Backend, result.Backend.Profile().KernelPath)
		fmt.Printf("  Kernels:      %d\n", len(res.KernelClasses))
		for _, k := range res.KernelClasses {
			fmt.Printf("    %s\n", k)
		}
		fmt.Printf("  Entry points: %d\n", res.Stats.EntryPoints)
		fmt.Printf("  Reachable:    %s methods in %s classes\n",
			humanize.Comma(int64(res.Stats.Scanned)), humanize.Comma(int64(res.Stats.BodiesClasses)))
		fmt.Printf("  Class loads:  %s reads, %s cache hits, %s parses\n",
			humanize.Comma(int64(result.ClassPath.Reads)),
			humanize.Comma(int64(result.ClassPath.CacheHits)),
			humanize.Comma(int64(result.ClassPath.Parses)))
		fmt.Printf("  Diagnostics:  %d\n", len(res.Diagnostics))
		fmt.Printf("  Duration:     %s\n", result.Duration.Round(time.Millisecond))
		if result.DBPath != "" {
			fmt.Printf("  Database:     %s\n", result.DBPath)
		}
		fmt.Printf("  Report:       %s\n", result.ReportPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeBackend, "backend", "b", "", "code generation backend (cuda or opencl)")
	analyzeCmd.Flags().StringVar(&analyzeStagingDir, "staging-dir", "", "directory inputs are copied into (default jar-contents)")
	analyzeCmd.Flags().StringSliceVar(&analyzeClassPath, "classpath", nil, "library jars or class directories, in lookup order")
	analyzeCmd.Flags().StringSliceVar(&analyzeClassPathDir, "classpath-dir", nil, "folders whose jars are added to the class path")
	analyzeCmd.Flags().BoolVar(&analyzeFresh, "fresh", false, "delete previously stored runs first")
}
