package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/graphdb"
)

var exportClean bool

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Load a run's call graph into Neo4j",
	Long: `Export a stored run to Neo4j as JavaClass and JavaMethod nodes joined
by DECLARES and CALLS relationships. Kernel classes get a Kernel label
and entry methods an EntryPoint label. Without a run ID the latest run
is exported.

Connection settings come from the neo4j section of the config or the
NEO4J_URI, NEO4J_USER and NEO4J_PASSWORD environment variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rep, err := loadReport(st, args)
		if err != nil {
			return err
		}

		loader, err := graphdb.NewLoader(ctx, graphdb.Options{
			URI:       cfg.Neo4j.URI,
			User:      cfg.Neo4j.User,
			Password:  cfg.Neo4j.Password,
			Database:  cfg.Neo4j.Database,
			BatchSize: cfg.Neo4j.BatchSize,
		}, log.Default())
		if err != nil {
			return err
		}
		defer loader.Close(ctx)

		if exportClean {
			if err := loader.CleanGraph(ctx); err != nil {
				return fmt.Errorf("cleaning graph: %w", err)
			}
		}
		if err := loader.CreateIndexes(ctx); err != nil {
			return fmt.Errorf("creating indexes: %w", err)
		}
		if err := loader.Export(ctx, rep); err != nil {
			return err
		}

		fmt.Printf("Exported run %s to %s (%d classes, %d methods, %d call sites)\n",
			rep.Run.ID, cfg.Neo4j.URI, len(rep.Classes), len(rep.Methods), len(rep.Edges))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&exportClean, "clean", false, "remove previously exported graphs first")
}
