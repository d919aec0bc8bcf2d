package cmd

import (
	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored reports over HTTP",
	Long: `Start a read-only JSON API over the report store.

Endpoints include run summaries, kernel classes, classified classes,
reachable methods, call edges and a call-graph view rooted at a kernel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		srv, err := server.New(server.Config{
			Port:     servePort,
			StoreDir: cfg.Store.Dir,
			StoreDSN: cfg.Store.DSN,
		})
		if err != nil {
			return err
		}
		return srv.Start(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to listen on")
}
