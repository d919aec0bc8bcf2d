package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abramin/kernelscan/internal/artifact"
)

var publishURLExpiry time.Duration

var publishCmd = &cobra.Command{
	Use:   "publish [run-id]",
	Short: "Upload a run's report to S3-compatible storage",
	Long: `Publish report.json and kernels.txt for a stored run under
<bucket>/<run-id>/. Without a run ID the latest run is published.

Credentials come from the artifact section of the config or the
ARTIFACT_S3_* environment variables.`,
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

		pub, err := artifact.NewPublisher(artifact.Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.SSL(),
		})
		if err != nil {
			return err
		}

		keys, err := pub.PublishReport(ctx, rep)
		if err != nil {
			return fmt.Errorf("publishing run %s: %w", rep.Run.ID, err)
		}
		for _, key := range keys {
			fmt.Printf("Uploaded s3://%s/%s\n", pub.Bucket(), key)
		}

		stored, err := pub.List(ctx, string(rep.Run.ID))
		if err != nil {
			return fmt.Errorf("listing run objects: %w", err)
		}
		fmt.Printf("Run %s now has %d objects in %s\n", rep.Run.ID, len(stored), pub.Bucket())

		if publishURLExpiry > 0 {
			url, err := pub.URL(ctx, string(rep.Run.ID), artifact.ReportObject, publishURLExpiry)
			if err != nil {
				return fmt.Errorf("presigning report URL: %w", err)
			}
			fmt.Printf("Report URL: %s\n", url)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().DurationVar(&publishURLExpiry, "url", 0, "also print a presigned report URL valid for this long")
}
