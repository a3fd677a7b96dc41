package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/queue"
)

var photoCmd = &cobra.Command{
	Use:   "photo <event-code> <photo-id>",
	Short: "Show the status and detected faces of one photo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		photo, err := store.GetPhoto(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Photo:    %s\nStatus:   %s\n", photo.ID, photo.Status)
		if photo.FailureReason != "" {
			fmt.Printf("Reason:   %s\n", photo.FailureReason)
		}
		fmt.Printf("Uploaded: %s\n", photo.UploadedAt.Format(time.RFC3339))
		if photo.ProcessedAt != nil {
			fmt.Printf("Finished: %s\n", photo.ProcessedAt.Format(time.RFC3339))
		}

		faces, err := store.ListFaces(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if len(faces) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FACE\tBOX")
		for _, f := range faces {
			b := f.BBox
			fmt.Fprintf(w, "%d\t[%.0f, %.0f, %.0f, %.0f]\n", f.Index, b.X1, b.Y1, b.X2, b.Y2)
		}
		return w.Flush()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail photos that have been pending for too long",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var opts []pipeline.Option
		if cfg.NATS.URL != "" {
			producer, err := queue.NewProducer(cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer producer.Close()
			opts = append(opts, pipeline.WithNotifier(producer))
		}
		objects, err := openObjects()
		if err != nil {
			return err
		}
		if objects != nil {
			opts = append(opts, pipeline.WithObjects(objects))
		}

		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		if staleAfter <= 0 {
			staleAfter = cfg.Ingestion.StaleAfter
		}
		ingestor := pipeline.NewIngestor(store, nil, ingestConfig(), opts...)
		n, err := ingestor.SweepStale(ctx, time.Now().Add(-staleAfter))
		if err != nil {
			return err
		}
		fmt.Printf("%d stale photos failed\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(photoCmd, sweepCmd)
	sweepCmd.Flags().Duration("stale-after", 0, "Pending age after which a photo is failed (default: ingestion.stale_after)")
}
