package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/eventface/internal/models"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Create, delete and inspect events",
}

var eventCreateCmd = &cobra.Command{
	Use:   "create <code>",
	Short: "Create an event (no-op if it exists)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := args[0]
		if !models.ValidEventCode(code) {
			return fmt.Errorf("invalid event code %q", code)
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		ev, err := store.CreateEvent(ctx, code)
		if err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		fmt.Printf("event %s (revision %d, created %s)\n", ev.Code, ev.Revision, ev.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var eventDeleteCmd = &cobra.Command{
	Use:   "delete <code>",
	Short: "Delete an event with all its photos, descriptors and originals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := args[0]
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteEvent(ctx, code); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}

		objects, err := openObjects()
		if err != nil {
			return err
		}
		if objects != nil {
			if err := objects.DeleteEvent(ctx, code); err != nil {
				fmt.Fprintf(os.Stderr, "warning: remove originals: %v\n", err)
			}
		}
		fmt.Printf("event %s deleted\n", code)
		return nil
	},
}

var eventStatsCmd = &cobra.Command{
	Use:   "stats <code>",
	Short: "Show photo and face counts of an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx, args[0])
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Printf("Event:  %s\nPhotos: %d\nFaces:  %d\n\n", stats.EventCode, stats.TotalPhotos, stats.TotalFaces)
		statuses := make([]string, 0, len(stats.ByStatus))
		for s := range stats.ByStatus {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tPHOTOS")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%d\n", s, stats.ByStatus[models.PhotoStatus(s)])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventCreateCmd, eventDeleteCmd, eventStatsCmd)
	eventStatsCmd.Flags().Bool("json", false, "Output as JSON")
}
