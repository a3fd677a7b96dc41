package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/eventface/internal/matching"
	"github.com/your-org/eventface/internal/pipeline"
)

var matchCmd = &cobra.Command{
	Use:   "match <event-code> <selfie>",
	Short: "Find the photos of an event that show the person in a selfie",
	Long: `Find the photos of an event that show the person in a selfie.

Examples:
  eventctl match wedding-2026 me.jpg
  eventctl match wedding-2026 me.jpg --threshold 0.5 --limit 20 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Float64("threshold", 0, "Maximum descriptor distance (default: matching.threshold)")
	matchCmd.Flags().Int("limit", 0, "Limit number of results (default: matching.max_results)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	code, selfiePath := args[0], args[1]

	selfie, err := os.ReadFile(selfiePath)
	if err != nil {
		return fmt.Errorf("read selfie: %w", err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor, closeExtractor, err := openExtractor()
	if err != nil {
		return fmt.Errorf("init face extractor: %w", err)
	}
	defer closeExtractor()

	matchCfg := matching.ConfigFrom(cfg.Matching)
	if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
		matchCfg.Threshold = threshold
	}
	engine := matching.NewEngine(store, matchCfg)
	querier := pipeline.NewQuerier(extractor, engine, ingestConfig())

	limit, _ := cmd.Flags().GetInt("limit")
	result, err := querier.Query(ctx, code, selfie, limit)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result) == 0 {
		fmt.Println("no matching photos")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPHOTO\tDISTANCE")
	for i, m := range result {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, m.PhotoID, m.Distance)
	}
	return w.Flush()
}
