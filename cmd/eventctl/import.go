package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/queue"
)

var importExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

var importCmd = &cobra.Command{
	Use:   "import <event-code> <dir>",
	Short: "Ingest every image file below a directory into an event",
	Long: `Ingest every image file below a directory into an event.

Photos are processed in-process with the configured extractor. Files that
were already ingested are reported as duplicates and cost nothing. Photos
that failed for a transient reason are retried.

Examples:
  eventctl import wedding-2026 ./photos
  eventctl import wedding-2026 ./photos --concurrency 8`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Int("concurrency", 0, "Photos processed in parallel (default: vision.worker_count)")
	importCmd.Flags().Bool("create", false, "Create the event if it does not exist")
}

type importOutcome struct {
	path    string
	outcome string
	faces   int
	err     error
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	code, dir := args[0], args[1]

	files, err := collectImages(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no image files found")
		return nil
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if create, _ := cmd.Flags().GetBool("create"); create {
		if _, err := store.CreateEvent(ctx, code); err != nil {
			return fmt.Errorf("create event: %w", err)
		}
	}

	extractor, closeExtractor, err := openExtractor()
	if err != nil {
		return fmt.Errorf("init face extractor: %w", err)
	}
	defer closeExtractor()

	var opts []pipeline.Option
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer producer.Close()
		opts = append(opts, pipeline.WithNotifier(producer))
	}
	ingestor := pipeline.NewIngestor(store, extractor, ingestConfig(), opts...)

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = max(cfg.Vision.WorkerCount, 1)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Ingesting photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	jobs := make(chan string)
	results := make(chan importOutcome, len(files))
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- importOne(cmd, ingestor, code, path)
				_ = bar.Add(1)
			}
		}()
	}

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	close(results)
	_ = bar.Finish()
	fmt.Println()

	counts := map[string]int{}
	var failures []importOutcome
	faces := 0
	for r := range results {
		counts[r.outcome]++
		faces += r.faces
		if r.err != nil {
			failures = append(failures, r)
		}
	}
	printImportSummary(counts, faces, failures)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func importOne(cmd *cobra.Command, ingestor *pipeline.Ingestor, code, path string) importOutcome {
	data, err := os.ReadFile(path)
	if err != nil {
		return importOutcome{path: path, outcome: "read_error", err: err}
	}

	res, err := ingestor.Ingest(cmd.Context(), code, data)
	switch {
	case res == nil && err != nil:
		return importOutcome{path: path, outcome: "error", err: err}
	case res.Duplicate:
		return importOutcome{path: path, outcome: "duplicate"}
	}

	out := importOutcome{path: path, outcome: string(res.Photo.Status), faces: res.Photo.FaceCount, err: err}
	if res.Photo.FailureReason != "" {
		out.outcome += "/" + string(res.Photo.FailureReason)
	}
	return out
}

func collectImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if importExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func printImportSummary(counts map[string]int, faces int, failures []importOutcome) {
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tPHOTOS")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%d\n", o, counts[o])
	}
	fmt.Fprintf(w, "faces stored\t%d\n", faces)
	_ = w.Flush()

	if len(failures) == 0 {
		return
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].path < failures[j].path })
	fmt.Println()
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "%s: %v\n", f.path, f.err)
	}
}
