package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/retrieval"
	"ragcore/internal/system"
	"ragcore/internal/types"
	"ragcore/internal/usage"
	"ragcore/internal/watcher"
)

var (
	ingestMetadata string
	ingestText     string
	ingestParallel int

	searchLimit   int
	searchFilters []string

	statsJSON bool
)

// ingestCmd adds documents to the knowledge base
var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest files or text into the knowledge base",
	Long: `Splits each document into line chunks, embeds them and appends them to the
knowledge base. Files are tagged "file:<name>" unless --metadata is given.

Examples:
  ragcore ingest notes.md manual.html
  ragcore ingest --text "The office closes at six on Fridays." --metadata "session:abc"`,
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <metadata>",
	Short: "Delete every chunk tagged with the given metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runStats,
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && ingestText == "" {
		return fmt.Errorf("nothing to ingest: pass files or --text")
	}

	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	report := func(name, result string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s: %s\n", name, result)
	}

	if ingestText != "" {
		result, err := sys.Orchestrator.IngestContent(ctx, ingestText, ingestMetadata)
		if err != nil {
			return knowledgeErr(err)
		}
		report("text", result)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ingestParallel, 1))
	for _, path := range args {
		g.Go(func() error {
			content, err := watcher.LoadDocument(path)
			if err != nil {
				return err
			}
			metadata := ingestMetadata
			if metadata == "" {
				metadata = watcher.MetadataFor(path)
			}
			result, err := sys.Orchestrator.IngestContent(gctx, content, metadata)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			logger.Debug("Ingested file", zap.String("path", path), zap.String("metadata", metadata))
			report(filepath.Base(path), result)
			return nil
		})
	}
	return knowledgeErr(g.Wait())
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	results, err := sys.Retrieval.Search(ctx, joinArgs(args), searchFilters, searchLimit)
	if err != nil {
		return knowledgeErr(err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching chunks.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s\n", i+1, r)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	n, err := sys.Retrieval.Delete(ctx, args[0])
	if err != nil {
		return knowledgeErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks\n", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	stats, err := sys.Retrieval.Stats(ctx)
	if err != nil {
		return err
	}

	var tokenUsage *usage.Aggregate
	if sys.Usage != nil {
		agg := sys.Usage.Stats()
		tokenUsage = &agg
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Knowledge types.RetrievalStats `json:"knowledge"`
			Usage     *usage.Aggregate     `json:"usage,omitempty"`
		}{stats, tokenUsage})
	}

	fmt.Fprintln(out, "Knowledge Base")
	fmt.Fprintln(out, strings.Repeat("─", 40))
	fmt.Fprintf(out, "  Ready:        %t\n", stats.Ready)
	fmt.Fprintf(out, "  Model:        %s\n", stats.Model)
	fmt.Fprintf(out, "  Table exists: %t\n", stats.TableExists)
	fmt.Fprintf(out, "  Chunks:       %d\n", stats.Chunks)
	fmt.Fprintf(out, "  Query cache:  %d entries (%d hits, %d misses)\n", stats.CacheSize, stats.CacheHits, stats.CacheMisses)
	if tokenUsage != nil {
		fmt.Fprintln(out, "Token Usage")
		fmt.Fprintln(out, strings.Repeat("─", 40))
		fmt.Fprintf(out, "  Total:        %d (%d prompt, %d completion, %d requests)\n",
			tokenUsage.Total.Total, tokenUsage.Total.Prompt, tokenUsage.Total.Completion, tokenUsage.Total.Requests)
		fmt.Fprintf(out, "  Sessions:     %d\n", len(tokenUsage.BySession))
	}
	return nil
}

// knowledgeErr points at the setup when the knowledge base never started.
func knowledgeErr(err error) error {
	if retrieval.IsNotReady(err) {
		return fmt.Errorf("knowledge base not ready (check the embedding provider and retrieval settings): %w", err)
	}
	return err
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestMetadata, "metadata", "m", "", "Metadata tag for the ingested content")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "Ingest this text instead of (or in addition to) files")
	ingestCmd.Flags().IntVarP(&ingestParallel, "parallel", "p", 4, "Files read and submitted concurrently")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum results")
	searchCmd.Flags().StringSliceVarP(&searchFilters, "filter", "f", nil, "Metadata filter (repeatable; any match qualifies)")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print stats as JSON")
}
