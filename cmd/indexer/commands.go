package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/evaluation"
	"github.com/product-agent/backend/internal/ingestion"
	"github.com/product-agent/backend/internal/vector"
)

var (
	indexAll  bool
	dropForce bool
)

var indexCmd = &cobra.Command{
	Use:   "index [model_id...]",
	Short: "Index manuals into per-model namespaces",
	Long: `Index the named models, or every model in the catalog with --all.

Examples:
  indexer index AT-WM-9KG-BLACK
  indexer index --all`,
	RunE: runIndex,
}

var dropCmd = &cobra.Command{
	Use:   "drop <model_id>",
	Short: "Delete one model's namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrop,
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <model_id>",
	Short: "Print the chunks a model would be indexed as",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunks,
}

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.json]",
	Short: "Measure retrieval quality and namespace isolation",
	Long: `Run a labelled query set against the index and report how often the
expected manual section is retrieved. Any chunk returned for a model other
than the one queried fails the run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded index runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	indexCmd.Flags().BoolVar(&indexAll, "all", false, "index every model in the catalog")
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "do not fail when the model is not in the catalog")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if !indexAll && len(args) == 0 {
		return fmt.Errorf("name at least one model_id or pass --all")
	}

	models, err := selectModels(cat, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx)
	if err != nil {
		return fmt.Errorf("set up indexing: %w", err)
	}
	defer p.Close()

	var failed []string
	for _, m := range models {
		n, err := p.indexer.IndexModel(ctx, m)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", m.ModelID, err)
			failed = append(failed, m.ModelID)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-32s %d chunks\n", m.ModelID, vector.Namespace(m.ModelID), n)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d models failed: %s", len(failed), len(models), strings.Join(failed, ", "))
	}
	return nil
}

// selectModels returns every catalog model when ids is empty.
func selectModels(c *catalog.Catalog, ids []string) ([]catalog.Model, error) {
	if len(ids) == 0 {
		var out []catalog.Model
		for _, match := range c.All() {
			out = append(out, match.Model)
		}
		return out, nil
	}

	out := make([]catalog.Model, 0, len(ids))
	for _, id := range ids {
		_, m, ok := c.GetModel(id)
		if !ok {
			return nil, fmt.Errorf("model %s not in catalog", id)
		}
		out = append(out, m)
	}
	return out, nil
}

func runDrop(cmd *cobra.Command, args []string) error {
	modelID := args[0]
	if _, _, ok := cat.GetModel(modelID); !ok && !dropForce {
		return fmt.Errorf("model %s not in catalog (use --force to drop anyway)", modelID)
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx)
	if err != nil {
		return fmt.Errorf("set up indexing: %w", err)
	}
	defer p.Close()

	if err := p.indexer.DropModel(ctx, modelID); err != nil {
		return fmt.Errorf("drop %s: %w", modelID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", vector.Namespace(modelID))
	return nil
}

func runChunks(cmd *cobra.Command, args []string) error {
	_, m, ok := cat.GetModel(args[0])
	if !ok {
		return fmt.Errorf("model %s not in catalog", args[0])
	}

	chunks, err := ingestion.NewChunker(cfg.Retrieval.MaxChunkSize).ChunkModel(m)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, ch := range chunks {
		fmt.Fprintf(out, "--- [%d] %s (%d chars)\n%s\n\n", i+1, ch.Section, len(ch.Text), ch.Text)
	}
	fmt.Fprintf(out, "%d chunks for namespace %s\n", len(chunks), vector.Namespace(m.ModelID))
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	client, err := openRuns()
	if err != nil {
		return err
	}
	defer client.Close()

	runs, err := client.IndexRuns(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tNAMESPACE\tCHUNKS\tINDEXED AT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ModelID, r.Namespace, r.Chunks, r.IndexedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runEval(cmd *cobra.Command, args []string) error {
	path := "./data/eval.json"
	if len(args) == 1 {
		path = args[0]
	}
	dataset, err := evaluation.LoadDataset(path)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx)
	if err != nil {
		return fmt.Errorf("set up evaluation: %w", err)
	}
	defer p.Close()

	report, err := evaluation.NewEvaluator(p.retriever).Run(ctx, dataset)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))

	if !report.Isolated() {
		return fmt.Errorf("namespace isolation violated")
	}
	return nil
}
