package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"librarian/internal/adapter/chunker"
	"librarian/internal/adapter/fs"
	"librarian/internal/usecase"
)

var forceIngest bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a document or directory into the library",
	Long: `Ingest indexes extracted document text for retrieval. A file path
ingests one document under its relative path; a directory ingests every
matching file. Already-ingested documents are skipped unless --force is
given, which replaces their fragment set atomically.

Examples:
  librarian ingest paper.txt         # Ingest one document
  librarian ingest ./library         # Ingest every matching file
  librarian ingest --force paper.txt # Re-ingest, replacing old fragments`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&forceIngest, "force", "f", false, "re-ingest documents that are already indexed")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := rootDir
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	embedder, err := newEmbedder()
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	st, err := openStore(embedder)
	if err != nil {
		return err
	}
	defer st.Close()

	chk, err := chunker.NewTextChunker(cfg.Chunker.ChunkTokens, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("invalid chunker config: %w", err)
	}

	coordinator := usecase.NewCoordinator(st, chk, embedder)

	if !info.IsDir() {
		return ingestFile(cmd.Context(), coordinator, path)
	}
	return ingestDir(cmd.Context(), coordinator, path)
}

func ingestFile(ctx context.Context, coordinator *usecase.Coordinator, path string) error {
	text, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	docID, err := filepath.Rel(rootDir, path)
	if err != nil || strings.HasPrefix(docID, "..") {
		docID = filepath.Base(path)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	res, err := coordinator.Ingest(ctx, docID, title, text, forceIngest)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if res.Skipped {
		fmt.Printf("Skipped %s (already ingested, use --force to replace)\n", docID)
		return nil
	}
	fmt.Printf("Ingested %s: %d fragments\n", docID, res.Fragments)
	return nil
}

func ingestDir(ctx context.Context, coordinator *usecase.Coordinator, path string) error {
	walker := fs.NewWalker(cfg.Library.Includes, cfg.Library.Excludes)

	fmt.Printf("Scanning %s...\n", path)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var initialized bool

	progress := func(done, total int, currentFile string) {
		barMu.Lock()
		defer barMu.Unlock()

		if !initialized {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
			initialized = true
		}

		bar.Set(done)
	}

	result, err := coordinator.IngestDir(ctx, walker, path, forceIngest, progress)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Documents ingested: %d\n", result.Ingested)
	fmt.Printf("  Documents skipped:  %d (already ingested)\n", result.Skipped)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return nil
}
