package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"librarian/config"
	"librarian/internal/adapter/embedding"
	"librarian/internal/adapter/llm"
	"librarian/internal/adapter/store"
	"librarian/internal/port"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Librarian - Ingest research documents and query them with cited answers",
	Long: `Librarian indexes extracted document text into a local vector store and
answers natural-language questions grounded in the stored passages, with
the retrieved sources cited alongside each answer.

Example usage:
  librarian ingest paper.txt             # Ingest one document
  librarian ingest ./library             # Ingest a directory of documents
  librarian query -q "first-line therapy for hypertension?"
  librarian status                       # Show what is in the library`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./librarian.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "library root directory (default is current directory)")
}

// openStore opens the fragment store under the library root, bound to the
// embedding identity the store contents were produced under. The embedder
// supplies the authoritative dimension.
func openStore(embedder port.Embedder) (*store.BoltStore, error) {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create .librarian directory: %w", err)
	}
	identity := store.Identity{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: embedder.Dimension(),
	}
	st, err := store.Open(cfg.StorePath(rootDir), identity)
	if err != nil {
		return nil, fmt.Errorf("failed to open fragment store: %w", err)
	}
	return st, nil
}

func newEmbedder() (port.Embedder, error) {
	if cfg.Embedding.Provider == "mock" {
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	}
	return embedding.New(cfg.Embedding)
}

func newCompleter() (port.Completer, error) {
	if cfg.Completion.Provider == "mock" {
		return llm.NewMockCompleter("mock answer"), nil
	}
	return llm.New(cfg.Completion)
}
