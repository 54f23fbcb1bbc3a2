package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the library contents and embedding identity",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	embedder, err := newEmbedder()
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	st, err := openStore(embedder)
	if err != nil {
		return err
	}
	defer st.Close()

	docs, err := st.ListDocuments()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	fmt.Printf("Store:     %s\n", cfg.StorePath(rootDir))
	fmt.Printf("Embedding: %s\n", st.Identity())
	fmt.Printf("Documents: %d\n", len(docs))

	if len(docs) == 0 {
		return nil
	}

	fmt.Println()
	total := 0
	for _, doc := range docs {
		n, err := st.FragmentCount(doc.ID)
		if err != nil {
			return err
		}
		total += n
		fmt.Printf("  %-40s %5d fragments  ingested %s\n",
			doc.ID, n, doc.IngestedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal fragments: %d\n", total)
	return nil
}
