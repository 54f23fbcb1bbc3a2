package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <doc-id>",
	Short: "Remove a document and its fragments from the library",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	docID := args[0]

	embedder, err := newEmbedder()
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	st, err := openStore(embedder)
	if err != nil {
		return err
	}
	defer st.Close()

	ok, err := st.HasDocument(docID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document not ingested: %s", docID)
	}

	if err := st.DeleteDocument(docID); err != nil {
		return fmt.Errorf("failed to remove %s: %w", docID, err)
	}

	fmt.Printf("Removed %s\n", docID)
	return nil
}
