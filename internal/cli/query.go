package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"librarian/internal/domain"
	"librarian/internal/usecase"
)

var (
	queryText    string
	queryDocs    []string
	queryTopK    int
	queryTimeout int
	queryStrict  bool
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question grounded in the ingested documents",
	Long: `Query embeds the question, retrieves the most similar fragments from
the library, and asks the completion backend to answer from them. The
retrieved sources are printed alongside the answer.

Examples:
  librarian query -q "first-line therapy for hypertension?"
  librarian query -q "adverse effects?" --doc paper.txt -k 3
  librarian query -q "renal dosing?" --json`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryText, "question", "q", "", "question to answer (required)")
	queryCmd.Flags().StringArrayVar(&queryDocs, "doc", nil, "restrict retrieval to these document ids (repeatable)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of fragments to retrieve (default from config)")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 0, "query timeout in seconds (default from config)")
	queryCmd.Flags().BoolVar(&queryStrict, "strict", false, "fail if a --doc id is not ingested")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the answer as JSON")
	queryCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	embedder, err := newEmbedder()
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	completer, err := newCompleter()
	if err != nil {
		return fmt.Errorf("failed to create completion backend: %w", err)
	}

	st, err := openStore(embedder)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := usecase.NewEngine(st, embedder, completer, cfg.Completion.SystemPrompt, cfg.Query)

	opts := usecase.QueryOptions{
		TopK:      queryTopK,
		DocFilter: queryDocs,
		Strict:    queryStrict,
		Timeout:   time.Duration(queryTimeout) * time.Second,
	}

	answer, err := engine.Query(cmd.Context(), queryText, opts)
	if err != nil {
		return err
	}

	if queryJSON {
		return printAnswerJSON(answer)
	}
	printAnswer(answer)
	return nil
}

func printAnswerJSON(answer domain.Answer) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(answer)
}

func printAnswer(answer domain.Answer) {
	fmt.Println(answer.Text)

	if len(answer.Sources) == 0 {
		return
	}

	fmt.Printf("\nSources:\n")
	for i, s := range answer.Sources {
		fmt.Printf("  [%d] %s#%d (score %.4f)\n", i+1, s.DocID, s.Ordinal, s.Score)
	}
}
