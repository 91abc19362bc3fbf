package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqdoc/sqdoc/pkg/core"
	"github.com/sqdoc/sqdoc/pkg/filter"
)

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sqdoc",
	Short: "CLI tool for the SQLite document store",
	Long:  `A command-line interface for storing and retrieving documents with metadata filtering, BM25 full-text search, and embedding similarity search.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new document database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		fmt.Printf("Document database initialized at %s\n", dbPath)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Add or update a document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		metadataStr, _ := cmd.Flags().GetString("metadata")
		embeddingStr, _ := cmd.Flags().GetString("embedding")
		policyStr, _ := cmd.Flags().GetString("policy")

		doc := core.Document{Content: content}
		if len(args) == 1 {
			doc.ID = args[0]
		}

		if metadataStr != "" {
			if err := json.Unmarshal([]byte(metadataStr), &doc.Metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
		}
		if embeddingStr != "" {
			vec, err := parseVector(embeddingStr)
			if err != nil {
				return err
			}
			doc.Embedding = vec
		}

		policy, err := core.ParseWritePolicy(policyStr)
		if err != nil {
			return err
		}
		if doc.ID == "" {
			doc.ID = core.DeriveID(doc.Content)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.Write(cmd.Context(), []core.Document{doc}, policy)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Printf("Document %s skipped\n", doc.ID)
			return nil
		}
		fmt.Printf("Document %s written\n", doc.ID)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Fetch documents by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		docs, err := store.Get(cmd.Context(), args)
		if err != nil {
			return err
		}
		for _, id := range args {
			doc, ok := docs[id]
			if !ok {
				fmt.Fprintf(os.Stderr, "not found: %s\n", id)
				continue
			}
			printDocument(doc)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete documents by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.Delete(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d document(s)\n", n)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, err := filterFlag(cmd)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		docs, err := store.Filter(cmd.Context(), expr)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			printDocument(doc)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count documents, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, err := filterFlag(cmd)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.Count(cmd.Context(), expr)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <lexical|vector>",
	Short: "Enable a retrieval index and backfill it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		switch args[0] {
		case "lexical":
			if err := store.EnableLexicalIndex(cmd.Context()); err != nil {
				return err
			}
		case "vector":
			if err := store.EnableVectorIndex(cmd.Context()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown index kind %q", args[0])
		}
		fmt.Printf("%s index ready\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search with a full-text query or a query embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		embeddingStr, _ := cmd.Flags().GetString("embedding")
		topK, _ := cmd.Flags().GetInt("top-k")
		candidates, _ := cmd.Flags().GetInt("candidates")
		scale, _ := cmd.Flags().GetBool("scale-scores")

		if (query == "") == (embeddingStr == "") {
			return fmt.Errorf("provide exactly one of --query and --embedding")
		}

		expr, err := filterFlag(cmd)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var results []core.ScoredDocument
		if query != "" {
			results, err = store.SearchLexical(cmd.Context(), query, core.LexicalSearchOptions{
				Filter:     expr,
				TopK:       topK,
				ScaleScore: scale,
			})
		} else {
			var vec []float32
			vec, err = parseVector(embeddingStr)
			if err != nil {
				return err
			}
			results, err = store.SearchVector(cmd.Context(), vec, core.VectorSearchOptions{
				Filter:        expr,
				TopK:          topK,
				NumCandidates: candidates,
				ScaleScore:    scale,
			})
		}
		if err != nil {
			return err
		}

		for i, res := range results {
			fmt.Printf("%2d. %s  score=%.4f\n", i+1, res.ID, res.Score)
			if verbose {
				printDocument(res.Document)
			}
		}
		return nil
	},
}

func openStore() (*core.Store, error) {
	config := core.DefaultConfig(dbPath)
	if verbose {
		config.Logger = core.NewStdLogger(core.LevelDebug)
	}
	store, err := core.NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func filterFlag(cmd *cobra.Command) (*filter.Expr, error) {
	raw, _ := cmd.Flags().GetString("filter")
	if raw == "" {
		return nil, nil
	}
	expr, err := filter.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return expr, nil
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding format: %w", err)
		}
		vec = append(vec, float32(val))
	}
	return vec, nil
}

func printDocument(doc core.Document) {
	fmt.Printf("id: %s\n", doc.ID)
	if doc.Content != "" {
		fmt.Printf("  content: %s\n", doc.Content)
	}
	if doc.Metadata != nil {
		meta, _ := json.Marshal(doc.Metadata)
		fmt.Printf("  metadata: %s\n", meta)
	}
	if doc.Embedding != nil {
		fmt.Printf("  embedding: %d dims\n", len(doc.Embedding))
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "sqdoc.db", "database file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	addCmd.Flags().String("content", "", "document text")
	addCmd.Flags().String("metadata", "", "metadata as JSON object")
	addCmd.Flags().String("embedding", "", "embedding as comma-separated floats")
	addCmd.Flags().String("policy", "fail", "collision policy: fail, overwrite, skip")

	listCmd.Flags().String("filter", "", "predicate as JSON")
	countCmd.Flags().String("filter", "", "predicate as JSON")

	searchCmd.Flags().String("query", "", "full-text query")
	searchCmd.Flags().String("embedding", "", "query embedding as comma-separated floats")
	searchCmd.Flags().String("filter", "", "predicate as JSON")
	searchCmd.Flags().Int("top-k", 10, "maximum number of results")
	searchCmd.Flags().Int("candidates", 0, "vector candidate pool size before filtering")
	searchCmd.Flags().Bool("scale-scores", false, "rescale scores into (0, 1)")

	rootCmd.AddCommand(initCmd, addCmd, getCmd, rmCmd, listCmd, countCmd, indexCmd, searchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
