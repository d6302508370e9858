package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hubenschmidt/go-ragcore"
	"github.com/hubenschmidt/go-ragcore/config"
	"github.com/hubenschmidt/go-ragcore/server"
	"github.com/hubenschmidt/go-ragcore/vector"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ragcore",
		Short:         "Embed documents and retrieve them by similarity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")

	var (
		docID    string
		category string
		replace  bool
		start    int
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and store text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID != "" && len(args) > 1 {
				return fmt.Errorf("--id applies to a single file")
			}
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				for _, path := range args {
					text, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					id := docID
					if id == "" {
						id = filepath.Base(path)
					}
					res, err := eng.Ingest(ctx, ragcore.Document{
						ID:       id,
						Text:     string(text),
						Category: category,
						Metadata: map[string]string{"path": path},
					}, ragcore.IngestOptions{StartIndex: start, Replace: replace})
					if err != nil {
						return err
					}
					cmd.Printf("%s: %d chunks, %d stored\n", res.DocumentID, res.Chunks, len(res.Records))
				}
				return nil
			})
		},
	}
	ingestCmd.Flags().StringVar(&docID, "id", "", "Document id (default: file name)")
	ingestCmd.Flags().StringVar(&category, "category", "", "Category stored with every chunk")
	ingestCmd.Flags().BoolVar(&replace, "replace", false, "Delete the document's existing chunks first")
	ingestCmd.Flags().IntVar(&start, "start", 0, "Resume from this chunk index")

	var (
		threshold  float64
		limit      int
		filterArgs []string
		jsonOutput bool
	)
	query := func(cmd *cobra.Command, text string) (ragcore.Query, error) {
		q := ragcore.Query{Text: text, MaxResults: limit}
		if cmd.Flags().Changed("threshold") {
			q.Threshold = ragcore.Threshold(threshold)
		}
		filter, err := parseFilter(filterArgs)
		if err != nil {
			return q, err
		}
		q.Filter = filter
		return q, nil
	}
	addQueryFlags := func(cmd *cobra.Command) {
		cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum cosine similarity (default from config)")
		cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
		cmd.Flags().StringArrayVar(&filterArgs, "filter", nil, "Metadata equality filter key=value (repeatable)")
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank stored chunks against a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query(cmd, args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				hits, err := eng.Search(ctx, q)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, hits)
				}
				printHits(cmd, hits)
				return nil
			})
		},
	}
	addQueryFlags(searchCmd)
	searchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	verifyCmd := &cobra.Command{
		Use:   "verify <query>",
		Short: "Check the dimension invariant and that in-store ranking matches brute force",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query(cmd, args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				if err := eng.Verify(ctx, q); err != nil {
					return err
				}
				cmd.Println("ok")
				return nil
			})
		},
	}
	addQueryFlags(verifyCmd)

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the retrieved chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query(cmd, args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				answer, err := eng.Ask(ctx, args[0], q)
				if err != nil {
					return err
				}
				cmd.Println(answer.Text)
				cmd.Println()
				printHits(cmd, answer.Sources)
				return nil
			})
		},
	}
	addQueryFlags(askCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete every chunk of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				n, err := eng.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("deleted %d chunks\n", n)
				return nil
			})
		},
	}

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, configPath, func(ctx context.Context, eng *ragcore.Engine) error {
				return serve(ctx, addr, eng)
			})
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")

	rootCmd.AddCommand(ingestCmd, searchCmd, verifyCmd, askCmd, deleteCmd, serveCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withEngine(ctx context.Context, configPath string, fn func(context.Context, *ragcore.Engine) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	eng, err := ragcore.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	if err := fn(ctx, eng); err != nil {
		return err
	}
	for op, s := range eng.Metrics().Operations {
		slog.Debug("operation stats", "op", op, "count", s.Count, "failures", s.Failures, "mean", s.MeanDuration())
	}
	return nil
}

func serve(ctx context.Context, addr string, eng *ragcore.Engine) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(server.Config{Knowledge: eng, Metrics: eng.Metrics}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting ragcore server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func parseFilter(args []string) (vector.Filter, error) {
	if len(args) == 0 {
		return nil, nil
	}
	f := make(vector.Filter, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", a)
		}
		f[k] = v
	}
	return f, f.Validate()
}

func printHits(cmd *cobra.Command, hits []vector.ScoredRecord) {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, h := range hits {
		cmd.Printf("  [%d] %s#%d (%.4f)\n", i+1, h.Metadata.FileID(), h.Metadata.ChunkIndex(), h.Similarity)
		cmd.Printf("      %s\n", snippet(h.Content, 160))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
