package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bloxbuddy/wizard/internal/answer"
	"github.com/bloxbuddy/wizard/internal/config"
	"github.com/bloxbuddy/wizard/internal/convo"
	"github.com/bloxbuddy/wizard/internal/db"
	"github.com/bloxbuddy/wizard/internal/embed"
	"github.com/bloxbuddy/wizard/internal/ingest"
	"github.com/bloxbuddy/wizard/internal/openai"
	"github.com/bloxbuddy/wizard/internal/search"
	"github.com/bloxbuddy/wizard/internal/server"
	"github.com/bloxbuddy/wizard/internal/session"
	"github.com/bloxbuddy/wizard/internal/store"
	"github.com/bloxbuddy/wizard/internal/transcript"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "wizard",
		Short: "Blox Wizard transcript search and chat",
		Long: `Blox Wizard indexes BloxBuddy tutorial video transcripts and
answers Roblox development questions grounded in them, with
timestamped video references.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("wizard %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			if err := db.Init(); err != nil {
				return err
			}

			configDir, _ := config.GetConfigDir()
			dbPath, _ := db.GetPath()
			if jsonOutput {
				printJSON(map[string]any{
					"ok":         true,
					"config_dir": configDir,
					"db_path":    dbPath,
				})
				return nil
			}
			fmt.Printf("Config written to %s\n", filepath.Join(configDir, "config.yaml"))
			fmt.Printf("Database ready at %s\n", dbPath)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>",
		Short: "Index transcript JSON files (a file or a directory)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			var summary ingest.Summary
			if info.IsDir() {
				summary, err = svc.pipeline.IngestDir(ctx, args[0])
				if err != nil {
					return err
				}
			} else {
				chunks, err := svc.pipeline.IngestFile(ctx, args[0])
				switch {
				case err == ingest.ErrAlreadyIndexed:
					summary.Skipped = 1
				case err != nil:
					return err
				default:
					summary.Processed = 1
					summary.ChunksCreated = chunks
				}
			}

			if jsonOutput {
				printJSON(summary)
				return nil
			}
			fmt.Printf("Processed %d, skipped %d, failed %d (%d chunks)\n",
				summary.Processed, summary.Skipped, summary.Failed, summary.ChunksCreated)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and index transcripts as they appear",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			dir := svc.cfg.Ingest.WatchDir
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no watch directory: pass one or set ingest.watch_dir")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher := ingest.NewWatcher(svc.pipeline, dir)
			if err := watcher.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			cfg := searchConfigFrom(svc.cfg)
			if maxResults > 0 {
				cfg.MaxResults = maxResults
			}

			resp, err := svc.searcher.Search(cmd.Context(), strings.Join(args, " "), &cfg)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(resp)
				return nil
			}
			fmt.Printf("%d results (%s, %s)\n\n", len(resp.Results), resp.Method, resp.SearchTime.Round(time.Millisecond))
			for i, r := range resp.Results {
				fmt.Printf("%d. [%.2f] %s at %s\n   %s\n   %s\n\n",
					i+1, r.RelevanceScore, r.Title, r.StartTimestamp, firstLine(r.Text, 120), r.TimestampURL)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "m", 0, "Maximum results")
	return cmd
}

func chatCmd() *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question and get a grounded answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			question := strings.Join(args, " ")
			resp, err := svc.searcher.Search(cmd.Context(), question, nil)
			if err != nil {
				return err
			}

			gen := svc.generator.Generate(cmd.Context(), answer.Request{
				Question:      question,
				Results:       resp.Results,
				ResponseStyle: style,
			})

			if jsonOutput {
				printJSON(gen)
				return nil
			}
			fmt.Println(gen.Answer)
			if len(gen.Citations) > 0 {
				fmt.Println("\nReferences:")
				for _, c := range gen.Citations {
					fmt.Printf("  %s at %s\n  %s\n", c.Title, c.Timestamp, c.TimestampURL)
				}
			}
			if len(gen.SuggestedQuestions) > 0 {
				fmt.Println("\nYou could ask next:")
				for _, q := range gen.SuggestedQuestions {
					fmt.Printf("  - %s\n", q)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "Response style (detailed|concise|beginner|advanced)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(true)
			if err != nil {
				return err
			}
			defer svc.Close()

			sessions := session.NewManager(session.Config{
				MaxHistory:    svc.cfg.Session.MaxHistory,
				Timeout:       svc.cfg.Session.Timeout,
				SweepInterval: svc.cfg.Session.SweepInterval,
			})
			defer sessions.Close()

			srv := server.New(sessions, svc.searcher, svc.generator,
				convo.NewStore(svc.db), svc.db, svc.cfg.Session.DailyQuestions)

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("Listening on %s\n", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "Listen address")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(false)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(stats)
				return nil
			}
			fmt.Printf("Videos:            %d\n", stats.TotalVideos)
			fmt.Printf("Chunks:            %d\n", stats.TotalChunks)
			fmt.Printf("Embedded chunks:   %d\n", stats.EmbeddedChunks)
			fmt.Printf("Avg chunks/video:  %d\n", stats.AvgChunksPerVideo)
			fmt.Printf("Processed in 24h:  %d\n", stats.RecentlyProcessed)
			return nil
		},
	}
}

// services holds the wired dependency graph for one command run.
type services struct {
	cfg       *config.Config
	db        *sql.DB
	store     *store.Store
	searcher  *search.Service
	generator *answer.Generator
	pipeline  *ingest.Pipeline
	client    *openai.Client
}

func (s *services) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// openServices loads config, opens the database, and wires the
// pipeline. needAPIKey commands fail fast when the key is missing
// instead of erroring mid-run.
func openServices(needAPIKey bool) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := db.Init(); err != nil {
		return nil, err
	}
	conn, err := db.Open()
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv(cfg.OpenAI.APIKeyEnv)
	if needAPIKey && apiKey == "" {
		conn.Close()
		return nil, fmt.Errorf("%s is not set", cfg.OpenAI.APIKeyEnv)
	}

	client := openai.NewClient(apiKey)
	client.SetEmbedRPM(cfg.OpenAI.EmbedRPM)
	client.SetChatRPM(cfg.OpenAI.ChatRPM)

	st := store.New(conn)
	batcher := embed.NewBatcher(client, cfg.OpenAI.EmbeddingModel,
		cfg.Ingest.BatchWorkers, cfg.Ingest.BatchDelay)
	chunker := transcript.NewChunker(cfg.Chunk.TargetChars, cfg.Chunk.OverlapChars)

	return &services{
		cfg:       cfg,
		db:        conn,
		store:     st,
		searcher:  search.NewService(st, batcher, searchConfigFrom(cfg)),
		generator: answer.NewGenerator(client, cfg.OpenAI.ChatModel),
		pipeline:  ingest.NewPipeline(st, batcher, chunker),
		client:    client,
	}, nil
}

func searchConfigFrom(cfg *config.Config) search.Config {
	return search.Config{
		MaxResults:          cfg.Search.MaxResults,
		SimilarityThreshold: cfg.Search.SimilarityThreshold,
		MinVectorResults:    cfg.Search.MinVectorResults,
		MultiVideoBoost:     cfg.Search.MultiVideoBoost,
		ConfidenceWeighting: cfg.Search.ConfidenceWeighting,
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
