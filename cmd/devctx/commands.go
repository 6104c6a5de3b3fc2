package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/devctx/internal/config"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/engine"
	"github.com/dshills/devctx/internal/indexer"
	"github.com/dshills/devctx/internal/lock"
	"github.com/dshills/devctx/internal/logging"
	"github.com/dshills/devctx/internal/mcp"
	"github.com/dshills/devctx/internal/storage"
)

// app carries what the subcommands share once configuration is loaded
type app struct {
	workspace string
	cfg       config.Specification
	engine    *engine.Engine
	embedder  embedder.Embedder
	redis     *redis.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "devctx",
		Short:         "Incremental document index and hybrid retrieval for workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	config.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", ".", "Workspace root")

	root.AddCommand(
		newIndexCmd(a),
		newQueryCmd(a),
		newStatsCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration, sets up logging and builds the engine and embedder
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load("", cmd.Flags())
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, os.Stderr); err != nil {
		return err
	}
	a.cfg = cfg

	opts := []engine.Option{
		engine.WithIndexDir(cfg.Index.Dir),
		engine.WithExpander(cfg.Expander()),
		engine.WithResultCache(cfg.Retrieval.CacheSize, cfg.Retrieval.CacheTTL),
	}

	if cfg.Lock.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		locker := lock.NewRedisLock(a.redis)
		if err := locker.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("redis lock backend %s: %w", cfg.Lock.RedisAddr, err)
		}
		log.Debug().Str("addr", cfg.Lock.RedisAddr).Str("owner", locker.OwnerID()).Msg("using redis build lock")
		opts = append(opts, engine.WithLocker(locker, cfg.Lock.TTL))
	} else {
		opts = append(opts, engine.WithLocker(nil, cfg.Lock.TTL))
	}
	a.engine = engine.New(opts...)

	emb, err := embedder.New(cmd.Context(), cfg.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.embedder = emb
	return nil
}

func (a *app) close() error {
	var firstErr error
	if a.embedder != nil {
		firstErr = a.embedder.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newIndexCmd(a *app) *cobra.Command {
	var (
		full   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the index of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.engine.EnsureIndex(cmd.Context(), engine.IndexRequest{
				BasePath:     a.workspace,
				Include:      a.cfg.Index.Include,
				Exclude:      a.cfg.Index.Exclude,
				ChunkSize:    a.cfg.Index.ChunkSize,
				ChunkOverlap: a.cfg.Index.ChunkOverlap,
				Incremental:  !full,
				Docs:         a.cfg.Docs(),
				Workers:      a.cfg.Index.Workers,
				BatchSize:    a.cfg.Index.BatchSize,
				MaxFileBytes: a.cfg.Index.MaxFileBytes,
				Embedder:     a.embedder,
			})
			if stats != nil {
				if asJSON {
					if jsonErr := writeJSON(cmd.OutOrStdout(), stats); jsonErr != nil {
						return jsonErr
					}
				} else {
					printBuildStats(cmd.OutOrStdout(), stats)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Discard the index and rebuild every file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		k             int
		scope         []string
		minSimilarity float64
		noRerank      bool
		noHybrid      bool
		noExpand      bool
		contextWindow int
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the chunks most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.cfg.Retrieval
			req := engine.EnhancedRequest{
				Query:             strings.Join(args, " "),
				ChangedFiles:      scope,
				K:                 r.K,
				Embedder:          a.embedder,
				UseHybrid:         r.UseHybrid && !noHybrid,
				UseQueryExpansion: r.UseQueryExpansion && !noExpand,
				UseReranking:      r.UseReranking && !noRerank,
				MinSimilarity:     r.MinSimilarity,
				ContextWindow:     r.ContextWindow,
			}
			if cmd.Flags().Changed("k") {
				req.K = k
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = minSimilarity
			}
			if cmd.Flags().Changed("context") {
				req.ContextWindow = contextWindow
			}

			resp, err := a.engine.RetrieveEnhanced(cmd.Context(), a.workspace, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default from config)")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "Restrict results to these files")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Minimum vector similarity (default from config)")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Disable the diversity rerank")
	cmd.Flags().BoolVar(&noHybrid, "no-hybrid", false, "Rank by vector similarity only")
	cmd.Flags().BoolVar(&noExpand, "no-expand", false, "Disable query expansion")
	cmd.Flags().IntVar(&contextWindow, "context", 0, "Neighbouring chunks to attach on each side")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.engine.Stats(cmd.Context(), a.workspace)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("version", version).
				Str("build_mode", storage.BuildMode).
				Str("driver", storage.DriverName).
				Bool("vector_extension", storage.VectorExtensionAvailable).
				Msg("devctx MCP server starting")

			server := mcp.NewServer(a.engine, a.embedder, a.cfg)
			err := server.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("server error: %w", err)
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		// Needs no configuration
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "devctx\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBuildStats(w io.Writer, s *indexer.Statistics) {
	mode := "incremental"
	if s.FullRebuild {
		mode = "full"
	}
	fmt.Fprintf(w, "Indexed %d files (%s build) in %s\n", s.FilesIndexed, mode, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  scanned %d, unchanged %d, deleted %d, skipped %d, failed %d\n",
		s.FilesScanned, s.FilesUnchanged, s.FilesDeleted, s.FilesSkipped, s.FilesFailed)
	fmt.Fprintf(w, "  chunks embedded %d, reused %d, deleted %d\n", s.ChunksEmbedded, s.ChunksReused, s.ChunksDeleted)
	if s.Cancelled {
		fmt.Fprintln(w, "  cancelled: the next build picks up the remaining files")
	}
	for _, msg := range s.ErrorMessages {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}

func printResults(w io.Writer, resp *engine.EnhancedResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results.")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(w, "[%d] %.3f  %s", i+1, r.Score, r.Source)
		if len(r.RelevanceFactors) > 0 {
			fmt.Fprintf(w, "  (%s)", strings.Join(r.RelevanceFactors, ", "))
		}
		fmt.Fprintln(w)

		text := r.Content
		if r.Context != "" {
			text = r.Context
		}
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "found %d, average %.3f, diversity %.2f, confidence %s, strategy %s, ~%d tokens\n",
		resp.TotalFound, resp.AverageScore, resp.QualityMetrics.DiversityScore,
		resp.QualityMetrics.ConfidenceLevel, resp.RetrievalStrategy, resp.EstimatedTokens)
}
