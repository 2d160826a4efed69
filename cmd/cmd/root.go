// Package cmd wires the CLI commands. Commands construct their runtime
// lazily so that read-only commands never touch the LLM provider.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/darksunexists/darksun-sub000/internal/article"
	"github.com/darksunexists/darksun-sub000/internal/config"
	"github.com/darksunexists/darksun-sub000/internal/llm"
	"github.com/darksunexists/darksun-sub000/internal/logger"
	"github.com/darksunexists/darksun-sub000/internal/pipeline"
	"github.com/darksunexists/darksun-sub000/internal/similarity"
	"github.com/darksunexists/darksun-sub000/internal/store"

	featurepkg "github.com/darksunexists/darksun-sub000/internal/features"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "darksun",
	Short: "Incremental clustering and article synthesis for agent conversations",
	Long: `darksun ingests multi-agent conversations, groups them into topic
clusters with an LLM similarity oracle, and maintains a versioned corpus
of synthesized research articles.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger.Init(cfg.App.LogLevel)
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.darksun.yaml)")
}

// openStore opens the SQLite store at the configured data directory.
func openStore() (*store.Store, error) {
	return store.NewStore(cfg.App.DataDir)
}

// similarityCache picks the configured cache backend.
func similarityCache(st *store.Store) (similarity.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		return similarity.NewRedisCache(cfg.Cache.RedisURL)
	}
	return st.SimilarityCache(), nil
}

// runtime bundles everything a processing command needs.
type runtime struct {
	store        *store.Store
	client       llm.Client
	extractor    *featurepkg.Extractor
	scorer       *similarity.PassScorer
	orchestrator *pipeline.Orchestrator
}

// buildRuntime constructs the full pipeline from configuration.
func buildRuntime(ctx context.Context) (*runtime, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	cache, err := similarityCache(st)
	if err != nil {
		st.Close()
		return nil, err
	}

	timeout := cfg.LLM.OracleTimeout()
	extractor := featurepkg.NewExtractor(client, timeout)
	scorer := similarity.NewPassScorer(cache, similarity.NewPairOracle(client, timeout))
	enricher := similarity.NewEnrichmentOracle(client, timeout)
	synth := article.NewLLMSynthesizer(client, 0)
	lifecycle := article.NewManager(st, enricher, synth)

	return &runtime{
		store:     st,
		client:    client,
		extractor: extractor,
		scorer:    scorer,
		orchestrator: pipeline.NewOrchestrator(
			st, extractor, scorer, lifecycle, cfg.Clustering.MaxConcurrentComparisons),
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close store")
	}
}
