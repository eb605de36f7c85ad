// Package config loads engine configuration from an optional memcore.yaml in
// the base directory, environment variables (MEMCORE_*), and defaults.
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"
)

// Fractions allocates the push-pack budget across its sections. The three
// values must sum to 1.0.
type Fractions struct {
	Task      float64 `mapstructure:"task"`
	Markers   float64 `mapstructure:"markers"`
	Retrieved float64 `mapstructure:"retrieved"`
}

// Config holds all tunables for the memory engine.
type Config struct {
	// Embeddings
	Dimensions   int `mapstructure:"dimensions"`
	MemCacheSize int `mapstructure:"mem_cache_size"`
	EmbedBatch   int `mapstructure:"embed_batch"`

	// Artifact ingestion
	ArtifactThresholdBytes int `mapstructure:"artifact_threshold_bytes"`
	LogTailLines           int `mapstructure:"log_tail_lines"`
	CSVSampleRows          int `mapstructure:"csv_sample_rows"`
	JSONSkeletonDepth      int `mapstructure:"json_skeleton_depth"`
	TextPreviewChars       int `mapstructure:"text_preview_chars"`

	// Compaction
	ContextWindow           int     `mapstructure:"context_window"`
	TriggerThreshold        float64 `mapstructure:"trigger_threshold"`
	HotTailTurns            int     `mapstructure:"hot_tail_turns"`
	MarkerTokenCap          int     `mapstructure:"marker_token_cap"`
	MarkerSoftCap           int     `mapstructure:"marker_soft_cap"`
	ProtectDebateSynthesis  bool    `mapstructure:"protect_debate_synthesis"`

	// Retrieval
	BudgetFractions   Fractions `mapstructure:"budget_fractions"`
	LexicalWeight     float64   `mapstructure:"lexical_weight"`
	VectorWeight      float64   `mapstructure:"vector_weight"`
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days"`
	RecallMaxTokens   int       `mapstructure:"recall_max_tokens"`

	// Consolidation + episodic buffer
	EpisodeGapMinutes int `mapstructure:"episode_gap_minutes"`
	EpisodicTTLHours  int `mapstructure:"episodic_ttl_hours"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Dimensions:             768,
		MemCacheSize:           2000,
		EmbedBatch:             32,
		ArtifactThresholdBytes: 2000,
		LogTailLines:           10,
		CSVSampleRows:          2,
		JSONSkeletonDepth:      4,
		TextPreviewChars:       400,
		ContextWindow:          128000,
		TriggerThreshold:       0.85,
		HotTailTurns:           8,
		MarkerTokenCap:         60,
		MarkerSoftCap:          20,
		BudgetFractions:        Fractions{Task: 0.10, Markers: 0.15, Retrieved: 0.75},
		LexicalWeight:          0.4,
		VectorWeight:           0.6,
		RecencyHalfLifeDays:    7,
		RecallMaxTokens:        4000,
		EpisodeGapMinutes:      30,
		EpisodicTTLHours:       24,
	}
}

// Load reads memcore.yaml from baseDir when present, applies MEMCORE_*
// environment overrides, and validates the result. A missing file returns
// defaults, not an error.
func Load(baseDir string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("memcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(baseDir)
	v.SetEnvPrefix("MEMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("dimensions", cfg.Dimensions)
	v.SetDefault("mem_cache_size", cfg.MemCacheSize)
	v.SetDefault("embed_batch", cfg.EmbedBatch)
	v.SetDefault("artifact_threshold_bytes", cfg.ArtifactThresholdBytes)
	v.SetDefault("log_tail_lines", cfg.LogTailLines)
	v.SetDefault("csv_sample_rows", cfg.CSVSampleRows)
	v.SetDefault("json_skeleton_depth", cfg.JSONSkeletonDepth)
	v.SetDefault("text_preview_chars", cfg.TextPreviewChars)
	v.SetDefault("context_window", cfg.ContextWindow)
	v.SetDefault("trigger_threshold", cfg.TriggerThreshold)
	v.SetDefault("hot_tail_turns", cfg.HotTailTurns)
	v.SetDefault("marker_token_cap", cfg.MarkerTokenCap)
	v.SetDefault("marker_soft_cap", cfg.MarkerSoftCap)
	v.SetDefault("protect_debate_synthesis", cfg.ProtectDebateSynthesis)
	v.SetDefault("budget_fractions.task", cfg.BudgetFractions.Task)
	v.SetDefault("budget_fractions.markers", cfg.BudgetFractions.Markers)
	v.SetDefault("budget_fractions.retrieved", cfg.BudgetFractions.Retrieved)
	v.SetDefault("lexical_weight", cfg.LexicalWeight)
	v.SetDefault("vector_weight", cfg.VectorWeight)
	v.SetDefault("recency_half_life_days", cfg.RecencyHalfLifeDays)
	v.SetDefault("recall_max_tokens", cfg.RecallMaxTokens)
	v.SetDefault("episode_gap_minutes", cfg.EpisodeGapMinutes)
	v.SetDefault("episodic_ttl_hours", cfg.EpisodicTTLHours)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading memcore.yaml: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break budget arithmetic.
func (c Config) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Dimensions)
	}
	if c.MemCacheSize <= 0 {
		return fmt.Errorf("mem_cache_size must be positive, got %d", c.MemCacheSize)
	}
	if c.TriggerThreshold <= 0 || c.TriggerThreshold > 1 {
		return fmt.Errorf("trigger_threshold must be in (0,1], got %g", c.TriggerThreshold)
	}
	sum := c.BudgetFractions.Task + c.BudgetFractions.Markers + c.BudgetFractions.Retrieved
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("budget fractions must sum to 1.0, got %g", sum)
	}
	if c.HotTailTurns < 0 || c.MarkerSoftCap <= 0 || c.MarkerTokenCap <= 0 {
		return fmt.Errorf("invalid compaction caps: hot_tail_turns=%d marker_soft_cap=%d marker_token_cap=%d",
			c.HotTailTurns, c.MarkerSoftCap, c.MarkerTokenCap)
	}
	return nil
}
