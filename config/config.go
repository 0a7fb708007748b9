// Package config loads the retrieval core's tunables from defaults and
// OSGREP_* environment overrides, following an apply-then-override idiom.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every retrieval, fusion, and worker-pool tunable.
type Config struct {
	// Retrieval stage sizes.
	PreRerankK int // PRE_RERANK_K, read from OSGREP_PRE_K; the retriever does not consult it and always uses max(5*limit, 500)
	Stage1K    int // STAGE1_K, default 200
	Stage2K    int // STAGE2_K, default 40
	RerankTop  int // RERANK_TOP, default 20

	// Fusion / scoring constants.
	RRFK         int     // RRF_K, default 60
	RerankBlend  float64 // FUSED_WEIGHT, default 0.5
	MaxPerFile   int     // MAX_PER_FILE, default 3
	AnchorPenalty float64 // default 0.99
	CodeBoost     float64 // default 1.05
	TestPenalty   float64 // default 0.9
	DocPenalty    float64 // default 0.85

	// Worker pool.
	MaxWorkerRSSBytes int64 // default 6 GiB
	WorkerTimeout     int   // seconds, default 90

	// Paths under $HOME/.osgrep/.
	HomeDir     string
	ModelsDir   string
	DataDir     string
	GrammarsDir string
	MetaPath    string
}

// Default returns the baseline tunable values before any environment override.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".osgrep")

	return Config{
		PreRerankK:    500,
		Stage1K:       200,
		Stage2K:       40,
		RerankTop:     20,
		RRFK:          60,
		RerankBlend:   0.5,
		MaxPerFile:    3,
		AnchorPenalty: 0.99,
		CodeBoost:     1.05,
		TestPenalty:   0.9,
		DocPenalty:    0.85,

		MaxWorkerRSSBytes: 6 * 1024 * 1024 * 1024,
		WorkerTimeout:     90,

		HomeDir:     root,
		ModelsDir:   filepath.Join(root, "models"),
		DataDir:     filepath.Join(root, "data"),
		GrammarsDir: filepath.Join(root, "grammars"),
		MetaPath:    filepath.Join(root, "meta.json"),
	}
}

// Load returns Default() with OSGREP_* environment overrides applied.
// Invalid or non-positive values fall back to the default.
func Load() Config {
	c := Default()
	c.applyEnvOverrides()
	return c
}

// fileOverrides mirrors the subset of Config a .osgrep.yaml project file may
// override, layered beneath environment variables.
type fileOverrides struct {
	Stage1K       *int     `yaml:"stage1_k"`
	Stage2K       *int     `yaml:"stage2_k"`
	RerankTop     *int     `yaml:"rerank_top"`
	RRFK          *int     `yaml:"rrf_k"`
	RerankBlend   *float64 `yaml:"rerank_blend"`
	MaxPerFile    *int     `yaml:"max_per_file"`
	AnchorPenalty *float64 `yaml:"anchor_penalty"`
	CodeBoost     *float64 `yaml:"code_boost"`
	TestPenalty   *float64 `yaml:"test_penalty"`
	DocPenalty    *float64 `yaml:"doc_penalty"`
}

// LoadFile returns Default() with a project yaml file's overrides applied,
// then OSGREP_* environment overrides on top (env always wins). A missing
// file is not an error — it's treated the same as an empty overlay.
func LoadFile(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.applyEnvOverrides()
			return c, nil
		}
		return c, err
	}

	var ov fileOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return c, err
	}
	c.applyFileOverrides(ov)
	c.applyEnvOverrides()
	return c, nil
}

func (c *Config) applyFileOverrides(ov fileOverrides) {
	if ov.Stage1K != nil && *ov.Stage1K > 0 {
		c.Stage1K = *ov.Stage1K
	}
	if ov.Stage2K != nil && *ov.Stage2K > 0 {
		c.Stage2K = *ov.Stage2K
	}
	if ov.RerankTop != nil && *ov.RerankTop > 0 {
		c.RerankTop = *ov.RerankTop
	}
	if ov.RRFK != nil && *ov.RRFK > 0 {
		c.RRFK = *ov.RRFK
	}
	if ov.RerankBlend != nil && *ov.RerankBlend > 0 {
		c.RerankBlend = *ov.RerankBlend
	}
	if ov.MaxPerFile != nil && *ov.MaxPerFile > 0 {
		c.MaxPerFile = *ov.MaxPerFile
	}
	if ov.AnchorPenalty != nil && *ov.AnchorPenalty > 0 {
		c.AnchorPenalty = *ov.AnchorPenalty
	}
	if ov.CodeBoost != nil && *ov.CodeBoost > 0 {
		c.CodeBoost = *ov.CodeBoost
	}
	if ov.TestPenalty != nil && *ov.TestPenalty > 0 {
		c.TestPenalty = *ov.TestPenalty
	}
	if ov.DocPenalty != nil && *ov.DocPenalty > 0 {
		c.DocPenalty = *ov.DocPenalty
	}
}

func (c *Config) applyEnvOverrides() {
	setIntEnv("OSGREP_PRE_K", &c.PreRerankK)
	setIntEnv("OSGREP_STAGE1_K", &c.Stage1K)
	setIntEnv("OSGREP_STAGE2_K", &c.Stage2K)
	setIntEnv("OSGREP_RERANK_TOP", &c.RerankTop)
	setIntEnv("OSGREP_MAX_PER_FILE", &c.MaxPerFile)

	setFloatEnv("OSGREP_RERANK_BLEND", &c.RerankBlend)
	setFloatEnv("OSGREP_ANCHOR_PENALTY", &c.AnchorPenalty)
	setFloatEnv("OSGREP_CODE_BOOST", &c.CodeBoost)
	setFloatEnv("OSGREP_TEST_PENALTY", &c.TestPenalty)
	setFloatEnv("OSGREP_DOC_PENALTY", &c.DocPenalty)
}

// setIntEnv overrides *dst with the env var's value when it parses to a
// positive integer; otherwise the existing default is kept.
func setIntEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

func setFloatEnv(name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		*dst = f
	}
}
