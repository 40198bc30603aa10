package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const EnvPrefix = "INFILL_"

type Config struct {
	VocabFile string
	DataDir   string
	LowerCase bool

	MaxEncodeLen    int
	MaxDecodeLen    int
	TargetSegmentID int

	NoiseProb      float64
	UseRandomNoise bool
	AttnToken      string
	NoiseToken     string

	BatchSize     int
	EvalBatchSize int
	BeamWidth     int
	LengthPenalty float64

	Workers int
	// Seed of zero means seed from the clock.
	Seed     int64
	FailFast bool

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

func (c *Config) Validate() error {
	if c.MaxEncodeLen <= 0 {
		return fmt.Errorf("invalid max_encode_len: %d (must be positive)", c.MaxEncodeLen)
	}
	if c.MaxDecodeLen <= 0 {
		return fmt.Errorf("invalid max_decode_len: %d (must be positive)", c.MaxDecodeLen)
	}
	if c.TargetSegmentID < 0 {
		return fmt.Errorf("invalid tgt_type_id: %d (must be non-negative)", c.TargetSegmentID)
	}
	if math.IsNaN(c.NoiseProb) || c.NoiseProb < 0 || c.NoiseProb > 1 {
		return fmt.Errorf("invalid noise_prob: %v (must be within [0, 1])", c.NoiseProb)
	}
	if c.AttnToken == "" {
		return fmt.Errorf("invalid attn_token: must not be empty")
	}
	if !c.UseRandomNoise && c.NoiseProb > 0 && c.NoiseToken == "" {
		return fmt.Errorf("invalid noise_token: must not be empty when noise is enabled")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.EvalBatchSize <= 0 {
		return fmt.Errorf("invalid eval_batch_size: %d (must be positive)", c.EvalBatchSize)
	}
	if c.BeamWidth < 1 {
		return fmt.Errorf("invalid beam_width: %d (must be >= 1)", c.BeamWidth)
	}
	if math.IsNaN(c.LengthPenalty) || c.LengthPenalty < 0 {
		return fmt.Errorf("invalid length_penalty: %v (must be non-negative)", c.LengthPenalty)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d (must be positive)", c.Workers)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}

// CheckPaths verifies that the vocabulary file and data directory exist.
func (c *Config) CheckPaths() error {
	if c.VocabFile == "" {
		return fmt.Errorf("vocab_file is required")
	}
	if fi, err := os.Stat(c.VocabFile); err != nil {
		return fmt.Errorf("vocab_file: %w", err)
	} else if fi.IsDir() {
		return fmt.Errorf("vocab_file: %s is a directory", c.VocabFile)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if fi, err := os.Stat(c.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("data_dir: %s is not a directory", c.DataDir)
	}
	return nil
}

// ApplyEnv overrides fields from INFILL_* variables found by lookup, usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"VOCAB_FILE":   &c.VocabFile,
		"DATA_DIR":     &c.DataDir,
		"ATTN_TOKEN":   &c.AttnToken,
		"NOISE_TOKEN":  &c.NoiseToken,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
		"METRICS_ADDR": &c.MetricsAddr,
	}
	for k, dst := range strs {
		if v, ok := lookup(EnvPrefix + k); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_ENCODE_LEN":  &c.MaxEncodeLen,
		"MAX_DECODE_LEN":  &c.MaxDecodeLen,
		"TGT_TYPE_ID":     &c.TargetSegmentID,
		"BATCH_SIZE":      &c.BatchSize,
		"EVAL_BATCH_SIZE": &c.EvalBatchSize,
		"BEAM_WIDTH":      &c.BeamWidth,
		"WORKERS":         &c.Workers,
	}
	for k, dst := range ints {
		if v, ok := lookup(EnvPrefix + k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"NOISE_PROB":     &c.NoiseProb,
		"LENGTH_PENALTY": &c.LengthPenalty,
	}
	for k, dst := range floats {
		if v, ok := lookup(EnvPrefix + k); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*dst = f
		}
	}

	bools := map[string]*bool{
		"USE_RANDOM_NOISE": &c.UseRandomNoise,
		"LOWER_CASE":       &c.LowerCase,
		"FAIL_FAST":        &c.FailFast,
	}
	for k, dst := range bools {
		if v, ok := lookup(EnvPrefix + k); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup(EnvPrefix + "SEED"); ok {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", EnvPrefix, err)
		}
		c.Seed = s
	}
	return nil
}

func Default() Config {
	return Config{
		LowerCase:       true,
		MaxEncodeLen:    640,
		MaxDecodeLen:    120,
		TargetSegmentID: 3,
		NoiseProb:       0.7,
		AttnToken:       "[ATTN]",
		NoiseToken:      "[NOISE]",
		BatchSize:       8,
		EvalBatchSize:   20,
		BeamWidth:       5,
		LengthPenalty:   1.0,
		Workers:         4,
		LogLevel:        "info",
		LogFormat:       "console",
		MetricsAddr:     ":9090",
	}
}
