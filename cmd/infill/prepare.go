package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/arrowio"
	"github.com/23skdu/longbow-infill/internal/config"
	"github.com/23skdu/longbow-infill/internal/dataset"
	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/monitoring"
	"github.com/23skdu/longbow-infill/internal/noise"
	"github.com/23skdu/longbow-infill/internal/pipeline"
	"github.com/23skdu/longbow-infill/internal/seq2seq"
	"github.com/23skdu/longbow-infill/internal/tokenizer"
)

type prepareOptions struct {
	out        string
	flightAddr string
	flightPath []string
	shuffle    bool
	tokenize   bool
}

func newPrepareCmd(cfg *config.Config, mon *monitoring.HealthMonitor) *cobra.Command {
	var o prepareOptions
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Compose training batches from id\\tsource\\ttarget shards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(cmd.Context(), cfg, o, mon)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.VocabFile, "vocab", cfg.VocabFile, "vocabulary file, one token per line")
	f.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory of tab separated shards")
	f.BoolVar(&cfg.LowerCase, "lower-case", cfg.LowerCase, "lowercase and strip accents before word pieces")
	f.IntVar(&cfg.MaxEncodeLen, "max-encode-len", cfg.MaxEncodeLen, "source tokens kept per record")
	f.IntVar(&cfg.MaxDecodeLen, "max-decode-len", cfg.MaxDecodeLen, "target tokens kept per record")
	f.IntVar(&cfg.TargetSegmentID, "tgt-type-id", cfg.TargetSegmentID, "segment id given to target tokens")
	f.Float64Var(&cfg.NoiseProb, "noise-prob", cfg.NoiseProb, "fraction of target tokens to corrupt")
	f.BoolVar(&cfg.UseRandomNoise, "use-random-noice", cfg.UseRandomNoise, "replace with random ids instead of the noise token")
	f.StringVar(&cfg.AttnToken, "attn-token", cfg.AttnToken, "token placed in every attention slot")
	f.StringVar(&cfg.NoiseToken, "noise-token", cfg.NoiseToken, "token used as noise when random noise is off")
	f.IntVar(&cfg.BatchSize, "bsz", cfg.BatchSize, "examples per batch")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent composers")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "noise and shuffle seed, 0 seeds from the clock")
	f.BoolVar(&cfg.FailFast, "fail-fast", cfg.FailFast, "abort on the first bad record")
	f.BoolVar(&o.shuffle, "shuffle", false, "load all shards and shuffle before composing")
	f.BoolVar(&o.tokenize, "tokenize", false, "run the word piece tokenizer instead of splitting on whitespace")
	f.StringVar(&o.out, "out", "", "Arrow IPC output file")
	f.StringVar(&o.flightAddr, "flight", "", "host:port of an Arrow Flight collector")
	f.StringSliceVar(&o.flightPath, "flight-path", arrowio.DefaultPath, "flight descriptor path")
	return cmd
}

func runPrepare(ctx context.Context, cfg *config.Config, o prepareOptions, mon *monitoring.HealthMonitor) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.CheckPaths(); err != nil {
		return err
	}
	if (o.out == "") == (o.flightAddr == "") {
		return fmt.Errorf("exactly one of --out or --flight is required")
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	tok, err := tokenizer.Load(cfg.VocabFile, tokenizer.WithLowerCase(cfg.LowerCase))
	if err != nil {
		return err
	}
	composer, err := buildComposer(cfg, tok)
	if err != nil {
		return err
	}

	src, closeSrc, err := openSource(cfg, tok, o)
	if err != nil {
		return err
	}
	defer closeSrc()

	sink, err := openSink(ctx, o)
	if err != nil {
		return err
	}

	p, err := pipeline.New(composer, pipeline.Config{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
		FailFast:  cfg.FailFast,
		Progress: func(s pipeline.Stats) {
			mon.RecordProgress(s.Records, s.Skipped, s.Batches)
		},
	})
	if err != nil {
		sink.Close()
		return err
	}

	logger.Log.Info("preparing batches",
		"data_dir", cfg.DataDir,
		"vocab_size", tok.Vocab.Size(),
		"batch_size", cfg.BatchSize,
		"noise_prob", cfg.NoiseProb,
		"seed", cfg.Seed)

	mon.SetPhase("preparing")
	stats, err := p.Run(ctx, src, sink)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		mon.SetPhase("failed")
		mon.AddAlert("error", "pipeline", err.Error())
		return err
	}
	mon.SetPhase("done")
	logger.Log.Info("prepare finished", "records", stats.Records, "skipped", stats.Skipped, "batches", stats.Batches)
	return nil
}

func buildComposer(cfg *config.Config, tok *tokenizer.Tokenizer) (*seq2seq.Composer, error) {
	attnID, err := tok.ID(cfg.AttnToken)
	if err != nil {
		return nil, err
	}

	var inj *noise.Injector
	if cfg.NoiseProb > 0 {
		nc := noise.Config{Prob: cfg.NoiseProb, Mode: noise.ModeSentinel, VocabSize: tok.Vocab.Size()}
		if cfg.UseRandomNoise {
			nc.Mode = noise.ModeRandom
		} else if nc.SentinelID, err = tok.ID(cfg.NoiseToken); err != nil {
			return nil, err
		}
		if inj, err = noise.NewInjector(nc); err != nil {
			return nil, err
		}
	}

	return seq2seq.NewComposer(seq2seq.Options{
		MaxEncodeLen:    cfg.MaxEncodeLen,
		MaxDecodeLen:    cfg.MaxDecodeLen,
		TargetSegmentID: cfg.TargetSegmentID,
		AttnID:          attnID,
		PadID:           tok.PadID,
	}, tok, inj)
}

// openSource reads pre-tokenized columns unless o.tokenize asks for the full
// tokenizer.
func openSource(cfg *config.Config, tok *tokenizer.Tokenizer, o prepareOptions) (pipeline.Source, func(), error) {
	enc := dataset.EncoderFunc(tok.EncodePretokenized)
	if o.tokenize {
		enc = tok.Encode
	}
	if !o.shuffle {
		d, err := dataset.OpenDir(cfg.DataDir, enc)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	}

	records, bad, err := dataset.ReadDir(cfg.DataDir, enc)
	if err != nil {
		return nil, nil, err
	}
	if len(bad) > 0 {
		if cfg.FailFast {
			return nil, nil, bad[0]
		}
		logger.Log.Warn("skipped malformed lines", "count", len(bad), "first", bad[0])
	}
	dataset.Shuffle(records, rand.New(rand.NewSource(cfg.Seed)))
	return pipeline.NewSliceSource(records), func() {}, nil
}

func openSink(ctx context.Context, o prepareOptions) (arrowio.Sink, error) {
	if o.out != "" {
		return arrowio.CreateIPCFile(o.out)
	}
	host, port, err := splitAddr(o.flightAddr)
	if err != nil {
		return nil, err
	}
	fs := arrowio.NewFlightSink(host, port, o.flightPath...)
	if err := fs.Connect(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

func splitAddr(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("flight address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("flight address %q: %w", addr, err)
	}
	return host, port, nil
}
