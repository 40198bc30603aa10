package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/arrowio"
	"github.com/23skdu/longbow-infill/internal/config"
	"github.com/23skdu/longbow-infill/internal/decode"
	"github.com/23skdu/longbow-infill/internal/tokenizer"
)

type formatOptions struct {
	predictions string
	batches     string
	out         string
}

func newFormatCmd(cfg *config.Config) *cobra.Command {
	var o formatOptions
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Turn decoded id sequences into <id>\\t<text> prediction lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd, cfg, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.VocabFile, "vocab", cfg.VocabFile, "vocabulary file, one token per line")
	f.StringVar(&cfg.AttnToken, "attn-token", cfg.AttnToken, "token placed in every attention slot")
	f.IntVar(&cfg.BeamWidth, "beam-width", cfg.BeamWidth, "beam width passed to the decoder")
	f.Float64Var(&cfg.LengthPenalty, "length-penalty", cfg.LengthPenalty, "length penalty passed to the decoder")
	f.StringVar(&o.predictions, "predictions", "", "decoder dump of id\\t<ids> lines")
	f.StringVar(&o.batches, "batches", "", "Arrow IPC batches; output follows their example order")
	f.StringVar(&o.out, "out", "", "output file, stdout when empty")
	_ = cmd.MarkFlagRequired("predictions")
	return cmd
}

func runFormat(cmd *cobra.Command, cfg *config.Config, o formatOptions) (err error) {
	if cfg.VocabFile == "" {
		return fmt.Errorf("vocab_file is required")
	}
	tok, err := tokenizer.Load(cfg.VocabFile)
	if err != nil {
		return err
	}
	formatter := decode.NewFormatter(tokenizer.NewReverseVocab(tok))

	pf, err := os.Open(o.predictions)
	if err != nil {
		return err
	}
	preds, err := decode.ReadIDLines(pf)
	pf.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", o.predictions, err)
	}

	w, closeOut, err := openOutput(cmd, o.out)
	if err != nil {
		return err
	}
	defer closeInto(&err, closeOut)

	if o.batches == "" {
		bw := bufio.NewWriter(w)
		for _, p := range preds {
			if err := formatter.WriteLine(bw, p.ID, p.IDs); err != nil {
				return err
			}
		}
		return bw.Flush()
	}

	attnID, err := tok.ID(cfg.AttnToken)
	if err != nil {
		return err
	}
	batches, err := arrowio.ReadIPCFile(o.batches)
	if err != nil {
		return err
	}
	params := decode.Params{
		EOS:             tok.SepID,
		SOS:             tok.CLSID,
		AttnID:          attnID,
		MaxDecodeLen:    cfg.MaxDecodeLen,
		MaxEncodeLen:    cfg.MaxEncodeLen,
		BeamWidth:       cfg.BeamWidth,
		LengthPenalty:   cfg.LengthPenalty,
		TargetSegmentID: cfg.TargetSegmentID,
	}
	_, err = formatter.Evaluate(cmd.Context(), decode.NewLookupDecoder(preds), batches, params, w)
	return err
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// closeInto runs closeFn and keeps its error unless *err is already set.
func closeInto(err *error, closeFn func() error) {
	if cerr := closeFn(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close output: %w", cerr)
	}
}
