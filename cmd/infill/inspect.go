package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/arrowio"
	"github.com/23skdu/longbow-infill/internal/config"
	"github.com/23skdu/longbow-infill/internal/dataset"
	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/tokenizer"
)

type inspectOptions struct {
	labeled bool
	header  bool
	limit   int
}

func newInspectCmd(cfg *config.Config) *cobra.Command {
	var o inspectOptions
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarise an Arrow batch file or tokenize a label\\ttext file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.labeled {
				return inspectLabeled(cmd, cfg, args[0], o)
			}
			return inspectBatches(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.VocabFile, "vocab", cfg.VocabFile, "vocabulary used to tokenize labeled text")
	f.BoolVar(&o.labeled, "labeled", false, "FILE is label\\ttext rather than Arrow IPC")
	f.BoolVar(&o.header, "header", true, "skip the first line of a labeled file")
	f.IntVar(&o.limit, "limit", 10, "rows to print, 0 for all")
	return cmd
}

func inspectBatches(cmd *cobra.Command, path string, o inspectOptions) error {
	batches, err := arrowio.ReadIPCFile(path)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	examples := 0
	for i, b := range batches {
		if o.limit == 0 || i < o.limit {
			fmt.Fprintf(w, "batch %d\texamples=%d\tsrc_len=%d\ttgt_len=%d\tlabels=%d\tmasks=%v %v %v\n",
				i, b.Size(), b.SourceLen(), b.TargetLen(), len(b.Labels),
				b.MaskSrcToSrc.Shape(), b.MaskTgtToSrcTgt.Shape(), b.MaskAttnToSrcTgtAttn.Shape())
		}
		examples += b.Size()
	}
	logger.Log.Info("inspected batches", "file", path, "batches", len(batches), "examples", examples)
	return nil
}

func inspectLabeled(cmd *cobra.Command, cfg *config.Config, path string, o inspectOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	rows, err := dataset.ReadLabeled(f, o.header)
	if err != nil {
		return err
	}

	var tok *tokenizer.Tokenizer
	if cfg.VocabFile != "" {
		if tok, err = tokenizer.Load(cfg.VocabFile, tokenizer.WithLowerCase(cfg.LowerCase)); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	for i, row := range rows {
		if o.limit > 0 && i >= o.limit {
			break
		}
		text := row.Text
		if tok != nil {
			ids, _ := tok.BuildForErnie(tok.Encode(row.Text))
			parts := make([]string, len(ids))
			for j, id := range ids {
				parts[j] = fmt.Sprint(id)
			}
			text = strings.Join(parts, " ")
		}
		fmt.Fprintf(w, "%s\t%s\n", row.Label, text)
	}
	logger.Log.Info("inspected labeled file", "file", path, "rows", len(rows))
	return nil
}
