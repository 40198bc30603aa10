package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/dataset"
	"github.com/23skdu/longbow-infill/internal/logger"
)

func newReformatCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "reformat",
		Short: "Rewrite qid\\tlabel\\ttext rows as label\\ttext",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			r, err := os.Open(in)
			if err != nil {
				return err
			}
			defer r.Close()

			w, closeOut, err := openOutput(cmd, out)
			if err != nil {
				return err
			}
			defer closeInto(&err, closeOut)

			n, err := dataset.ReformatTSV(r, w)
			if err != nil {
				return err
			}
			logger.Log.Info("reformatted", "rows", n, "in", in)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input TSV file")
	cmd.Flags().StringVar(&out, "out", "", "output file, stdout when empty")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
