package main

import (
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/arrowio"
	"github.com/23skdu/longbow-infill/internal/logger"
)

func newCollectCmd() *cobra.Command {
	var listen, out string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Receive batches over Arrow Flight and append them to an IPC file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := arrowio.CreateIPCFile(out)
			if err != nil {
				return err
			}
			err = arrowio.Serve(cmd.Context(), listen, arrowio.NewCollector(sink), func(addr string) {
				logger.Log.Info("flight collector listening", "addr", addr, "out", out)
			})
			if cerr := sink.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "localhost:3000", "address to serve Flight on")
	cmd.Flags().StringVar(&out, "out", "", "Arrow IPC output file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
