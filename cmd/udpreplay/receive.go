package main

import (
	"github.com/spf13/cobra"

	"github.com/sofiworker/udpreplay/gnet/transport"
)

func (a *app) receiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Capture UDP datagrams into a dataset",
		Example: `  udpreplay receive --output ./captures --name run1 --port 5000
  udpreplay receive --output ./captures --name mc --mode multicast --address 239.1.2.3 --port 5000 --max-packets 10000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.session().Receive(cmd.Context(), a.cfg.Receive)
			return err
		},
	}

	fs := cmd.Flags()
	fs.String("output", "", "directory the dataset is created in")
	fs.String("name", "", "dataset name")
	transportFlags(fs)
	fs.Uint64("max-packets", 0, "stop after this many datagrams, 0 for no limit")
	fs.Int("rotate", 0, "datagrams per capture file, 0 for the default")
	fs.Int("read-buffer", transport.DefaultReadBuffer, "requested socket receive buffer in bytes")
	return cmd
}
