package main

import (
	"github.com/spf13/cobra"

	"github.com/sofiworker/udpreplay/gnet/dataset"
	"github.com/sofiworker/udpreplay/gnet/transport"
)

func (a *app) sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Replay a dataset as UDP datagrams",
		Example: `  udpreplay send --dataset ./captures/run1 --address 127.0.0.1 --port 5000
  udpreplay send --dataset trace.pcapng --mode multicast --address 239.1.2.3 --port 5000 --interface eth0 --rate 10M
  udpreplay send --dataset frames.csv --interval 200ms --address 127.0.0.1 --port 5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.session().Send(cmd.Context(), a.cfg.Send)
			return err
		},
	}

	fs := cmd.Flags()
	fs.String("dataset", "", "dataset directory, a single .pcap/.pcapng file or a .csv table")
	fs.String("format", "", "input format: pcap or csv (default: by file extension)")
	fs.Duration("interval", dataset.DefaultCSVInterval, "interval between csv rows")
	transportFlags(fs)
	fs.String("rate", "", "target bitrate such as 500k, 10M or 1G; empty keeps recorded timing")
	fs.String("timing", "hybrid", "wait strategy: hybrid, sleep or spin")
	fs.Int("ttl", transport.DefaultTTL, "multicast TTL")
	fs.Bool("loopback", true, "loop multicast datagrams back to this host")
	fs.Duration("skip", 0, "start replay this far into the dataset")
	fs.Bool("raw", false, "send whole frames instead of extracting the UDP payload")
	return cmd
}
