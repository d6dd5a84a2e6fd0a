package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofiworker/udpreplay/gcodec"
	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/gnet/dataset"
	"github.com/sofiworker/udpreplay/gnet/session"
	"github.com/sofiworker/udpreplay/gnet/stats"
)

type infoConfig struct {
	Dataset string `json:"dataset"`
	Raw     bool   `json:"raw"`
	Format  string `json:"format"`
}

type infoOutput struct {
	Name        string     `yaml:"name" json:"name"`
	Path        string     `yaml:"path" json:"path"`
	LinkType    string     `yaml:"link_type" json:"link_type"`
	Files       int        `yaml:"files" json:"files"`
	Packets     uint64     `yaml:"packets" json:"packets"`
	Size        int64      `yaml:"size" json:"size"`
	PayloadSize uint64     `yaml:"payload_bytes" json:"payload_bytes"`
	Start       *time.Time `yaml:"start,omitempty" json:"start,omitempty"`
	End         *time.Time `yaml:"end,omitempty" json:"end,omitempty"`
	Span        string     `yaml:"span" json:"span"`
	Indexed     bool       `yaml:"indexed" json:"indexed"`
}

func (a *app) infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "info",
		Short:   "Print dataset metadata",
		Example: "  udpreplay info --dataset ./captures/run1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := a.cfg.Info
			if o.Dataset == "" {
				return gerr.Config("cli.info", "--dataset is required")
			}
			info, err := session.Inspect(o.Dataset, o.Raw)
			if err != nil {
				return err
			}
			return printInfo(cmd, info, o.Format)
		},
	}
	fs := cmd.Flags()
	fs.String("dataset", "", "dataset directory, a single .pcap/.pcapng file or a .csv table")
	fs.Bool("raw", false, "count whole frames instead of UDP payloads")
	fs.String("format", "text", "output format: text, yaml or json")
	return cmd
}

func printInfo(cmd *cobra.Command, info dataset.Info, format string) error {
	out := cmd.OutOrStdout()
	if format != "" && format != "text" {
		codec, err := gcodec.ByName(format)
		if err != nil {
			return gerr.Config("cli.info", "unknown format %q", format)
		}
		o := infoOutput{
			Name:        info.Name,
			Path:        info.Path,
			LinkType:    info.LinkType,
			Files:       info.FileCount,
			Packets:     info.PacketCount,
			Size:        info.TotalSize,
			PayloadSize: info.TotalBytes,
			Span:        info.Span().String(),
			Indexed:     info.Indexed,
		}
		if !info.Start.IsZero() {
			o.Start, o.End = &info.Start, &info.End
		}
		return codec.Encode(out, o)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", info.Name)
	fmt.Fprintf(tw, "path:\t%s\n", info.Path)
	fmt.Fprintf(tw, "link type:\t%s\n", info.LinkType)
	fmt.Fprintf(tw, "files:\t%d\n", info.FileCount)
	fmt.Fprintf(tw, "packets:\t%d\n", info.PacketCount)
	fmt.Fprintf(tw, "size:\t%s\n", stats.FormatBytes(uint64(info.TotalSize)))
	fmt.Fprintf(tw, "payload:\t%s\n", stats.FormatBytes(info.TotalBytes))
	if !info.Start.IsZero() {
		fmt.Fprintf(tw, "start:\t%s\n", info.Start.Format(time.RFC3339Nano))
		fmt.Fprintf(tw, "end:\t%s\n", info.End.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(tw, "span:\t%s\n", info.Span())
	fmt.Fprintf(tw, "indexed:\t%t\n", info.Indexed)
	return tw.Flush()
}
