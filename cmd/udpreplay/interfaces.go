package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/gnet/link"
)

var listLinks = link.List

func (a *app) interfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List interfaces usable with --interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			links, err := listLinks()
			if err != nil {
				return gerr.Interface("cli.interfaces", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME\tSTATE\tMTU\tCAPS\tIPV4")
			for _, l := range links {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", l.Index, l.Name, linkState(l), l.MTU, caps(l), joinIPs(l))
			}
			return tw.Flush()
		},
	}
}

func linkState(l link.Link) string {
	if l.OperState != "" {
		return l.OperState
	}
	if l.Up {
		return "up"
	}
	return "down"
}

func caps(l link.Link) string {
	var c []string
	if l.CanBroadcast() {
		c = append(c, "broadcast")
	}
	if l.CanMulticast() {
		c = append(c, "multicast")
	}
	if len(c) == 0 {
		return "-"
	}
	return strings.Join(c, ",")
}

func joinIPs(l link.Link) string {
	if len(l.Addrs) == 0 {
		return "-"
	}
	s := make([]string, 0, len(l.Addrs))
	for _, ip := range l.Addrs {
		s = append(s, ip.String())
	}
	return strings.Join(s, ",")
}
