package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/plugins/capture/pcap"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture devices",
	Long: `List the capture devices visible to libpcap as "[i] name | description | addrs".

The index or any part of the name or description can be passed to
"live --device".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := pcap.ListDevices()
		if err != nil {
			return err
		}
		return runList(cmd.OutOrStdout(), devs)
	},
}

func runList(w io.Writer, devs []pcap.Device) error {
	if len(devs) == 0 {
		fmt.Fprintln(w, "no capture devices found")
		return nil
	}
	for _, d := range devs {
		fmt.Fprintln(w, pcap.FormatDevice(d))
	}
	return nil
}
