// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/buffwatch/pkg/plugin"
	"firestige.xyz/buffwatch/plugins/capture/afpacket"
	"firestige.xyz/buffwatch/plugins/capture/pcap"
	"firestige.xyz/buffwatch/plugins/reporter/console"
	"firestige.xyz/buffwatch/plugins/reporter/dump"
	"firestige.xyz/buffwatch/plugins/reporter/kafka"
)

func init() {
	// Register capture plugins
	plugin.RegisterCapturer("pcap", pcap.NewCapturer)
	plugin.RegisterCapturer("pcapfile", pcap.NewFileCapturer)
	plugin.RegisterCapturer("afpacket", afpacket.NewAFPacketCapturer)

	// Register reporter plugins
	plugin.RegisterReporter("console", console.NewConsoleReporter)
	plugin.RegisterReporter("kafka", kafka.NewKafkaReporter)
	plugin.RegisterReporter("dump", dump.NewDumpReporter)
}
