package pcap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/buffwatch/internal/core"
)

// Device is a capture device as listed by libpcap, numbered in listing order.
type Device struct {
	Index       int
	Name        string
	Description string
	Addresses   []string
}

// ListDevices enumerates the capture devices visible to libpcap.
func ListDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}
	devs := make([]Device, 0, len(ifs))
	for i, iface := range ifs {
		d := Device{Index: i, Name: iface.Name, Description: iface.Description}
		for _, a := range iface.Addresses {
			if a.IP != nil {
				d.Addresses = append(d.Addresses, a.IP.String())
			}
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// ResolveDevice picks a device from devs.
//
// An empty selector picks the first device. A numeric selector is an index
// into devs. Anything else matches the first device whose name or description
// contains it, ignoring case.
func ResolveDevice(devs []Device, sel string) (Device, error) {
	if len(devs) == 0 {
		return Device{}, fmt.Errorf("%w: no capture devices", core.ErrDeviceNotFound)
	}

	sel = strings.TrimSpace(sel)
	if sel == "" {
		return devs[0], nil
	}

	if idx, err := strconv.Atoi(sel); err == nil {
		if idx < 0 || idx >= len(devs) {
			return Device{}, fmt.Errorf("%w: index %d out of range [0,%d)", core.ErrDeviceNotFound, idx, len(devs))
		}
		return devs[idx], nil
	}

	needle := strings.ToLower(sel)
	for _, d := range devs {
		if strings.Contains(strings.ToLower(d.Name), needle) ||
			strings.Contains(strings.ToLower(d.Description), needle) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", core.ErrDeviceNotFound, sel)
}

// FormatDevice renders d as "[i] name | description | addrs".
func FormatDevice(d Device) string {
	addrs := "-"
	if len(d.Addresses) > 0 {
		addrs = strings.Join(d.Addresses, ",")
	}
	desc := d.Description
	if desc == "" {
		desc = "-"
	}
	return fmt.Sprintf("[%d] %s | %s | %s", d.Index, d.Name, desc, addrs)
}

// LookupDevice resolves sel against the devices libpcap currently sees.
func LookupDevice(sel string) (Device, error) {
	devs, err := ListDevices()
	if err != nil {
		return Device{}, err
	}
	return ResolveDevice(devs, sel)
}
