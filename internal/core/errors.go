// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers match them with errors.Is.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("buffwatch: packet too short")
	ErrUnsupportedProto = errors.New("buffwatch: unsupported protocol")
	ErrUnsupportedLink  = errors.New("buffwatch: unsupported link type")

	// IP reassembly errors
	ErrFragmentInvalid = errors.New("buffwatch: invalid fragment")
	ErrFragmentLimit   = errors.New("buffwatch: fragment reassembly limit exceeded")

	// Stream errors
	ErrImplausibleLength = errors.New("buffwatch: implausible frame length")
	ErrPendingOverflow   = errors.New("buffwatch: pending segment bytes exceeded")

	// Frame errors
	ErrFrameTruncated = errors.New("buffwatch: frame truncated")
	ErrDecompress     = errors.New("buffwatch: decompression failed")

	// Capture errors
	ErrDeviceNotFound = errors.New("buffwatch: capture device not found")

	// Plugin errors
	ErrPluginNotFound = errors.New("buffwatch: plugin not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("buffwatch: invalid configuration")
)
