package protocol

import (
	"time"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/wire"
)

// DeltaSink receives every AOI delta. Data is nil for deltas without a buff
// list, and is only valid during the call.
type DeltaSink func(p core.BuffPayload)

// HandleAOI routes both area-of-interest delta notifications to sink.
func (d *Dispatcher) HandleAOI(sink DeltaSink) {
	h := func(n *Notify, now time.Time) {
		for _, delta := range wire.DecodeDeltas(n.MethodID, n.Payload) {
			sink(core.BuffPayload{
				EntityUUID: delta.EntityUUID,
				MethodID:   n.MethodID,
				Timestamp:  now,
				Data:       delta.BuffList,
			})
		}
	}
	d.Handle(wire.MethodSyncNearDeltaInfo, h)
	d.Handle(wire.MethodSyncToMeDeltaInfo, h)
}
