// Package core defines core types.
package core

import "strconv"

// Labels represents key-value metadata attached to reported events.
type Labels map[string]string

// Label naming constants following {subject}.{field} convention.
const (
	LabelBuffOp       = "buff.op"
	LabelBuffSlot     = "buff.slot"
	LabelBuffOwner    = "buff.owner"
	LabelBuffID       = "buff.id"
	LabelBuffStack    = "buff.stack"
	LabelBuffDuration = "buff.duration_ms"
	LabelEntityUUID   = "aoi.entity_uuid"
	LabelMethodID     = "aoi.method_id"
)

// EventLabels flattens the identifying fields of an event. Absent fields are omitted.
func EventLabels(e *BuffEvent) Labels {
	l := make(Labels, 8)
	put := func(k string, v OptInt32) {
		if v.Valid {
			l[k] = v.String()
		}
	}
	put(LabelBuffOp, e.OpType)
	put(LabelBuffSlot, e.Slot)
	put(LabelBuffOwner, e.OwnerSlot)
	put(LabelBuffID, e.BuffID)
	put(LabelBuffStack, e.Stack)
	put(LabelBuffDuration, e.DurationMs)
	if e.EntityUUID != 0 {
		l[LabelEntityUUID] = strconv.FormatUint(e.EntityUUID, 10)
	}
	if e.MethodID != 0 {
		l[LabelMethodID] = "0x" + strconv.FormatUint(uint64(e.MethodID), 16)
	}
	return l
}
