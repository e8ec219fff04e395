package wire

import (
	"bytes"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/buffwatch/internal/core"
)

// Field numbers of the buff event-list encoding.
const (
	fieldListEntry protowire.Number = 2

	fieldEntryOpType    protowire.Number = 1
	fieldEntrySlot      protowire.Number = 2
	fieldEntryTimeOrUID protowire.Number = 3
	fieldEntryPayload   protowire.Number = 5

	fieldPayloadType protowire.Number = 1
	fieldPayloadData protowire.Number = 2

	fieldDataOwnerSlot  protowire.Number = 1
	fieldDataBuffID     protowire.Number = 2
	fieldDataStack      protowire.Number = 3
	fieldDataBuffID2    protowire.Number = 5
	fieldDataTime1      protowire.Number = 6
	fieldDataTime2      protowire.Number = 7
	fieldDataFlag       protowire.Number = 8
	fieldDataField10    protowire.Number = 10
	fieldDataDurationMs protowire.Number = 11
	fieldDataExtra      protowire.Number = 12
)

// The Entry, Payload and Data levels all land in one BuffEvent; their field
// sets are disjoint.
var (
	dataSchema = schema[core.BuffEvent]{
		fieldDataOwnerSlot:  int32Field(func(e *core.BuffEvent, v int32) { e.OwnerSlot = core.Some(v) }),
		fieldDataBuffID:     int32Field(func(e *core.BuffEvent, v int32) { e.BuffID = core.Some(v) }),
		fieldDataStack:      int32Field(func(e *core.BuffEvent, v int32) { e.Stack = core.Some(v) }),
		fieldDataBuffID2:    int32Field(func(e *core.BuffEvent, v int32) { e.Aux.BuffID2 = core.Some(v) }),
		fieldDataTime1:      int32Field(func(e *core.BuffEvent, v int32) { e.Aux.Time1 = core.Some(v) }),
		fieldDataTime2:      int32Field(func(e *core.BuffEvent, v int32) { e.Aux.Time2 = core.Some(v) }),
		fieldDataFlag:       int32Field(func(e *core.BuffEvent, v int32) { e.Aux.Flag = core.Some(v) }),
		fieldDataField10:    int32Field(func(e *core.BuffEvent, v int32) { e.Aux.Field10 = core.Some(v) }),
		fieldDataDurationMs: int32Field(func(e *core.BuffEvent, v int32) { e.DurationMs = core.Some(v) }),
		fieldDataExtra:      bytesField(func(e *core.BuffEvent, b []byte) { e.Aux.Extra = bytes.Clone(b) }),
	}

	payloadSchema = schema[core.BuffEvent]{
		fieldPayloadType: int32Field(func(e *core.BuffEvent, v int32) { e.Aux.PayloadType = core.Some(v) }),
		fieldPayloadData: bytesField(func(e *core.BuffEvent, b []byte) { dataSchema.decode(b, e) }),
	}

	entrySchema = schema[core.BuffEvent]{
		fieldEntryOpType:    int32Field(func(e *core.BuffEvent, v int32) { e.OpType = core.Some(v) }),
		fieldEntrySlot:      int32Field(func(e *core.BuffEvent, v int32) { e.Slot = core.Some(v) }),
		fieldEntryTimeOrUID: int32Field(func(e *core.BuffEvent, v int32) { e.Aux.TimeOrUID = core.Some(v) }),
		fieldEntryPayload:   bytesField(func(e *core.BuffEvent, b []byte) { payloadSchema.decode(b, e) }),
	}

	listSchema = schema[[]core.BuffEvent]{
		fieldListEntry: bytesField(func(list *[]core.BuffEvent, b []byte) {
			var e core.BuffEvent
			if entrySchema.decode(b, &e) {
				*list = append(*list, e)
			}
		}),
	}
)

// DecodeBuffEvents decodes one event-list payload into buff events, in wire order.
//
// It never fails. A nested message whose declared length runs past its
// parent is decoded from the bytes that remain. An entry whose tag or varint
// cannot be read is dropped, and a malformed list yields the entries decoded
// before the damage. Events without a buff ID are kept;
// callers treat them as lite events.
func DecodeBuffEvents(payload []byte) []core.BuffEvent {
	var list []core.BuffEvent
	listSchema.decode(payload, &list)
	return list
}
