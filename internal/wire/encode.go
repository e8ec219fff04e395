package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/buffwatch/internal/core"
)

// The encoders below produce the same layout the decoders read. They are
// used to build fixtures and to re-encode decoded events.

func appendInt32(b []byte, num protowire.Number, v core.OptInt32) []byte {
	if !v.Valid {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(uint32(v.Value)))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func hasData(e *core.BuffEvent) bool {
	return e.OwnerSlot.Valid || e.BuffID.Valid || e.Stack.Valid || e.DurationMs.Valid ||
		e.Aux.BuffID2.Valid || e.Aux.Time1.Valid || e.Aux.Time2.Valid || e.Aux.Flag.Valid ||
		e.Aux.Field10.Valid || e.Aux.Extra != nil
}

// AppendBuffEvent appends the Entry encoding of e (without the list tag).
// Payload and Data levels are omitted when none of their fields are set.
func AppendBuffEvent(b []byte, e *core.BuffEvent) []byte {
	b = appendInt32(b, fieldEntryOpType, e.OpType)
	b = appendInt32(b, fieldEntrySlot, e.Slot)
	b = appendInt32(b, fieldEntryTimeOrUID, e.Aux.TimeOrUID)

	var payload []byte
	payload = appendInt32(payload, fieldPayloadType, e.Aux.PayloadType)
	if hasData(e) {
		var data []byte
		data = appendInt32(data, fieldDataOwnerSlot, e.OwnerSlot)
		data = appendInt32(data, fieldDataBuffID, e.BuffID)
		data = appendInt32(data, fieldDataStack, e.Stack)
		data = appendInt32(data, fieldDataBuffID2, e.Aux.BuffID2)
		data = appendInt32(data, fieldDataTime1, e.Aux.Time1)
		data = appendInt32(data, fieldDataTime2, e.Aux.Time2)
		data = appendInt32(data, fieldDataFlag, e.Aux.Flag)
		data = appendInt32(data, fieldDataField10, e.Aux.Field10)
		data = appendInt32(data, fieldDataDurationMs, e.DurationMs)
		if e.Aux.Extra != nil {
			data = appendMessage(data, fieldDataExtra, e.Aux.Extra)
		}
		payload = appendMessage(payload, fieldPayloadData, data)
	}
	if len(payload) > 0 {
		b = appendMessage(b, fieldEntryPayload, payload)
	}
	return b
}

// EncodeBuffEvents encodes events as one event-list payload.
func EncodeBuffEvents(events []core.BuffEvent) []byte {
	var b []byte
	for i := range events {
		b = appendMessage(b, fieldListEntry, AppendBuffEvent(nil, &events[i]))
	}
	return b
}

// AppendDelta appends the encoding of one AOI delta.
func AppendDelta(b []byte, d Delta) []byte {
	if d.EntityUUID != 0 {
		b = protowire.AppendTag(b, fieldDeltaEntityUUID, protowire.VarintType)
		b = protowire.AppendVarint(b, d.EntityUUID)
	}
	if d.BuffList != nil {
		b = appendMessage(b, fieldDeltaBuffList, d.BuffList)
	}
	return b
}

// EncodeNearDeltas encodes a SyncNearDeltaInfo payload.
func EncodeNearDeltas(deltas []Delta) []byte {
	var b []byte
	for _, d := range deltas {
		b = appendMessage(b, fieldNearDeltaInfos, AppendDelta(nil, d))
	}
	return b
}

// EncodeToMeDelta encodes a SyncToMeDeltaInfo payload.
func EncodeToMeDelta(d Delta) []byte {
	info := appendMessage(nil, fieldToMeBaseDelta, AppendDelta(nil, d))
	return appendMessage(nil, fieldToMeDeltaInfo, info)
}
