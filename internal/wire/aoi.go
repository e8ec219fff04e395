package wire

import "google.golang.org/protobuf/encoding/protowire"

// Notify method IDs carrying area-of-interest deltas.
const (
	MethodSyncNearDeltaInfo uint32 = 0x2D
	MethodSyncToMeDeltaInfo uint32 = 0x2E
)

const (
	fieldNearDeltaInfos protowire.Number = 1

	fieldToMeDeltaInfo protowire.Number = 1
	fieldToMeBaseDelta protowire.Number = 1

	fieldDeltaEntityUUID protowire.Number = 1
	fieldDeltaBuffList   protowire.Number = 10
)

// Delta is the part of one AOI delta that carries buff information.
type Delta struct {
	EntityUUID uint64
	// BuffList is the raw event-list payload, nil if the delta has none.
	// It aliases the decoded notification payload.
	BuffList []byte
}

var (
	deltaSchema = schema[Delta]{
		fieldDeltaEntityUUID: uint64Field(func(d *Delta, v uint64) { d.EntityUUID = v }),
		fieldDeltaBuffList:   bytesField(func(d *Delta, b []byte) { d.BuffList = b }),
	}

	nearSchema = schema[[]Delta]{
		fieldNearDeltaInfos: bytesField(func(list *[]Delta, b []byte) {
			var d Delta
			deltaSchema.decode(b, &d)
			*list = append(*list, d)
		}),
	}

	toMeInfoSchema = schema[[]Delta]{
		fieldToMeBaseDelta: bytesField(func(list *[]Delta, b []byte) {
			var d Delta
			deltaSchema.decode(b, &d)
			*list = append(*list, d)
		}),
	}

	toMeSchema = schema[[]Delta]{
		fieldToMeDeltaInfo: bytesField(func(list *[]Delta, b []byte) { toMeInfoSchema.decode(b, list) }),
	}
)

// DecodeNearDeltas extracts every delta of a SyncNearDeltaInfo payload.
func DecodeNearDeltas(payload []byte) []Delta {
	var list []Delta
	nearSchema.decode(payload, &list)
	return list
}

// DecodeToMeDelta extracts the base delta of a SyncToMeDeltaInfo payload.
// ok is false when the payload carries no base delta.
func DecodeToMeDelta(payload []byte) (d Delta, ok bool) {
	var list []Delta
	toMeSchema.decode(payload, &list)
	if len(list) == 0 {
		return Delta{}, false
	}
	return list[len(list)-1], true
}

// DecodeDeltas dispatches on the notify method ID. Unknown methods yield nil.
func DecodeDeltas(methodID uint32, payload []byte) []Delta {
	switch methodID {
	case MethodSyncNearDeltaInfo:
		return DecodeNearDeltas(payload)
	case MethodSyncToMeDeltaInfo:
		if d, ok := DecodeToMeDelta(payload); ok {
			return []Delta{d}
		}
	}
	return nil
}
