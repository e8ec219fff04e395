// Package core defines core types with zero external dependencies.
package core

import (
	"strconv"
	"time"
)

// OptInt32 is an int32 that may be absent from the wire.
type OptInt32 struct {
	Value int32
	Valid bool
}

// Some returns a present OptInt32 holding v.
func Some(v int32) OptInt32 {
	return OptInt32{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (o OptInt32) Get() (int32, bool) {
	return o.Value, o.Valid
}

// Or returns the value, or def when absent.
func (o OptInt32) Or(def int32) int32 {
	if !o.Valid {
		return def
	}
	return o.Value
}

// String renders the value, or "null" when absent.
func (o OptInt32) String() string {
	if !o.Valid {
		return "null"
	}
	return strconv.FormatInt(int64(o.Value), 10)
}

// MarshalJSON encodes an absent value as JSON null.
func (o OptInt32) MarshalJSON() ([]byte, error) {
	return []byte(o.String()), nil
}

// Buff operation codes. They are inferred from observed traffic; other
// values exist and are treated as add/update.
const (
	BuffOpAddOrUpdate int32 = 1
	BuffOpRemove      int32 = 2
)

// BuffAux holds auxiliary fields whose meaning is not confirmed.
// They are kept verbatim so that nothing observed on the wire is lost.
type BuffAux struct {
	TimeOrUID   OptInt32 `json:"time_or_uid"`  // entry field 3
	PayloadType OptInt32 `json:"payload_type"` // payload field 1 (11, 18, ...)
	BuffID2     OptInt32 `json:"buff_id2"`     // data field 5, usually equal to BuffID
	Time1       OptInt32 `json:"time1"`        // data field 6
	Time2       OptInt32 `json:"time2"`        // data field 7
	Flag        OptInt32 `json:"flag"`         // data field 8
	Field10     OptInt32 `json:"field10"`      // data field 10
	Extra       []byte   `json:"extra"`        // data field 12, opaque
}

// BuffEvent is one status-effect lifecycle record.
//
// An event without BuffID is a "lite" event: it carries only the slot,
// and is usually a removal or placeholder.
type BuffEvent struct {
	OpType     OptInt32 `json:"op_type"`
	Slot       OptInt32 `json:"slot"`
	OwnerSlot  OptInt32 `json:"owner_slot"`
	BuffID     OptInt32 `json:"buff_id"`
	Stack      OptInt32 `json:"stack"`
	DurationMs OptInt32 `json:"duration_ms"`
	Aux        BuffAux  `json:"aux"`

	// Set by the dispatcher, not by the record decoder.
	EntityUUID uint64    `json:"entity_uuid,omitempty"`
	MethodID   uint32    `json:"method_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsLite reports whether the event carries no buff information.
func (e *BuffEvent) IsLite() bool {
	return !e.BuffID.Valid
}

// IsRemove reports whether the event removes a buff.
func (e *BuffEvent) IsRemove() bool {
	return e.OpType.Valid && e.OpType.Value == BuffOpRemove
}

// BuffPayload is the raw event-list bytes of one AOI delta, before record decoding.
type BuffPayload struct {
	EntityUUID uint64
	MethodID   uint32
	Timestamp  time.Time
	Data       []byte
}
