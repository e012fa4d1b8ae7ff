package scb

import (
	"encoding/binary"
	"fmt"
)

// HintRecordSize is the fixed wire size of a HintRecord: seq(8) +
// reason(4) + target_tid(4) + deadline_ns(8).
const HintRecordSize = 24

// HintRecord is one element of the kernel's hint ring: an advisory,
// edge-triggered request that a specific worker yield. The ring is a
// single-producer (kernel), single-consumer (the dedicated drain
// thread) ordered stream.
type HintRecord struct {
	Seq        uint64
	Reason     HintReason
	TargetTID  uint32
	DeadlineNs uint64
}

// Marshal encodes r into its 24-byte wire representation,
// little-endian, matching the natural-endian field layout spec.md §6
// requires for this target.
func (r HintRecord) Marshal() [HintRecordSize]byte {
	var buf [HintRecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], r.Seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Reason))
	binary.LittleEndian.PutUint32(buf[12:16], r.TargetTID)
	binary.LittleEndian.PutUint64(buf[16:24], r.DeadlineNs)
	return buf
}

// UnmarshalHintRecord decodes a 24-byte wire record. A payload shorter
// than HintRecordSize is a truncated record (spec.md §4.4) and is
// rejected rather than zero-filled. An out-of-range reason is rejected
// per the closed-enum decoding-boundary rule (spec.md §9).
func UnmarshalHintRecord(buf []byte) (HintRecord, error) {
	if len(buf) < HintRecordSize {
		return HintRecord{}, fmt.Errorf("hint record: truncated payload: got %d bytes, want %d", len(buf), HintRecordSize)
	}
	reason := HintReason(binary.LittleEndian.Uint32(buf[8:12]))
	if !reason.Valid() {
		return HintRecord{}, fmt.Errorf("hint record: unknown reason code %d", uint32(reason))
	}
	return HintRecord{
		Seq:        binary.LittleEndian.Uint64(buf[0:8]),
		Reason:     reason,
		TargetTID:  binary.LittleEndian.Uint32(buf[12:16]),
		DeadlineNs: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
