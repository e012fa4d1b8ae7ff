package observability

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	capnp "zombiezen.com/go/capnproto2"

	"github.com/ankitkpandey1/morpheus/internal/scb"
)

// Wire layout of an encoded Snapshot: a fixed-size capnp data
// section, no pointer fields. Per-worker ack-latency samples are
// process-local detail and never cross this boundary — the wire
// format is the cross-language counters view of spec.md §6, not a
// full process dump.
const (
	offHintsReceived     capnp.DataOffset = 0
	offHintsDropped      capnp.DataOffset = 8
	offDefensiveTriggers capnp.DataOffset = 16
	offRingErrors        capnp.DataOffset = 24
	offTakenAtUnixNano   capnp.DataOffset = 32
	offEscalationsNone   capnp.DataOffset = 40
	offEscalationsKick   capnp.DataOffset = 48
	offEscalationsThrot  capnp.DataOffset = 56
	offEscalationsHybrid capnp.DataOffset = 64
	wireDataSize                          = 72
)

// EncodeSnapshot serializes snap into a capnp message, built on the
// library's raw Struct/ObjectSize API (no .capnp schema or capnpc-go
// toolchain is available here, the way the teacher's generated
// kernel/gen packages would normally provide).
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	_, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, fmt.Errorf("observability: new capnp message: %w", err)
	}

	st, err := capnp.NewRootStruct(seg, capnp.ObjectSize{DataSize: wireDataSize})
	if err != nil {
		return nil, fmt.Errorf("observability: allocate snapshot struct: %w", err)
	}

	st.SetUint64(offHintsReceived, snap.HintsReceived)
	st.SetUint64(offHintsDropped, snap.HintsDropped)
	st.SetUint64(offDefensiveTriggers, snap.DefensiveTriggers)
	st.SetUint64(offRingErrors, snap.RingErrors)
	st.SetUint64(offTakenAtUnixNano, uint64(snap.TakenAt.UnixNano()))
	st.SetUint64(offEscalationsNone, snap.EscalationsByPolicy[scb.EscalationPolicyNone])
	st.SetUint64(offEscalationsKick, snap.EscalationsByPolicy[scb.EscalationPolicyKick])
	st.SetUint64(offEscalationsThrot, snap.EscalationsByPolicy[scb.EscalationPolicyThrottle])
	st.SetUint64(offEscalationsHybrid, snap.EscalationsByPolicy[scb.EscalationPolicyHybrid])

	return st.Message().Marshal()
}

// DecodeSnapshot parses the wire format EncodeSnapshot produces.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	msg, err := capnp.Unmarshal(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("observability: unmarshal snapshot: %w", err)
	}
	root, err := msg.Root()
	if err != nil {
		return Snapshot{}, fmt.Errorf("observability: read snapshot root: %w", err)
	}
	st := root.Struct()

	return Snapshot{
		HintsReceived:     st.Uint64(offHintsReceived),
		HintsDropped:      st.Uint64(offHintsDropped),
		DefensiveTriggers: st.Uint64(offDefensiveTriggers),
		RingErrors:        st.Uint64(offRingErrors),
		TakenAt:           time.Unix(0, int64(st.Uint64(offTakenAtUnixNano))),
		EscalationsByPolicy: map[scb.EscalationPolicy]uint64{
			scb.EscalationPolicyNone:     st.Uint64(offEscalationsNone),
			scb.EscalationPolicyKick:     st.Uint64(offEscalationsKick),
			scb.EscalationPolicyThrottle: st.Uint64(offEscalationsThrot),
			scb.EscalationPolicyHybrid:   st.Uint64(offEscalationsHybrid),
		},
	}, nil
}

// HistoryWriter appends brotli-compressed, length-prefixed encoded
// snapshots to an underlying writer, for a rolling on-disk or
// in-memory history of counters independent of the live push server.
type HistoryWriter struct {
	w io.Writer
}

// NewHistoryWriter wraps w. Each Append call compresses its payload
// independently, so a reader can stop at any record boundary without
// needing the rest of the stream.
func NewHistoryWriter(w io.Writer) *HistoryWriter {
	return &HistoryWriter{w: w}
}

// Append encodes, compresses, and writes one snapshot record.
func (h *HistoryWriter) Append(snap Snapshot) error {
	wire, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	if _, err := bw.Write(wire); err != nil {
		return fmt.Errorf("observability: compress snapshot: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("observability: flush compressed snapshot: %w", err)
	}

	var lenPrefix [4]byte
	n := uint32(compressed.Len())
	lenPrefix[0] = byte(n)
	lenPrefix[1] = byte(n >> 8)
	lenPrefix[2] = byte(n >> 16)
	lenPrefix[3] = byte(n >> 24)

	if _, err := h.w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("observability: write history record length: %w", err)
	}
	if _, err := h.w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("observability: write history record: %w", err)
	}
	return nil
}

// ReadHistory decodes every record NewHistoryWriter wrote to r, in
// order, until EOF.
func ReadHistory(r io.Reader) ([]Snapshot, error) {
	var out []Snapshot
	for {
		var lenPrefix [4]byte
		_, err := io.ReadFull(r, lenPrefix[:])
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("observability: read history record length: %w", err)
		}
		n := uint32(lenPrefix[0]) | uint32(lenPrefix[1])<<8 | uint32(lenPrefix[2])<<16 | uint32(lenPrefix[3])<<24

		compressed := make([]byte, n)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return out, fmt.Errorf("observability: read history record: %w", err)
		}

		wire, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return out, fmt.Errorf("observability: decompress history record: %w", err)
		}

		snap, err := DecodeSnapshot(wire)
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
}
