package streaming

import (
	"encoding/binary"
	"fmt"
)

// Flag bits, values fixed by the real protocol (spec.md §3) — NOT the
// teacher's packet.go constants, which used a different, incompatible
// bit assignment. This wire format is authoritative.
const (
	FlagSynchronize           uint16 = 0x0001
	FlagClose                 uint16 = 0x0002
	FlagSignatureIncluded     uint16 = 0x0004
	FlagFromIncluded          uint16 = 0x0008
	FlagMaxPacketSizeIncluded uint16 = 0x0080
	FlagNoAck                 uint16 = 0x4000

	knownFlagsMask = FlagSynchronize | FlagClose | FlagSignatureIncluded |
		FlagFromIncluded | FlagMaxPacketSizeIncluded | FlagNoAck
)

// fixedHeaderSize is the byte count of sendStreamID, recvStreamID, seqn,
// ackThrough, nackCount, resendDelay, flags and optionSize — everything
// before the (variable-length) NACK list and option block.
const fixedHeaderSize = 4 + 4 + 4 + 4 + 1 + 1 + 2 + 2

// Packet is a view over one streaming wire packet: parsed header fields
// plus a payload slice with its own consumption cursor, per spec.md §4.1
// ("pure accessor object... plus a mutable offset cursor").
type Packet struct {
	SendStreamID uint32
	RecvStreamID uint32
	Seqn         uint32
	AckThrough   uint32
	NackCount    uint8
	ResendDelay  uint8
	Flags        uint16

	From             *Identity
	HasFrom          bool
	MaxPacketSize    uint16
	HasMaxPacketSize bool
	Signature        []byte

	payload []byte
	cursor  int
}

// HasFlag reports whether every bit in mask is set.
func (p *Packet) HasFlag(mask uint16) bool {
	return p.Flags&mask == mask
}

// RemainingPayload returns the not-yet-consumed tail of the payload.
func (p *Packet) RemainingPayload() []byte {
	return p.payload[p.cursor:]
}

// Len reports how many unconsumed payload bytes remain.
func (p *Packet) Len() int {
	return len(p.payload) - p.cursor
}

// Consume advances the cursor by n bytes, as Concatenate does when it
// partially drains the head of receiveQueue (spec.md §9 "Packet cursor").
func (p *Packet) Consume(n int) {
	p.cursor += n
	if p.cursor > len(p.payload) {
		p.cursor = len(p.payload)
	}
}

// SetPayload installs a full, unconsumed payload.
func (p *Packet) SetPayload(b []byte) {
	p.payload = b
	p.cursor = 0
}

// UnmarshalPacket parses a wire packet. Per spec.md §3 it tolerates
// nackCount > 0 by skipping 4*nackCount bytes of NACK entries without
// interpreting them.
func UnmarshalPacket(buf []byte) (*Packet, error) {
	if len(buf) < fixedHeaderSize {
		return nil, fmt.Errorf("unmarshal packet: buffer too short (%d bytes)", len(buf))
	}
	p := &Packet{}
	off := 0
	p.SendStreamID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.RecvStreamID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.Seqn = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.AckThrough = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.NackCount = buf[off]
	off += 1

	nackBytes := 4 * int(p.NackCount)
	if len(buf) < off+nackBytes+1+2+2 {
		return nil, fmt.Errorf("unmarshal packet: truncated before resendDelay/flags/optionSize")
	}
	off += nackBytes // NACK entries: core never emits them, skip on receive.

	p.ResendDelay = buf[off]
	off += 1
	p.Flags = binary.BigEndian.Uint16(buf[off:])
	off += 2
	optionSize := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	if len(buf) < off+optionSize {
		return nil, fmt.Errorf("unmarshal packet: option block truncated")
	}
	options := buf[off : off+optionSize]
	off += optionSize

	if err := p.parseOptions(options); err != nil {
		return nil, err
	}

	p.SetPayload(buf[off:])
	return p, nil
}

func (p *Packet) parseOptions(options []byte) error {
	off := 0
	if p.HasFlag(FlagFromIncluded) {
		id, n, err := ParseIdentity(options[off:])
		if err != nil {
			return fmt.Errorf("unmarshal packet: FROM option: %w", err)
		}
		p.From = id
		p.HasFrom = true
		off += n
	}
	if p.HasFlag(FlagMaxPacketSizeIncluded) {
		if len(options) < off+2 {
			return fmt.Errorf("unmarshal packet: MAX_PACKET_SIZE option truncated")
		}
		p.MaxPacketSize = binary.BigEndian.Uint16(options[off:])
		p.HasMaxPacketSize = true
		off += 2
	}
	if p.HasFlag(FlagSignatureIncluded) {
		// Signature length isn't separately encoded: it's whatever
		// remains of the option block after FROM and MAX_PACKET_SIZE,
		// which accommodates both the legacy 40-byte DSA signature and
		// a 64-byte Ed25519 signature without a type negotiation.
		p.Signature = options[off:]
		off = len(options)
	}
	return nil
}

// Marshal serializes the packet back to wire bytes. The core never
// writes NACK entries, so nackCount is always encoded as 0 regardless of
// any value parsed on a previous inbound pass.
func (p *Packet) Marshal() ([]byte, error) {
	options, err := p.marshalOptions()
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}

	buf := make([]byte, fixedHeaderSize+len(options)+(len(p.payload)-p.cursor))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], p.SendStreamID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], p.RecvStreamID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], p.Seqn)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], p.AckThrough)
	off += 4
	buf[off] = 0 // nackCount
	off += 1
	buf[off] = p.ResendDelay
	off += 1
	binary.BigEndian.PutUint16(buf[off:], p.Flags)
	off += 2
	binary.BigEndian.PutUint16(buf[off:], uint16(len(options)))
	off += 2
	off += copy(buf[off:], options)
	copy(buf[off:], p.payload[p.cursor:])
	return buf, nil
}

func (p *Packet) marshalOptions() ([]byte, error) {
	var out []byte
	if p.HasFlag(FlagFromIncluded) {
		if p.From == nil {
			return nil, fmt.Errorf("FROM_INCLUDED set but From identity is nil")
		}
		encoded, err := MarshalIdentity(p.From)
		if err != nil {
			return nil, fmt.Errorf("FROM option: %w", err)
		}
		out = append(out, encoded...)
	}
	if p.HasFlag(FlagMaxPacketSizeIncluded) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], p.MaxPacketSize)
		out = append(out, b[:]...)
	}
	if p.HasFlag(FlagSignatureIncluded) {
		out = append(out, p.Signature...)
	}
	return out, nil
}
