package streaming

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// StreamingProtocolID is the protocol-id byte an I2NP data message's
// header carries for streaming payloads (spec.md §6 "Constants").
const StreamingProtocolID = 0x06

// dataMessageHeaderSize is length(4) + srcPort(2) + dstPort(2) +
// reserved(1) + protocolID(1), matching the layout go-i2cp's own client
// uses for I2CP datagram headers (other_examples/go-i2p-go-i2cp__client.go).
const dataMessageHeaderSize = 10

// createDataMessage gzips payload at the fastest compression level,
// prepends the 4-byte length, and stamps a zeroed source/dest port pair
// plus the streaming protocol id (spec.md §4.5 encode).
func createDataMessage(payload []byte) []byte {
	var compressed bytes.Buffer
	gz, _ := gzip.NewWriterLevel(&compressed, gzip.BestSpeed)
	_, _ = gz.Write(payload)
	_ = gz.Close()
	body := compressed.Bytes()

	msg := make([]byte, dataMessageHeaderSize+len(body))
	binary.BigEndian.PutUint32(msg[0:], uint32(len(body)))
	// msg[4:8] source/dest ports, msg[8] reserved: left zero.
	msg[9] = StreamingProtocolID
	copy(msg[dataMessageHeaderSize:], body)
	return msg
}

// handleDataMessage decodes an inbound I2NP data message into a Packet,
// per spec.md §4.5 decode: validate the protocol id, gunzip, clamp to
// maxPacketSize, and parse the wire packet.
func handleDataMessage(buf []byte, maxPacketSize int) (*Packet, error) {
	if len(buf) < dataMessageHeaderSize {
		return nil, fmt.Errorf("handle data message: too short (%d bytes)", len(buf))
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	protocolID := buf[9]
	if protocolID != StreamingProtocolID {
		log.Debug().Uint8("protocol_id", protocolID).Msg("unsupported data message protocol id, dropping")
		return nil, fmt.Errorf("handle data message: unsupported protocol id %#x", protocolID)
	}

	body := buf[dataMessageHeaderSize:]
	if uint32(len(body)) < length {
		length = uint32(len(body))
	}

	gz, err := gzip.NewReader(bytes.NewReader(body[:length]))
	if err != nil {
		return nil, fmt.Errorf("handle data message: gzip: %w", err)
	}
	defer gz.Close()

	limited := io.LimitReader(gz, int64(maxPacketSize))
	decompressed, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("handle data message: decompress: %w", err)
	}

	pkt, err := UnmarshalPacket(decompressed)
	if err != nil {
		return nil, fmt.Errorf("handle data message: %w", err)
	}
	return pkt, nil
}
