package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataMessageRoundTrip(t *testing.T) {
	pkt := &Packet{SendStreamID: 1, RecvStreamID: 2, Seqn: 3, AckThrough: 1}
	pkt.SetPayload([]byte("round trip payload"))
	wire, err := pkt.Marshal()
	require.NoError(t, err)

	buf := createDataMessage(wire)
	require.Equal(t, byte(StreamingProtocolID), buf[9])

	decoded, err := handleDataMessage(buf, DefaultMaxPacketSize)
	require.NoError(t, err)
	require.Equal(t, pkt.SendStreamID, decoded.SendStreamID)
	require.Equal(t, pkt.Seqn, decoded.Seqn)
	require.Equal(t, []byte("round trip payload"), decoded.RemainingPayload())
}

func TestDataMessageRejectsWrongProtocolID(t *testing.T) {
	pkt := &Packet{SendStreamID: 1, RecvStreamID: 2}
	pkt.SetPayload([]byte("x"))
	wire, err := pkt.Marshal()
	require.NoError(t, err)
	buf := createDataMessage(wire)
	buf[9] = 0x42

	_, err = handleDataMessage(buf, DefaultMaxPacketSize)
	require.Error(t, err)
}

func TestDataMessageRejectsTooShortBuffer(t *testing.T) {
	_, err := handleDataMessage(make([]byte, 4), DefaultMaxPacketSize)
	require.Error(t, err)
}

// TestDataMessageClampsToMaxPacketSize covers spec.md §4.5: decompressed
// payloads longer than maxPacketSize are truncated rather than rejected.
func TestDataMessageClampsToMaxPacketSize(t *testing.T) {
	pkt := &Packet{SendStreamID: 1, RecvStreamID: 2}
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkt.SetPayload(payload)
	wire, err := pkt.Marshal()
	require.NoError(t, err)
	buf := createDataMessage(wire)

	decoded, err := handleDataMessage(buf, fixedHeaderSize+10)
	require.NoError(t, err)
	require.Len(t, decoded.RemainingPayload(), 10)
}
