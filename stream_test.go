package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// flushService blocks until every task posted to svc before this call
// has run, relying on the service's single FIFO task channel.
func flushService(svc *Service) {
	done := make(chan struct{})
	svc.Post(func() { close(done) })
	<-done
}

func newTestDestination(t *testing.T) (*Destination, *fakeTunnelPool, *fakeNetDb) {
	t.Helper()
	pool := newFakeTunnelPool()
	netDb := newFakeNetDb()
	service := NewService(16)
	go service.Run()
	t.Cleanup(service.Stop)

	id := newTestIdentity(t)
	dest, err := NewDestination(id, pool, fakeGarlic{}, netDb, noopSigner{length: DefaultSignatureLength}, alwaysValidVerifier{}, &sequentialRandomSource{}, service)
	require.NoError(t, err)
	return dest, pool, netDb
}

// synPacket builds the bootstrap packet spec.md §4.2 describes: seqn 0
// with SYNCHRONIZE set, treated as the first in-order packet when the
// stream has not received any packet yet (a later one is a duplicate).
func synPacket(sendStreamID, recvStreamID uint32, payload string) *Packet {
	p := &Packet{SendStreamID: sendStreamID, RecvStreamID: recvStreamID, Seqn: 0, Flags: FlagSynchronize}
	p.SetPayload([]byte(payload))
	return p
}

func dataPacket(sendStreamID, recvStreamID, seqn uint32, payload string) *Packet {
	p := &Packet{SendStreamID: sendStreamID, RecvStreamID: recvStreamID, Seqn: seqn}
	p.SetPayload([]byte(payload))
	return p
}

// TestStreamOutOfOrderDelivery covers spec.md §8 scenario 1: packets
// arrive SYN("A"), then seqn 2 ("C"), then seqn 1 ("B"); Concatenate
// must yield "ABC" once the gap at seqn 1 fills in.
func TestStreamOutOfOrderDelivery(t *testing.T) {
	dest, _, _ := newTestDestination(t)
	s := dest.CreateIncoming()
	const remoteID = 999

	s.HandleNextPacket(synPacket(s.RecvStreamID(), remoteID, "A"))
	s.HandleNextPacket(dataPacket(s.RecvStreamID(), remoteID, 2, "C"))

	buf := make([]byte, 16)
	n := s.Concatenate(buf)
	require.Equal(t, "A", string(buf[:n]))

	s.HandleNextPacket(dataPacket(s.RecvStreamID(), remoteID, 1, "B"))

	n = s.Concatenate(buf)
	require.Equal(t, "BC", string(buf[:n]))
	require.Equal(t, uint32(2), s.lastReceivedSequenceNumber)
}

// TestStreamDuplicateAfterAckLoss covers spec.md §8 scenario 2.
func TestStreamDuplicateAfterAckLoss(t *testing.T) {
	dest, pool, _ := newTestDestination(t)
	s := dest.CreateIncoming()
	const remoteID = 999
	s.remoteLeaseSet = &LeaseSet{Identity: dest.Identity, Leases: pool.leases}

	s.HandleNextPacket(synPacket(s.RecvStreamID(), remoteID, "A"))
	flushService(dest.service)
	before := pool.tunnel.count()
	s.HandleNextPacket(synPacket(s.RecvStreamID(), remoteID, "A"))
	flushService(dest.service)

	buf := make([]byte, 16)
	n := s.Concatenate(buf)
	require.Equal(t, "A", string(buf[:n]), "only one payload should be available")

	n = s.Concatenate(buf)
	require.Equal(t, 0, n, "no second payload enqueued for the duplicate")

	require.Greater(t, pool.tunnel.count(), before, "duplicate should trigger an extra quick-ack send")
}

// TestStreamFIN covers spec.md §8 scenario 3.
func TestStreamFIN(t *testing.T) {
	dest, _, _ := newTestDestination(t)
	s := dest.CreateIncoming()
	const remoteID = 999

	s.HandleNextPacket(synPacket(s.RecvStreamID(), remoteID, "hi"))
	closePkt := &Packet{SendStreamID: s.RecvStreamID(), RecvStreamID: remoteID, Seqn: 1, Flags: FlagClose}
	closePkt.SetPayload(nil)
	s.HandleNextPacket(closePkt)

	buf := make([]byte, 16)
	n := s.Concatenate(buf)
	require.Equal(t, "hi", string(buf[:n]))
	require.False(t, s.IsOpen())
}

// TestStreamPureAckDiscard covers spec.md §8 scenario 5.
func TestStreamPureAckDiscard(t *testing.T) {
	dest, _, _ := newTestDestination(t)
	s := dest.CreateIncoming()

	ack := &Packet{SendStreamID: s.RecvStreamID(), RecvStreamID: 999, Seqn: 0, AckThrough: 5}
	ack.SetPayload(nil)
	s.HandleNextPacket(ack)

	require.Equal(t, uint32(0), s.lastReceivedSequenceNumber)
	buf := make([]byte, 16)
	require.Equal(t, 0, s.Concatenate(buf))
}

// TestStreamSynEmission covers spec.md §8 scenario 4: the first Send on
// a new outgoing stream must carry SYN|FROM|SIG|MAXPKT|NOACK, seqn 0,
// and a signature of the expected length.
func TestStreamSynEmission(t *testing.T) {
	dest, pool, netDb := newTestDestination(t)
	remoteIdentity := newTestIdentity(t)
	remoteHash, err := IdentityHash(remoteIdentity)
	require.NoError(t, err)
	remoteLeaseSet := &LeaseSet{Identity: remoteIdentity, Leases: pool.leases}
	netDb.put(remoteHash, remoteLeaseSet)

	s := dest.CreateOutgoing(remoteLeaseSet)
	require.False(t, s.IsOpen())

	n, err := s.Send([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, s.IsOpen())

	flushService(dest.service)
	require.Equal(t, 1, pool.tunnel.count())

	wire := pool.tunnel.sent[0]
	pkt, err := handleDataMessage(wire, DefaultMaxPacketSize)
	require.NoError(t, err)
	require.True(t, pkt.HasFlag(FlagSynchronize))
	require.True(t, pkt.HasFlag(FlagFromIncluded))
	require.True(t, pkt.HasFlag(FlagSignatureIncluded))
	require.True(t, pkt.HasFlag(FlagMaxPacketSizeIncluded))
	require.True(t, pkt.HasFlag(FlagNoAck))
	require.Equal(t, uint32(0), pkt.Seqn)
	require.Equal(t, []byte("hello"), pkt.RemainingPayload())
	require.Len(t, pkt.Signature, DefaultSignatureLength)
}
