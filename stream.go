package streaming

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// streamState is the NEW/OPEN/CLOSED machine spec.md §4.2 describes.
type streamState int

const (
	streamNew streamState = iota
	streamOpen
	streamClosed
)

// Stream is one endpoint of a reliable bidirectional byte stream:
// sequencing, the out-of-order reassembly buffer, send/receive queues,
// SYN/FIN, and lease selection for egress (spec.md §3 "Stream", §4.2).
type Stream struct {
	destination *Destination
	config      StreamConfig

	isOutgoing bool

	mu                         sync.Mutex
	state                      streamState
	sendStreamID               uint32
	recvStreamID               uint32
	sequenceNumber             uint32
	lastReceivedSequenceNumber uint32
	receivedFirst              bool

	remoteIdentity     *Identity
	remoteLeaseSet     *LeaseSet
	currentRemoteLease Lease
	leaseSetUpdated    bool

	receiveQueue []*Packet
	savedPackets []*Packet

	dataReady chan struct{}
}

func newStream(dest *Destination, recvStreamID uint32, outgoing bool) *Stream {
	return &Stream{
		destination:  dest,
		config:       DefaultStreamConfig(),
		isOutgoing:   outgoing,
		recvStreamID: recvStreamID,
		dataReady:    make(chan struct{}),
	}
}

// newOutgoingStream builds a stream in the NEW state, pre-SYN, targeting
// remoteLeaseSet.
func newOutgoingStream(dest *Destination, recvStreamID uint32, remoteLeaseSet *LeaseSet) *Stream {
	s := newStream(dest, recvStreamID, true)
	s.state = streamNew
	s.remoteLeaseSet = remoteLeaseSet
	return s
}

// newIncomingStream builds a stream already in the OPEN state, as
// spec.md §4.2 requires for server-side streams created on first
// inbound packet.
func newIncomingStream(dest *Destination, recvStreamID uint32) *Stream {
	s := newStream(dest, recvStreamID, false)
	s.state = streamOpen
	return s
}

// IsOpen reports whether the stream is in the OPEN state. A new outgoing
// stream is not open until its first Send emits the SYN, and a closed
// stream is not open.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == streamOpen
}

// RecvStreamID returns this endpoint's own stream id.
func (s *Stream) RecvStreamID() uint32 {
	return s.recvStreamID
}

func (s *Stream) markLeaseSetUpdated() {
	s.mu.Lock()
	s.leaseSetUpdated = true
	s.mu.Unlock()
}

// Send schedules up to len(buf) bytes for transmission, returning the
// accepted length; the core never fragments, so the accepted length is
// clamped to the configured MTU (spec.md §4.2 send()). The first Send on
// an outgoing stream emits a SYN.
func (s *Stream) Send(buf []byte) (int, error) {
	s.mu.Lock()
	if s.state == streamClosed {
		s.mu.Unlock()
		return 0, fmt.Errorf("send: stream closed")
	}

	n := len(buf)
	if n > s.config.MTU {
		n = s.config.MTU
	}
	payload := append([]byte(nil), buf[:n]...)

	pkt := &Packet{
		SendStreamID: s.sendStreamID,
		RecvStreamID: s.recvStreamID,
		AckThrough:   s.lastReceivedSequenceNumber,
	}

	if s.state == streamNew {
		pkt.Flags = FlagSynchronize | FlagFromIncluded | FlagSignatureIncluded | FlagMaxPacketSizeIncluded | FlagNoAck
		pkt.From = s.destination.Identity
		pkt.HasFrom = true
		pkt.MaxPacketSize = uint16(s.config.MTU)
		pkt.HasMaxPacketSize = true
		pkt.Seqn = 0
		s.sequenceNumber = 1
		s.state = streamOpen
	} else {
		pkt.Seqn = s.sequenceNumber
		s.sequenceNumber++
	}
	pkt.SetPayload(payload)
	s.mu.Unlock()

	if pkt.HasFlag(FlagSignatureIncluded) {
		if err := SignPacket(pkt, s.destination.signer); err != nil {
			return 0, fmt.Errorf("send: %w", err)
		}
	}

	s.post(func() { s.sendPacket(pkt) })
	return n, nil
}

// Close emits a FIN packet if the stream is open, and marks it closed
// for sending. Idempotent (spec.md §4.2 close()).
func (s *Stream) Close() {
	s.mu.Lock()
	if s.state != streamOpen {
		s.mu.Unlock()
		return
	}
	pkt := &Packet{
		SendStreamID: s.sendStreamID,
		RecvStreamID: s.recvStreamID,
		AckThrough:   s.lastReceivedSequenceNumber,
		Flags:        FlagClose | FlagSignatureIncluded,
		Seqn:         s.sequenceNumber,
	}
	s.sequenceNumber++
	s.state = streamClosed
	s.mu.Unlock()

	if err := SignPacket(pkt, s.destination.signer); err != nil {
		log.Warn().Err(err).Msg("close: failed to sign FIN, sending unsigned")
		pkt.Flags &^= FlagSignatureIncluded
		pkt.Signature = nil
	}
	s.post(func() { s.sendPacket(pkt) })
}

// Concatenate drains receiveQueue into buf, partially consuming the head
// packet, and returns the number of bytes copied. Non-blocking.
func (s *Stream) Concatenate(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := 0
	for copied < len(buf) && len(s.receiveQueue) > 0 {
		head := s.receiveQueue[0]
		n := copy(buf[copied:], head.RemainingPayload())
		head.Consume(n)
		copied += n
		if head.Len() == 0 {
			s.receiveQueue = s.receiveQueue[1:]
		} else {
			break
		}
	}
	return copied
}

// DataReady returns a channel closed whenever a new payload is enqueued,
// the cancellable-timer-like "wait for data" primitive spec.md §5 calls
// for. Callers should re-fetch DataReady() after each wakeup, since the
// channel is replaced on every notification.
func (s *Stream) DataReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataReady
}

func (s *Stream) notifyDataReady() {
	close(s.dataReady)
	s.dataReady = make(chan struct{})
}

// drain frees every queued packet on stream destruction (spec.md
// invariant 6, §8 property 7).
func (s *Stream) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveQueue = nil
	s.savedPackets = nil
}

func (s *Stream) post(work func()) {
	s.destination.service.Post(work)
}

// HandleNextPacket is the receive algorithm of spec.md §4.2. Must run on
// the service thread (called via Destination.HandleNextPacket).
func (s *Stream) HandleNextPacket(p *Packet) {
	s.mu.Lock()
	if s.sendStreamID == 0 {
		s.sendStreamID = p.RecvStreamID
	}

	if p.Seqn == 0 && !p.HasFlag(FlagSynchronize) {
		// Pure ack: discard and return (scenario 5).
		s.mu.Unlock()
		return
	}

	n := p.Seqn
	expected := s.lastReceivedSequenceNumber + 1
	bootstrapSyn := n == 0 && p.HasFlag(FlagSynchronize) && !s.receivedFirst

	switch {
	case n == expected || bootstrapSyn:
		s.mu.Unlock()
		s.process(p)
		s.drainSaved()
		s.mu.Lock()
		stillOpen := s.state != streamClosed
		s.mu.Unlock()
		if stillOpen {
			s.sendQuickAck()
		}
	case n <= s.lastReceivedSequenceNumber:
		s.mu.Unlock()
		log.Debug().Uint32("seqn", n).Msg("duplicate packet, assuming ack was lost")
		s.updateCurrentRemoteLease()
		s.sendQuickAck()
	default:
		s.mu.Unlock()
		s.insertSaved(p)
	}
}

// process applies one in-order packet: identity/mtu/signature options,
// payload delivery, and CLOSE handling (spec.md §4.2 Process(p)).
func (s *Stream) process(p *Packet) {
	if p.HasFlag(FlagFromIncluded) && p.From != nil {
		s.mu.Lock()
		s.remoteIdentity = p.From
		remoteLeaseSet := s.remoteLeaseSet
		s.mu.Unlock()

		if remoteLeaseSet != nil {
			setHash, err1 := remoteLeaseSet.IdentHash()
			fromHash, err2 := IdentityHash(p.From)
			if err1 == nil && err2 == nil && setHash != fromHash {
				s.mu.Lock()
				s.remoteLeaseSet = nil
				s.mu.Unlock()
			}
		}
	}

	if p.HasFlag(FlagSignatureIncluded) {
		if s.destination.verifier != nil && p.HasFrom {
			if err := VerifyPacketSignature(p, s.destination.verifier); err != nil {
				log.Warn().Err(err).Msg("signature verification failed, dropping packet")
				return
			}
		}
	}

	if p.Len() > 0 {
		s.mu.Lock()
		s.receiveQueue = append(s.receiveQueue, p)
		s.notifyDataReady()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.lastReceivedSequenceNumber = p.Seqn
	s.receivedFirst = true
	closing := p.HasFlag(FlagClose)
	s.mu.Unlock()

	if closing {
		s.sendQuickAck()
		s.mu.Lock()
		s.state = streamClosed
		s.mu.Unlock()
	}
}

// drainSaved processes buffered out-of-order packets in ascending seqn
// order, stopping at the first gap.
func (s *Stream) drainSaved() {
	for {
		s.mu.Lock()
		expected := s.lastReceivedSequenceNumber + 1
		idx := -1
		for i, sp := range s.savedPackets {
			if sp.Seqn == expected {
				idx = i
				break
			}
		}
		if idx == -1 {
			s.mu.Unlock()
			return
		}
		next := s.savedPackets[idx]
		s.savedPackets = append(s.savedPackets[:idx], s.savedPackets[idx+1:]...)
		s.mu.Unlock()
		s.process(next)
	}
}

// insertSaved inserts p into savedPackets ordered by seqn, dropping it if
// a packet with the same seqn is already buffered.
func (s *Stream) insertSaved(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.savedPackets {
		if sp.Seqn == p.Seqn {
			return
		}
	}
	idx := len(s.savedPackets)
	for i, sp := range s.savedPackets {
		if sp.Seqn > p.Seqn {
			idx = i
			break
		}
	}
	s.savedPackets = append(s.savedPackets, nil)
	copy(s.savedPackets[idx+1:], s.savedPackets[idx:])
	s.savedPackets[idx] = p
}

// sendQuickAck emits a data-less ack packet: seqn=0, ackThrough set, no
// flags, no options, no payload (spec.md §4.2 "Quick ack").
func (s *Stream) sendQuickAck() {
	s.mu.Lock()
	pkt := &Packet{
		SendStreamID: s.sendStreamID,
		RecvStreamID: s.recvStreamID,
		Seqn:         0,
		AckThrough:   s.lastReceivedSequenceNumber,
	}
	s.mu.Unlock()
	s.post(func() { s.sendPacket(pkt) })
}

// updateCurrentRemoteLease resolves remoteLeaseSet via NetDb if unset,
// then picks a non-expired lease uniformly at random (spec.md §4.2
// updateCurrentRemoteLease()).
func (s *Stream) updateCurrentRemoteLease() {
	s.mu.Lock()
	remoteLeaseSet := s.remoteLeaseSet
	remoteIdentity := s.remoteIdentity
	s.mu.Unlock()

	if remoteLeaseSet == nil {
		if remoteIdentity == nil {
			s.mu.Lock()
			s.currentRemoteLease = Lease{}
			s.mu.Unlock()
			return
		}
		hash, err := IdentityHash(remoteIdentity)
		if err != nil {
			s.mu.Lock()
			s.currentRemoteLease = Lease{}
			s.mu.Unlock()
			return
		}
		ls, ok := s.destination.netDb.FindLeaseSet(hash)
		if !ok {
			s.mu.Lock()
			s.currentRemoteLease = Lease{}
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.remoteLeaseSet = ls
		remoteLeaseSet = ls
		s.mu.Unlock()
	}

	nonExpired := remoteLeaseSet.NonExpiredLeases(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(nonExpired) == 0 {
		s.currentRemoteLease = Lease{}
		return
	}
	idx := s.destination.rng.GenerateWord32(0, uint32(len(nonExpired)-1))
	s.currentRemoteLease = nonExpired[idx]
}

// sendPacket wraps and transmits one already-built packet (spec.md §4.2
// sendPacket()). Must run on the service thread.
func (s *Stream) sendPacket(pkt *Packet) {
	s.mu.Lock()
	hasRemote := s.remoteLeaseSet != nil
	s.mu.Unlock()
	if !hasRemote {
		s.updateCurrentRemoteLease()
	}
	s.mu.Lock()
	remoteLeaseSet := s.remoteLeaseSet
	s.mu.Unlock()
	if remoteLeaseSet == nil {
		log.Debug().Msg("sendPacket: no remote lease set, dropping")
		return
	}

	var bundled []byte
	s.mu.Lock()
	updated := s.leaseSetUpdated
	s.mu.Unlock()
	if updated {
		msg, err := s.destination.LeaseSetMessage()
		if err == nil {
			bundled = msg
			s.mu.Lock()
			s.leaseSetUpdated = false
			s.mu.Unlock()
		}
	}

	wire, err := pkt.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("sendPacket: marshal failed, dropping")
		return
	}
	dataMsg := createDataMessage(wire)

	wrapped, err := s.destination.garlic.WrapMessage(remoteLeaseSet, dataMsg, bundled)
	if err != nil {
		log.Warn().Err(err).Msg("sendPacket: garlic wrap failed, dropping")
		return
	}

	tunnel, ok := s.destination.tunnels.GetNextOutboundTunnel()
	if !ok {
		log.Debug().Msg("sendPacket: no outbound tunnel available, dropping")
		return
	}

	s.mu.Lock()
	lease := s.currentRemoteLease
	s.mu.Unlock()
	if time.Now().After(lease.EndDate) {
		s.updateCurrentRemoteLease()
		s.mu.Lock()
		lease = s.currentRemoteLease
		s.mu.Unlock()
		if time.Now().After(lease.EndDate) {
			log.Debug().Msg("sendPacket: all leases expired, dropping")
			return
		}
	}

	if err := tunnel.SendTunnelDataMsg(lease.Gateway, lease.TunnelID, wrapped); err != nil {
		log.Warn().Err(err).Msg("sendPacket: tunnel send failed")
	}
}
