package streaming

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-i2p/go-i2p/pkg/data"
	"github.com/rs/zerolog/log"
)

// Destination owns one local cryptographic identity: a tunnel pool, a
// published LeaseSet, and the table of streams keyed by local
// recv-stream-id (spec.md §4.3). All mutation of streams/leaseSet is
// expected to happen via Service.Post from the owning DestinationRegistry
// (spec.md §5); Destination itself holds no lock around those fields
// beyond what's needed to let Concatenate and accessors run off-service.
type Destination struct {
	Identity *Identity
	Hash     data.Hash

	signer   Signer
	verifier Verifier
	tunnels  TunnelPool
	garlic   Garlic
	netDb    NetDb
	rng      RandomSource
	service  *Service

	mu       sync.Mutex
	leaseSet *LeaseSet
	streams  map[uint32]*Stream
	acceptor func(*Stream)
}

// NewDestination builds a Destination around an already-generated
// identity. DestinationRegistry is responsible for key generation and
// persistence (spec.md §4.4); this constructor just wires collaborators.
func NewDestination(identity *Identity, tunnels TunnelPool, garlic Garlic, netDb NetDb, signer Signer, verifier Verifier, rng RandomSource, service *Service) (*Destination, error) {
	hash, err := IdentityHash(identity)
	if err != nil {
		return nil, fmt.Errorf("new destination: %w", err)
	}
	return &Destination{
		Identity: identity,
		Hash:     hash,
		signer:   signer,
		verifier: verifier,
		tunnels:  tunnels,
		garlic:   garlic,
		netDb:    netDb,
		rng:      rng,
		service:  service,
		streams:  make(map[uint32]*Stream),
	}, nil
}

// SetAcceptor installs the callback invoked for each new inbound stream
// before its first packet is processed (spec.md §9 "Acceptor semantics").
func (d *Destination) SetAcceptor(fn func(*Stream)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acceptor = fn
}

// newStreamID picks a random nonzero u32 not already present in the
// streams table (spec.md §9 "Stream-id collisions").
func (d *Destination) newStreamID() uint32 {
	for {
		id := d.rng.GenerateWord32(1, math.MaxUint32)
		if id == 0 {
			continue
		}
		if _, taken := d.streams[id]; !taken {
			return id
		}
	}
}

// CreateOutgoing allocates a fresh outgoing stream targeting
// remoteLeaseSet, per spec.md §4.3 createOutgoing.
func (d *Destination) CreateOutgoing(remoteLeaseSet *LeaseSet) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newStreamID()
	s := newOutgoingStream(d, id, remoteLeaseSet)
	d.streams[id] = s
	return s
}

// CreateIncoming allocates a fresh, implicitly-open incoming stream, per
// spec.md §4.3 createIncoming.
func (d *Destination) CreateIncoming() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newStreamID()
	s := newIncomingStream(d, id)
	d.streams[id] = s
	return s
}

// DeleteStream removes s from the table and drains its queues.
func (d *Destination) DeleteStream(s *Stream) {
	d.mu.Lock()
	delete(d.streams, s.recvStreamID)
	d.mu.Unlock()
	s.drain()
}

// HandleNextPacket dispatches an inbound packet to the stream it
// addresses, or creates a new incoming stream when sendStreamID is 0
// (spec.md §4.3 handleNextPacket). Must run on the service thread.
func (d *Destination) HandleNextPacket(p *Packet) {
	if p.SendStreamID != 0 {
		d.mu.Lock()
		s, ok := d.streams[p.SendStreamID]
		d.mu.Unlock()
		if !ok {
			log.Debug().Uint32("send_stream_id", p.SendStreamID).Msg("unknown stream, dropping packet")
			return
		}
		s.HandleNextPacket(p)
		return
	}

	s := d.CreateIncoming()
	d.mu.Lock()
	acceptor := d.acceptor
	d.mu.Unlock()
	if acceptor != nil {
		acceptor(s)
	}
	s.HandleNextPacket(p)
}

// LeaseSet returns the current published LeaseSet, rebuilding it from
// the tunnel pool first if none exists yet or any lease within it has
// expired (spec.md §4.3 leaseSet()). Every owned stream is marked
// leaseSetUpdated after a rebuild.
func (d *Destination) LeaseSet() (*LeaseSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.leaseSet != nil && !d.leaseSet.HasExpiredLeases(now) {
		return d.leaseSet, nil
	}

	leases, err := d.tunnels.InboundLeases()
	if err != nil {
		return nil, fmt.Errorf("destination lease set: %w", err)
	}
	fresh := &LeaseSet{Identity: d.Identity, Leases: leases}
	d.leaseSet = fresh
	for _, s := range d.streams {
		s.markLeaseSetUpdated()
	}
	return fresh, nil
}

// LeaseSetMessage returns the encoded current LeaseSet, used to bundle
// into garlic envelopes so the peer doesn't need a NetDb round trip.
func (d *Destination) LeaseSetMessage() ([]byte, error) {
	ls, err := d.LeaseSet()
	if err != nil {
		return nil, err
	}
	return MarshalLeaseSet(ls)
}

// Sign produces the long-term-key signature over buf, spec.md §4.3
// sign(buf, sig).
func (d *Destination) Sign(buf []byte) ([]byte, error) {
	return d.signer.Sign(buf)
}
