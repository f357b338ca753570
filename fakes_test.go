package streaming

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/go-i2p/pkg/data"
)

// fakeTunnel records every message handed to it, standing in for a real
// outbound tunnel in tests.
type fakeTunnel struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeTunnel) SendTunnelDataMsg(gateway data.Hash, tunnelID uint32, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTunnel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeTunnelPool always hands out the same fakeTunnel and a fixed set of
// inbound leases.
type fakeTunnelPool struct {
	tunnel *fakeTunnel
	leases []Lease
	noPool bool
}

func (p *fakeTunnelPool) GetNextOutboundTunnel() (Tunnel, bool) {
	if p.noPool {
		return nil, false
	}
	return p.tunnel, true
}

func (p *fakeTunnelPool) InboundLeases() ([]Lease, error) {
	return p.leases, nil
}

func newFakeTunnelPool() *fakeTunnelPool {
	return &fakeTunnelPool{
		tunnel: &fakeTunnel{},
		leases: []Lease{{
			Gateway:  data.Hash{0x01},
			TunnelID: 11,
			EndDate:  time.Now().Add(time.Hour),
		}},
	}
}

// fakeGarlic just tags the message so tests can assert it passed through
// wrapping without implementing real encryption.
type fakeGarlic struct{}

func (fakeGarlic) WrapMessage(remote *LeaseSet, msg []byte, bundled []byte) ([]byte, error) {
	return msg, nil
}

// fakeNetDb resolves exactly the lease sets it's been told about.
type fakeNetDb struct {
	mu        sync.Mutex
	leaseSets map[data.Hash]*LeaseSet
}

func newFakeNetDb() *fakeNetDb {
	return &fakeNetDb{leaseSets: make(map[data.Hash]*LeaseSet)}
}

func (n *fakeNetDb) put(hash data.Hash, ls *LeaseSet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaseSets[hash] = ls
}

func (n *fakeNetDb) FindLeaseSet(destHash data.Hash) (*LeaseSet, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ls, ok := n.leaseSets[destHash]
	return ls, ok
}

// fixedRandomSource always returns lo, for deterministic lease/stream-id
// selection in tests.
type fixedRandomSource struct{}

func (fixedRandomSource) GenerateWord32(lo, hi uint32) uint32 { return lo }

// sequentialRandomSource returns successive values starting at a base,
// used where distinct nonzero stream ids are needed.
type sequentialRandomSource struct {
	mu   sync.Mutex
	next uint32
}

func (s *sequentialRandomSource) GenerateWord32(lo, hi uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < lo {
		s.next = lo
	}
	v := s.next
	s.next++
	if v > hi {
		return lo
	}
	return v
}

// fakeKeyGenerator always fails with an error; it mints no identity or
// signer.
type fakeKeyGenerator struct{}

func (fakeKeyGenerator) CreateRandomKeys() (*Identity, Signer, error) {
	return nil, nil, fmt.Errorf("fakeKeyGenerator: not wired in this test")
}

// alwaysValidVerifier accepts any signature, isolating sequencing/state
// machine tests from signature-correctness concerns (those get their
// own coverage in crypto_test.go).
type alwaysValidVerifier struct{}

func (alwaysValidVerifier) Verify(identity *Identity, data, signature []byte) bool { return true }

// noopSigner produces a fixed-length all-zero signature without
// performing real cryptography, for tests that only need
// FlagSignatureIncluded's length contract satisfied.
type noopSigner struct{ length int }

func (s noopSigner) Sign(data []byte) ([]byte, error) { return make([]byte, s.length), nil }
func (s noopSigner) SignatureLength() int              { return s.length }
