package streaming

import (
	"time"

	"github.com/go-i2p/go-i2p/pkg/data"
)

// Tunnel is an established outbound path through the tunnel layer.
// SendTunnelDataMsg hands an already garlic-wrapped message to the tunnel
// addressed at a remote gateway and tunnel id. Both belong to the router's
// tunnel subsystem; this package only ever calls the method.
type Tunnel interface {
	SendTunnelDataMsg(gateway data.Hash, tunnelID uint32, msg []byte) error
}

// TunnelPool hands out outbound tunnels for a Destination, and reports
// the pool's current inbound tunnels as leases so Destination.LeaseSet()
// can publish a fresh LeaseSet. Construction and maintenance of the pool
// (hop selection, rebuilds, the 3-hop default) is the router's
// responsibility; see spec.md §1 "Out of scope".
type TunnelPool interface {
	GetNextOutboundTunnel() (Tunnel, bool)
	InboundLeases() ([]Lease, error)
}

// Garlic wraps an I2NP message for end-to-end encrypted delivery to a
// remote LeaseSet, optionally bundling the sender's own LeaseSet so the
// recipient doesn't need a NetDb round trip to reply.
type Garlic interface {
	WrapMessage(remote *LeaseSet, msg []byte, bundledLeaseSet []byte) ([]byte, error)
}

// NetDb resolves a destination hash to its currently published LeaseSet.
// Returns ok=false when nothing is known yet.
type NetDb interface {
	FindLeaseSet(destHash data.Hash) (*LeaseSet, bool)
}

// RandomSource is the RNG collaborator spec.md §6 names explicitly
// (GenerateWord32(lo, hi)). Kept swappable so lease selection and stream-id
// generation can be made deterministic under test.
type RandomSource interface {
	GenerateWord32(lo, hi uint32) uint32
}

// Signer is the DSA/Ed25519 signing collaborator spec.md §6 calls "Crypto".
// A Destination owns one Signer over its long-term signing key; Stream only
// ever calls Sign/SignatureLength through it.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	SignatureLength() int
}

// Verifier checks a signature against a remote identity's public signing
// key. Packet processing uses it to validate SIGNATURE_INCLUDED packets
// per spec.md §9 ("Signature verification is absent in the core" — this
// repo adds it, as the design note recommends).
type Verifier interface {
	Verify(identity *Identity, data, signature []byte) bool
}

// DataDirectory enumerates persisted identity key-blob files, the
// "Disk loading of identity key files" spec.md §1 treats as external.
type DataDirectory interface {
	ListKeyFiles(extension string) ([]string, error)
	ReadKeyFile(path string) ([]byte, error)
}

// KeyGenerator creates a fresh local identity and its matching Signer,
// the "CreateRandomKeys()" collaborator spec.md §6 names for the shared
// local destination DestinationRegistry.Start() creates when none exists.
type KeyGenerator interface {
	CreateRandomKeys() (*Identity, Signer, error)
}

// IdentityLoader decodes a persisted key-blob file (spec.md §6
// "Persisted state": a fixed-size raw Keys layout, opaque to the core)
// back into an Identity and its Signer.
type IdentityLoader interface {
	LoadKeyFile(blob []byte) (*Identity, Signer, error)
}

// leaseExpired is a small helper shared by Lease/LeaseSet so callers can
// compare against time.Now() without reaching into the struct fields.
func leaseExpired(endDate time.Time, now time.Time) bool {
	return !now.Before(endDate)
}
