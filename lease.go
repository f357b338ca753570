package streaming

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/go-i2p/pkg/data"
)

// Lease is a single tunnel gateway entry published in a LeaseSet: the
// gateway router's hash, the tunnel id at that gateway, and the expiry
// time after which the lease must not be used. spec.md §6 lists
// "Lease.getGateway/getTunnelID/getEndDate" as external primitives this
// package consumes without owning their construction.
type Lease struct {
	Gateway  data.Hash
	TunnelID uint32
	EndDate  time.Time
}

// Expired reports whether the lease's end date has passed as of now.
func (l Lease) Expired(now time.Time) bool {
	return leaseExpired(l.EndDate, now)
}

// LeaseSet is a destination's published set of leases plus the identity
// that signs it, mirroring the router-side LeaseSet spec.md §6 names
// (getNonExpiredLeases, hasExpiredLeases, getIdentHash).
type LeaseSet struct {
	Identity *Identity
	Leases   []Lease
}

// NonExpiredLeases returns the subset of leases still usable at now,
// preserving publication order the way Streaming.cpp's
// UpdateCurrentRemoteLease iterates GetNonExpiredLeases() results.
func (ls *LeaseSet) NonExpiredLeases(now time.Time) []Lease {
	out := make([]Lease, 0, len(ls.Leases))
	for _, l := range ls.Leases {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	return out
}

// HasExpiredLeases reports whether any lease in the set has passed its
// end date, the trigger Streaming.cpp uses to force a NetDb refresh.
func (ls *LeaseSet) HasExpiredLeases(now time.Time) bool {
	for _, l := range ls.Leases {
		if l.Expired(now) {
			return true
		}
	}
	return false
}

// IdentHash returns the destination hash this LeaseSet was published
// under.
func (ls *LeaseSet) IdentHash() (data.Hash, error) {
	return IdentityHash(ls.Identity)
}

// MarshalLeaseSet encodes a LeaseSet for bundling into a garlic envelope:
// the identity, a lease count, and each lease's gateway/tunnel id/expiry.
// The wire shape is internal to this repo — spec.md treats LeaseSet
// encoding as an external-collaborator concern (§6), but Destination
// still needs something concrete to hand Garlic.WrapMessage as the
// "bundledLeaseSet" bytes.
func MarshalLeaseSet(ls *LeaseSet) ([]byte, error) {
	identity, err := MarshalIdentity(ls.Identity)
	if err != nil {
		return nil, fmt.Errorf("marshal lease set: %w", err)
	}
	buf := make([]byte, 0, len(identity)+2+len(ls.Leases)*(32+4+8))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(identity)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, identity...)
	buf = append(buf, byte(len(ls.Leases)))
	for _, l := range ls.Leases {
		buf = append(buf, l.Gateway[:]...)
		var tunnelBuf [4]byte
		binary.BigEndian.PutUint32(tunnelBuf[:], l.TunnelID)
		buf = append(buf, tunnelBuf[:]...)
		var dateBuf [8]byte
		binary.BigEndian.PutUint64(dateBuf[:], uint64(l.EndDate.Unix()))
		buf = append(buf, dateBuf[:]...)
	}
	return buf, nil
}
