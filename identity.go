package streaming

import (
	"crypto/sha256"
	"fmt"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/go-i2p/go-i2p/pkg/data"
)

// Identity is the FROM_INCLUDED option payload: a destination's full
// identity (public keys + certificate). spec.md §3 treats it as "a
// fixed-size opaque blob defined by the identity layer" — here that layer
// is go-i2cp's Destination.
type Identity = go_i2cp.Destination

// MarshalIdentity encodes an Identity the way packet.go's FROM option
// requires, mirroring the teacher's encode-to-measure-size idiom in
// crypto.go's findSignatureOffset.
func MarshalIdentity(id *Identity) ([]byte, error) {
	if id == nil {
		return nil, fmt.Errorf("marshal identity: nil")
	}
	stream := go_i2cp.NewStream(make([]byte, 0, 512))
	if err := id.WriteToMessage(stream); err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	return stream.Bytes(), nil
}

// ParseIdentity decodes an Identity from the front of buf and reports how
// many bytes it consumed, matching the "Identity.fromBuffer(bytes, size) ->
// consumed-bytes" collaborator spec.md §6 names.
func ParseIdentity(buf []byte) (*Identity, int, error) {
	stream := go_i2cp.NewStream(buf)
	id, err := go_i2cp.NewDestinationFromMessage(stream, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("parse identity: %w", err)
	}
	encoded, err := MarshalIdentity(id)
	if err != nil {
		return nil, 0, fmt.Errorf("parse identity: measure size: %w", err)
	}
	return id, len(encoded), nil
}

// IdentityHash hashes an identity's encoded form, the same way the
// teacher's stream.go hashDestination() does for replay-prevention NACKs:
// serialize, then sha256 the bytes. spec.md §6 calls this "Identity.hash()"
// without specifying an implementation, so this repo follows the teacher.
func IdentityHash(id *Identity) (data.Hash, error) {
	encoded, err := MarshalIdentity(id)
	if err != nil {
		return data.Hash{}, err
	}
	return data.Hash(sha256.Sum256(encoded)), nil
}
