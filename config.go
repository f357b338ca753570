package streaming

// StreamConfig holds per-stream tunables, following the
// XConfig/DefaultXConfig shape used throughout the teacher
// (ProfileConfig/PingConfig/ConnectionLimitsConfig).
type StreamConfig struct {
	// MTU is advertised in the SYN's MAX_PACKET_SIZE option and enforced
	// as the maximum single Send() length (spec.md §3 "STREAMING_MTU").
	MTU int
	// MaxPacketSize is the intended bound for decompressed inbound
	// packets. Nothing in the package reads this field: the inbound path
	// takes its bound from the maxPacketSize argument of
	// DestinationRegistry.HandleDataMessage.
	MaxPacketSize int
}

// DefaultMTU and DefaultMaxPacketSize follow the values the teacher's
// packet.go already used for the same constants.
const (
	DefaultMTU           = 1730
	DefaultMaxPacketSize = 32768
)

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MTU:           DefaultMTU,
		MaxPacketSize: DefaultMaxPacketSize,
	}
}

// RegistryConfig configures a DestinationRegistry: where persisted
// identity key files live, their extension, the service's task queue
// depth, and the shared collaborators every owned Destination is built
// with (spec.md §4.4).
type RegistryConfig struct {
	DataDirectory     DataDirectory
	KeyFileExtension  string
	ServiceQueueDepth int

	Garlic         Garlic
	NetDb          NetDb
	RandomSource   RandomSource
	Verifier       Verifier
	KeyGenerator   KeyGenerator
	IdentityLoader IdentityLoader

	// NewTunnelPool builds the per-destination tunnel pool (3 hops by
	// default — spec.md §6 "Constants"). Each Destination gets its own.
	NewTunnelPool func(identity *Identity) (TunnelPool, error)
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		KeyFileExtension:  ".dat",
		ServiceQueueDepth: 64,
		RandomSource:      CryptoRandomSource{},
		Verifier:          Ed25519Verifier{},
	}
}
