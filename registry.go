package streaming

import (
	"fmt"
	"sync"

	"github.com/go-i2p/go-i2p/pkg/data"
	"github.com/rs/zerolog/log"
)

// DestinationRegistry is the process-wide collection of local
// destinations: it owns the single-threaded service every Stream and
// Destination mutation runs on, and dispatches inbound packets by
// destination hash (spec.md §4.4).
type DestinationRegistry struct {
	config  RegistryConfig
	service *Service

	mu           sync.Mutex
	destinations map[data.Hash]*Destination
	shared       *Destination
	running      bool
}

// NewDestinationRegistry builds a registry around the given shared
// collaborators. Start() must be called before any stream work runs.
func NewDestinationRegistry(cfg RegistryConfig) *DestinationRegistry {
	return &DestinationRegistry{
		config:       cfg,
		destinations: make(map[data.Hash]*Destination),
	}
}

// Start creates the shared local destination if none exists yet
// (generating fresh keys via KeyGenerator), loads any destinations
// persisted in the data directory, and launches the service loop on a
// dedicated goroutine (spec.md §4.4 start()).
func (r *DestinationRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	r.service = NewService(r.config.ServiceQueueDepth)

	if r.shared == nil {
		if r.config.KeyGenerator == nil {
			return fmt.Errorf("start: no KeyGenerator configured and no shared destination exists")
		}
		identity, signer, err := r.config.KeyGenerator.CreateRandomKeys()
		if err != nil {
			return fmt.Errorf("start: create shared destination keys: %w", err)
		}
		dest, err := r.addDestinationLocked(identity, signer)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		r.shared = dest
	}

	if err := r.loadPersistedDestinationsLocked(); err != nil {
		log.Warn().Err(err).Msg("start: failed loading persisted destinations")
	}

	go r.service.Run()
	r.running = true
	return nil
}

// Stop destroys every destination (draining their streams) and stops
// the service loop, blocking until it exits (spec.md §4.4 stop()).
func (r *DestinationRegistry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	dests := make([]*Destination, 0, len(r.destinations))
	for _, d := range r.destinations {
		dests = append(dests, d)
	}
	r.destinations = make(map[data.Hash]*Destination)
	r.shared = nil
	r.running = false
	service := r.service
	r.mu.Unlock()

	for _, d := range dests {
		d.mu.Lock()
		streams := make([]*Stream, 0, len(d.streams))
		for _, s := range d.streams {
			streams = append(streams, s)
		}
		d.mu.Unlock()
		for _, s := range streams {
			d.DeleteStream(s)
		}
	}
	service.Stop()
}

func (r *DestinationRegistry) addDestinationLocked(identity *Identity, signer Signer) (*Destination, error) {
	var tunnels TunnelPool
	var err error
	if r.config.NewTunnelPool != nil {
		tunnels, err = r.config.NewTunnelPool(identity)
		if err != nil {
			return nil, fmt.Errorf("build tunnel pool: %w", err)
		}
	}

	dest, err := NewDestination(identity, tunnels, r.config.Garlic, r.config.NetDb, signer, r.config.Verifier, r.config.RandomSource, r.service)
	if err != nil {
		return nil, err
	}
	r.destinations[dest.Hash] = dest
	return dest, nil
}

func (r *DestinationRegistry) loadPersistedDestinationsLocked() error {
	if r.config.DataDirectory == nil || r.config.IdentityLoader == nil {
		return nil
	}
	files, err := r.config.DataDirectory.ListKeyFiles(r.config.KeyFileExtension)
	if err != nil {
		return fmt.Errorf("list key files: %w", err)
	}
	for _, path := range files {
		blob, err := r.config.DataDirectory.ReadKeyFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to read persisted key file")
			continue
		}
		identity, signer, err := r.config.IdentityLoader.LoadKeyFile(blob)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to parse persisted key file")
			continue
		}
		if _, err := r.addDestinationLocked(identity, signer); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to register persisted destination")
		}
	}
	return nil
}

// HandleNextPacket posts a lookup-and-forward task onto the service:
// unknown destination hashes are dropped with a log line (spec.md §4.4
// handleNextPacket()).
func (r *DestinationRegistry) HandleNextPacket(destHash data.Hash, pkt *Packet) {
	r.mu.Lock()
	service := r.service
	r.mu.Unlock()
	if service == nil {
		log.Warn().Msg("handleNextPacket: registry not started")
		return
	}
	service.Post(func() {
		r.mu.Lock()
		d, ok := r.destinations[destHash]
		r.mu.Unlock()
		if !ok {
			log.Debug().Msg("handleNextPacket: unknown destination hash, dropping")
			return
		}
		d.HandleNextPacket(pkt)
	})
}

// HandleDataMessage is the upstream entry point spec.md §6 names
// ("handleDataMessage(destHash, buf)"): the I2NP dispatcher calls this
// when a Data message arrives for a local destination. It decodes the
// wire packet and forwards it via HandleNextPacket.
func (r *DestinationRegistry) HandleDataMessage(destHash data.Hash, buf []byte, maxPacketSize int) {
	pkt, err := handleDataMessage(buf, maxPacketSize)
	if err != nil {
		log.Debug().Err(err).Msg("handleDataMessage: decode failed, dropping")
		return
	}
	r.HandleNextPacket(destHash, pkt)
}

// CreateClientStream delegates to the shared local destination, per
// spec.md §4.4 createClientStream() / §6 "createStream".
func (r *DestinationRegistry) CreateClientStream(remoteLeaseSet *LeaseSet) (*Stream, error) {
	r.mu.Lock()
	shared := r.shared
	r.mu.Unlock()
	if shared == nil {
		return nil, fmt.Errorf("create client stream: registry not started")
	}
	return shared.CreateOutgoing(remoteLeaseSet), nil
}

// DeleteStream posts s's destruction onto the service thread to ensure
// it happens there, per spec.md §4.4 deleteStream().
func (r *DestinationRegistry) DeleteStream(s *Stream) {
	r.mu.Lock()
	service := r.service
	r.mu.Unlock()
	if service == nil {
		return
	}
	service.Post(func() { s.destination.DeleteStream(s) })
}

// SharedLocalDestination returns the process's default destination, the
// "getSharedLocalDestination()" application API spec.md §6 names.
func (r *DestinationRegistry) SharedLocalDestination() *Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shared
}
