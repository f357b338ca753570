package streaming

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Service is the single-threaded cooperative event loop spec.md §5
// requires: every Stream/Destination mutation runs on it, and callers
// from other goroutines cross over with Post. Grounded on manager.go's
// own incomingPackets-channel-plus-dedicated-goroutine dispatch loop,
// generalized here into a general task queue instead of one channel per
// message kind.
type Service struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewService creates a Service with the given task queue depth. A
// depth of 0 makes Post block until the loop goroutine is ready to
// accept the task, which is fine for tests that want deterministic
// ordering.
func NewService(queueDepth int) *Service {
	s := &Service{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	return s
}

// Run drives the event loop until Stop is called. Intended to be
// launched with `go service.Run()` exactly once.
func (s *Service) Run() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.tasks:
			s.runTask(task)
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Service) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("service task panicked")
		}
	}()
	task()
}

func (s *Service) drain() {
	for {
		select {
		case task := <-s.tasks:
			s.runTask(task)
		default:
			return
		}
	}
}

// Post enqueues work for the service thread. Fire-and-forget, matching
// spec.md §5's "service.post(work)" contract.
func (s *Service) Post(work func()) {
	select {
	case s.tasks <- work:
	case <-s.done:
		log.Debug().Msg("post after service stopped, dropping task")
	}
}

// Stop signals the loop to exit after draining any queued tasks, and
// blocks until Run returns.
func (s *Service) Stop() {
	close(s.done)
	s.wg.Wait()
}
