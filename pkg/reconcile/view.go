package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tether/pkg/tether"
)

const viewRemovalTimeout = 10 * time.Second

// viewScheduler removes reply actions after a delay. There is at most one
// pending removal per reply; scheduling again replaces it.
type viewScheduler struct {
	dispatcher tether.OutboundDispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	closed  bool
	timers  map[tether.MessageKey]*time.Timer
	running sync.WaitGroup
}

func newViewScheduler(dispatcher tether.OutboundDispatcher, logger *slog.Logger) *viewScheduler {
	return &viewScheduler{
		dispatcher: dispatcher,
		logger:     logger,
		timers:     make(map[tether.MessageKey]*time.Timer),
	}
}

func (s *viewScheduler) schedule(reply tether.MessageRef, after time.Duration) {
	key := reply.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if previous, ok := s.timers[key]; ok {
		previous.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		if s.closed || s.timers[key] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		s.remove(reply)
	})
	s.timers[key] = timer
}

func (s *viewScheduler) cancel(key tether.MessageKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *viewScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

func (s *viewScheduler) close() {
	s.mu.Lock()
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.running.Wait()
}

func (s *viewScheduler) remove(reply tether.MessageRef) {
	ctx, cancel := context.WithTimeout(context.Background(), viewRemovalTimeout)
	defer cancel()

	err := s.dispatcher.EditMessage(ctx, tether.EditMessageRequest{
		Target:    reply.Target,
		MessageID: reply.ID,
	})
	if err == nil || tether.IsOutboundNotFound(err) || tether.IsOutboundNotModified(err) {
		return
	}
	s.logger.WarnContext(ctx, "remove reply actions failed",
		"reply", reply.Key().String(),
		"error", err,
	)
}
