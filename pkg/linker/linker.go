// Package linker tracks which derived message answers which original message.
package linker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tether/pkg/tether"
)

// DefaultExpiry is how long after its creation a message stops being reconciled.
const DefaultExpiry = 24 * time.Hour

// ErrAlreadyLinked reports a second Link call for one original message.
var ErrAlreadyLinked = errors.New("linker: original already linked")

// Option configures a Linker.
type Option func(*Linker)

// WithExpiry overrides DefaultExpiry.
func WithExpiry(window time.Duration) Option {
	return func(l *Linker) {
		if window > 0 {
			l.expiry = window
		}
	}
}

// WithClock overrides the wall clock used for expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(l *Linker) {
		if clock != nil {
			l.clock = clock
		}
	}
}

type link struct {
	original tether.MessageRef
	derived  tether.MessageRef
}

// Linker is an in-memory bidirectional table between original and derived
// messages, plus a set of frozen originals.
//
// An original maps to at most one derived message. Freeze state is kept apart
// from links so it can outlive an unlink. Derived messages whose link was
// dropped are remembered as retired for one expiry window.
type Linker struct {
	expiry time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	refs    map[tether.MessageKey]link
	frozen  map[tether.MessageKey]struct{}
	retired map[tether.MessageKey]time.Time
}

// New creates an empty Linker.
func New(opts ...Option) *Linker {
	l := &Linker{
		expiry: DefaultExpiry,
		clock:  time.Now,
		refs:    make(map[tether.MessageKey]link),
		frozen:  make(map[tether.MessageKey]struct{}),
		retired: make(map[tether.MessageKey]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Link records derived as the reply to original.
//
// Expired links are swept first. When original already has a reply the
// existing link is kept and an error wrapping ErrAlreadyLinked is returned.
func (l *Linker) Link(original, derived tether.MessageRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked()
	key := original.Key()
	if _, exists := l.refs[key]; exists {
		return fmt.Errorf("message %s already has a reply linked: %w", original.ID, ErrAlreadyLinked)
	}
	l.refs[key] = link{original: original, derived: derived}
	delete(l.retired, derived.Key())

	return nil
}

// Unlink forgets the reply of original, if any.
func (l *Linker) Unlink(original tether.MessageRef) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropLocked(original.Key())
}

// Get returns the reply linked to original.
func (l *Linker) Get(original tether.MessageRef) (tether.MessageRef, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, ok := l.refs[original.Key()]
	return stored.derived, ok
}

// GetOriginal returns the original that derived answers.
func (l *Linker) GetOriginal(derived tether.MessageRef) (tether.MessageRef, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.originalLocked(derived.Key())
}

// UnlinkFromReply forgets the link whose reply is derived.
func (l *Linker) UnlinkFromReply(derived tether.MessageRef) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if original, ok := l.originalLocked(derived.Key()); ok {
		l.dropLocked(original.Key())
	}
}

// IsRetired reports whether derived was a linked reply whose link has since
// been dropped, within the last expiry window.
func (l *Linker) IsRetired(derived tether.MessageRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	retiredAt, ok := l.retired[derived.Key()]
	return ok && l.clock().Sub(retiredAt) < l.expiry
}

// Freeze stops automatic reconciliation for original.
func (l *Linker) Freeze(original tether.MessageRef) {
	l.mu.Lock()
	l.frozen[original.Key()] = struct{}{}
	l.mu.Unlock()
}

// Unfreeze clears the freeze flag of original.
func (l *Linker) Unfreeze(original tether.MessageRef) {
	l.mu.Lock()
	delete(l.frozen, original.Key())
	l.mu.Unlock()
}

// IsFrozen reports whether original is frozen.
func (l *Linker) IsFrozen(original tether.MessageRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.frozen[original.Key()]
	return ok
}

// IsExpired reports whether ref is older than the expiry window.
func (l *Linker) IsExpired(ref tether.MessageRef) bool {
	return l.clock().Sub(ref.CreatedAt) >= l.expiry
}

// Len returns the number of live links.
func (l *Linker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.refs)
}

func (l *Linker) originalLocked(derived tether.MessageKey) (tether.MessageRef, bool) {
	for _, stored := range l.refs {
		if stored.derived.Key() == derived {
			return stored.original, true
		}
	}

	return tether.MessageRef{}, false
}

func (l *Linker) dropLocked(original tether.MessageKey) {
	stored, ok := l.refs[original]
	if !ok {
		return
	}
	delete(l.refs, original)
	l.retired[stored.derived.Key()] = l.clock()
}

func (l *Linker) sweepLocked() {
	for key, stored := range l.refs {
		if l.IsExpired(stored.original) {
			l.dropLocked(key)
			delete(l.frozen, key)
		}
	}
	now := l.clock()
	for key, retiredAt := range l.retired {
		if now.Sub(retiredAt) >= l.expiry {
			delete(l.retired, key)
		}
	}
}
