package linker

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"tether/pkg/tether"
)

var testNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestLinker() *Linker {
	return New(WithClock(func() time.Time { return testNow }))
}

func spawnRef(id int, age time.Duration) tether.MessageRef {
	return tether.MessageRef{
		Target:    tether.OutboundTarget{Conversation: tether.Conversation{ID: "chat-1", Type: tether.ConversationTypeGroup}},
		ID:        strconv.Itoa(id),
		CreatedAt: testNow.Add(-age),
	}
}

func TestLinkTwiceFails(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	msg := spawnRef(1, 0)
	first := spawnRef(2, 0)
	if err := linker.Link(msg, first); err != nil {
		t.Fatalf("first Link error = %v", err)
	}

	err := linker.Link(msg, spawnRef(3, 0))
	if !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("second Link error = %v, want ErrAlreadyLinked", err)
	}
	if !strings.Contains(err.Error(), "message 1 already has a reply linked") {
		t.Fatalf("second Link error = %q, want reply-linked message", err)
	}
	if got, ok := linker.Get(msg); !ok || got.ID != first.ID {
		t.Fatalf("Get = (%v, %v), want first reply kept", got, ok)
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "fresh", age: 0, want: false},
		{name: "just under window", age: DefaultExpiry - time.Second, want: false},
		{name: "at window", age: DefaultExpiry, want: true},
		{name: "two days", age: 48 * time.Hour, want: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := linker.IsExpired(spawnRef(1, testCase.age)); got != testCase.want {
				t.Fatalf("IsExpired = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestExpiryIgnoresFreezeState(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	old := spawnRef(1, 30*time.Hour)
	if !linker.IsExpired(old) {
		t.Fatal("IsExpired(old) = false before freeze")
	}
	linker.Freeze(old)
	if !linker.IsExpired(old) {
		t.Fatal("IsExpired(old) = false after Freeze")
	}
	linker.Unfreeze(old)
	if !linker.IsExpired(old) {
		t.Fatal("IsExpired(old) = false after Unfreeze")
	}
}

func TestGetOriginalAndUnlinkFromReply(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	original := spawnRef(1, 0)
	reply := spawnRef(2, 0)
	if err := linker.Link(original, reply); err != nil {
		t.Fatalf("Link error = %v", err)
	}

	if _, ok := linker.GetOriginal(original); ok {
		t.Fatal("GetOriginal(original) ok = true, want false")
	}
	if got, ok := linker.GetOriginal(reply); !ok || got.ID != original.ID {
		t.Fatalf("GetOriginal(reply) = (%v, %v), want original", got, ok)
	}

	linker.Unlink(reply)
	if linker.Len() != 1 {
		t.Fatalf("Len after Unlink(reply) = %d, want 1", linker.Len())
	}

	linker.UnlinkFromReply(reply)
	if linker.Len() != 0 {
		t.Fatalf("Len after UnlinkFromReply = %d, want 0", linker.Len())
	}
	linker.UnlinkFromReply(reply)
	linker.Unlink(original)
}

func TestLinkSweepsExpiredEntries(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	var stay, gone []tether.MessageRef
	for hours := range 48 {
		msg := spawnRef(100+hours, time.Duration(hours)*time.Hour)
		linker.refs[msg.Key()] = link{original: msg, derived: msg}
		linker.Freeze(msg)
		if hours < 24 {
			stay = append(stay, msg)
		} else {
			gone = append(gone, msg)
		}
	}

	fresh := spawnRef(1, 0)
	if err := linker.Link(fresh, fresh); err != nil {
		t.Fatalf("Link error = %v", err)
	}

	for _, msg := range stay {
		if _, ok := linker.Get(msg); !ok {
			t.Fatalf("link %s swept, want kept", msg.ID)
		}
		if !linker.IsFrozen(msg) {
			t.Fatalf("freeze %s cleared, want kept", msg.ID)
		}
	}
	for _, msg := range gone {
		if _, ok := linker.Get(msg); ok {
			t.Fatalf("link %s kept, want swept", msg.ID)
		}
		if linker.IsFrozen(msg) {
			t.Fatalf("freeze %s kept, want cleared", msg.ID)
		}
	}
	if linker.Len() != len(stay)+1 {
		t.Fatalf("Len = %d, want %d", linker.Len(), len(stay)+1)
	}
}

func TestFreezeIsIndependentOfLinks(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	original := spawnRef(1, 0)
	linker.Freeze(original)
	if !linker.IsFrozen(original) {
		t.Fatal("IsFrozen = false after Freeze without link")
	}

	if err := linker.Link(original, spawnRef(2, 0)); err != nil {
		t.Fatalf("Link error = %v", err)
	}
	linker.Unlink(original)
	if !linker.IsFrozen(original) {
		t.Fatal("IsFrozen = false after Unlink, want freeze kept")
	}
	linker.Unfreeze(original)
	if linker.IsFrozen(original) {
		t.Fatal("IsFrozen = true after Unfreeze")
	}
}

func TestKeysAreScopedByConversation(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	first := spawnRef(1, 0)
	other := first
	other.Target.Conversation.ID = "chat-2"

	if err := linker.Link(first, spawnRef(10, 0)); err != nil {
		t.Fatalf("Link(first) error = %v", err)
	}
	if err := linker.Link(other, spawnRef(11, 0)); err != nil {
		t.Fatalf("Link(other) error = %v, want same id in other chat allowed", err)
	}
}

func TestDroppedRepliesAreRetired(t *testing.T) {
	t.Parallel()

	now := testNow
	linker := New(WithClock(func() time.Time { return now }))
	original := spawnRef(1, 0)
	reply := spawnRef(2, 0)
	if err := linker.Link(original, reply); err != nil {
		t.Fatalf("Link error = %v", err)
	}
	if linker.IsRetired(reply) {
		t.Fatal("IsRetired(linked reply) = true, want false")
	}

	linker.UnlinkFromReply(reply)
	if !linker.IsRetired(reply) {
		t.Fatal("IsRetired(unlinked reply) = false, want true")
	}
	if linker.IsRetired(spawnRef(3, 0)) {
		t.Fatal("IsRetired(never linked) = true, want false")
	}

	now = now.Add(DefaultExpiry)
	if linker.IsRetired(reply) {
		t.Fatal("IsRetired after window = true, want false")
	}
	if err := linker.Link(spawnRef(4, 0), spawnRef(5, 0)); err != nil {
		t.Fatalf("Link error = %v", err)
	}
	if len(linker.retired) != 0 {
		t.Fatalf("retired entries = %d, want pruned", len(linker.retired))
	}
}

func TestSweptRepliesAreRetired(t *testing.T) {
	t.Parallel()

	linker := newTestLinker()
	stale := spawnRef(1, DefaultExpiry+time.Hour)
	reply := spawnRef(2, DefaultExpiry+time.Hour)
	linker.refs[stale.Key()] = link{original: stale, derived: reply}

	if err := linker.Link(spawnRef(3, 0), spawnRef(4, 0)); err != nil {
		t.Fatalf("Link error = %v", err)
	}
	if _, ok := linker.GetOriginal(reply); ok {
		t.Fatal("stale link kept, want swept")
	}
	if !linker.IsRetired(reply) {
		t.Fatal("IsRetired(swept reply) = false, want true")
	}

	if err := linker.Link(stale, reply); err != nil {
		t.Fatalf("relink error = %v", err)
	}
	if linker.IsRetired(reply) {
		t.Fatal("IsRetired(relinked reply) = true, want false")
	}
}
