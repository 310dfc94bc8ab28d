package telegram

import (
	"testing"
	"time"

	"tether/pkg/tether"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotStoreRememberAndLookup(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore(10, time.Hour)
	stored := StoredMessage{
		Conversation: tether.Conversation{ID: "42", Type: tether.ConversationTypeGroup},
		Author:       tether.Actor{ID: "7", DisplayName: "Alice"},
		Message: tether.Message{
			ID:        "100",
			Text:      "hello",
			Reactions: []tether.MessageReaction{{Emoji: "👍", Count: 2}},
		},
	}
	store.Remember("", stored)

	got, ok := store.Lookup("", "100")
	if !ok {
		t.Fatal("lookup miss, want hit")
	}
	if diff := cmp.Diff(stored, got); diff != "" {
		t.Fatalf("stored message mismatch (-want +got):\n%s", diff)
	}

	got.Message.Reactions[0].Count = 99
	again, _ := store.Lookup("", "100")
	if again.Message.Reactions[0].Count != 2 {
		t.Fatalf("reaction count = %d, want 2 (lookup must return a copy)", again.Message.Reactions[0].Count)
	}

	if _, ok := store.Lookup("42", "100"); ok {
		t.Fatal("lookup in channel scope hit, want miss")
	}
}

func TestSnapshotStoreDropsReplyToChain(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore(10, time.Hour)
	store.Remember("", StoredMessage{Message: tether.Message{
		ID:      "2",
		ReplyTo: &tether.MessageSnapshot{Text: "parent"},
	}})

	got, _ := store.Lookup("", "2")
	if got.Message.ReplyTo != nil {
		t.Fatalf("reply to = %+v, want nil", got.Message.ReplyTo)
	}
}

func TestSnapshotStoreExpiresEntries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewSnapshotStore(10, time.Minute)
	store.clock = func() time.Time { return now }

	store.Remember("", StoredMessage{Message: tether.Message{ID: "1"}})
	now = now.Add(59 * time.Second)
	if _, ok := store.Lookup("", "1"); !ok {
		t.Fatal("lookup before ttl missed")
	}

	now = now.Add(time.Second)
	if _, ok := store.Lookup("", "1"); ok {
		t.Fatal("lookup at ttl hit, want miss")
	}
	if store.Len() != 0 {
		t.Fatalf("len = %d, want 0", store.Len())
	}
}

func TestSnapshotStoreEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore(2, time.Hour)
	store.Remember("", StoredMessage{Message: tether.Message{ID: "1"}})
	store.Remember("", StoredMessage{Message: tether.Message{ID: "2"}})
	store.Lookup("", "1")
	store.Remember("", StoredMessage{Message: tether.Message{ID: "3"}})

	if _, ok := store.Lookup("", "2"); ok {
		t.Fatal("entry 2 survived eviction")
	}
	for _, id := range []string{"1", "3"} {
		if _, ok := store.Lookup("", id); !ok {
			t.Fatalf("entry %s evicted, want kept", id)
		}
	}
}

func TestSnapshotStoreUpdateReactionsAndForget(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore(0, 0)
	if store.UpdateReactions("9", "5", nil) {
		t.Fatal("update reactions on unknown message reported true")
	}

	store.Remember("9", StoredMessage{Message: tether.Message{ID: "5"}})
	reactions := []tether.MessageReaction{{Emoji: "🔥", Count: 1}}
	if !store.UpdateReactions("9", "5", reactions) {
		t.Fatal("update reactions on known message reported false")
	}
	got, _ := store.Lookup("9", "5")
	if diff := cmp.Diff(reactions, got.Message.Reactions); diff != "" {
		t.Fatalf("reactions mismatch (-want +got):\n%s", diff)
	}

	store.Forget("9", "5")
	if _, ok := store.Lookup("9", "5"); ok {
		t.Fatal("lookup after forget hit")
	}
}
