package tether

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "nil event never matches",
			interest: InterestSet{},
			want:     false,
		},
		{
			name:     "kind filter matches",
			interest: InterestSet{Kinds: []EventKind{EventKindMessageEdited}},
			event:    &Event{Kind: EventKindMessageEdited},
			want:     true,
		},
		{
			name:     "kind filter rejects other kinds",
			interest: InterestSet{Kinds: []EventKind{EventKindMessageEdited}},
			event:    &Event{Kind: EventKindMessageCreated},
			want:     false,
		},
		{
			name:     "source filter matches platform wildcard",
			interest: InterestSet{Sources: []EventSource{{Platform: PlatformTelegram}}},
			event: &Event{
				Kind:   EventKindMessageCreated,
				Source: EventSource{Platform: PlatformTelegram, ID: "tg-main"},
			},
			want: true,
		},
		{
			name:     "source filter rejects other instance",
			interest: InterestSet{Sources: []EventSource{{Platform: PlatformTelegram, ID: "tg-alt"}}},
			event: &Event{
				Kind:   EventKindMessageCreated,
				Source: EventSource{Platform: PlatformTelegram, ID: "tg-main"},
			},
			want: false,
		},
		{
			name:     "command filter matches bound command",
			interest: InterestSet{Kinds: []EventKind{EventKindCommandReceived}, Commands: []string{"move"}},
			event:    &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "move"}},
			want:     true,
		},
		{
			name:     "command filter rejects other command",
			interest: InterestSet{Commands: []string{"move"}},
			event:    &Event{Kind: EventKindCommandReceived, Command: &CommandInvocation{Name: "help"}},
			want:     false,
		},
		{
			name:     "require interaction rejects missing payload",
			interest: InterestSet{RequireInteraction: true},
			event:    &Event{Kind: EventKindInteractionReceived},
			want:     false,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	capability := InterestSet{
		Kinds: []EventKind{EventKindMessageCreated, EventKindMessageEdited},
	}

	if !capability.Allows(InterestSet{Kinds: []EventKind{EventKindMessageEdited}}) {
		t.Fatal("Allows(subset) = false, want true")
	}
	if capability.Allows(InterestSet{Kinds: []EventKind{EventKindMessageRetracted}}) {
		t.Fatal("Allows(outside kind) = true, want false")
	}
	if capability.Allows(InterestSet{}) {
		t.Fatal("Allows(unrestricted) = true, want false")
	}
	if !(InterestSet{}).Allows(InterestSet{Kinds: []EventKind{EventKindMessageRetracted}}) {
		t.Fatal("unrestricted capability Allows = false, want true")
	}
}
