package tether

import (
	"context"
	"fmt"
	"strings"
)

// CommandPrefix introduces one command invocation.
const CommandPrefix = "/"

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Name is the command name without prefix and mention suffix.
	Name string
	// Description describes command behavior for diagnostics and help text.
	Description string
	// Usage is a one-line argument synopsis.
	Usage string
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	name := NormalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.ContainsAny(name, " \t\r\n@/") {
		return fmt.Errorf("validate command spec: invalid name %q", s.Name)
	}

	return nil
}

// RegisteredCommand is one command together with the module that owns it.
type RegisteredCommand struct {
	ModuleName string
	Command    CommandSpec
}

// CommandCatalog lists the commands currently claimed by modules.
type CommandCatalog interface {
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}

// CommandInvocation carries one parsed command.
type CommandInvocation struct {
	// Name is the normalized command name.
	Name string
	// Mention is the optional bot username from `/name@mention`.
	Mention string
	// Args are the whitespace-separated tokens after the header.
	Args []string
	// Value is Args joined by single spaces.
	Value string
	// SourceEventID identifies the inbound event that produced this command.
	SourceEventID string
	// RawInput is the original message text.
	RawInput string
}

// ParseCommand parses `/name[@mention] args...`.
//
// ok is false when text does not look like a command.
func ParseCommand(text string) (invocation CommandInvocation, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], CommandPrefix) {
		return CommandInvocation{}, false
	}

	header := strings.TrimPrefix(fields[0], CommandPrefix)
	name, mention, _ := strings.Cut(header, "@")
	name = NormalizeCommandName(name)
	if name == "" {
		return CommandInvocation{}, false
	}

	invocation = CommandInvocation{
		Name:     name,
		Mention:  strings.TrimSpace(mention),
		RawInput: text,
	}
	if len(fields) > 1 {
		invocation.Args = append([]string(nil), fields[1:]...)
		invocation.Value = strings.Join(invocation.Args, " ")
	}

	return invocation, true
}

// NormalizeCommandName lowercases and trims a command name.
func NormalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
