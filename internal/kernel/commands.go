package kernel

import (
	"context"
	"fmt"
	"strings"

	"tether/pkg/tether"
)

type commandRegistration struct {
	moduleName string
	spec       tether.CommandSpec
}

// registerModuleCommands claims every command of one module, or none.
func (k *Kernel) registerModuleCommands(moduleName string, commands []tether.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	claimed := make(map[string]tether.CommandSpec, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		command.Name = tether.NormalizeCommandName(command.Name)
		if _, dup := claimed[command.Name]; dup {
			return fmt.Errorf("register command %s%s for module %s: duplicate declaration",
				tether.CommandPrefix, command.Name, moduleName)
		}
		claimed[command.Name] = command
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for name := range claimed {
		if existing, taken := k.commands[name]; taken {
			return fmt.Errorf("register command %s%s for module %s: owned by %s: %w",
				tether.CommandPrefix, name, moduleName, existing.moduleName, tether.ErrCommandAlreadyRegistered)
		}
	}
	for name, spec := range claimed {
		k.commands[name] = commandRegistration{moduleName: moduleName, spec: spec}
	}

	return nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for name, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, name)
		}
	}
}

func (k *Kernel) commandRegistered(name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	_, ok := k.commands[name]
	return ok
}

// Commands lists registered command specs.
func (k *Kernel) Commands() []tether.CommandSpec {
	k.mu.RLock()
	defer k.mu.RUnlock()

	specs := make([]tether.CommandSpec, 0, len(k.commands))
	for _, registration := range k.commands {
		specs = append(specs, registration.spec)
	}

	return specs
}

// ListCommands lists registered commands with their owning modules.
func (k *Kernel) ListCommands(context.Context) ([]tether.RegisteredCommand, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	commands := make([]tether.RegisteredCommand, 0, len(k.commands))
	for _, registration := range k.commands {
		commands = append(commands, tether.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}

	return commands, nil
}

// commandDerivingSink publishes driver events and, for new messages that
// invoke a registered command, a derived command.received event after them.
type commandDerivingSink struct {
	base        tether.EventSink
	registered  func(name string) bool
	botUsername string
}

func (k *Kernel) newDriverEventSink() tether.EventSink {
	return &commandDerivingSink{
		base:        k.bus,
		registered:  k.commandRegistered,
		botUsername: k.cfg.botUsername,
	}
}

// Publish forwards event and then any derived command event.
func (s *commandDerivingSink) Publish(ctx context.Context, event *tether.Event) error {
	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event: %w", err)
	}

	command := s.derive(event)
	if command == nil {
		return nil
	}
	if err := s.base.Publish(ctx, command); err != nil {
		return fmt.Errorf("publish derived command %s: %w", command.Command.Name, err)
	}

	return nil
}

func (s *commandDerivingSink) derive(event *tether.Event) *tether.Event {
	if event == nil || event.Kind != tether.EventKindMessageCreated || event.Message == nil {
		return nil
	}
	invocation, ok := tether.ParseCommand(event.Message.Text)
	if !ok || !s.registered(invocation.Name) {
		return nil
	}
	if invocation.Mention != "" && s.botUsername != "" && !strings.EqualFold(invocation.Mention, s.botUsername) {
		return nil
	}
	invocation.SourceEventID = event.ID

	message := *event.Message
	derived := *event
	derived.ID = event.ID + "#command"
	derived.Kind = tether.EventKindCommandReceived
	derived.Message = &message
	derived.Command = &invocation

	return &derived
}
