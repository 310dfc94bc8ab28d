package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tether/pkg/tether"
)

const helpCommandName = "help"

// Module replies to /help with the commands every registered module claims.
type Module struct {
	dispatcher     tether.OutboundDispatcher
	commandCatalog tether.CommandCatalog
}

// New creates a help module.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares the /help command.
func (m *Module) Spec() tether.ModuleSpec {
	return tether.ModuleSpec{
		Handlers: []tether.ModuleHandler{
			{
				Capability: tether.Capability{
					Name:        "help-command",
					Description: "renders registered command help for /help",
					Interest: tether.InterestSet{
						Kinds:    []tether.EventKind{tether.EventKindCommandReceived},
						Commands: []string{helpCommandName},
					},
					RequiredServices: []string{
						tether.ServiceOutboundDispatcher,
						tether.ServiceCommandCatalog,
					},
				},
				Subscription: tether.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []tether.CommandSpec{
			{
				Name:        helpCommandName,
				Description: "show all available commands",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime tether.ModuleRuntime) error {
	dispatcher, err := tether.ResolveAs[tether.OutboundDispatcher](
		runtime.Services(),
		tether.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	commandCatalog, err := tether.ResolveAs[tether.CommandCatalog](
		runtime.Services(),
		tether.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *tether.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != tether.EventKindCommandReceived || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil || m.commandCatalog == nil {
		return fmt.Errorf("help handle command: module not registered")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	target, err := tether.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, tether.SendMessageRequest{
		Target:             target,
		Text:               renderHelp(commands),
		ReplyToMessageID:   event.Message.ID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

func renderHelp(commands []tether.RegisteredCommand) string {
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	sorted := append([]tether.RegisteredCommand(nil), commands...)
	sort.Slice(sorted, func(i, j int) bool {
		left := commandLabel(sorted[i].Command)
		right := commandLabel(sorted[j].Command)
		if left == right {
			return sorted[i].ModuleName < sorted[j].ModuleName
		}
		return left < right
	})

	lines := make([]string, 0, len(sorted)*4+1)
	lines = append(lines, "Available commands:\n")
	for index, command := range sorted {
		if index > 0 {
			lines = append(lines, "")
		}
		moduleName := strings.TrimSpace(command.ModuleName)
		if moduleName == "" {
			moduleName = "unknown"
		}

		label := commandLabel(command.Command)
		if usage := strings.TrimSpace(command.Command.Usage); usage != "" {
			label += " " + usage
		}
		lines = append(lines, label)
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			lines = append(lines, description)
		}
		lines = append(lines, fmt.Sprintf("(%s)", moduleName))
	}

	return strings.Join(lines, "\n")
}

func commandLabel(command tether.CommandSpec) string {
	return tether.CommandPrefix + tether.NormalizeCommandName(command.Name)
}

var _ tether.Module = (*Module)(nil)
