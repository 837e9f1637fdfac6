// Package actionexec translates a configured action descriptor into
// concrete LKD command(s), specializing send-email, send-sms, shell-cmd,
// and a generic pass-through, per §4.5.
package actionexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2franix/hwsupervisor/internal/buildinfo"
	"github.com/2franix/hwsupervisor/internal/contexthandler"
	"github.com/2franix/hwsupervisor/internal/lkdbus"
)

// Kind identifies one of the four action descriptor shapes.
type Kind string

const (
	KindSendEmail Kind = "send-email"
	KindSendSMS   Kind = "send-sms"
	KindShellCmd  Kind = "shell-cmd"
	KindGeneric   Kind = "generic"
)

// EmailOptions configures the send-email action's templated fields.
type EmailOptions struct {
	To      []string
	Subject string
	Body    string
}

// SMSOptions configures the send-sms action.
type SMSOptions struct {
	To    string
	Value string
}

// ShellOptions configures the shell-cmd action.
type ShellOptions struct {
	Command string
}

// Action is one configured action descriptor, as resolved from the
// configuration document's event bindings.
type Action struct {
	Kind    Kind
	Email   EmailOptions
	SMS     SMSOptions
	Shell   ShellOptions
	Generic lkdbus.ActionDocument // used when Kind == KindGeneric

	// StatusOptions configures the alert.sensors-status context
	// handler for this action's templated fields, if it uses that
	// placeholder. Ignored otherwise.
	StatusOptions contexthandler.SensorStatusOptions
}

// Mailer sends a composed email. Two backends satisfy this interface:
// SMTPMailer (direct net/smtp delivery) and LKDMailer (delegates the
// send to LKD via an action document); which one is wired in is a
// matter of configuration, not of the executor's logic.
type Mailer interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// Executor resolves context placeholders and dispatches each
// configured action kind.
type Executor struct {
	bus      lkdbus.Client
	mailer   Mailer
	registry *contexthandler.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs an Executor. mailer may be nil if send-email actions
// are never configured; calling one without a mailer is a configuration
// error surfaced to logs.
func New(bus lkdbus.Client, mailer Mailer, registry *contexthandler.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = contexthandler.NewDefaultRegistry()
	}
	return &Executor{bus: bus, mailer: mailer, registry: registry, logger: logger, now: time.Now}
}

// Execute expands templated fields against ctx and dispatches the
// action. Per the error taxonomy, a failure here is logged and the
// action is skipped; it never aborts the remaining bindings in the
// caller's list.
func (e *Executor) Execute(ctx context.Context, action Action, hctx contexthandler.Context) error {
	switch action.Kind {
	case KindSendEmail:
		return e.executeSendEmail(ctx, action.Email, hctx)
	case KindSendSMS:
		return e.executeSendSMS(ctx, action.SMS, hctx)
	case KindShellCmd:
		return e.executeShellCmd(ctx, action.Shell, hctx)
	case KindGeneric:
		return e.bus.ExecuteAction(ctx, action.Generic)
	default:
		return fmt.Errorf("actionexec: unknown action kind %q", action.Kind)
	}
}

func (e *Executor) executeSendEmail(ctx context.Context, opts EmailOptions, hctx contexthandler.Context) error {
	if e.mailer == nil {
		return fmt.Errorf("actionexec: send-email configured but no mailer backend available")
	}
	subject, err := e.registry.Expand(opts.Subject, hctx)
	if err != nil {
		return fmt.Errorf("actionexec: expand subject: %w", err)
	}
	body, err := e.registry.Expand(opts.Body, hctx)
	if err != nil {
		return fmt.Errorf("actionexec: expand body: %w", err)
	}
	body = body + "\n\n" + buildinfo.EmailTrailer(e.now())

	if err := e.mailer.SendMail(ctx, opts.To, subject, body); err != nil {
		return fmt.Errorf("actionexec: send email: %w", err)
	}
	return nil
}

func (e *Executor) executeSendSMS(ctx context.Context, opts SMSOptions, hctx contexthandler.Context) error {
	value, err := e.registry.Expand(opts.Value, hctx)
	if err != nil {
		return fmt.Errorf("actionexec: expand sms value: %w", err)
	}
	doc := lkdbus.ActionDocument{
		Type: string(KindSendSMS),
		Fields: map[string]string{
			"to":    opts.To,
			"value": value,
		},
	}
	if err := e.bus.ExecuteAction(ctx, doc); err != nil {
		return fmt.Errorf("actionexec: send sms: %w", err)
	}
	return nil
}

func (e *Executor) executeShellCmd(ctx context.Context, opts ShellOptions, hctx contexthandler.Context) error {
	command, err := e.registry.Expand(opts.Command, hctx)
	if err != nil {
		return fmt.Errorf("actionexec: expand shell command: %w", err)
	}
	doc := lkdbus.ActionDocument{
		Type: string(KindShellCmd),
		Fields: map[string]string{
			"command": command,
		},
	}
	if err := e.bus.ExecuteAction(ctx, doc); err != nil {
		return fmt.Errorf("actionexec: shell-cmd: %w", err)
	}
	return nil
}
