package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/grant-access/internal/directory"
)

// Users resolves notification recipients.
type Users interface {
	GetUser(ctx context.Context, userID string) (*directory.User, error)
	GetAgentProfile(ctx context.Context, agentID string) (*directory.AgentProfile, error)
}

// InApp creates in-app notification records.
type InApp interface {
	Create(ctx context.Context, n InAppNotification) (string, error)
}

// adminRecipientID is the in-app inbox shared by all admins.
const adminRecipientID = "admins"

// Dispatcher renders a notification and delivers it by email and in-app.
type Dispatcher struct {
	mailer     Mailer
	inapp      InApp
	users      Users
	adminEmail string
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewDispatcher wires a Dispatcher. adminEmail receives admin-facing mail.
func NewDispatcher(mailer Mailer, inapp InApp, users Users, adminEmail string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		mailer:     mailer,
		inapp:      inapp,
		users:      users,
		adminEmail: adminEmail,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

type recipient struct {
	id           string
	name         string
	email        string
	emailEnabled bool
}

func (d *Dispatcher) resolve(ctx context.Context, n Notification) (recipient, error) {
	if n.RecipientRole() == RoleAdmin {
		return recipient{id: adminRecipientID, name: "Admin", email: d.adminEmail, emailEnabled: d.adminEmail != ""}, nil
	}

	id := n.RecipientID()
	profile, err := d.users.GetAgentProfile(ctx, id)
	if err != nil {
		return recipient{}, fmt.Errorf("resolve agent %s: %w", id, err)
	}
	if profile != nil {
		return recipient{id: id, name: profile.Name, email: profile.Email, emailEnabled: profile.EmailSubscriptionEnabled}, nil
	}

	user, err := d.users.GetUser(ctx, id)
	if err != nil {
		return recipient{}, fmt.Errorf("resolve user %s: %w", id, err)
	}
	if user == nil {
		return recipient{}, fmt.Errorf("recipient %s not found", id)
	}
	return recipient{id: id, name: user.Name, email: user.Email, emailEnabled: true}, nil
}

// Deliver sends n. The in-app record is keyed by id so redelivery does not
// duplicate it; email is at-least-once.
func (d *Dispatcher) Deliver(ctx context.Context, id string, n Notification) error {
	rcpt, err := d.resolve(ctx, n)
	if err != nil {
		return err
	}
	subject, body, err := Render(n, rcpt.name)
	if err != nil {
		return err
	}

	var errs []error
	if _, err := d.CreateInAppNotification(ctx, id, rcpt.id, n, subject, body); err != nil {
		errs = append(errs, err)
	}
	if rcpt.emailEnabled && rcpt.email != "" {
		if err := d.SendEmail(ctx, n.Kind(), rcpt.email, subject, body); err != nil {
			errs = append(errs, err)
		}
	} else {
		d.logger.Info("email skipped", "kind", n.Kind(), "recipient", rcpt.id, "request_id", n.Ref())
	}
	return errors.Join(errs...)
}

// SendEmail delivers a rendered template to a single address.
func (d *Dispatcher) SendEmail(ctx context.Context, kind Kind, to, subject, body string) error {
	if err := d.mailer.Send(ctx, Email{To: to, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("email %s: %w", kind, err)
	}
	return nil
}

// CreateInAppNotification stores an inbox entry and returns its id.
func (d *Dispatcher) CreateInAppNotification(ctx context.Context, id, recipientID string, n Notification, title, message string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	out, err := d.inapp.Create(ctx, InAppNotification{
		NotificationID: id,
		RecipientID:    recipientID,
		Role:           n.RecipientRole(),
		Kind:           n.Kind(),
		RequestID:      n.Ref(),
		Title:          title,
		Message:        message,
		CreatedAt:      d.nowFunc().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("in-app %s: %w", n.Kind(), err)
	}
	return out, nil
}

// DirectNotifier delivers synchronously. Used when no queue is configured.
type DirectNotifier struct {
	Dispatcher *Dispatcher
}

func (n DirectNotifier) Notify(ctx context.Context, notification Notification) error {
	return n.Dispatcher.Deliver(ctx, uuid.NewString(), notification)
}
