// Package notify delivers best-effort email notifications for messages that
// stay unread. A single periodic job drains due messages; everything read,
// sent or cancelled in the meantime is filtered out at query and write time,
// so a racing read never produces a duplicate email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	domainchat "huddle/internal/domain/chat"
	domainuser "huddle/internal/domain/user"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 50
	DefaultBackoff   = 5 * time.Minute
)

var ErrNotConfigured = errors.New("notify: scheduler missing dependencies")

// EmailSender is the outbound mail collaborator.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Scheduler polls for unread messages whose notification is due and attempts
// delivery with a fixed retry backoff. One cycle runs at a time; cron's
// skip-if-still-running chain is the reentrancy guard.
type Scheduler struct {
	Messages domainchat.MessageRepository
	Users    domainuser.Directory
	Mailer   EmailSender
	Logger   *slog.Logger

	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
	// MaxAttempts cancels a notification permanently after this many failed
	// deliveries; zero keeps retries unbounded.
	MaxAttempts int

	cron *cron.Cron
}

// Start launches the periodic job. Stop must be called on shutdown.
func (s *Scheduler) Start() error {
	if s.Messages == nil || s.Users == nil || s.Mailer == nil {
		return ErrNotConfigured
	}
	logger := cronLogger{logger: s.Logger}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)))
	spec := fmt.Sprintf("@every %s", s.interval())
	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the job and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval())
	defer cancel()
	if err := s.ProcessDue(ctx); err != nil && s.Logger != nil {
		s.Logger.Error("notification cycle failed", "error", err)
	}
}

// ProcessDue drains one batch of due notifications, attempting each delivery
// sequentially to cap the outbound email rate.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.Messages.DueNotifications(ctx, now, s.batchSize())
	if err != nil {
		return fmt.Errorf("select due notifications: %w", err)
	}
	for _, msg := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.process(ctx, msg)
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, msg *domainchat.Message) {
	if s.MaxAttempts > 0 && msg.Notification.EmailAttempts >= s.MaxAttempts {
		s.cancel(ctx, msg, "attempt ceiling reached")
		return
	}
	recipient, err := s.Users.ByID(ctx, msg.RecipientID)
	switch {
	case errors.Is(err, domainuser.ErrNotFound):
		s.cancel(ctx, msg, "recipient unknown")
		return
	case err != nil:
		// Transient directory failure: the message stays scheduled and the
		// next cycle retries the lookup.
		s.logError("resolve recipient", err, msg)
		return
	case recipient.Email == "":
		// No address to deliver to: cancel permanently instead of retrying.
		s.cancel(ctx, msg, "recipient has no email")
		return
	}
	senderName := msg.SenderID
	if sender, err := s.Users.ByID(ctx, msg.SenderID); err == nil && sender.Name != "" {
		senderName = sender.Name
	}

	subject := fmt.Sprintf("New message from %s", senderName)
	body := fmt.Sprintf(
		"<p>%s sent you a message:</p><blockquote>%s</blockquote><p>Open your inbox to reply.</p>",
		html.EscapeString(senderName), html.EscapeString(snippet(msg.Body, 140)),
	)

	attemptAt := time.Now().UTC()
	if err := s.Mailer.Send(ctx, recipient.Email, subject, body); err != nil {
		next := attemptAt.Add(s.backoff())
		if recErr := s.Messages.RecordNotificationFailure(ctx, msg.ID, attemptAt, next, err.Error()); recErr != nil {
			s.logError("record notification failure", recErr, msg)
		}
		if s.Logger != nil {
			s.Logger.Warn("notification email failed",
				"message_id", msg.ID, "attempts", msg.Notification.EmailAttempts+1, "error", err)
		}
		return
	}
	if err := s.Messages.MarkNotificationSent(ctx, msg.ID, time.Now().UTC()); err != nil {
		s.logError("mark notification sent", err, msg)
	}
}

func (s *Scheduler) cancel(ctx context.Context, msg *domainchat.Message, reason string) {
	if err := s.Messages.CancelNotification(ctx, msg.ID, time.Now().UTC()); err != nil {
		s.logError("cancel notification", err, msg)
		return
	}
	if s.Logger != nil {
		s.Logger.Info("notification cancelled", "message_id", msg.ID, "reason", reason)
	}
}

func (s *Scheduler) logError(action string, err error, msg *domainchat.Message) {
	if s.Logger != nil {
		s.Logger.Error(action+" failed", "message_id", msg.ID, "error", err)
	}
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

func (s *Scheduler) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

func (s *Scheduler) backoff() time.Duration {
	if s.Backoff <= 0 {
		return DefaultBackoff
	}
	return s.Backoff
}

func snippet(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "…"
}

// cronLogger adapts slog to cron's logger so skipped overlapping runs get
// surfaced in the service logs.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
