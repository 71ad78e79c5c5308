package notification

import (
	"context"
	"fmt"
	"io"
	"strings"

	"smartdine/internal/logger"
	"smartdine/internal/messaging"
	"smartdine/internal/models"
)

// Source delivers decoded change events; *messaging.Consumer implements it.
type Source interface {
	Consume(ctx context.Context, handler messaging.ChangeHandler) error
	Close() error
}

// Subscriber prints the change events published by the api server
type Subscriber struct {
	source Source
	out    io.Writer
	logger *logger.Logger
}

// NewSubscriber creates a new notification subscriber
func NewSubscriber(source Source, out io.Writer, log *logger.Logger) *Subscriber {
	return &Subscriber{
		source: source,
		out:    out,
		logger: log,
	}
}

// Start consumes until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	err := s.source.Consume(ctx, s.handleNotification)

	s.logger.Info("graceful_shutdown", "Stopping notification subscriber", requestID, nil)
	if closeErr := s.source.Close(); closeErr != nil {
		s.logger.Warn("consumer_close_failed", "Failed to close consumer", requestID, map[string]interface{}{
			"error": closeErr.Error(),
		})
	}
	return err
}

// handleNotification prints one change event
func (s *Subscriber) handleNotification(_ context.Context, event models.ChangeEvent) error {
	requestID := logger.GenerateRequestID()
	s.logger.Debug("notification_received", "Received change event", requestID, map[string]interface{}{
		"collection": event.Collection,
		"revision":   event.Revision,
		"entities":   len(event.EntityIDs),
	})

	for _, line := range FormatChange(event) {
		if _, err := fmt.Fprintln(s.out, line); err != nil {
			return fmt.Errorf("failed to write notification: %w", err)
		}
	}
	return nil
}

// FormatChange renders one human-readable line per transition, or a single
// summary line when the commit carried no status change.
func FormatChange(event models.ChangeEvent) []string {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")

	if len(event.Transitions) == 0 {
		return []string{fmt.Sprintf("[%s] %s updated to revision %d: %s",
			timestamp, event.Collection, event.Revision, strings.Join(event.EntityIDs, ", "))}
	}

	lines := make([]string, 0, len(event.Transitions))
	for _, tr := range event.Transitions {
		lines = append(lines, formatTransition(timestamp, tr))
	}
	return lines
}

func formatTransition(timestamp string, tr models.StatusChange) string {
	subject := fmt.Sprintf("%s %s", singular(tr.Collection), tr.EntityID)

	var message string
	switch {
	case tr.From == "":
		message = fmt.Sprintf("[%s] %s created as %s by %s.", timestamp, subject, tr.To, tr.ChangedBy)
	case tr.Collection == models.CollectionOrders && tr.To == string(models.StatusReady):
		message = fmt.Sprintf("[%s] %s is ready to serve! Prepared by %s.", timestamp, subject, tr.ChangedBy)
	case tr.Collection == models.CollectionBills && tr.To == string(models.BillPaid):
		message = fmt.Sprintf("[%s] %s has been paid.", timestamp, subject)
	case tr.To == string(models.StatusCancelled) || tr.To == string(models.BillVoided):
		message = fmt.Sprintf("[%s] %s has been %s by %s.", timestamp, subject, tr.To, tr.ChangedBy)
	default:
		message = fmt.Sprintf("[%s] %s changed from '%s' to '%s' by %s.",
			timestamp, subject, tr.From, tr.To, tr.ChangedBy)
	}

	if tr.Notes != "" {
		message += " (" + tr.Notes + ")"
	}
	return message
}

func singular(c models.Collection) string {
	switch c {
	case models.CollectionTables:
		return "Table"
	case models.CollectionOrders:
		return "Order"
	case models.CollectionBills:
		return "Bill"
	}
	return string(c)
}
