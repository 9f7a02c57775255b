// Package notification delivers breakout alerts to external channels
// (Telegram, webhooks) or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"shapefinder/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	ID      string            `json:"id"` // stable across retries and backends
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Event   *model.ShapeEvent `json:"event,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// BreakoutAlert describes a breakout event as an alert.
func BreakoutAlert(ev model.ShapeEvent) Alert {
	verb := "broke above"
	if ev.Direction == "DOWN" {
		verb = "broke below"
	}
	return Alert{
		ID:    uuid.NewString(),
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s breakout %s", ev.Key(), tfLabel(ev.TF), ev.Direction),
		Message: fmt.Sprintf("%.2f %s %.2f (key point #%d) at %s",
			ev.Price, verb, ev.Threshold, ev.Reference, ev.TS.Format("2006-01-02 15:04:05")),
		Event: &ev,
	}
}

func tfLabel(tf int) string {
	switch {
	case tf > 0 && tf%3600 == 0:
		return model.Itoa(tf/3600) + "h"
	case tf > 0 && tf%60 == 0:
		return model.Itoa(tf/60) + "m"
	default:
		return model.Itoa(tf) + "s"
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to each notifier in turn and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []string
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
