// Package notify delivers dashboard alerts (new pattern signals, feed
// outages) to external channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"patternboard/internal/model"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
)

// Alert is one notification.
type Alert struct {
	Level   Level  `json:"level"`
	Symbol  string `json:"symbol"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is implemented by every alert backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// SignalAlert describes a newly recorded signal.
func SignalAlert(symbol string, s model.Signal) Alert {
	return Alert{
		Level:   LevelInfo,
		Symbol:  symbol,
		Title:   fmt.Sprintf("%s on %s", strings.ToUpper(s.Kind), symbol),
		Message: "pattern at " + time.UnixMilli(s.Time).UTC().Format(time.RFC3339),
	}
}

// ConnectionAlert describes a feed connection change.
func ConnectionAlert(symbol string, connected bool) Alert {
	if connected {
		return Alert{Level: LevelInfo, Symbol: symbol, Title: "Feed restored", Message: symbol + " feed reconnected"}
	}
	return Alert{Level: LevelWarning, Symbol: symbol, Title: "Feed lost", Message: symbol + " feed disconnected, retrying"}
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(_ context.Context, a Alert) error {
	n.log.Info("alert",
		slog.String("level", string(a.Level)),
		slog.String("title", a.Title),
		slog.String("message", a.Message),
	)
	return nil
}
