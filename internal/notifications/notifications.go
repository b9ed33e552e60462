package notifications

import (
	"fmt"
	"log"
	"sync"

	"psx_copilot/internal/models"
)

// Sink receives notifications after they are committed to the audit trail.
// Emit must not block the caller for long; delivery failures are logged, never returned.
type Sink interface {
	Emit(n models.Notification)
}

// LogSink writes every notification to the standard logger.
type LogSink struct{}

func (LogSink) Emit(n models.Notification) {
	log.Printf("[NOTIFY][%s] %s: %s", n.Category, n.Title, n.Message)
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Emit(n models.Notification) {
	for _, s := range m {
		if s != nil {
			s.Emit(n)
		}
	}
}

// Recorder keeps emitted notifications in memory. Useful in tests and the CLI.
type Recorder struct {
	mu    sync.Mutex
	items []models.Notification
}

func (r *Recorder) Emit(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *Recorder) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items...)
}

// Count returns how many recorded notifications have the given category.
func (r *Recorder) Count(category models.NotificationCategory) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Category == category {
			n++
		}
	}
	return n
}

// Format renders a notification as a chat message.
func Format(n models.Notification) string {
	icon := "ℹ️"
	switch n.Category {
	case models.CategoryTrade:
		icon = "💸"
	case models.CategoryAlert:
		icon = "⚠️"
	case models.CategoryActionRequired:
		icon = "🔔"
	case models.CategorySystem:
		icon = "⚙️"
	}
	return fmt.Sprintf("%s *%s*\n%s", icon, n.Title, n.Message)
}
