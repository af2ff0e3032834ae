package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// BreadcrumbType is the Sentry category of a breadcrumb.
type BreadcrumbType string

const (
	BreadcrumbCommand  BreadcrumbType = "command"
	BreadcrumbDatabase BreadcrumbType = "database"
)

// maxStatementLength bounds the SQL text kept per breadcrumb.
const maxStatementLength = 200

// BreadcrumbEntry is one recorded event.
type BreadcrumbEntry struct {
	Type      BreadcrumbType
	Message   string
	Data      map[string]any
	Timestamp time.Time
	Level     sentry.Level
}

// BreadcrumbBuffer is a thread-safe ring of the most recent events. Entries
// are only handed to Sentry when an error is captured.
type BreadcrumbBuffer struct {
	mu      sync.Mutex
	entries []BreadcrumbEntry
	next    int
	count   int
	now     func() time.Time
}

// NewBreadcrumbBuffer creates a buffer holding at most maxSize entries.
func NewBreadcrumbBuffer(maxSize int) *BreadcrumbBuffer {
	if maxSize < 1 {
		maxSize = 1
	}
	return &BreadcrumbBuffer{
		entries: make([]BreadcrumbEntry, maxSize),
		now:     time.Now,
	}
}

func (b *BreadcrumbBuffer) add(entry BreadcrumbEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	entry.Timestamp = b.now()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// RecordCommand records the CLI command being run.
func (b *BreadcrumbBuffer) RecordCommand(name string, args []string) {
	b.add(BreadcrumbEntry{
		Type:    BreadcrumbCommand,
		Message: fmt.Sprintf("Command: %s", name),
		Level:   sentry.LevelInfo,
		Data:    map[string]any{"command": name, "args": strings.Join(args, " ")},
	})
}

// RecordDatabase records a statement sent to the database.
func (b *BreadcrumbBuffer) RecordDatabase(operation, statement string) {
	statement = strings.Join(strings.Fields(statement), " ")
	if len(statement) > maxStatementLength {
		statement = statement[:maxStatementLength] + "..."
	}
	b.add(BreadcrumbEntry{
		Type:    BreadcrumbDatabase,
		Message: fmt.Sprintf("DB %s: %s", operation, statement),
		Level:   sentry.LevelDebug,
		Data:    map[string]any{"operation": operation},
	})
}

// snapshot returns the buffered entries oldest first.
func (b *BreadcrumbBuffer) snapshot() []BreadcrumbEntry {
	if b.count < len(b.entries) {
		return append([]BreadcrumbEntry(nil), b.entries[:b.count]...)
	}
	out := make([]BreadcrumbEntry, 0, len(b.entries))
	for i := range len(b.entries) {
		out = append(out, b.entries[(b.next+i)%len(b.entries)])
	}
	return out
}

// collapse merges runs of identical consecutive entries into one Sentry
// breadcrumb carrying a count.
func collapse(entries []BreadcrumbEntry) []*sentry.Breadcrumb {
	var out []*sentry.Breadcrumb
	for i := 0; i < len(entries); {
		current := entries[i]
		count := 1
		for i+count < len(entries) && entries[i+count].Type == current.Type &&
			entries[i+count].Message == current.Message {
			count++
		}

		message := current.Message
		data := current.Data
		if count > 1 {
			message = fmt.Sprintf("%s (x%d)", current.Message, count)
			data = make(map[string]any, len(current.Data)+1)
			for k, v := range current.Data {
				data[k] = v
			}
			data["count"] = count
		}
		out = append(out, &sentry.Breadcrumb{
			Message:   message,
			Category:  string(current.Type),
			Data:      data,
			Timestamp: current.Timestamp,
			Level:     current.Level,
		})
		i += count
	}
	return out
}

// Flush moves the buffered breadcrumbs onto the current Sentry scope and
// empties the buffer.
func (b *BreadcrumbBuffer) Flush() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return
	}
	crumbs := collapse(b.snapshot())
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		for _, bc := range crumbs {
			scope.AddBreadcrumb(bc, len(b.entries))
		}
	})

	clear(b.entries)
	b.next = 0
	b.count = 0
}

// Global breadcrumb buffer instance
var breadcrumbs *BreadcrumbBuffer

// InitBreadcrumbs initializes the global breadcrumb buffer
func InitBreadcrumbs(maxSize int) {
	breadcrumbs = NewBreadcrumbBuffer(maxSize)
}
