package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// BreadcrumbType represents the type of breadcrumb event
type BreadcrumbType string

const (
	BreadcrumbStage     BreadcrumbType = "stage"
	BreadcrumbStatement BreadcrumbType = "statement"
	BreadcrumbCommit    BreadcrumbType = "commit"
	BreadcrumbDatabase  BreadcrumbType = "database"
)

// BreadcrumbEntry represents a single breadcrumb event
type BreadcrumbEntry struct {
	Type      BreadcrumbType
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
	Level     sentry.Level
	Count     int
}

// BreadcrumbBuffer is a thread-safe circular buffer for breadcrumbs. Bursts
// of identical staging events are folded into one entry with a count.
type BreadcrumbBuffer struct {
	entries      []BreadcrumbEntry
	maxSize      int
	currentIndex int
	count        int
	mu           sync.Mutex
}

// NewBreadcrumbBuffer creates a new breadcrumb buffer with the given max size
func NewBreadcrumbBuffer(maxSize int) *BreadcrumbBuffer {
	return &BreadcrumbBuffer{
		entries: make([]BreadcrumbEntry, maxSize),
		maxSize: maxSize,
	}
}

func (b *BreadcrumbBuffer) addEntry(entry BreadcrumbEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry.Count = 1
	if b.count > 0 {
		lastIdx := (b.currentIndex - 1 + b.maxSize) % b.maxSize
		last := &b.entries[lastIdx]
		if canAggregate(last, &entry) {
			last.Count++
			last.Timestamp = entry.Timestamp
			return
		}
	}

	b.entries[b.currentIndex] = entry
	b.currentIndex = (b.currentIndex + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
}

// canAggregate reports whether current repeats last closely enough to be
// counted instead of stored.
func canAggregate(last, current *BreadcrumbEntry) bool {
	if last.Type != current.Type || last.Message != current.Message {
		return false
	}
	if current.Timestamp.Sub(last.Timestamp) > 100*time.Millisecond {
		return false
	}
	return current.Type == BreadcrumbStage
}

// RecordStage records a change appended to the change set.
func (b *BreadcrumbBuffer) RecordStage(kind, table string) {
	b.addEntry(BreadcrumbEntry{
		Type:      BreadcrumbStage,
		Message:   fmt.Sprintf("Stage: %s %s", kind, table),
		Timestamp: time.Now(),
		Level:     sentry.LevelDebug,
		Data: map[string]interface{}{
			"kind":  kind,
			"table": table,
		},
	})
}

// RecordStatement records the outcome of one executed statement.
func (b *BreadcrumbBuffer) RecordStatement(sqlStr string, ok bool, durationMS float64) {
	level := sentry.LevelInfo
	status := "ok"
	if !ok {
		level = sentry.LevelError
		status = "failed"
	}
	b.addEntry(BreadcrumbEntry{
		Type:      BreadcrumbStatement,
		Message:   fmt.Sprintf("Statement %s", status),
		Timestamp: time.Now(),
		Level:     level,
		Data: map[string]interface{}{
			"sql":         sqlStr,
			"duration_ms": durationMS,
		},
	})
}

// RecordCommit records the end of a commit or migration.
func (b *BreadcrumbBuffer) RecordCommit(statements int, committed, dryRun bool) {
	b.addEntry(BreadcrumbEntry{
		Type:      BreadcrumbCommit,
		Message:   fmt.Sprintf("Commit: %d statements, committed=%t", statements, committed),
		Timestamp: time.Now(),
		Level:     sentry.LevelInfo,
		Data: map[string]interface{}{
			"statements": statements,
			"committed":  committed,
			"dry_run":    dryRun,
		},
	})
}

// RecordDatabase records a database operation
func (b *BreadcrumbBuffer) RecordDatabase(operation string) {
	b.addEntry(BreadcrumbEntry{
		Type:      BreadcrumbDatabase,
		Message:   fmt.Sprintf("DB: %s", operation),
		Timestamp: time.Now(),
		Level:     sentry.LevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
		},
	})
}

// Entries returns the buffered entries in chronological order.
func (b *BreadcrumbBuffer) Entries() []BreadcrumbEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entriesLocked()
}

func (b *BreadcrumbBuffer) entriesLocked() []BreadcrumbEntry {
	entries := make([]BreadcrumbEntry, 0, b.count)
	start := 0
	if b.count == b.maxSize {
		start = b.currentIndex
	}
	for i := 0; i < b.count; i++ {
		entries = append(entries, b.entries[(start+i)%b.maxSize])
	}
	return entries
}

// Flush sends breadcrumbs to Sentry and empties the buffer.
func (b *BreadcrumbBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return
	}

	var sentryBreadcrumbs []*sentry.Breadcrumb
	for _, entry := range b.entriesLocked() {
		message := entry.Message
		data := entry.Data
		if entry.Count > 1 {
			message = fmt.Sprintf("%s (x%d)", entry.Message, entry.Count)
			data = make(map[string]interface{}, len(entry.Data)+1)
			for k, v := range entry.Data {
				data[k] = v
			}
			data["count"] = entry.Count
		}
		sentryBreadcrumbs = append(sentryBreadcrumbs, &sentry.Breadcrumb{
			Message:   message,
			Category:  string(entry.Type),
			Data:      data,
			Timestamp: entry.Timestamp,
			Level:     entry.Level,
		})
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		for _, bc := range sentryBreadcrumbs {
			scope.AddBreadcrumb(bc, 100)
		}
	})

	b.entries = make([]BreadcrumbEntry, b.maxSize)
	b.currentIndex = 0
	b.count = 0
}

// Global breadcrumb buffer instance
var breadcrumbs *BreadcrumbBuffer

// InitBreadcrumbs initializes the global breadcrumb buffer
func InitBreadcrumbs(maxSize int) {
	breadcrumbs = NewBreadcrumbBuffer(maxSize)
}

func recordStage(kind, table string) {
	if breadcrumbs != nil {
		breadcrumbs.RecordStage(kind, table)
	}
}

func recordDatabase(operation string) {
	if breadcrumbs != nil {
		breadcrumbs.RecordDatabase(operation)
	}
}
