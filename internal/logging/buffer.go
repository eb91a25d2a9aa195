package logging

import (
	"sync"
	"time"
)

// BufferSize is the default number of log entries to keep
const BufferSize = 10000

// Entry represents a single log entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries
type Buffer struct {
	entries []Entry
	head    int
	count   int
	maxSize int
	mu      sync.RWMutex
}

// NewBuffer creates a buffer with the given capacity
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = BufferSize
	}
	return &Buffer{
		entries: make([]Entry, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a log entry to the buffer
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
}

// QueryOpts specifies log query parameters
type QueryOpts struct {
	Since *time.Time
	Until *time.Time
	Level string // "DEBUG", "INFO", "WARN", "ERROR" - returns this level and above
	Limit int    // keeps the most recent entries when set
}

// Query returns log entries matching the given criteria, oldest first
func (b *Buffer) Query(opts QueryOpts) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]Entry, 0)

	start := 0
	if b.count == b.maxSize {
		start = b.head
	}

	for i := 0; i < b.count; i++ {
		entry := b.entries[(start+i)%b.maxSize]

		if opts.Since != nil && entry.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && entry.Timestamp.After(*opts.Until) {
			continue
		}
		if opts.Level != "" && !matchesLevel(entry.Level, opts.Level) {
			continue
		}

		results = append(results, entry)
	}

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[len(results)-opts.Limit:]
	}
	return results
}

// Count returns the number of entries in the buffer
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// matchesLevel returns true if entryLevel is at or above filterLevel
func matchesLevel(entryLevel, filterLevel string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	entryVal, ok1 := levels[entryLevel]
	filterVal, ok2 := levels[filterLevel]

	if !ok1 || !ok2 {
		return true
	}

	return entryVal >= filterVal
}
