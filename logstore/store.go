package logstore

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity bounds the store when no capacity is configured.
const DefaultCapacity = 1000

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHJF]`)

// Sink receives a copy of every entry the store accepts. Append failures are
// logged and never surfaced to the writer.
type Sink interface {
	Append(Entry) error
}

// Config configures a Store.
type Config struct {
	// Capacity is the maximum number of retained entries; DefaultCapacity
	// when zero or negative.
	Capacity int
	// PreserveANSI keeps ANSI escape sequences in stderr lines instead of
	// stripping them on ingest.
	PreserveANSI bool
	Sink         Sink
	Logger       *slog.Logger
}

// Store is a bounded FIFO log of proxy events. Reads run concurrently;
// writes are exclusive.
type Store struct {
	mu           sync.RWMutex
	entries      []Entry
	nextID       uint64
	capacity     int
	preserveANSI bool
	sink         Sink
	logger       *slog.Logger
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		nextID:       1,
		capacity:     capacity,
		preserveANSI: cfg.PreserveANSI,
		sink:         cfg.Sink,
		logger:       logger,
	}
}

// AddRequest records an outgoing tool call and returns its request id.
func (s *Store) AddRequest(tool string, arguments json.RawMessage) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(Entry{
		Kind:    KindRequest,
		Tool:    tool,
		Payload: cloneRaw(arguments),
	})
}

// AddResponse records the wrappee's response to the request with requestID.
func (s *Store) AddResponse(requestID uint64, tool string, response json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(Entry{
		Kind:      KindResponse,
		Tool:      tool,
		RequestID: requestID,
		Payload:   cloneRaw(response),
	})
}

// AddError records a failed call for the request with requestID.
func (s *Store) AddError(requestID uint64, tool string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(Entry{
		Kind:      KindError,
		Tool:      tool,
		RequestID: requestID,
		Message:   message,
	})
}

// AddStderr records one diagnostic line from the wrappee's stderr.
func (s *Store) AddStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.preserveANSI {
		line = ansiPattern.ReplaceAllString(line, "")
	}
	s.append(Entry{
		Kind:    KindStderr,
		Message: line,
	})
}

// append assumes the write lock is held.
func (s *Store) append(e Entry) uint64 {
	e.ID = s.nextID
	s.nextID++
	e.Timestamp = time.Now().UTC()

	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}

	if s.sink != nil {
		if err := s.sink.Append(e); err != nil {
			s.logger.Warn("log archive append failed", "entry_id", e.ID, "error", err)
		}
	}
	return e.ID
}

// Entries returns filtered entries sorted by timestamp descending (ties by id
// descending), truncated to limit. A non-positive limit returns all matches.
func (s *Store) Entries(limit int, filter Filter) []Entry {
	s.mu.RLock()
	matched := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.IsZero() || filter.matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Count returns the number of retained entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops all entries, resets the id counter, and returns how many
// entries were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.entries)
	s.entries = nil
	s.nextID = 1
	return count
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
