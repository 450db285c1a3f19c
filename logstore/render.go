package logstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format selects a show_log rendering.
type Format string

const (
	FormatAI   Format = "ai"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Render renders entries in the requested format, defaulting to the compact
// ai format for anything unrecognized.
func Render(entries []Entry, format Format) string {
	switch format {
	case FormatJSON:
		return RenderJSON(entries)
	case FormatText:
		return RenderText(entries)
	default:
		return RenderAI(entries)
	}
}

// RenderAI renders one compact line per entry, aimed at model consumption.
// Stderr lines have common logging-framework prefixes stripped.
func RenderAI(entries []Entry) string {
	if len(entries) == 0 {
		return "No log entries found.\n"
	}

	var b strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case KindRequest:
			fmt.Fprintf(&b, "[REQUEST #%d] %s(%s)\n", e.ID, e.Tool, renderArguments(e.Payload))
		case KindResponse:
			for _, text := range responseTexts(e.Payload) {
				fmt.Fprintf(&b, "[RESPONSE #%d] %q\n", e.RequestID, text)
			}
		case KindError:
			fmt.Fprintf(&b, "[ERROR #%d] %s\n", e.RequestID, e.Message)
		case KindStderr:
			fmt.Fprintf(&b, "[STDERR] %s\n", stripLogPrefix(e.Message))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderText renders a verbose block per entry.
func RenderText(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[#%d] %s | %s\n", e.ID, e.Timestamp.Format("2006-01-02 15:04:05 UTC"), e.Kind)
		if e.Tool != "" {
			fmt.Fprintf(&b, "Tool: %s\n", e.Tool)
		}
		body, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			body = []byte("failed to serialize entry")
		}
		fmt.Fprintf(&b, "Content: %s\n", body)
		b.WriteString(strings.Repeat("-", 60))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderJSON serializes the entries verbatim.
func RenderJSON(entries []Entry) string {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// renderArguments formats a JSON arguments object as "key: value" pairs in
// key order.
func renderArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.TrimSpace(string(obj[key]))))
	}
	return strings.Join(parts, ", ")
}

// responseTexts pulls the text content items out of a raw wrappee tools/call
// response body.
func responseTexts(raw json.RawMessage) []string {
	var body struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	texts := make([]string, 0, len(body.Result.Content))
	for _, item := range body.Result.Content {
		if item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	return texts
}

var levelMarkers = []string{" INFO ", " WARN ", " ERROR ", " DEBUG ", " TRACE "}

// stripLogPrefix removes the timestamp/level/module preamble that tracing-style
// logging frameworks prepend to stderr lines, leaving the message itself.
func stripLogPrefix(line string) string {
	// Lines carrying a source location like "...: src/foo.rs:12: message".
	if idx := strings.Index(line, ": src/"); idx >= 0 {
		rest := line[idx+1:]
		if sep := strings.Index(rest, ": "); sep >= 0 {
			return rest[sep+2:]
		}
		return line
	}

	leveled := false
	for _, marker := range levelMarkers {
		if strings.Contains(line, marker) {
			leveled = true
			break
		}
	}
	if !leveled {
		return line
	}

	// "2025-...Z  INFO ThreadId(01) module::path: message" shapes.
	if idx := strings.LastIndex(line, " ThreadId"); idx >= 0 {
		rest := line[idx:]
		if sep := strings.Index(rest, ": "); sep >= 0 {
			tail := rest[sep+2:]
			if second := strings.Index(tail, ": "); second >= 0 {
				return tail[second+2:]
			}
			return tail
		}
	}
	return line
}
