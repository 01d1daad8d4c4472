package logs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"docflow/internal/logging"
)

// Filter selects JSON log entries. Empty fields match everything.
type Filter struct {
	DocumentID string
	JobID      int64
	Stage      string
	// MinLevel is one of debug, info, warn, error.
	MinLevel string
}

// Empty reports whether the filter lets every line through.
func (f Filter) Empty() bool {
	return f.DocumentID == "" && f.JobID == 0 && f.Stage == "" && f.MinLevel == ""
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return false
	}
	if f.DocumentID != "" && field(entry, logging.FieldDocumentID) != f.DocumentID {
		return false
	}
	if f.JobID != 0 && field(entry, logging.FieldJobID) != strconv.FormatInt(f.JobID, 10) {
		return false
	}
	if f.Stage != "" && !strings.EqualFold(field(entry, logging.FieldStage), f.Stage) {
		return false
	}
	if f.MinLevel != "" && levelRank(field(entry, "level")) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

// Apply returns the lines that pass the filter.
func (f Filter) Apply(lines []string) []string {
	if f.Empty() {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}

// ValidLevel reports whether level is a recognised minimum level.
func ValidLevel(level string) bool {
	return levelRank(level) >= 0
}

func field(entry map[string]any, key string) string {
	switch v := entry[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return -1
	}
}
