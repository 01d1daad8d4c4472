package api

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// DefaultJobListLimit caps job listings that do not ask for a limit.
const DefaultJobListLimit = 100

// ParseStatuses resolves status names case-insensitively. Values may repeat
// or be comma separated.
func ParseStatuses(values []string) ([]queue.Status, error) {
	var out []queue.Status
	for _, value := range values {
		for part := range strings.SplitSeq(value, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := queue.Status(part)
			if !slices.Contains(queue.AllStatuses(), status) {
				return nil, services.Wrap(services.ErrValidation, "api", "parse status", fmt.Sprintf("unknown status %q", part), nil)
			}
			if !slices.Contains(out, status) {
				out = append(out, status)
			}
		}
	}
	return out, nil
}

// ParseJobFilter builds a job filter from list query parameters
// (status, document, stage, limit).
func ParseJobFilter(query url.Values) (queue.JobFilter, error) {
	statuses, err := ParseStatuses(query["status"])
	if err != nil {
		return queue.JobFilter{}, err
	}
	filter := queue.JobFilter{
		DocumentID: strings.TrimSpace(query.Get("document")),
		Statuses:   statuses,
		Limit:      DefaultJobListLimit,
	}
	if raw := strings.TrimSpace(query.Get("stage")); raw != "" {
		st, ok := stage.Parse(raw)
		if !ok {
			return queue.JobFilter{}, services.Wrap(services.ErrValidation, "api", "parse stage", fmt.Sprintf("unknown stage %q", raw), nil)
		}
		filter.Stage = st
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return queue.JobFilter{}, services.Wrap(services.ErrValidation, "api", "parse limit", fmt.Sprintf("invalid limit %q", raw), nil)
		}
		filter.Limit = limit
	}
	return filter, nil
}
