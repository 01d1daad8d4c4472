package api_test

import (
	"errors"
	"net/url"
	"testing"

	"docflow/internal/api"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

func TestParseJobFilter(t *testing.T) {
	query := url.Values{
		"status":   {"pending,failed", "FAILED"},
		"document": {" doc-1 "},
		"stage":    {"optimizer"},
		"limit":    {"5"},
	}
	filter, err := api.ParseJobFilter(query)
	if err != nil {
		t.Fatalf("ParseJobFilter: %v", err)
	}
	if filter.DocumentID != "doc-1" || filter.Stage != stage.Optimizer || filter.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", filter)
	}
	if len(filter.Statuses) != 2 || filter.Statuses[0] != queue.StatusPending || filter.Statuses[1] != queue.StatusFailed {
		t.Fatalf("unexpected statuses: %v", filter.Statuses)
	}
}

func TestParseJobFilterDefaults(t *testing.T) {
	filter, err := api.ParseJobFilter(url.Values{})
	if err != nil {
		t.Fatalf("ParseJobFilter: %v", err)
	}
	if filter.Limit != api.DefaultJobListLimit || filter.Stage != "" || len(filter.Statuses) != 0 {
		t.Fatalf("unexpected filter: %+v", filter)
	}
}

func TestParseJobFilterRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{name: "status", query: url.Values{"status": {"DONE"}}},
		{name: "stage", query: url.Values{"stage": {"RENDER"}}},
		{name: "limit", query: url.Values{"limit": {"-1"}}},
		{name: "limit text", query: url.Values{"limit": {"many"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.ParseJobFilter(tt.query)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
