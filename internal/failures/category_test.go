package failures_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/failures"
	"docflow/internal/services"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failures.Category
	}{
		{name: "nil", err: nil, want: failures.CategoryUnknown},
		{name: "missing dependency", err: fmt.Errorf("chunker: %w", failures.ErrMissingDependency), want: failures.CategoryMissingDependency},
		{name: "remote unavailable", err: failures.ErrRemoteUnavailable, want: failures.CategoryServiceUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: failures.CategoryTimeout},
		{name: "validation marker", err: services.Wrap(services.ErrValidation, "handlers", "content", "no source", nil), want: failures.CategoryValidation},
		{name: "rate marker", err: services.Wrap(services.ErrRateLimited, "remote", "submit", "slow down", nil), want: failures.CategoryRateLimit},
		{name: "connection refused text", err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), want: failures.CategoryNetwork},
		{name: "503 text", err: errors.New("remote returned 503"), want: failures.CategoryServiceUnavailable},
		{name: "forbidden text", err: errors.New("forbidden"), want: failures.CategoryPermission},
		{name: "not found text", err: errors.New("task not found"), want: failures.CategoryNotFound},
		{name: "internal text", err: errors.New("internal server error"), want: failures.CategoryInternal},
		{name: "unrecognised", err: errors.New("something odd"), want: failures.CategoryUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := failures.Categorize(tc.err); got != tc.want {
				t.Fatalf("Categorize(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestCategoryRetryable(t *testing.T) {
	for _, c := range []failures.Category{failures.CategoryNetwork, failures.CategoryTimeout, failures.CategoryRateLimit, failures.CategoryServiceUnavailable} {
		if !c.Retryable() {
			t.Fatalf("expected %s to be retryable", c)
		}
	}
	for _, c := range []failures.Category{failures.CategoryValidation, failures.CategoryMissingDependency, failures.CategoryUnknown} {
		if c.Retryable() {
			t.Fatalf("expected %s to be non-retryable", c)
		}
	}
}

func TestPolicyDelay(t *testing.T) {
	policy := failures.PolicyFromConfig(config.RetryPolicy{MaxRetries: 3, BaseDelay: 60, Multiplier: 2})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: time.Minute},
		{attempt: 0, want: time.Minute},
		{attempt: 1, want: 2 * time.Minute},
		{attempt: 3, want: 8 * time.Minute},
		{attempt: 40, want: 24 * time.Hour},
	}
	for _, tc := range tests {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	if got := (failures.Policy{}).Delay(2); got != 0 {
		t.Fatalf("expected zero delay without base, got %v", got)
	}
}

func TestChainAndMessage(t *testing.T) {
	base := errors.New("socket closed")
	err := services.Wrap(services.ErrExternal, "remote", "status", "poll failed", base)
	if got := failures.Message(err); got != "remote: status: poll failed: socket closed" {
		t.Fatalf("Message = %q", got)
	}
	chain := failures.Chain(fmt.Errorf("poller: %w", err))
	for _, fragment := range []string{"poller:", "caused by: socket closed"} {
		if !strings.Contains(chain, fragment) {
			t.Fatalf("expected %q in chain %q", fragment, chain)
		}
	}
}
