package failures

import (
	"context"
	"errors"
	"net"
	"strings"

	"docflow/internal/services"
)

// Category classifies a failure for diagnostics and retry hints.
type Category string

const (
	CategoryNetwork            Category = "NETWORK"
	CategoryTimeout            Category = "TIMEOUT"
	CategoryRateLimit          Category = "RATE_LIMIT"
	CategoryServiceUnavailable Category = "SERVICE_UNAVAILABLE"
	CategoryInternal           Category = "INTERNAL"
	CategoryValidation         Category = "VALIDATION"
	CategoryPermission         Category = "PERMISSION"
	CategoryNotFound           Category = "NOT_FOUND"
	CategoryMissingDependency  Category = "MISSING_DEPENDENCY"
	CategoryUnknown            Category = "UNKNOWN"
)

var (
	// ErrMissingDependency is returned when a stage's upstream output is absent.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrRemoteUnavailable marks jobs abandoned after the remote worker stayed
	// unreachable past the staleness window.
	ErrRemoteUnavailable = errors.New("remote worker unavailable")
)

// Retryable reports whether the category usually clears up on its own.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryServiceUnavailable:
		return true
	default:
		return false
	}
}

var markerCategories = []struct {
	marker   error
	category Category
}{
	{ErrMissingDependency, CategoryMissingDependency},
	{ErrRemoteUnavailable, CategoryServiceUnavailable},
	{context.DeadlineExceeded, CategoryTimeout},
	{services.ErrTimeout, CategoryTimeout},
	{services.ErrRateLimited, CategoryRateLimit},
	{services.ErrUnavailable, CategoryServiceUnavailable},
	{services.ErrValidation, CategoryValidation},
	{services.ErrConfiguration, CategoryValidation},
	{services.ErrPermission, CategoryPermission},
	{services.ErrNotFound, CategoryNotFound},
	{services.ErrTransient, CategoryNetwork},
}

var messagePatterns = []struct {
	category Category
	needles  []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "429"}},
	{CategoryServiceUnavailable, []string{"service unavailable", "bad gateway", "gateway timeout", "502", "503", "504"}},
	{CategoryNetwork, []string{"connection refused", "connection reset", "no such host", "broken pipe", "network", "eof"}},
	{CategoryPermission, []string{"permission denied", "forbidden", "unauthorized", "401", "403"}},
	{CategoryNotFound, []string{"not found", "404", "no such file"}},
	{CategoryValidation, []string{"invalid", "validation", "malformed", "no source found", "unsupported"}},
	{CategoryInternal, []string{"internal", "panic", "500"}},
}

// Categorize derives a Category from typed markers first and the error text
// second.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, mc := range markerCategories {
		if errors.Is(err, mc.marker) {
			return mc.category
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategorizeMessage(err.Error())
}

// CategorizeMessage classifies a bare error message, such as one reported by
// the remote worker.
func CategorizeMessage(message string) Category {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return CategoryUnknown
	}
	for _, pattern := range messagePatterns {
		for _, needle := range pattern.needles {
			if strings.Contains(lower, needle) {
				return pattern.category
			}
		}
	}
	return CategoryUnknown
}
