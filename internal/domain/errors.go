package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidURL is returned when a fetch target is malformed or not http(s).
	ErrInvalidURL = errors.New("invalid url")

	// ErrRobotsDisallowed is returned when robots.txt forbids the target path for our agent.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrNetwork is returned when the remote host could not deliver a usable document.
	ErrNetwork = errors.New("network error")

	// ErrFetchTimeout is returned when the total fetch budget is exhausted.
	ErrFetchTimeout = errors.New("fetch timeout")

	// ErrConcurrencyLimitExceeded is returned when a user has too many fetches in flight.
	ErrConcurrencyLimitExceeded = errors.New("concurrency limit exceeded")

	// ErrJobCancelled is returned when a scrape job was cancelled before its document was accepted.
	ErrJobCancelled = errors.New("scrape job cancelled")

	// ErrParseIncomplete marks extraction gaps. It is recorded on drafts, never returned.
	ErrParseIncomplete = errors.New("parse incomplete")

	// ErrCatalogConflict is returned when concurrent catalog mutations overlap.
	ErrCatalogConflict = errors.New("catalog conflict")

	// ErrValidationFailed is returned for illegal workflow transitions or invalid drafts.
	ErrValidationFailed = errors.New("validation failed")

	// ErrCommitFailure is returned when the commit transaction of a validated draft fails.
	ErrCommitFailure = errors.New("commit failure")

	// ErrStaleDraft is returned when a draft was changed by someone else since it was read.
	ErrStaleDraft = errors.New("draft was modified concurrently")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// FetchError carries the failure kind together with the request context and the underlying cause.
type FetchError struct {
	Kind error
	URL  string
	Host string
	Err  error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("fetch ")
	b.WriteString(e.URL)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("failed")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewFetchError builds a FetchError for the given kind.
func NewFetchError(kind error, rawURL, host string, cause error) *FetchError {
	return &FetchError{Kind: kind, URL: rawURL, Host: host, Err: cause}
}

// Cause codes surfaced to reviewers when a fetch fails.
const (
	CauseInvalidURL = "invalid_url"
	CauseBlocked    = "blocked_by_site_policy"
	CauseNetwork    = "network_failure"
	CauseTimeout    = "timeout"
	CauseTooMany    = "too_many_requests"
	CauseCancelled  = "cancelled"
	CauseUnknown    = "unknown"
	OutcomeFetched  = "fetched"
)

// Cause maps an error to a stable, user-facing cause code.
func Cause(err error) string {
	switch {
	case err == nil:
		return OutcomeFetched
	case errors.Is(err, ErrInvalidURL):
		return CauseInvalidURL
	case errors.Is(err, ErrRobotsDisallowed):
		return CauseBlocked
	case errors.Is(err, ErrFetchTimeout):
		return CauseTimeout
	case errors.Is(err, ErrConcurrencyLimitExceeded):
		return CauseTooMany
	case errors.Is(err, ErrJobCancelled):
		return CauseCancelled
	case errors.Is(err, ErrNetwork):
		return CauseNetwork
	default:
		return CauseUnknown
	}
}

// ValidationError lists every reason a draft could not move forward.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match ErrValidationFailed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Invalid builds a ValidationError from a single formatted problem.
func Invalid(format string, args ...any) error {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}
