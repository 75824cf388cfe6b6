package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCauseMapsFetchKinds(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, OutcomeFetched},
		{NewFetchError(ErrInvalidURL, "ftp://x", "", nil), CauseInvalidURL},
		{NewFetchError(ErrRobotsDisallowed, "https://a.test/p", "a.test", nil), CauseBlocked},
		{NewFetchError(ErrFetchTimeout, "https://a.test/p", "a.test", context.DeadlineExceeded), CauseTimeout},
		{NewFetchError(ErrConcurrencyLimitExceeded, "https://a.test/p", "a.test", nil), CauseTooMany},
		{fmt.Errorf("job: %w", ErrJobCancelled), CauseCancelled},
		{NewFetchError(ErrNetwork, "https://a.test/p", "a.test", errors.New("connection reset")), CauseNetwork},
		{errors.New("boom"), CauseUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Cause(tc.err), "%v", tc.err)
	}
}

func TestFetchErrorUnwrapsKindAndCause(t *testing.T) {
	err := NewFetchError(ErrFetchTimeout, "https://a.test/p", "a.test", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrFetchTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "fetch https://a.test/p: fetch timeout: context deadline exceeded", err.Error())

	var fe *FetchError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &fe)
	assert.Equal(t, "a.test", fe.Host)

	assert.Equal(t, "fetch u: failed", (&FetchError{URL: "u"}).Error())
}

func TestValidationErrorListsProblems(t *testing.T) {
	err := &ValidationError{Problems: []string{"name is required", "1 ingredient line(s) are unresolved"}}
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, "validation failed: name is required; 1 ingredient line(s) are unresolved", err.Error())
	assert.Equal(t, "validation failed", (&ValidationError{}).Error())

	single := Invalid("draft %s is %s", "d1", DraftCommitted)
	assert.ErrorIs(t, single, ErrValidationFailed)
	assert.Contains(t, single.Error(), "draft d1 is committed")
}

func TestDraftUnresolvedCount(t *testing.T) {
	d := RecipeDraft{Candidates: []IngredientCandidate{
		{Status: CandidateMatched},
		{Status: CandidateUnresolved},
		{Status: CandidateCreatedNew},
		{Status: CandidateUserOverridden},
		{Status: ""},
	}}
	assert.Equal(t, 2, d.UnresolvedCount())
}
