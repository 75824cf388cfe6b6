package domain

import "time"

// JobStatus enumerates the lifecycle of a single fetch attempt.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobFetching JobStatus = "fetching"
	JobFetched  JobStatus = "fetched"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobFetched || s == JobFailed
}

// FetchRequest is a single on-demand fetch issued on behalf of a user.
type FetchRequest struct {
	URL         string
	RequestedBy string
}

// ScrapeJob tracks one fetch attempt from submission to a terminal state.
type ScrapeJob struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	RequestedBy string    `json:"requestedBy"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      JobStatus `json:"status"`
	Cause       string    `json:"cause,omitempty"`
	Error       string    `json:"error,omitempty"`
	DraftID     string    `json:"draftId,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// ScrapedDocument is the immutable raw payload produced by a successful fetch.
type ScrapedDocument struct {
	SourceURL   string
	FetchedAt   time.Time
	RawContent  []byte
	HTTPStatus  int
	ContentType string
}

// AuditEntry is one line of the scrape audit log.
type AuditEntry struct {
	URL         string        `json:"url" bson:"url"`
	Host        string        `json:"host" bson:"host"`
	RequestedBy string        `json:"requestedBy" bson:"requestedBy"`
	Outcome     string        `json:"outcome" bson:"outcome"`
	Detail      string        `json:"detail,omitempty" bson:"detail,omitempty"`
	HTTPStatus  int           `json:"httpStatus,omitempty" bson:"httpStatus,omitempty"`
	Duration    time.Duration `json:"duration" bson:"durationNs"`
	At          time.Time     `json:"at" bson:"at"`
}
