package observations

import (
	"fmt"
	"strings"
	"time"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

// Kind is the observation format.
type Kind string

// Observation kinds.
const (
	KindFormal      Kind = "formal"
	KindWalkThrough Kind = "walk-through"
)

// Kinds lists the kinds in form order.
func Kinds() []Kind { return []Kind{KindFormal, KindWalkThrough} }

// ParseKind accepts the common spellings of a kind.
func ParseKind(raw string) (Kind, bool) {
	switch strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(raw))) {
	case "formal":
		return KindFormal, true
	case "walk-through", "walkthrough":
		return KindWalkThrough, true
	}
	return "", false
}

// Label is the display name.
func (k Kind) Label() string {
	if k == KindWalkThrough {
		return "Walk-through"
	}
	return "Formal"
}

// Status tracks an observation through its life.
type Status string

// Observation statuses.
const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// ErrInvalidTransition rejects a status change not allowed from the current status.
var ErrInvalidTransition = fmt.Errorf("observations: invalid status transition: %w", httpx.ErrValidation)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCanceled},
	StatusInProgress: {StatusCompleted, StatusCanceled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

// Label is the display name.
func (s Status) Label() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusInProgress:
		return "In progress"
	case StatusCompleted:
		return "Completed"
	case StatusCanceled:
		return "Canceled"
	}
	return string(s)
}

// ParseStatus accepts a status value from a form or query string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return s, true
	}
	return "", false
}

// ReviewStatus tracks a teacher's request to revisit feedback.
type ReviewStatus string

// Review states.
const (
	ReviewNone      ReviewStatus = "none"
	ReviewRequested ReviewStatus = "requested"
	ReviewResolved  ReviewStatus = "resolved"
)

// Observation is one scheduled classroom visit.
type Observation struct {
	ID           string
	TeacherID    string
	TeacherName  string
	TeacherEmail string
	ObserverID   string
	ObserverName string
	Kind         Kind
	Status       Status
	ScheduledAt  time.Time
	Notes        string
	NotifiedAt   *time.Time
	RemindedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Feedback     *Feedback
}

// Feedback is the observer's glows (strengths) and grows (next steps).
type Feedback struct {
	ObservationID  string
	AuthorID       string
	Glows          []string
	Grows          []string
	AcknowledgedAt *time.Time
	Review         ReviewStatus
	ReviewNote     string
	ReviewResponse string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduleInput is the scheduling form.
type ScheduleInput struct {
	TeacherID  string `validate:"required,uuid"`
	ObserverID string `validate:"omitempty,uuid"`
	Date       string `validate:"required,datetime=2006-01-02"`
	Time       string `validate:"required,datetime=15:04"`
	Kind       string `validate:"required"`
	Notes      string `validate:"max=2000"`
}

// NewObservation is a validated observation ready for insertion.
type NewObservation struct {
	ID          string
	TeacherID   string
	ObserverID  string
	Kind        Kind
	ScheduledAt time.Time
	Notes       string
}

// Query filters observation listings. Empty fields do not filter.
type Query struct {
	TeacherID    string
	ObserverID   string
	Status       Status
	From         time.Time
	To           time.Time
	WithFeedback bool
	Page         int
	PerPage      int
	Ascending    bool
}
