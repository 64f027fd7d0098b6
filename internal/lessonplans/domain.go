package lessonplans

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// MaxFileBytes caps an uploaded lesson plan document.
const MaxFileBytes = 10 << 20

// Status tracks a lesson plan from draft to review outcome.
type Status string

// Lesson plan statuses.
const (
	StatusPending       Status = "pending"
	StatusSubmitted     Status = "submitted"
	StatusApproved      Status = "approved"
	StatusNeedsRevision Status = "needs_revision"
)

// ErrInvalidTransition rejects a status change not allowed from the current status.
var ErrInvalidTransition = fmt.Errorf("lessonplans: invalid status transition: %w", httpx.ErrValidation)

// Reviewers may revise their own decision, so approved and needs_revision
// lead to each other.
var transitions = map[Status][]Status{
	StatusPending:       {StatusSubmitted},
	StatusSubmitted:     {StatusApproved, StatusNeedsRevision},
	StatusNeedsRevision: {StatusSubmitted, StatusApproved},
	StatusApproved:      {StatusNeedsRevision},
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

// Statuses lists the statuses in filter order.
func Statuses() []Status {
	return []Status{StatusPending, StatusSubmitted, StatusApproved, StatusNeedsRevision}
}

// ParseStatus accepts a status value from a form or query string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_"))
	switch s {
	case StatusPending, StatusSubmitted, StatusApproved, StatusNeedsRevision:
		return s, true
	}
	return "", false
}

// Label is the display name.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSubmitted:
		return "Under review"
	case StatusApproved:
		return "Approved"
	case StatusNeedsRevision:
		return "Needs revision"
	}
	return string(s)
}

// Reviewable reports whether a reviewer may record a decision.
func (s Status) Reviewable() bool {
	return s == StatusSubmitted || s == StatusApproved || s == StatusNeedsRevision
}

// Submittable reports whether the teacher may upload a document.
func (s Status) Submittable() bool {
	return s == StatusPending || s == StatusNeedsRevision
}

// LessonPlan is one teacher's plan for a teaching week.
type LessonPlan struct {
	ID            string
	TeacherID     string
	TeacherName   string
	TeacherEmail  string
	Title         string
	Subject       string
	Grade         string
	Description   string
	DueDate       time.Time
	Status        Status
	File          *FileInfo
	SubmittedAt   *time.Time
	ReviewerID    string
	ReviewerName  string
	ReviewComment string
	ReviewedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Overdue reports whether the plan is still owed after its due date, with
// today taken in loc.
func (p LessonPlan) Overdue(now time.Time, loc *time.Location) bool {
	if p.DueDate.IsZero() || !p.Status.Submittable() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	dy, dm, dd := p.DueDate.Date()
	return time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// FileInfo describes the stored document without its content.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// Document is an uploaded lesson plan file.
type Document struct {
	FileInfo
	Data []byte
}

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// AllowedExtensions is the accept list of the upload field.
const AllowedExtensions = ".pdf,.doc,.docx"

// NewDocument checks the name and size of an upload and fixes its content
// type from the extension.
func NewDocument(name string, data []byte) (*Document, error) {
	name = filepath.Base(strings.TrimSpace(name))
	ct, ok := allowedTypes[strings.ToLower(filepath.Ext(name))]
	if !ok || name == "." || name == "" {
		return nil, shared.Invalid("file", "Upload a PDF or Word document.")
	}
	if len(data) == 0 {
		return nil, shared.Invalid("file", "The file is empty.")
	}
	if len(data) > MaxFileBytes {
		return nil, shared.Invalid("file", "Files must be at most 10 MB.")
	}
	return &Document{FileInfo: FileInfo{Name: name, ContentType: ct, Size: int64(len(data))}, Data: data}, nil
}

// CreateInput is the new lesson plan form.
type CreateInput struct {
	Title       string `validate:"required,max=200"`
	Subject     string `validate:"max=100"`
	Grade       string `validate:"max=50"`
	DueDate     string `validate:"omitempty,datetime=2006-01-02"`
	Description string `validate:"max=2000"`
}

// NewLessonPlan is a validated plan ready for insertion.
type NewLessonPlan struct {
	ID          string
	TeacherID   string
	Title       string
	Subject     string
	Grade       string
	Description string
	DueDate     time.Time
	Status      Status
	Document    *Document
	SubmittedAt *time.Time
}

// Review is a reviewer's decision on a plan.
type Review struct {
	PlanID     string
	ReviewerID string
	From       Status
	Decision   Status
	Comment    string
	At         time.Time
}

// Query filters lesson plan listings. Empty fields do not filter.
type Query struct {
	TeacherID string
	// ReviewerID limits plans to teachers in groups the reviewer leads.
	ReviewerID string
	Status     Status
	Search     string
	Page       int
	PerPage    int
}

// Counts is the number of visible plans per status.
type Counts map[Status]int

// Get returns the count for s.
func (c Counts) Get(s string) int {
	return c[Status(s)]
}
