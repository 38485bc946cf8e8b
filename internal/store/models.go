package store

import "time"

// Text lifecycle statuses. A text moves initialized -> progress ->
// annotated -> reviewed, with reviewed_needs_revision looping it back to
// the annotator and skipped parking it.
const (
	StatusInitialized   = "initialized"
	StatusProgress      = "progress"
	StatusAnnotated     = "annotated"
	StatusReviewed      = "reviewed"
	StatusNeedsRevision = "reviewed_needs_revision"
	StatusSkipped       = "skipped"
)

var ValidStatuses = []string{
	StatusInitialized,
	StatusProgress,
	StatusAnnotated,
	StatusReviewed,
	StatusNeedsRevision,
	StatusSkipped,
}

func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type User struct {
	ID                    string
	Username              string
	Email                 string
	FullName              string
	PasswordHash          string
	Role                  string
	IsActive              bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             *time.Time
}

type Text struct {
	ID          string
	Title       string
	Content     string
	Source      string
	Language    string
	Translation string
	Status      string
	AnnotatorID *string
	ReviewerID  *string
	UploadedBy  *string
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	// Joined count for list responses
	AnnotationCount int
}

// TextFilter narrows ListTexts. Zero values mean "no constraint".
type TextFilter struct {
	Status     string
	Language   string
	ReviewerID string
	UploadedBy string
	Offset     int
	Limit      int
}

type Annotation struct {
	ID           string
	TextID       string
	AnnotatorID  *string
	Type         string
	Start        int
	End          int
	SelectedText string
	Label        string
	Name         string
	Level        string
	Meta         map[string]any
	Confidence   int
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	// Joined review state for review sessions
	IsAgreed *bool
}

type AnnotationType struct {
	ID         string
	Name       string
	UploaderID string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// TypologyItem is one parent-linked row of a hierarchical annotation
// typology. Sibling order is kept in SortOrder.
type TypologyItem struct {
	ID          string
	TypeID      string
	ParentID    *string
	Title       string
	Description string
	Meta        map[string]any
	SortOrder   int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type Review struct {
	ID           string
	AnnotationID string
	ReviewerID   string
	Decision     string
	Comment      string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

const (
	DecisionAgree    = "agree"
	DecisionDisagree = "disagree"
)

// ExportText bundles a text with its annotations for the export service.
type ExportText struct {
	Text        Text
	Annotations []Annotation
}
