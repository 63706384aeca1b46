package document

import "time"

// StepType tags how a step is rendered and how much it adds to the
// estimated completion time.
type StepType string

const (
	StepTypeStep   StepType = "STEP"
	StepTypeTips   StepType = "TIPS"
	StepTypeHeader StepType = "HEADER"
	StepTypeAlert  StepType = "ALERT"
)

// Valid reports whether t is one of the known step variants.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeStep, StepTypeTips, StepTypeHeader, StepTypeAlert:
		return true
	}
	return false
}

// Owner is the minimal identity embedded in returned aggregates.
type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Document is the aggregate root. Steps are ordered by StepNumber.
type Document struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"userId"`
	Title                   string     `json:"title"`
	Description             *string    `json:"description"`
	IsPublic                bool       `json:"isPublic"`
	AnnotationColor         string     `json:"annotationColor"`
	EstimatedCompletionTime int        `json:"estimatedCompletionTime"`
	IsDeleted               bool       `json:"isDeleted"`
	DeletedAt               *time.Time `json:"deletedAt"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
	Steps                   []Step     `json:"steps"`
	User                    *Owner     `json:"user,omitempty"`
}

// Step is one ordered entry of a document.
type Step struct {
	ID              string      `json:"id"`
	DocumentID      string      `json:"documentId"`
	StepNumber      float64     `json:"stepNumber"`
	StepDescription string      `json:"stepDescription"`
	Type            StepType    `json:"type"`
	Screenshot      *Screenshot `json:"screenshot"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Screenshot references an image object held by the external storage
// gateway. GoogleImageID must stay live for as long as the row exists.
type Screenshot struct {
	ID               string    `json:"id"`
	StepID           string    `json:"stepId"`
	GoogleImageID    string    `json:"googleImageId"`
	URL              string    `json:"url"`
	ViewportX        float64   `json:"viewportX"`
	ViewportY        float64   `json:"viewportY"`
	ViewportWidth    float64   `json:"viewportWidth"`
	ViewportHeight   float64   `json:"viewportHeight"`
	DevicePixelRatio float64   `json:"devicePixelRatio"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Summary is the listing shape: document fields without steps plus the
// number of steps.
type Summary struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"userId"`
	Title                   string     `json:"title"`
	Description             *string    `json:"description"`
	IsPublic                bool       `json:"isPublic"`
	AnnotationColor         string     `json:"annotationColor"`
	EstimatedCompletionTime int        `json:"estimatedCompletionTime"`
	IsDeleted               bool       `json:"isDeleted"`
	DeletedAt               *time.Time `json:"deletedAt"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
	StepCount               int        `json:"stepCount"`
	User                    *Owner     `json:"user,omitempty"`
	SavedAt                 *time.Time `json:"savedAt,omitempty"`
}

// SavedDocument is a bookmark of a document by a user.
type SavedDocument struct {
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId"`
	SavedAt    time.Time `json:"savedAt"`
}

// SaveStatus answers whether a user has bookmarked a document.
type SaveStatus struct {
	IsSaved bool       `json:"isSaved"`
	SavedAt *time.Time `json:"savedAt"`
}

// ScreenshotSpec is the desired screenshot of a step.
type ScreenshotSpec struct {
	GoogleImageID    string  `json:"googleImageId"`
	URL              string  `json:"url"`
	ViewportX        float64 `json:"viewportX"`
	ViewportY        float64 `json:"viewportY"`
	ViewportWidth    float64 `json:"viewportWidth"`
	ViewportHeight   float64 `json:"viewportHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// StepSpec is a desired step. An empty ID means "create".
type StepSpec struct {
	ID              string          `json:"id,omitempty"`
	StepNumber      float64         `json:"stepNumber"`
	StepDescription string          `json:"stepDescription"`
	Type            StepType        `json:"type"`
	Screenshot      *ScreenshotSpec `json:"screenshot,omitempty"`
}

// NewDocument is the input of document creation with nested steps.
type NewDocument struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	IsPublic    *bool      `json:"isPublic,omitempty"`
	Steps       []StepSpec `json:"steps"`
}

// MetadataUpdate carries the document fields a reconciliation may touch.
// Absent fields are left as stored; a present nil Description clears it.
type MetadataUpdate struct {
	Title           Optional[string]
	Description     Optional[*string]
	AnnotationColor Optional[string]
}

// Empty reports whether no metadata field is present.
func (m MetadataUpdate) Empty() bool {
	return !m.Title.Present && !m.Description.Present && !m.AnnotationColor.Present
}

// Desired is the submitted state of a document for reconciliation.
// A nil Steps or DeleteStepIDs means the field was absent in the request.
type Desired struct {
	Metadata      MetadataUpdate
	Steps         []StepSpec
	DeleteStepIDs []string
}

// TouchesSteps reports whether the request carries any structural change.
func (d Desired) TouchesSteps() bool {
	return d.Steps != nil || d.DeleteStepIDs != nil
}

// Summarize drops the step list and keeps its length.
func (d *Document) Summarize() Summary {
	return Summary{
		ID:                      d.ID,
		UserID:                  d.UserID,
		Title:                   d.Title,
		Description:             d.Description,
		IsPublic:                d.IsPublic,
		AnnotationColor:         d.AnnotationColor,
		EstimatedCompletionTime: d.EstimatedCompletionTime,
		IsDeleted:               d.IsDeleted,
		DeletedAt:               d.DeletedAt,
		CreatedAt:               d.CreatedAt,
		UpdatedAt:               d.UpdatedAt,
		StepCount:               len(d.Steps),
		User:                    d.User,
	}
}

// ScreenshotIDs returns the external image IDs held by the document's steps.
func (d *Document) ScreenshotIDs() []string {
	var ids []string
	for _, s := range d.Steps {
		if s.Screenshot != nil {
			ids = append(ids, s.Screenshot.GoogleImageID)
		}
	}
	return ids
}

// DeletedStep describes a step removed on its own.
type DeletedStep struct {
	ID              string   `json:"id"`
	DocumentID      string   `json:"documentId"`
	StepNumber      float64  `json:"stepNumber"`
	StepDescription string   `json:"stepDescription"`
	Type            StepType `json:"type"`
	HadScreenshot   bool     `json:"hadScreenshot"`
}
