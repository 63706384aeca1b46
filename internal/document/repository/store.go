package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
)

// State filters documents by their soft-delete flag.
type State int

const (
	StateActive State = iota
	StateDeleted
	StateAny
)

func (s State) matches(isDeleted bool) bool {
	switch s {
	case StateActive:
		return !isDeleted
	case StateDeleted:
		return isDeleted
	}
	return true
}

// Scope selects which document row a transaction may lock. An empty
// OwnerID matches any owner.
type Scope struct {
	OwnerID string
	State   State
}

// Store is the document aggregate store. Reads outside WithTx see only
// committed state.
type Store interface {
	// WithTx runs fn inside one transaction. Any error returned by fn, or a
	// context that expires before commit, rolls back every write made
	// through the Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetVisible returns an active document owned by viewerID or public.
	// An empty viewerID only sees public documents.
	GetVisible(ctx context.Context, id, viewerID string) (*document.Document, error)
	ListOwned(ctx context.Context, userID string) ([]document.Summary, error)
	ListDeleted(ctx context.Context, userID string) ([]document.Summary, error)
	ListSaved(ctx context.Context, userID string) ([]document.Summary, error)
	// GetSaved returns nil, nil when the user has not saved the document or
	// the document is soft-deleted.
	GetSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error)
}

// Tx is the write surface of one transaction. Implementations lock the
// document row in LockDocument and keep it locked until commit/rollback.
type Tx interface {
	InsertDocument(ctx context.Context, d *document.Document) error
	// LockDocument returns the document with its steps ordered by
	// stepNumber, or document.ErrNotFound when nothing matches scope.
	LockDocument(ctx context.Context, id string, scope Scope) (*document.Document, error)
	// LoadDocument reads the current state of a document already locked in
	// this transaction.
	LoadDocument(ctx context.Context, id string) (*document.Document, error)
	StepDocumentID(ctx context.Context, stepID string) (string, error)

	UpdateMetadata(ctx context.Context, id string, m document.MetadataUpdate) error
	SetEstimatedTime(ctx context.Context, id string, seconds int) error
	SetDeleted(ctx context.Context, id string, deletedAt *time.Time) error
	SetPublic(ctx context.Context, id string, isPublic bool) error
	DeleteDocument(ctx context.Context, id string) error

	ListSteps(ctx context.Context, documentID string) ([]document.Step, error)
	InsertStep(ctx context.Context, documentID string, spec document.StepSpec) (string, error)
	UpdateStep(ctx context.Context, documentID, stepID string, spec document.StepSpec) error
	DeleteSteps(ctx context.Context, documentID string, stepIDs []string) error
	DeleteAllSteps(ctx context.Context, documentID string) error

	InsertScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error
	OverwriteScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error
	DeleteScreenshots(ctx context.Context, stepIDs []string) error
	DeleteAllScreenshots(ctx context.Context, documentID string) error

	// InsertSaved returns document.ErrConflict when the pair already exists.
	InsertSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error)
	// DeleteSaved returns document.ErrNotFound when the pair does not exist.
	DeleteSaved(ctx context.Context, userID, documentID string) error
	DeleteSavedByDocument(ctx context.Context, documentID string) error
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func now() time.Time {
	return time.Now().UTC()
}
