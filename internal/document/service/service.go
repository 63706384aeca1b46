package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document/repository"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/metrics"
)

const DefaultAnnotationColor = "#FF0000"

// Config bounds the transactions run by the service.
type Config struct {
	CreateTimeout time.Duration
	UpdateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{CreateTimeout: 50 * time.Second, UpdateTimeout: 15 * time.Second}
}

// OwnerDirectory resolves the display identity of document owners.
type OwnerDirectory interface {
	Owners(ctx context.Context, ids []string) (map[string]document.Owner, error)
}

// CleanupDispatcher schedules deletion of external objects no longer
// referenced by any screenshot row. Dispatch must not block.
type CleanupDispatcher interface {
	Dispatch(ctx context.Context, externalIDs []string, ownerID string)
}

// Service defines the document business operations used by the handler layer.
type Service interface {
	Create(ctx context.Context, ownerID string, nd document.NewDocument) (*document.Document, error)
	Get(ctx context.Context, id, viewerID string) (*document.Document, error)
	ListOwned(ctx context.Context, ownerID string) ([]document.Summary, error)
	ListDeleted(ctx context.Context, ownerID string) ([]document.Summary, error)

	Reconcile(ctx context.Context, id, ownerID string, desired document.Desired) (*document.Document, error)
	UpdateSharing(ctx context.Context, id, ownerID string, isPublic bool) (*document.Document, error)
	DeleteStep(ctx context.Context, stepID, ownerID string) (*document.DeletedStep, error)

	SoftDelete(ctx context.Context, id, ownerID string) error
	Restore(ctx context.Context, id, ownerID string) (*document.Document, error)
	PermanentDelete(ctx context.Context, id, ownerID string) error

	Save(ctx context.Context, id, userID string) (*document.SavedDocument, error)
	Unsave(ctx context.Context, id, userID string) error
	ListSaved(ctx context.Context, userID string) ([]document.Summary, error)
	SaveStatus(ctx context.Context, id, userID string) (document.SaveStatus, error)
}

// New wires a Service on top of a Store. owners and cleanup may be nil.
func New(store repository.Store, owners OwnerDirectory, cleanup CleanupDispatcher, cfg Config) Service {
	def := DefaultConfig()
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = def.UpdateTimeout
	}
	return &documentService{store: store, owners: owners, cleanup: cleanup, cfg: cfg}
}

// NewMemoryService returns a Service backed by the in-memory repository.
func NewMemoryService() Service {
	return New(repository.NewMemoryRepo(), nil, nil, DefaultConfig())
}

type documentService struct {
	store   repository.Store
	owners  OwnerDirectory
	cleanup CleanupDispatcher
	cfg     Config
}

func activeOwned(ownerID string) repository.Scope {
	return repository.Scope{OwnerID: ownerID, State: repository.StateActive}
}

// inTx runs fn in one store transaction bounded by timeout and folds any
// failure into the document error taxonomy.
func (s *documentService) inTx(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.store.WithTx(ctx, func(tx repository.Tx) error { return fn(ctx, tx) })
	metrics.TransactionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	err = classify(err)
	metrics.DocumentOperations.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil && errors.Is(err, document.ErrTransaction) {
		logger.Errorf("%s transaction failed: %v", op, err)
	}
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{document.ErrNotFound, document.ErrConflict, document.ErrValidation, document.ErrTransaction} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", document.ErrTransaction, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, document.ErrNotFound):
		return "not_found"
	case errors.Is(err, document.ErrConflict):
		return "conflict"
	case errors.Is(err, document.ErrValidation):
		return "invalid"
	case errors.Is(err, document.ErrConcurrentUpdate):
		return "concurrent_update"
	}
	return "failed"
}

func (s *documentService) dispatch(ctx context.Context, ids []string, ownerID string) {
	if len(ids) == 0 || s.cleanup == nil {
		return
	}
	s.cleanup.Dispatch(ctx, ids, ownerID)
}

func (s *documentService) Create(ctx context.Context, ownerID string, nd document.NewDocument) (*document.Document, error) {
	if err := document.ValidateNewDocument(nd); err != nil {
		return nil, err
	}
	var out *document.Document
	err := s.inTx(ctx, "create", s.cfg.CreateTimeout, func(ctx context.Context, tx repository.Tx) error {
		d := &document.Document{
			UserID:                  ownerID,
			Title:                   nd.Title,
			Description:             nd.Description,
			IsPublic:                nd.IsPublic != nil && *nd.IsPublic,
			AnnotationColor:         DefaultAnnotationColor,
			EstimatedCompletionTime: document.EstimateSpecs(nd.Steps),
		}
		if err := tx.InsertDocument(ctx, d); err != nil {
			return err
		}
		if err := createSteps(ctx, tx, d.ID, nd.Steps); err != nil {
			return err
		}
		var err error
		out, err = tx.LoadDocument(ctx, d.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withOwner(ctx, out), nil
}

func (s *documentService) Get(ctx context.Context, id, viewerID string) (*document.Document, error) {
	d, err := s.store.GetVisible(ctx, id, viewerID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return s.withOwner(ctx, d), nil
}

func (s *documentService) ListOwned(ctx context.Context, ownerID string) ([]document.Summary, error) {
	out, err := s.store.ListOwned(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.withOwners(ctx, out), nil
}

func (s *documentService) ListDeleted(ctx context.Context, ownerID string) ([]document.Summary, error) {
	out, err := s.store.ListDeleted(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.withOwners(ctx, out), nil
}

// Reconcile applies a desired state to an owned, active document in one
// transaction and dispatches screenshot orphans after commit.
func (s *documentService) Reconcile(ctx context.Context, id, ownerID string, desired document.Desired) (*document.Document, error) {
	if err := document.ValidateDesired(desired); err != nil {
		return nil, err
	}
	var (
		out     *document.Document
		orphans []string
	)
	err := s.inTx(ctx, "reconcile", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.LockDocument(ctx, id, activeOwned(ownerID))
		if err != nil {
			return err
		}
		plan, err := document.Diff(id, cur.Steps, desired.Steps, desired.DeleteStepIDs)
		if err != nil {
			return err
		}
		if n := len(cur.Steps) - len(plan.ToDelete) + len(plan.ToCreate); n > document.MaxStepsPerDocument {
			return fmt.Errorf("%w: a document holds at most %d steps", document.ErrValidation, document.MaxStepsPerDocument)
		}

		if !desired.Metadata.Empty() {
			if err := tx.UpdateMetadata(ctx, id, desired.Metadata); err != nil {
				return err
			}
		}
		if err := applyPlan(ctx, tx, id, plan); err != nil {
			return err
		}
		if desired.TouchesSteps() {
			if err := recomputeEstimate(ctx, tx, id); err != nil {
				return err
			}
		}
		out, err = tx.LoadDocument(ctx, id)
		if err != nil {
			return err
		}
		orphans = plan.ScreenshotOrphans
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debugf("reconciled document %s: %d orphaned screenshots", id, len(orphans))
	s.dispatch(ctx, orphans, ownerID)
	return s.withOwner(ctx, out), nil
}

// applyPlan writes a diff in a fixed order: screenshot deletes, step
// deletes, updates, creates.
func applyPlan(ctx context.Context, tx repository.Tx, documentID string, plan document.Plan) error {
	if err := tx.DeleteScreenshots(ctx, plan.ScreenshotDeleteStepIDs()); err != nil {
		return err
	}
	if err := tx.DeleteSteps(ctx, documentID, plan.DeleteIDs()); err != nil {
		return err
	}
	for _, up := range plan.ToUpdate {
		if err := tx.UpdateStep(ctx, documentID, up.StepID, up.Spec); err != nil {
			return err
		}
		var err error
		switch up.Screenshot {
		case document.ScreenshotCreate:
			err = tx.InsertScreenshot(ctx, up.StepID, *up.Spec.Screenshot)
		case document.ScreenshotOverwrite:
			err = tx.OverwriteScreenshot(ctx, up.StepID, *up.Spec.Screenshot)
		case document.ScreenshotRemove:
			err = tx.DeleteScreenshots(ctx, []string{up.StepID})
		}
		if err != nil {
			return err
		}
	}
	return createSteps(ctx, tx, documentID, plan.ToCreate)
}

func createSteps(ctx context.Context, tx repository.Tx, documentID string, specs []document.StepSpec) error {
	for _, spec := range specs {
		stepID, err := tx.InsertStep(ctx, documentID, spec)
		if err != nil {
			return err
		}
		if spec.Screenshot != nil {
			if err := tx.InsertScreenshot(ctx, stepID, *spec.Screenshot); err != nil {
				return err
			}
		}
	}
	return nil
}

func recomputeEstimate(ctx context.Context, tx repository.Tx, documentID string) error {
	steps, err := tx.ListSteps(ctx, documentID)
	if err != nil {
		return err
	}
	return tx.SetEstimatedTime(ctx, documentID, document.EstimateSteps(steps))
}

// UpdateSharing toggles visibility of an owned document whether or not it
// is in the trash.
func (s *documentService) UpdateSharing(ctx context.Context, id, ownerID string, isPublic bool) (*document.Document, error) {
	var out *document.Document
	err := s.inTx(ctx, "update_sharing", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockDocument(ctx, id, repository.Scope{OwnerID: ownerID, State: repository.StateAny}); err != nil {
			return err
		}
		if err := tx.SetPublic(ctx, id, isPublic); err != nil {
			return err
		}
		var err error
		out, err = tx.LoadDocument(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withOwner(ctx, out), nil
}

func (s *documentService) DeleteStep(ctx context.Context, stepID, ownerID string) (*document.DeletedStep, error) {
	var (
		out     *document.DeletedStep
		orphans []string
	)
	err := s.inTx(ctx, "delete_step", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		docID, err := tx.StepDocumentID(ctx, stepID)
		if err != nil {
			return err
		}
		d, err := tx.LockDocument(ctx, docID, activeOwned(ownerID))
		if err != nil {
			return err
		}
		plan, err := document.Diff(docID, d.Steps, nil, []string{stepID})
		if err != nil {
			// the step vanished between lookup and lock
			if errors.Is(err, document.ErrValidation) {
				return document.ErrNotFound
			}
			return err
		}
		if err := applyPlan(ctx, tx, docID, plan); err != nil {
			return err
		}
		if err := recomputeEstimate(ctx, tx, docID); err != nil {
			return err
		}
		for _, st := range d.Steps {
			if st.ID == stepID {
				out = &document.DeletedStep{
					ID:              st.ID,
					DocumentID:      docID,
					StepNumber:      st.StepNumber,
					StepDescription: st.StepDescription,
					Type:            st.Type,
					HadScreenshot:   st.Screenshot != nil,
				}
			}
		}
		orphans = plan.ScreenshotOrphans
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, orphans, ownerID)
	return out, nil
}

func (s *documentService) SoftDelete(ctx context.Context, id, ownerID string) error {
	return s.inTx(ctx, "soft_delete", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockDocument(ctx, id, activeOwned(ownerID)); err != nil {
			return err
		}
		ts := time.Now().UTC()
		return tx.SetDeleted(ctx, id, &ts)
	})
}

func (s *documentService) Restore(ctx context.Context, id, ownerID string) (*document.Document, error) {
	var out *document.Document
	err := s.inTx(ctx, "restore", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.LockDocument(ctx, id, repository.Scope{OwnerID: ownerID, State: repository.StateDeleted}); err != nil {
			return err
		}
		if err := tx.SetDeleted(ctx, id, nil); err != nil {
			return err
		}
		var err error
		out, err = tx.LoadDocument(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.withOwner(ctx, out), nil
}

// PermanentDelete removes the document and everything hanging off it, then
// hands every screenshot object it held to the cleanup dispatcher.
func (s *documentService) PermanentDelete(ctx context.Context, id, ownerID string) error {
	var images []string
	err := s.inTx(ctx, "permanent_delete", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.LockDocument(ctx, id, repository.Scope{OwnerID: ownerID, State: repository.StateAny})
		if err != nil {
			return err
		}
		if err := tx.DeleteSavedByDocument(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteAllScreenshots(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteAllSteps(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, id); err != nil {
			return err
		}
		images = uniqueIDs(d.ScreenshotIDs())
		return nil
	})
	if err != nil {
		return err
	}
	logger.Infof("permanently deleted document %s (%d images to clean up)", id, len(images))
	s.dispatch(ctx, images, ownerID)
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *documentService) Save(ctx context.Context, id, userID string) (*document.SavedDocument, error) {
	var out *document.SavedDocument
	err := s.inTx(ctx, "save", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.LockDocument(ctx, id, repository.Scope{State: repository.StateActive})
		if err != nil {
			return err
		}
		if d.UserID == userID {
			return fmt.Errorf("%w: cannot save your own document", document.ErrValidation)
		}
		if !d.IsPublic {
			return document.ErrNotFound
		}
		out, err = tx.InsertSaved(ctx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *documentService) Unsave(ctx context.Context, id, userID string) error {
	return s.inTx(ctx, "unsave", s.cfg.UpdateTimeout, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteSaved(ctx, userID, id)
	})
}

func (s *documentService) ListSaved(ctx context.Context, userID string) ([]document.Summary, error) {
	out, err := s.store.ListSaved(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.withOwners(ctx, out), nil
}

func (s *documentService) SaveStatus(ctx context.Context, id, userID string) (document.SaveStatus, error) {
	sd, err := s.store.GetSaved(ctx, userID, id)
	if err != nil {
		return document.SaveStatus{}, err
	}
	if sd == nil {
		return document.SaveStatus{}, nil
	}
	savedAt := sd.SavedAt
	return document.SaveStatus{IsSaved: true, SavedAt: &savedAt}, nil
}
