package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
)

// MemoryRepo is an in-memory Store used for tests and local runs without
// PostgreSQL. Transactions are fully serialized and work on a copy of the
// tables that is swapped in on commit.
type MemoryRepo struct {
	mu sync.RWMutex
	t  tables
}

type savedKey struct {
	userID     string
	documentID string
}

type tables struct {
	docs        map[string]document.Document
	steps       map[string]document.Step
	screenshots map[string]document.Screenshot // by step id
	saved       map[savedKey]document.SavedDocument
}

func newTables() tables {
	return tables{
		docs:        map[string]document.Document{},
		steps:       map[string]document.Step{},
		screenshots: map[string]document.Screenshot{},
		saved:       map[savedKey]document.SavedDocument{},
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.docs {
		c.docs[k] = v
	}
	for k, v := range t.steps {
		c.steps[k] = v
	}
	for k, v := range t.screenshots {
		c.screenshots[k] = v
	}
	for k, v := range t.saved {
		c.saved[k] = v
	}
	return c
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{t: newTables()}
}

func (m *MemoryRepo) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{t: m.t.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.t = tx.t
	return nil
}

func (m *MemoryRepo) GetVisible(ctx context.Context, id, viewerID string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.t.docs[id]
	if !ok || d.IsDeleted {
		return nil, document.ErrNotFound
	}
	if !d.IsPublic && (viewerID == "" || d.UserID != viewerID) {
		return nil, document.ErrNotFound
	}
	return m.t.aggregate(id), nil
}

func (m *MemoryRepo) ListOwned(ctx context.Context, userID string) ([]document.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []document.Summary{}
	for _, d := range m.t.docs {
		if d.UserID == userID && !d.IsDeleted {
			out = append(out, m.t.summary(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryRepo) ListDeleted(ctx context.Context, userID string) ([]document.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []document.Summary{}
	for _, d := range m.t.docs {
		if d.UserID == userID && d.IsDeleted {
			out = append(out, m.t.summary(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return timeOf(out[i].DeletedAt).After(timeOf(out[j].DeletedAt)) })
	return out, nil
}

func (m *MemoryRepo) ListSaved(ctx context.Context, userID string) ([]document.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []document.Summary{}
	for k, s := range m.t.saved {
		if k.userID != userID {
			continue
		}
		d, ok := m.t.docs[k.documentID]
		if !ok || d.IsDeleted {
			continue
		}
		sum := m.t.summary(d)
		savedAt := s.SavedAt
		sum.SavedAt = &savedAt
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(*out[j].SavedAt) })
	return out, nil
}

func (m *MemoryRepo) GetSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.t.saved[savedKey{userID, documentID}]
	if !ok || m.t.docs[documentID].IsDeleted {
		return nil, nil
	}
	return &s, nil
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (t tables) stepsOf(documentID string) []document.Step {
	out := []document.Step{}
	for _, s := range t.steps {
		if s.DocumentID != documentID {
			continue
		}
		if sc, ok := t.screenshots[s.ID]; ok {
			sc := sc
			s.Screenshot = &sc
		}
		out = append(out, s)
	}
	sortSteps(out)
	return out
}

func (t tables) aggregate(id string) *document.Document {
	d := t.docs[id]
	d.Steps = t.stepsOf(id)
	return &d
}

func (t tables) summary(d document.Document) document.Summary {
	n := 0
	for _, s := range t.steps {
		if s.DocumentID == d.ID {
			n++
		}
	}
	sum := d.Summarize()
	sum.StepCount = n
	return sum
}

func sortSteps(steps []document.Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StepNumber != steps[j].StepNumber {
			return steps[i].StepNumber < steps[j].StepNumber
		}
		return steps[i].ID < steps[j].ID
	})
}

type memoryTx struct {
	t tables
}

func (tx *memoryTx) InsertDocument(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if _, ok := tx.t.docs[d.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", document.ErrConflict, d.ID)
	}
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts
	row := *d
	row.Steps, row.User = nil, nil
	tx.t.docs[d.ID] = row
	return nil
}

func (tx *memoryTx) LockDocument(ctx context.Context, id string, scope Scope) (*document.Document, error) {
	d, ok := tx.t.docs[id]
	if !ok || !scope.State.matches(d.IsDeleted) || (scope.OwnerID != "" && d.UserID != scope.OwnerID) {
		return nil, document.ErrNotFound
	}
	return tx.t.aggregate(id), nil
}

func (tx *memoryTx) LoadDocument(ctx context.Context, id string) (*document.Document, error) {
	if _, ok := tx.t.docs[id]; !ok {
		return nil, document.ErrNotFound
	}
	return tx.t.aggregate(id), nil
}

func (tx *memoryTx) StepDocumentID(ctx context.Context, stepID string) (string, error) {
	s, ok := tx.t.steps[stepID]
	if !ok {
		return "", document.ErrNotFound
	}
	return s.DocumentID, nil
}

func (tx *memoryTx) updateDoc(id string, fn func(d *document.Document)) error {
	d, ok := tx.t.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	fn(&d)
	d.UpdatedAt = now()
	tx.t.docs[id] = d
	return nil
}

func (tx *memoryTx) UpdateMetadata(ctx context.Context, id string, m document.MetadataUpdate) error {
	return tx.updateDoc(id, func(d *document.Document) {
		if v, ok := m.Title.Get(); ok {
			d.Title = v
		}
		if v, ok := m.Description.Get(); ok {
			d.Description = v
		}
		if v, ok := m.AnnotationColor.Get(); ok {
			d.AnnotationColor = v
		}
	})
}

func (tx *memoryTx) SetEstimatedTime(ctx context.Context, id string, seconds int) error {
	return tx.updateDoc(id, func(d *document.Document) { d.EstimatedCompletionTime = seconds })
}

func (tx *memoryTx) SetDeleted(ctx context.Context, id string, deletedAt *time.Time) error {
	return tx.updateDoc(id, func(d *document.Document) {
		d.IsDeleted = deletedAt != nil
		d.DeletedAt = deletedAt
	})
}

func (tx *memoryTx) SetPublic(ctx context.Context, id string, isPublic bool) error {
	return tx.updateDoc(id, func(d *document.Document) { d.IsPublic = isPublic })
}

func (tx *memoryTx) DeleteDocument(ctx context.Context, id string) error {
	if _, ok := tx.t.docs[id]; !ok {
		return document.ErrNotFound
	}
	for _, s := range tx.t.steps {
		if s.DocumentID == id {
			return fmt.Errorf("document %s still has steps", id)
		}
	}
	for k := range tx.t.saved {
		if k.documentID == id {
			return fmt.Errorf("document %s is still saved by %s", id, k.userID)
		}
	}
	delete(tx.t.docs, id)
	return nil
}

func (tx *memoryTx) ListSteps(ctx context.Context, documentID string) ([]document.Step, error) {
	return tx.t.stepsOf(documentID), nil
}

func (tx *memoryTx) InsertStep(ctx context.Context, documentID string, spec document.StepSpec) (string, error) {
	if _, ok := tx.t.docs[documentID]; !ok {
		return "", document.ErrNotFound
	}
	ts := now()
	s := document.Step{
		ID:              newID(),
		DocumentID:      documentID,
		StepNumber:      spec.StepNumber,
		StepDescription: spec.StepDescription,
		Type:            spec.Type,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	tx.t.steps[s.ID] = s
	return s.ID, nil
}

func (tx *memoryTx) UpdateStep(ctx context.Context, documentID, stepID string, spec document.StepSpec) error {
	s, ok := tx.t.steps[stepID]
	if !ok || s.DocumentID != documentID {
		return document.ErrNotFound
	}
	s.StepNumber = spec.StepNumber
	s.StepDescription = spec.StepDescription
	s.Type = spec.Type
	s.UpdatedAt = now()
	tx.t.steps[stepID] = s
	return nil
}

func (tx *memoryTx) DeleteSteps(ctx context.Context, documentID string, stepIDs []string) error {
	for _, id := range stepIDs {
		s, ok := tx.t.steps[id]
		if !ok || s.DocumentID != documentID {
			continue
		}
		if _, ok := tx.t.screenshots[id]; ok {
			return fmt.Errorf("step %s still has a screenshot", id)
		}
		delete(tx.t.steps, id)
	}
	return nil
}

func (tx *memoryTx) DeleteAllSteps(ctx context.Context, documentID string) error {
	var ids []string
	for id, s := range tx.t.steps {
		if s.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return tx.DeleteSteps(ctx, documentID, ids)
}

func (tx *memoryTx) InsertScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error {
	if _, ok := tx.t.steps[stepID]; !ok {
		return document.ErrNotFound
	}
	if _, ok := tx.t.screenshots[stepID]; ok {
		return fmt.Errorf("%w: step %s already has a screenshot", document.ErrConflict, stepID)
	}
	ts := now()
	tx.t.screenshots[stepID] = screenshotFromSpec(newID(), stepID, spec, ts, ts)
	return nil
}

func (tx *memoryTx) OverwriteScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error {
	old, ok := tx.t.screenshots[stepID]
	if !ok {
		return document.ErrNotFound
	}
	tx.t.screenshots[stepID] = screenshotFromSpec(old.ID, stepID, spec, old.CreatedAt, now())
	return nil
}

func (tx *memoryTx) DeleteScreenshots(ctx context.Context, stepIDs []string) error {
	for _, id := range stepIDs {
		delete(tx.t.screenshots, id)
	}
	return nil
}

func (tx *memoryTx) DeleteAllScreenshots(ctx context.Context, documentID string) error {
	for id, s := range tx.t.steps {
		if s.DocumentID == documentID {
			delete(tx.t.screenshots, id)
		}
	}
	return nil
}

func (tx *memoryTx) InsertSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error) {
	k := savedKey{userID, documentID}
	if _, ok := tx.t.saved[k]; ok {
		return nil, fmt.Errorf("%w: document is already saved", document.ErrConflict)
	}
	if _, ok := tx.t.docs[documentID]; !ok {
		return nil, document.ErrNotFound
	}
	s := document.SavedDocument{UserID: userID, DocumentID: documentID, SavedAt: now()}
	tx.t.saved[k] = s
	return &s, nil
}

func (tx *memoryTx) DeleteSaved(ctx context.Context, userID, documentID string) error {
	k := savedKey{userID, documentID}
	if _, ok := tx.t.saved[k]; !ok {
		return document.ErrNotFound
	}
	delete(tx.t.saved, k)
	return nil
}

func (tx *memoryTx) DeleteSavedByDocument(ctx context.Context, documentID string) error {
	for k := range tx.t.saved {
		if k.documentID == documentID {
			delete(tx.t.saved, k)
		}
	}
	return nil
}

func screenshotFromSpec(id, stepID string, spec document.ScreenshotSpec, created, updated time.Time) document.Screenshot {
	return document.Screenshot{
		ID:               id,
		StepID:           stepID,
		GoogleImageID:    spec.GoogleImageID,
		URL:              spec.URL,
		ViewportX:        spec.ViewportX,
		ViewportY:        spec.ViewportY,
		ViewportWidth:    spec.ViewportWidth,
		ViewportHeight:   spec.ViewportHeight,
		DevicePixelRatio: spec.DevicePixelRatio,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}
}
