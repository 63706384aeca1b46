package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
)

// PgxIface is the subset of *pgxpool.Pool the store needs. pgxmock pools
// satisfy it as well.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL. Mutations lock the
// document row (and its steps) with SELECT ... FOR UPDATE so concurrent
// writers on one document are serialized by the database.
type PostgresStore struct {
	db PgxIface
}

func NewPostgresStore(db PgxIface) *PostgresStore {
	return &PostgresStore{db: db}
}

const rollbackTimeout = 5 * time.Second

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx)
			panic(p)
		}
	}()
	if err := fn(&pgTx{tx: tx}); err != nil {
		rollback(ctx, tx)
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	// the caller's context may already be expired
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(rctx); err != nil {
		logger.Errorf("error rolling back transaction: %v", err)
	}
}

// classify maps driver errors onto the document error taxonomy. Errors
// that already carry a document sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{document.ErrNotFound, document.ErrConflict, document.ErrValidation, document.ErrTransaction} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", document.ErrConflict, pgErr.Message)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w: %s", document.ErrTransaction, document.ErrConcurrentUpdate, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %w", document.ErrTransaction, err)
}

func (s *PostgresStore) GetVisible(ctx context.Context, id, viewerID string) (*document.Document, error) {
	d, err := scanDocument(s.db.QueryRow(ctx, sqlSelectVisibleDocument, id, viewerID))
	if err != nil {
		return nil, notFoundOr(err)
	}
	d.Steps, err = querySteps(ctx, s.db, sqlSelectSteps, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) ListOwned(ctx context.Context, userID string) ([]document.Summary, error) {
	return s.listSummaries(ctx, sqlListOwned, userID, false)
}

func (s *PostgresStore) ListDeleted(ctx context.Context, userID string) ([]document.Summary, error) {
	return s.listSummaries(ctx, sqlListDeleted, userID, false)
}

func (s *PostgresStore) ListSaved(ctx context.Context, userID string) ([]document.Summary, error) {
	return s.listSummaries(ctx, sqlListSaved, userID, true)
}

func (s *PostgresStore) GetSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error) {
	var sd document.SavedDocument
	err := s.db.QueryRow(ctx, sqlSelectSaved, userID, documentID).Scan(&sd.UserID, &sd.DocumentID, &sd.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sd, nil
}

func (s *PostgresStore) listSummaries(ctx context.Context, query, userID string, withSavedAt bool) ([]document.Summary, error) {
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []document.Summary{}
	for rows.Next() {
		var (
			sum     document.Summary
			savedAt time.Time
		)
		dest := []any{
			&sum.ID, &sum.UserID, &sum.Title, &sum.Description, &sum.IsPublic, &sum.AnnotationColor,
			&sum.EstimatedCompletionTime, &sum.IsDeleted, &sum.DeletedAt, &sum.CreatedAt, &sum.UpdatedAt,
			&sum.StepCount,
		}
		if withSavedAt {
			dest = append(dest, &savedAt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if withSavedAt {
			sum.SavedAt = &savedAt
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Description, &d.IsPublic, &d.AnnotationColor,
		&d.EstimatedCompletionTime, &d.IsDeleted, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func querySteps(ctx context.Context, q querier, query, documentID string) ([]document.Step, error) {
	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	steps := []document.Step{}
	for rows.Next() {
		var (
			st                        document.Step
			stepType                  string
			scID, scImage, scURL      *string
			scX, scY, scW, scH, scDPR *float64
			scCreated, scUpdated      *time.Time
		)
		if err := rows.Scan(&st.ID, &st.DocumentID, &st.StepNumber, &st.StepDescription, &stepType, &st.CreatedAt, &st.UpdatedAt,
			&scID, &scImage, &scURL, &scX, &scY, &scW, &scH, &scDPR, &scCreated, &scUpdated); err != nil {
			return nil, err
		}
		st.Type = document.StepType(stepType)
		if scID != nil {
			st.Screenshot = &document.Screenshot{
				ID:               *scID,
				StepID:           st.ID,
				GoogleImageID:    deref(scImage),
				URL:              deref(scURL),
				ViewportX:        deref(scX),
				ViewportY:        deref(scY),
				ViewportWidth:    deref(scW),
				ViewportHeight:   deref(scH),
				DevicePixelRatio: deref(scDPR),
				CreatedAt:        deref(scCreated),
				UpdatedAt:        deref(scUpdated),
			}
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return document.ErrNotFound
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertDocument(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		d.ID = newID()
	}
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts
	_, err := t.tx.Exec(ctx, sqlInsertDocument, d.ID, d.UserID, d.Title, d.Description, d.IsPublic, d.AnnotationColor, d.EstimatedCompletionTime, ts)
	return err
}

func (t *pgTx) LockDocument(ctx context.Context, id string, scope Scope) (*document.Document, error) {
	d, err := scanDocument(t.tx.QueryRow(ctx, sqlLockDocument, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	if !scope.State.matches(d.IsDeleted) || (scope.OwnerID != "" && d.UserID != scope.OwnerID) {
		return nil, document.ErrNotFound
	}
	d.Steps, err = querySteps(ctx, t.tx, sqlLockSteps, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (t *pgTx) LoadDocument(ctx context.Context, id string) (*document.Document, error) {
	d, err := scanDocument(t.tx.QueryRow(ctx, sqlSelectDocument, id))
	if err != nil {
		return nil, notFoundOr(err)
	}
	d.Steps, err = querySteps(ctx, t.tx, sqlSelectSteps, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (t *pgTx) StepDocumentID(ctx context.Context, stepID string) (string, error) {
	var id string
	if err := t.tx.QueryRow(ctx, sqlStepDocumentID, stepID).Scan(&id); err != nil {
		return "", notFoundOr(err)
	}
	return id, nil
}

func (t *pgTx) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdateMetadata(ctx context.Context, id string, m document.MetadataUpdate) error {
	ts := now()
	if v, ok := m.Title.Get(); ok {
		if err := t.execOne(ctx, sqlUpdateTitle, id, v, ts); err != nil {
			return err
		}
	}
	if v, ok := m.Description.Get(); ok {
		if err := t.execOne(ctx, sqlUpdateDescription, id, v, ts); err != nil {
			return err
		}
	}
	if v, ok := m.AnnotationColor.Get(); ok {
		if err := t.execOne(ctx, sqlUpdateAnnotationColor, id, v, ts); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) SetEstimatedTime(ctx context.Context, id string, seconds int) error {
	return t.execOne(ctx, sqlSetEstimatedTime, id, seconds, now())
}

func (t *pgTx) SetDeleted(ctx context.Context, id string, deletedAt *time.Time) error {
	return t.execOne(ctx, sqlSetDeleted, id, deletedAt != nil, deletedAt, now())
}

func (t *pgTx) SetPublic(ctx context.Context, id string, isPublic bool) error {
	return t.execOne(ctx, sqlSetPublic, id, isPublic, now())
}

func (t *pgTx) DeleteDocument(ctx context.Context, id string) error {
	return t.execOne(ctx, sqlDeleteDocument, id)
}

func (t *pgTx) ListSteps(ctx context.Context, documentID string) ([]document.Step, error) {
	return querySteps(ctx, t.tx, sqlSelectSteps, documentID)
}

func (t *pgTx) InsertStep(ctx context.Context, documentID string, spec document.StepSpec) (string, error) {
	id := newID()
	_, err := t.tx.Exec(ctx, sqlInsertStep, id, documentID, spec.StepNumber, spec.StepDescription, string(spec.Type), now())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *pgTx) UpdateStep(ctx context.Context, documentID, stepID string, spec document.StepSpec) error {
	return t.execOne(ctx, sqlUpdateStep, stepID, documentID, spec.StepNumber, spec.StepDescription, string(spec.Type), now())
}

func (t *pgTx) DeleteSteps(ctx context.Context, documentID string, stepIDs []string) error {
	if len(stepIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, sqlDeleteSteps, documentID, stepIDs)
	return err
}

func (t *pgTx) DeleteAllSteps(ctx context.Context, documentID string) error {
	_, err := t.tx.Exec(ctx, sqlDeleteAllSteps, documentID)
	return err
}

func (t *pgTx) InsertScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error {
	_, err := t.tx.Exec(ctx, sqlInsertScreenshot, newID(), stepID, spec.GoogleImageID, spec.URL,
		spec.ViewportX, spec.ViewportY, spec.ViewportWidth, spec.ViewportHeight, spec.DevicePixelRatio, now())
	return err
}

func (t *pgTx) OverwriteScreenshot(ctx context.Context, stepID string, spec document.ScreenshotSpec) error {
	return t.execOne(ctx, sqlOverwriteScreenshot, stepID, spec.GoogleImageID, spec.URL,
		spec.ViewportX, spec.ViewportY, spec.ViewportWidth, spec.ViewportHeight, spec.DevicePixelRatio, now())
}

func (t *pgTx) DeleteScreenshots(ctx context.Context, stepIDs []string) error {
	if len(stepIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, sqlDeleteScreenshots, stepIDs)
	return err
}

func (t *pgTx) DeleteAllScreenshots(ctx context.Context, documentID string) error {
	_, err := t.tx.Exec(ctx, sqlDeleteAllScreenshots, documentID)
	return err
}

func (t *pgTx) InsertSaved(ctx context.Context, userID, documentID string) (*document.SavedDocument, error) {
	sd := &document.SavedDocument{UserID: userID, DocumentID: documentID, SavedAt: now()}
	if _, err := t.tx.Exec(ctx, sqlInsertSaved, userID, documentID, sd.SavedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: document is already saved", document.ErrConflict)
		}
		return nil, err
	}
	return sd, nil
}

func (t *pgTx) DeleteSaved(ctx context.Context, userID, documentID string) error {
	return t.execOne(ctx, sqlDeleteSaved, userID, documentID)
}

func (t *pgTx) DeleteSavedByDocument(ctx context.Context, documentID string) error {
	_, err := t.tx.Exec(ctx, sqlDeleteSavedByDocument, documentID)
	return err
}
