package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][]string
	owner []string
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, ids []string, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), ids...))
	r.owner = append(r.owner, ownerID)
}

func (r *recordingDispatcher) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c...)
	}
	return out
}

type staticOwners map[string]document.Owner

func (s staticOwners) Owners(ctx context.Context, ids []string) (map[string]document.Owner, error) {
	out := map[string]document.Owner{}
	for _, id := range ids {
		if o, ok := s[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

type failingOwners struct{}

func (failingOwners) Owners(ctx context.Context, ids []string) (map[string]document.Owner, error) {
	return nil, errors.New("directory down")
}

func newTestService(t *testing.T) (*documentService, *repository.MemoryRepo, *recordingDispatcher) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	disp := &recordingDispatcher{}
	owners := staticOwners{"alice": {ID: "alice", Name: "Alice", Email: "alice@example.com"}}
	svc := New(repo, owners, disp, DefaultConfig()).(*documentService)
	return svc, repo, disp
}

func shot(id string) *document.ScreenshotSpec {
	return &document.ScreenshotSpec{GoogleImageID: id, URL: "https://img/" + id, ViewportWidth: 1280, ViewportHeight: 720, DevicePixelRatio: 2}
}

func stepByDesc(t *testing.T, d *document.Document, desc string) document.Step {
	t.Helper()
	for _, s := range d.Steps {
		if s.StepDescription == desc {
			return s
		}
	}
	t.Fatalf("step %q not found", desc)
	return document.Step{}
}

func createDoc(t *testing.T, svc Service, owner string, steps ...document.StepSpec) *document.Document {
	t.Helper()
	d, err := svc.Create(context.Background(), owner, document.NewDocument{Title: "How to deploy", Steps: steps})
	require.NoError(t, err)
	return d
}

func TestCreate_ComputesEstimateAndEmbedsOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	d := createDoc(t, svc, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "S1", Type: document.StepTypeStep, Screenshot: shot("A")},
		document.StepSpec{StepNumber: 2, StepDescription: "S2", Type: document.StepTypeStep},
		document.StepSpec{StepNumber: 3, StepDescription: "S3", Type: document.StepTypeAlert},
	)
	assert.Equal(t, 30+10+8, d.EstimatedCompletionTime)
	assert.False(t, d.IsPublic)
	assert.Equal(t, DefaultAnnotationColor, d.AnnotationColor)
	require.Len(t, d.Steps, 3)
	require.NotNil(t, d.User)
	assert.Equal(t, "Alice", d.User.Name)
	assert.Equal(t, "A", d.Steps[0].Screenshot.GoogleImageID)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "alice", document.NewDocument{Title: "t"})
	require.ErrorIs(t, err, document.ErrValidation)

	_, err = svc.Create(context.Background(), "alice", document.NewDocument{Title: "t", Steps: []document.StepSpec{
		{StepNumber: 1, StepDescription: "x", Type: "VIDEO"},
	}})
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestReconcile_ConcreteScenario(t *testing.T) {
	svc, _, disp := newTestService(t)
	d := createDoc(t, svc, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "S1", Type: document.StepTypeStep, Screenshot: shot("A")},
		document.StepSpec{StepNumber: 2, StepDescription: "S2", Type: document.StepTypeTips},
	)
	s1 := stepByDesc(t, d, "S1")
	s2 := stepByDesc(t, d, "S2")

	out, err := svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{
		Steps: []document.StepSpec{
			{ID: s1.ID, StepNumber: 1, StepDescription: "S1", Type: document.StepTypeStep, Screenshot: shot("B")},
			{StepNumber: 2, StepDescription: "S3", Type: document.StepTypeHeader},
		},
		DeleteStepIDs: []string{s2.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, document.StepWithScreenshotSeconds+document.HeaderSeconds, out.EstimatedCompletionTime)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, s1.ID, out.Steps[0].ID)
	assert.Equal(t, "B", out.Steps[0].Screenshot.GoogleImageID)
	assert.Equal(t, s1.Screenshot.ID, out.Steps[0].Screenshot.ID)
	assert.Equal(t, "S3", out.Steps[1].StepDescription)
	assert.NotEqual(t, s2.ID, out.Steps[1].ID)

	require.Len(t, disp.calls, 1)
	assert.Equal(t, []string{"A"}, disp.calls[0])
	assert.Equal(t, "alice", disp.owner[0])
}

func TestReconcile_MetadataOnlyKeepsEstimate(t *testing.T) {
	svc, repo, disp := newTestService(t)
	d := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "S1", Type: document.StepTypeTips})

	// skew the stored estimate so a recomputation would be visible
	require.NoError(t, repo.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.SetEstimatedTime(context.Background(), d.ID, 999)
	}))

	out, err := svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{
		Metadata: document.MetadataUpdate{Title: document.Some("Renamed"), AnnotationColor: document.Some("#00FF00")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", out.Title)
	assert.Equal(t, "#00FF00", out.AnnotationColor)
	assert.Nil(t, out.Description)
	assert.Equal(t, 999, out.EstimatedCompletionTime)
	assert.Empty(t, disp.calls)

	out, err = svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{Steps: []document.StepSpec{}})
	require.NoError(t, err)
	assert.Equal(t, document.TipsSeconds, out.EstimatedCompletionTime)
}

func TestReconcile_ScreenshotTransitions(t *testing.T) {
	svc, _, disp := newTestService(t)
	d := createDoc(t, svc, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "remove", Type: document.StepTypeStep, Screenshot: shot("R")},
		document.StepSpec{StepNumber: 2, StepDescription: "add", Type: document.StepTypeStep},
		document.StepSpec{StepNumber: 3, StepDescription: "same", Type: document.StepTypeStep, Screenshot: shot("S")},
	)
	rm := stepByDesc(t, d, "remove")
	add := stepByDesc(t, d, "add")
	same := stepByDesc(t, d, "same")

	moved := shot("S")
	moved.ViewportX = 42
	out, err := svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{Steps: []document.StepSpec{
		{ID: rm.ID, StepNumber: 1, StepDescription: "remove", Type: document.StepTypeStep},
		{ID: add.ID, StepNumber: 2, StepDescription: "add", Type: document.StepTypeStep, Screenshot: shot("N")},
		{ID: same.ID, StepNumber: 3, StepDescription: "same", Type: document.StepTypeStep, Screenshot: moved},
	}})
	require.NoError(t, err)
	assert.Nil(t, stepByDesc(t, out, "remove").Screenshot)
	assert.Equal(t, "N", stepByDesc(t, out, "add").Screenshot.GoogleImageID)
	assert.Equal(t, 42.0, stepByDesc(t, out, "same").Screenshot.ViewportX)
	assert.Equal(t, 10+30+30, out.EstimatedCompletionTime)
	assert.Equal(t, []string{"R"}, disp.all())
}

func TestReconcile_RejectsForeignStepsWithoutChanges(t *testing.T) {
	svc, _, disp := newTestService(t)
	a := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeStep, Screenshot: shot("A")})
	b := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "b", Type: document.StepTypeTips})
	foreign := b.Steps[0].ID

	_, err := svc.Reconcile(context.Background(), a.ID, "alice", document.Desired{
		Metadata: document.MetadataUpdate{Title: document.Some("changed")},
		Steps:    []document.StepSpec{{ID: foreign, StepNumber: 1, StepDescription: "x", Type: document.StepTypeTips}},
	})
	require.ErrorIs(t, err, document.ErrValidation)

	_, err = svc.Reconcile(context.Background(), a.ID, "alice", document.Desired{DeleteStepIDs: []string{foreign}})
	require.ErrorIs(t, err, document.ErrValidation)

	got, err := svc.Get(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)
	assert.Empty(t, disp.calls)
}

func TestReconcile_NotFoundForForeignOrDeleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	d := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips})

	_, err := svc.Reconcile(context.Background(), d.ID, "bob", document.Desired{Metadata: document.MetadataUpdate{Title: document.Some("x")}})
	require.ErrorIs(t, err, document.ErrNotFound)

	require.NoError(t, svc.SoftDelete(context.Background(), d.ID, "alice"))
	_, err = svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{Metadata: document.MetadataUpdate{Title: document.Some("x")}})
	require.ErrorIs(t, err, document.ErrNotFound)
}

// faultyStore fails the first step insert of every transaction, which
// happens after all updates have been applied.
type faultyStore struct {
	*repository.MemoryRepo
}

type faultyTx struct {
	repository.Tx
}

var errInjected = errors.New("injected fault")

func (f faultyStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return f.MemoryRepo.WithTx(ctx, func(tx repository.Tx) error { return fn(faultyTx{tx}) })
}

func (faultyTx) InsertStep(ctx context.Context, documentID string, spec document.StepSpec) (string, error) {
	return "", errInjected
}

func TestReconcile_AtomicOnFault(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seed := New(repo, nil, nil, DefaultConfig())
	d := createDoc(t, seed, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "S1", Type: document.StepTypeStep, Screenshot: shot("A")},
		document.StepSpec{StepNumber: 2, StepDescription: "S2", Type: document.StepTypeTips},
	)
	before, err := seed.Get(context.Background(), d.ID, "alice")
	require.NoError(t, err)

	disp := &recordingDispatcher{}
	svc := New(faultyStore{repo}, nil, disp, DefaultConfig())
	s1 := stepByDesc(t, d, "S1")
	s2 := stepByDesc(t, d, "S2")
	_, err = svc.Reconcile(context.Background(), d.ID, "alice", document.Desired{
		Metadata:      document.MetadataUpdate{Title: document.Some("changed")},
		Steps:         []document.StepSpec{{ID: s1.ID, StepNumber: 1, StepDescription: "S1 edited", Type: document.StepTypeStep, Screenshot: shot("B")}, {StepNumber: 3, StepDescription: "new", Type: document.StepTypeHeader}},
		DeleteStepIDs: []string{s2.ID},
	})
	require.ErrorIs(t, err, document.ErrTransaction)
	require.ErrorIs(t, err, errInjected)
	assert.Empty(t, disp.calls)

	after, err := seed.Get(context.Background(), d.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReconcile_TimeoutIsTransactionFailure(t *testing.T) {
	svc, _, _ := newTestService(t)
	d := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := svc.Reconcile(ctx, d.ID, "alice", document.Desired{Metadata: document.MetadataUpdate{Title: document.Some("x")}})
	require.ErrorIs(t, err, document.ErrTransaction)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := svc.Get(context.Background(), d.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "How to deploy", got.Title)
}

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createDoc(t, svc, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "S1", Type: document.StepTypeStep, Screenshot: shot("A")},
	)

	require.NoError(t, svc.SoftDelete(ctx, d.ID, "alice"))
	require.ErrorIs(t, svc.SoftDelete(ctx, d.ID, "alice"), document.ErrNotFound)

	_, err := svc.Get(ctx, d.ID, "alice")
	require.ErrorIs(t, err, document.ErrNotFound)
	owned, err := svc.ListOwned(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	deleted, err := svc.ListDeleted(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.NotNil(t, deleted[0].DeletedAt)
	assert.Equal(t, 1, deleted[0].StepCount)

	_, err = svc.Restore(ctx, d.ID, "bob")
	require.ErrorIs(t, err, document.ErrNotFound)
	restored, err := svc.Restore(ctx, d.ID, "alice")
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, d.Steps, restored.Steps)
	assert.Equal(t, d.Title, restored.Title)
	assert.Equal(t, d.EstimatedCompletionTime, restored.EstimatedCompletionTime)

	_, err = svc.Restore(ctx, d.ID, "alice")
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestPermanentDelete_CascadeAndSingleDispatch(t *testing.T) {
	svc, repo, disp := newTestService(t)
	ctx := context.Background()
	nd := document.NewDocument{Title: "t", IsPublic: boolPtr(true), Steps: []document.StepSpec{
		{StepNumber: 1, StepDescription: "a", Type: document.StepTypeStep, Screenshot: shot("A")},
		{StepNumber: 2, StepDescription: "b", Type: document.StepTypeStep, Screenshot: shot("B")},
		{StepNumber: 3, StepDescription: "c", Type: document.StepTypeTips},
	}}
	d, err := svc.Create(ctx, "alice", nd)
	require.NoError(t, err)
	_, err = svc.Save(ctx, d.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, d.ID, "alice"))

	require.ErrorIs(t, svc.PermanentDelete(ctx, d.ID, "bob"), document.ErrNotFound)
	require.NoError(t, svc.PermanentDelete(ctx, d.ID, "alice"))

	assert.ElementsMatch(t, []string{"A", "B"}, disp.all())
	require.Len(t, disp.calls, 1)

	err = repo.WithTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LoadDocument(ctx, d.ID)
		return err
	})
	require.ErrorIs(t, err, document.ErrNotFound)
	saved, err := svc.ListSaved(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, saved)
	for _, st := range d.Steps {
		err := repo.WithTx(ctx, func(tx repository.Tx) error {
			_, err := tx.StepDocumentID(ctx, st.ID)
			return err
		})
		require.ErrorIs(t, err, document.ErrNotFound)
	}

	require.ErrorIs(t, svc.PermanentDelete(ctx, d.ID, "alice"), document.ErrNotFound)
	assert.Len(t, disp.calls, 1)
}

func TestDeleteStep(t *testing.T) {
	svc, _, disp := newTestService(t)
	ctx := context.Background()
	d := createDoc(t, svc, "alice",
		document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeStep, Screenshot: shot("A")},
		document.StepSpec{StepNumber: 2, StepDescription: "b", Type: document.StepTypeAlert},
	)
	a := stepByDesc(t, d, "a")

	_, err := svc.DeleteStep(ctx, a.ID, "bob")
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = svc.DeleteStep(ctx, "missing", "alice")
	require.ErrorIs(t, err, document.ErrNotFound)

	out, err := svc.DeleteStep(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.True(t, out.HadScreenshot)
	assert.Equal(t, d.ID, out.DocumentID)
	assert.Equal(t, []string{"A"}, disp.all())

	got, err := svc.Get(ctx, d.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, document.AlertSeconds, got.EstimatedCompletionTime)

	b := stepByDesc(t, d, "b")
	require.NoError(t, svc.SoftDelete(ctx, d.ID, "alice"))
	_, err = svc.DeleteStep(ctx, b.ID, "alice")
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestVisibilityAndSharing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips})

	_, err := svc.Get(ctx, d.ID, "")
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = svc.Get(ctx, d.ID, "bob")
	require.ErrorIs(t, err, document.ErrNotFound)

	_, err = svc.UpdateSharing(ctx, d.ID, "bob", true)
	require.ErrorIs(t, err, document.ErrNotFound)
	out, err := svc.UpdateSharing(ctx, d.ID, "alice", true)
	require.NoError(t, err)
	assert.True(t, out.IsPublic)

	got, err := svc.Get(ctx, d.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User.ID)
}

func TestSave_TwiceConflictsAndLeavesOneRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d, err := svc.Create(ctx, "alice", document.NewDocument{Title: "t", IsPublic: boolPtr(true), Steps: []document.StepSpec{
		{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips},
	}})
	require.NoError(t, err)

	first, err := svc.Save(ctx, d.ID, "bob")
	require.NoError(t, err)
	_, err = svc.Save(ctx, d.ID, "bob")
	require.ErrorIs(t, err, document.ErrConflict)

	saved, err := svc.ListSaved(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, first.SavedAt, *saved[0].SavedAt)
	assert.Equal(t, "Alice", saved[0].User.Name)

	st, err := svc.SaveStatus(ctx, d.ID, "bob")
	require.NoError(t, err)
	assert.True(t, st.IsSaved)

	// a soft-deleted document is never reported as saved
	require.NoError(t, svc.SoftDelete(ctx, d.ID, "alice"))
	saved, err = svc.ListSaved(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, saved)
	st, err = svc.SaveStatus(ctx, d.ID, "bob")
	require.NoError(t, err)
	assert.False(t, st.IsSaved)
}

func TestSave_Rules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	private := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips})

	_, err := svc.Save(ctx, private.ID, "alice")
	require.ErrorIs(t, err, document.ErrValidation)
	_, err = svc.Save(ctx, private.ID, "bob")
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = svc.Save(ctx, "missing", "bob")
	require.ErrorIs(t, err, document.ErrNotFound)

	require.ErrorIs(t, svc.Unsave(ctx, private.ID, "bob"), document.ErrNotFound)

	_, err = svc.UpdateSharing(ctx, private.ID, "alice", true)
	require.NoError(t, err)
	_, err = svc.Save(ctx, private.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.Unsave(ctx, private.ID, "bob"))
	st, err := svc.SaveStatus(ctx, private.ID, "bob")
	require.NoError(t, err)
	assert.False(t, st.IsSaved)
	assert.Nil(t, st.SavedAt)
}

func TestOwnerLookupFailureDegradesToID(t *testing.T) {
	svc := New(repository.NewMemoryRepo(), failingOwners{}, nil, DefaultConfig())
	d := createDoc(t, svc, "alice", document.StepSpec{StepNumber: 1, StepDescription: "a", Type: document.StepTypeTips})
	require.NotNil(t, d.User)
	assert.Equal(t, "alice", d.User.ID)
	assert.Empty(t, d.User.Name)
}

func boolPtr(b bool) *bool { return &b }
