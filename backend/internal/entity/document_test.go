package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	errs "repograph/backend/pkg/errors"
)

var testSess = session.New("en", "tester")

// sampleKind exercises every field class at once.
var sampleKind = &Kind{
	Name:             "sample",
	Collection:       "samples",
	Significant:      []string{"code"},
	Required:         []string{"code", "name"},
	Unique:           []string{"code"},
	Locked:           []string{"code"},
	Restricted:       []string{"secret"},
	Reserved:         []string{"internal"},
	NormaliseInsert:  StampInsert,
	NormaliseReplace: StampReplace,
}

func TestNew_StripsReservedFields(t *testing.T) {
	doc := New(sampleKind, map[string]any{
		"code":     "a",
		"internal": "nope",
		KeyField:   "forged",
		RevField:   "forged",
	})
	assert.NotContains(t, doc.Props, "internal")
	assert.NotContains(t, doc.Props, KeyField)
	assert.NotContains(t, doc.Props, RevField)
	assert.Equal(t, "a", doc.Props["code"])
}

func TestValidateRequiredProperties(t *testing.T) {
	doc := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	ok, err := doc.ValidateRequiredProperties(testSess, true)
	require.NoError(t, err)
	assert.True(t, ok)

	delete(doc.Props, "name")
	ok, err = doc.ValidateRequiredProperties(testSess, true)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidationError))
	dataErr := err.(*errs.DataError)
	assert.Equal(t, []string{"name"}, dataErr.Data["fields"])

	// Without assert the miss is reported, not raised.
	ok, err = doc.ValidateRequiredProperties(testSess, false)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestInsert_MissingSignificantField(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	doc := New(sampleKind, map[string]any{"name": "A"})
	err := doc.Insert(ctx, testSess, st)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindIncompleteDocument))
	dataErr := err.(*errs.DataError)
	assert.Equal(t, []string{"code"}, dataErr.Data["fields"])
}

func TestInsert_SetsTimestampsAndLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	doc := New(sampleKind, map[string]any{"code": "a", "name": "A", "modified": "stale"})
	require.Equal(t, StateTransient, doc.LifecycleState())

	require.NoError(t, doc.Insert(ctx, testSess, st))
	assert.True(t, doc.IsPersistent())
	assert.NotEmpty(t, doc.Key())
	assert.Contains(t, doc.Props, CreatedField)
	assert.NotContains(t, doc.Props, ModifiedField)

	doc.Props["name"] = "B"
	require.NoError(t, doc.Replace(ctx, testSess, st, ReplaceOptions{}))
	assert.Contains(t, doc.Props, ModifiedField)
}

func TestInsert_DuplicateUniqueField(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.EnsureCollection(ctx, "samples", "code"))

	first := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	require.NoError(t, first.Insert(ctx, testSess, st))

	second := New(sampleKind, map[string]any{"code": "a", "name": "A2"})
	err := second.Insert(ctx, testSess, st)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAmbiguousDocumentReference))
}

func TestReplace_LockedFieldRejectedBeforeStoreMutation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	doc := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	require.NoError(t, doc.Insert(ctx, testSess, st))
	key := doc.Key()
	before, err := st.Get(ctx, "samples", key)
	require.NoError(t, err)

	doc.Props["code"] = "b"
	doc.Props["name"] = "changed too"
	err = doc.Replace(ctx, testSess, st, ReplaceOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidationError))

	// Store state is unchanged after the failed attempt.
	after, err := st.Get(ctx, "samples", key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReplace_StaleRevision(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	doc := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	require.NoError(t, doc.Insert(ctx, testSess, st))

	// Another writer bumps the revision underneath.
	_, err := st.Replace(ctx, "samples", doc.Key(), doc.Props, "")
	require.NoError(t, err)

	doc.Props["name"] = "B"
	err = doc.Replace(ctx, testSess, st, ReplaceOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConstraintViolated))

	// Disabling the revision check lets the write through.
	require.NoError(t, doc.Replace(ctx, testSess, st, ReplaceOptions{DisableRevisionCheck: true}))
}

func TestRemove_DestroysDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	doc := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	require.NoError(t, doc.Insert(ctx, testSess, st))
	key := doc.Key()

	require.NoError(t, doc.Remove(ctx, testSess, st))
	assert.Equal(t, StateRemoved, doc.LifecycleState())

	_, err := st.Get(ctx, "samples", key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Further mutation is illegal.
	err = doc.Replace(ctx, testSess, st, ReplaceOptions{})
	assert.True(t, errs.IsKind(err, errs.KindConstraintViolated))
}

func TestResolve_ByKeyAndByContent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	orig := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	require.NoError(t, orig.Insert(ctx, testSess, st))

	byKey := NewReference(sampleKind, orig.Key())
	require.NoError(t, byKey.Resolve(ctx, testSess, st))
	assert.Equal(t, "A", byKey.Props["name"])

	byContent := New(sampleKind, map[string]any{"code": "a"})
	require.NoError(t, byContent.Resolve(ctx, testSess, st))
	assert.Equal(t, orig.Key(), byContent.Key())

	missing := New(sampleKind, map[string]any{"code": "nope"})
	err := missing.Resolve(ctx, testSess, st)
	assert.True(t, errs.IsKind(err, errs.KindBadDocumentReference))
}

func TestResolve_AmbiguousContent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	// No unique index declared, so two documents can share a code.
	for i := 0; i < 2; i++ {
		doc := New(sampleKind, map[string]any{"code": "dup", "name": "X"})
		require.NoError(t, doc.Insert(ctx, testSess, st))
	}

	probe := New(sampleKind, map[string]any{"code": "dup"})
	err := probe.Resolve(ctx, testSess, st)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAmbiguousDocumentReference))
}

func TestClientView_OmitsRestrictedFields(t *testing.T) {
	doc := New(sampleKind, map[string]any{"code": "a", "name": "A"})
	doc.Props["secret"] = "hunter2"

	view := doc.ClientView()
	assert.NotContains(t, view, "secret")
	assert.Equal(t, "A", view["name"])
	// The view is a copy; mutating it does not touch the document.
	view["name"] = "mutated"
	assert.Equal(t, "A", doc.Props["name"])
}
