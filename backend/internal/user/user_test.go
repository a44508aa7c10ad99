package user

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	errs "repograph/backend/pkg/errors"
)

const adminCode = "admin"

var testSess = session.New("en", "tester")

func newFixture(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.EnsureCollection(ctx, UserKind.Collection, entity.CodeField))
	require.NoError(t, st.EnsureCollection(ctx, GroupKind.Collection, entity.CodeField))
	require.NoError(t, st.EnsureCollection(ctx, entity.RelationKind.Collection))
	return NewService(st, adminCode), st
}

func insertUser(t *testing.T, s *Service, code string, managerRef any) *User {
	t.Helper()
	ctx := context.Background()
	u := New(map[string]any{entity.CodeField: code, NameField: code})
	if managerRef != nil {
		_, err := s.ResolveManager(ctx, testSess, u, managerRef)
		require.NoError(t, err)
	}
	require.NoError(t, s.Insert(ctx, testSess, u, "secret-"+code))
	return u
}

func TestInsertAndAuthenticate(t *testing.T) {
	s, _ := newFixture(t)

	admin := insertUser(t, s, adminCode, nil)
	assert.True(t, admin.Doc.IsPersistent())

	assert.True(t, s.Authenticate(admin, "secret-admin"))
	assert.False(t, s.Authenticate(admin, "wrong"))

	// The authentication record never reaches callers.
	assert.NotContains(t, admin.Doc.ClientView(), AuthField)
}

func TestInsert_NonRootWithoutManager(t *testing.T) {
	s, _ := newFixture(t)

	u := New(map[string]any{entity.CodeField: "bob", NameField: "Bob"})
	err := s.Insert(context.Background(), testSess, u, "pw")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindIncompleteDocument))
}

func TestResolveManager_NoReferenceReturnsStored(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	admin := insertUser(t, s, adminCode, nil)
	bob := insertUser(t, s, "bob", admin.Doc.Handle())

	// A freshly loaded instance resolves its manager from the edge.
	loaded, err := s.Load(ctx, testSess, bob.Doc.Key())
	require.NoError(t, err)
	manager, err := s.ResolveManager(ctx, testSess, loaded, nil)
	require.NoError(t, err)
	assert.Equal(t, admin.Doc.Handle(), manager)

	// Resolving again with no reference returns the same value unchanged.
	manager, err = s.ResolveManager(ctx, testSess, loaded, nil)
	require.NoError(t, err)
	assert.Equal(t, admin.Doc.Handle(), manager)
}

func TestResolveManager_ConflictIsNeverMerged(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	admin := insertUser(t, s, adminCode, nil)
	insertUser(t, s, "carol", admin.Doc.Handle())
	bob := insertUser(t, s, "bob", admin.Doc.Handle())

	loaded, err := s.Load(ctx, testSess, bob.Doc.Key())
	require.NoError(t, err)
	_, err = s.ResolveManager(ctx, testSess, loaded, nil)
	require.NoError(t, err)

	// A selector pointing at a different user disagrees with the stored
	// manager and must fail, not merge.
	_, err = s.ResolveManager(ctx, testSess, loaded, map[string]any{entity.CodeField: "carol"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUserManagerConflict))
}

func TestResolveManager_BadReference(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	u := New(map[string]any{entity.CodeField: "bob", NameField: "Bob"})
	_, err := s.ResolveManager(ctx, testSess, u, "users/does-not-exist")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBadDocumentReference))
}

func TestResolveManager_MissingEdgeIsCorrupt(t *testing.T) {
	s, st := newFixture(t)
	ctx := context.Background()

	// A persistent non-root user without a manager edge should not exist.
	key, _, err := st.Insert(ctx, UserKind.Collection, map[string]any{
		entity.CodeField: "orphan",
		NameField:        "Orphan",
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, testSess, key)
	require.NoError(t, err)
	_, err = s.ResolveManager(ctx, testSess, loaded, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindDatabaseCorrupt))
}

func TestResolveManager_DuplicateEdgesAreCorrupt(t *testing.T) {
	s, st := newFixture(t)
	ctx := context.Background()

	admin := insertUser(t, s, adminCode, nil)
	bob := insertUser(t, s, "bob", admin.Doc.Handle())

	// Manually plant a second managed-by edge from the same owner.
	_, _, err := st.Insert(ctx, entity.RelationKind.Collection, map[string]any{
		entity.FromField:      bob.Doc.Handle(),
		entity.ToField:        "users/somewhere-else",
		entity.PredicateField: entity.PredicateManagedBy,
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, testSess, bob.Doc.Key())
	require.NoError(t, err)
	_, err = s.ResolveManager(ctx, testSess, loaded, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindDatabaseCorrupt))
}

func TestResolveGroup_FillAndConflict(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"research", "ops"} {
		g := entity.New(GroupKind, map[string]any{entity.CodeField: code})
		require.NoError(t, g.Insert(ctx, testSess, s.st))
	}

	u := New(map[string]any{entity.CodeField: "bob", NameField: "Bob"})
	group, err := s.ResolveGroup(ctx, testSess, u, map[string]any{entity.CodeField: "research"})
	require.NoError(t, err)
	assert.NotEmpty(t, group)

	// Same value again is fine.
	_, err = s.ResolveGroup(ctx, testSess, u, map[string]any{entity.CodeField: "research"})
	require.NoError(t, err)

	_, err = s.ResolveGroup(ctx, testSess, u, map[string]any{entity.CodeField: "ops"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUserGroupConflict))
}

// flakyStore fails inserts matched by failOn, letting tests trip the
// compensation path mid-sequence.
type flakyStore struct {
	store.Store
	failOn func(collection string, doc map[string]any) bool
}

func (f *flakyStore) Insert(ctx context.Context, collection string, doc map[string]any) (string, string, error) {
	if f.failOn(collection, doc) {
		return "", "", fmt.Errorf("simulated insert failure")
	}
	return f.Store.Insert(ctx, collection, doc)
}

func TestInsert_CompensationRemovesSucceededEdge(t *testing.T) {
	s, st := newFixture(t)
	ctx := context.Background()

	admin := insertUser(t, s, adminCode, nil)
	g := entity.New(GroupKind, map[string]any{entity.CodeField: "research"})
	require.NoError(t, g.Insert(ctx, testSess, st))

	flaky := &flakyStore{Store: st, failOn: func(collection string, doc map[string]any) bool {
		return collection == entity.RelationKind.Collection &&
			doc[entity.PredicateField] == entity.PredicateManagedBy
	}}
	flakyService := NewService(flaky, adminCode)

	u := New(map[string]any{entity.CodeField: "bob", NameField: "Bob"})
	_, err := flakyService.ResolveGroup(ctx, testSess, u, g.Handle())
	require.NoError(t, err)
	_, err = flakyService.ResolveManager(ctx, testSess, u, admin.Doc.Handle())
	require.NoError(t, err)

	err = flakyService.Insert(ctx, testSess, u, "pw")
	require.Error(t, err)

	// The group edge that did get in was compensated away.
	_, count, err := st.Find(ctx, entity.RelationKind.Collection, map[string]any{
		entity.FromField: u.Doc.Handle(),
	})
	require.NoError(t, err)
	assert.Zero(t, count)

	// The primary document is deliberately not rolled back.
	exists, err := st.Exists(ctx, UserKind.Collection, u.Doc.Key())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRemove_ReparentsManagedUsers(t *testing.T) {
	s, st := newFixture(t)
	ctx := context.Background()

	a := insertUser(t, s, adminCode, nil)
	b := insertUser(t, s, "b", a.Doc.Handle())
	c := insertUser(t, s, "c", b.Doc.Handle())
	d := insertUser(t, s, "d", b.Doc.Handle())

	require.NoError(t, s.Remove(ctx, testSess, b, true, true))

	// B's document and edges no longer exist.
	exists, err := st.Exists(ctx, UserKind.Collection, b.Doc.Key())
	require.NoError(t, err)
	assert.False(t, exists)
	_, count, err := st.Find(ctx, entity.RelationKind.Collection, map[string]any{
		entity.FromField: b.Doc.Handle(),
	})
	require.NoError(t, err)
	assert.Zero(t, count)

	// C and D each lost their edge to B and gained one to A.
	for _, report := range []*User{c, d} {
		loaded, err := s.Load(ctx, testSess, report.Doc.Key())
		require.NoError(t, err)
		manager, err := s.ResolveManager(ctx, testSess, loaded, nil)
		require.NoError(t, err)
		assert.Equal(t, a.Doc.Handle(), manager)
	}
}

func TestRemove_SkipsExistingEquivalentEdge(t *testing.T) {
	s, st := newFixture(t)
	ctx := context.Background()

	a := insertUser(t, s, adminCode, nil)
	b := insertUser(t, s, "b", a.Doc.Handle())
	c := insertUser(t, s, "c", b.Doc.Handle())

	// An equivalent reparenting target already exists for C.
	preexisting := entity.NewEdge(entity.RelationKind, c.Doc.Handle(), a.Doc.Handle(), entity.PredicateManagedBy)
	require.NoError(t, preexisting.SetKey(testSess))
	require.NoError(t, preexisting.Insert(ctx, testSess, st))

	require.NoError(t, s.Remove(ctx, testSess, b, true, true))

	_, count, err := st.Find(ctx, entity.RelationKind.Collection, map[string]any{
		entity.FromField:      c.Doc.Handle(),
		entity.ToField:        a.Doc.Handle(),
		entity.PredicateField: entity.PredicateManagedBy,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRemove_ManagerWithoutOwnManager(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	a := insertUser(t, s, adminCode, nil)
	insertUser(t, s, "b", a.Doc.Handle())

	err := s.Remove(ctx, testSess, a, true, true)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConstraintViolated))
}

func TestManagedCount_Memoized(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	a := insertUser(t, s, adminCode, nil)
	insertUser(t, s, "b", a.Doc.Handle())
	insertUser(t, s, "c", a.Doc.Handle())

	count, err := s.ManagedCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A new edge behind the instance's back does not refresh the memo.
	insertUser(t, s, "d", a.Doc.Handle())
	count, err = s.ManagedCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A fresh instance sees the real value.
	fresh, err := s.Load(ctx, testSess, a.Doc.Key())
	require.NoError(t, err)
	count, err = s.ManagedCount(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
