package hierarchy

import (
	"context"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/session"
)

// The wrappers below bind the engine to the concrete graphs: enumeration,
// type and form hierarchies over the edges collection, and the user
// manager/managed hierarchies over the relations collection.

func enumOptions(branch string, o Options) Options {
	o.EdgeCollection = entity.EdgeKind.Collection
	o.Predicate = entity.PredicateEnumOf
	o.Branch = branch
	return o
}

// EnumPath returns the enumeration ancestors of a term within a branch.
func (t *Traverser) EnumPath(ctx context.Context, sess session.Session, origin, branch string, o Options) ([]map[string]any, error) {
	return t.Path(ctx, sess, origin, enumOptions(branch, o))
}

// EnumList returns the enumeration descendants of a term within a branch.
// Leaf-only projections exclude category nodes via Options.ChoicesOnly.
func (t *Traverser) EnumList(ctx context.Context, sess session.Session, origin, branch string, o Options) ([]map[string]any, error) {
	return t.List(ctx, sess, origin, enumOptions(branch, o))
}

// EnumTree returns the enumeration descendants of a term nested as a tree.
func (t *Traverser) EnumTree(ctx context.Context, sess session.Session, origin, branch string, o Options) (map[string]any, error) {
	return t.Tree(ctx, sess, origin, enumOptions(branch, o))
}

func typeOptions(o Options) Options {
	o.EdgeCollection = entity.EdgeKind.Collection
	o.Predicate = entity.PredicateTypeOf
	return o
}

// TypePath returns the type ancestors of a term.
func (t *Traverser) TypePath(ctx context.Context, sess session.Session, origin string, o Options) ([]map[string]any, error) {
	return t.Path(ctx, sess, origin, typeOptions(o))
}

// TypeList returns the type descendants of a term.
func (t *Traverser) TypeList(ctx context.Context, sess session.Session, origin string, o Options) ([]map[string]any, error) {
	return t.List(ctx, sess, origin, typeOptions(o))
}

// TypeTree returns the type descendants of a term nested as a tree.
func (t *Traverser) TypeTree(ctx context.Context, sess session.Session, origin string, o Options) (map[string]any, error) {
	return t.Tree(ctx, sess, origin, typeOptions(o))
}

func formOptions(o Options) Options {
	o.EdgeCollection = entity.EdgeKind.Collection
	o.Predicate = entity.PredicateFieldOf
	return o
}

// FormList returns the fields of a form, flattened.
func (t *Traverser) FormList(ctx context.Context, sess session.Session, origin string, o Options) ([]map[string]any, error) {
	return t.List(ctx, sess, origin, formOptions(o))
}

// FormTree returns the fields of a form nested as a tree.
func (t *Traverser) FormTree(ctx context.Context, sess session.Session, origin string, o Options) (map[string]any, error) {
	return t.Tree(ctx, sess, origin, formOptions(o))
}

func managedOptions(o Options) Options {
	o.EdgeCollection = entity.RelationKind.Collection
	o.Predicate = entity.PredicateManagedBy
	if o.VertexFields == nil {
		// User documents carry restricted material; never project them whole.
		o.VertexFields = []string{entity.KeyField, entity.CodeField, "name"}
	}
	return o
}

// ManagerPath returns the management chain of a user, nearest manager first.
func (t *Traverser) ManagerPath(ctx context.Context, sess session.Session, origin string, o Options) ([]map[string]any, error) {
	return t.Path(ctx, sess, origin, managedOptions(o))
}

// ManagedList returns the users a user manages, directly or transitively
// within the depth bounds, flattened.
func (t *Traverser) ManagedList(ctx context.Context, sess session.Session, origin string, o Options) ([]map[string]any, error) {
	return t.List(ctx, sess, origin, managedOptions(o))
}

// ManagedTree returns the managed users nested as a tree.
func (t *Traverser) ManagedTree(ctx context.Context, sess session.Session, origin string, o Options) (map[string]any, error) {
	return t.Tree(ctx, sess, origin, managedOptions(o))
}
