// Package hierarchy projects ancestor paths, descendant lists and
// descendant trees from an origin vertex over a predicate-typed edge graph.
// One engine, parametrized by predicate and depth bounds, serves the
// enumeration, type and form graphs and the user manager/managed graphs.
package hierarchy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	errs "repograph/backend/pkg/errors"
	"repograph/backend/pkg/logger"
)

// ChildrenField nests a vertex's descendants in tree projections.
const ChildrenField = "_children"

// languageFields are the multi-language maps collapsed by language
// restriction.
var languageFields = []string{"label", "definition", "description", "note", "example"}

// Options parametrize one traversal.
type Options struct {
	// EdgeCollection holds the edges to follow.
	EdgeCollection string
	// Predicate selects the graph.
	Predicate string
	// Branch, when set, follows only edges whose branches set contains it.
	Branch string

	// MinDepth and MaxDepth bound the traversal inclusively; zero leaves
	// that side unbounded.
	MinDepth int
	MaxDepth int

	// VertexFields projects each vertex to the given fields; nil leaves the
	// vertex untouched. EdgeFields does the same for edges and matters only
	// when IncludeEdges is set.
	VertexFields []string
	EdgeFields   []string

	// RestrictLanguage collapses multi-language text maps to the session
	// language, leaving fields untouched on no match.
	RestrictLanguage bool

	// IncludeEdges wraps each result as {vertex, edge} instead of the bare
	// vertex.
	IncludeEdges bool

	// ChoicesOnly excludes category vertices from the projection while still
	// traversing through them.
	ChoicesOnly bool
}

// Traverser is the traversal engine.
type Traverser struct {
	st     store.Store
	logger *zap.Logger
}

// New creates a traverser over a store.
func New(st store.Store) *Traverser {
	return &Traverser{st: st, logger: logger.Named("hierarchy")}
}

// origin resolves the starting vertex or fails DocumentNotFound.
func (t *Traverser) origin(ctx context.Context, sess session.Session, handle string) (map[string]any, error) {
	collection, key := entity.SplitHandle(handle)
	if collection == "" {
		return nil, errs.New(errs.KindDocumentNotFound, sess.Language, handle)
	}
	doc, err := t.st.Get(ctx, collection, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindDocumentNotFound, sess.Language, handle).Wrap(err)
		}
		return nil, err
	}
	return doc, nil
}

// vertex loads a document by handle, tolerating dangling references by
// returning nil.
func (t *Traverser) vertex(ctx context.Context, handle string) (map[string]any, error) {
	collection, key := entity.SplitHandle(handle)
	if collection == "" {
		return nil, nil
	}
	doc, err := t.st.Get(ctx, collection, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.logger.Warn("edge references a missing vertex", zap.String("handle", handle))
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// edgesFrom returns the outbound predicate edges of a vertex handle,
// filtered by branch when one is set.
func (t *Traverser) edgesFrom(ctx context.Context, handle string, o Options) ([]map[string]any, error) {
	return t.edges(ctx, map[string]any{
		entity.FromField:      handle,
		entity.PredicateField: o.Predicate,
	}, o)
}

// edgesTo returns the inbound predicate edges of a vertex handle.
func (t *Traverser) edgesTo(ctx context.Context, handle string, o Options) ([]map[string]any, error) {
	return t.edges(ctx, map[string]any{
		entity.ToField:        handle,
		entity.PredicateField: o.Predicate,
	}, o)
}

func (t *Traverser) edges(ctx context.Context, filter map[string]any, o Options) ([]map[string]any, error) {
	matches, _, err := t.st.Find(ctx, o.EdgeCollection, filter)
	if err != nil {
		return nil, err
	}
	if o.Branch == "" {
		return matches, nil
	}
	kept := matches[:0]
	for _, edge := range matches {
		if edgeHasBranch(edge, o.Branch) {
			kept = append(kept, edge)
		}
	}
	return kept, nil
}

func edgeHasBranch(edge map[string]any, branch string) bool {
	branches, ok := edge[entity.BranchesField].([]any)
	if !ok {
		if typed, ok := edge[entity.BranchesField].([]string); ok {
			for _, b := range typed {
				if b == branch {
					return true
				}
			}
		}
		return false
	}
	for _, b := range branches {
		if s, ok := b.(string); ok && s == branch {
			return true
		}
	}
	return false
}

// Path returns the ordered ancestor chain from the origin toward a root,
// following outbound predicate edges, nearest-first. Depth 0 is the origin
// itself.
func (t *Traverser) Path(ctx context.Context, sess session.Session, originHandle string, o Options) ([]map[string]any, error) {
	originDoc, err := t.origin(ctx, sess, originHandle)
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	visited := map[string]bool{originHandle: true}

	type hop struct {
		handle string
		doc    map[string]any
		edge   map[string]any
		depth  int
	}
	queue := []hop{{handle: originHandle, doc: originDoc}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if t.include(current.depth, current.doc, o) {
			results = append(results, t.project(sess, current.doc, current.edge, o))
		}
		if o.MaxDepth > 0 && current.depth >= o.MaxDepth {
			continue
		}

		edges, err := t.edgesFrom(ctx, current.handle, o)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			parent, _ := edge[entity.ToField].(string)
			if parent == "" || visited[parent] {
				continue
			}
			visited[parent] = true
			doc, err := t.vertex(ctx, parent)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				continue
			}
			queue = append(queue, hop{handle: parent, doc: doc, edge: edge, depth: current.depth + 1})
		}
	}
	return results, nil
}

// List returns the flattened descendant set of the origin, following inbound
// predicate edges breadth-first within the depth bounds.
func (t *Traverser) List(ctx context.Context, sess session.Session, originHandle string, o Options) ([]map[string]any, error) {
	originDoc, err := t.origin(ctx, sess, originHandle)
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	visited := map[string]bool{originHandle: true}

	type hop struct {
		handle string
		doc    map[string]any
		edge   map[string]any
		depth  int
	}
	queue := []hop{{handle: originHandle, doc: originDoc}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if t.include(current.depth, current.doc, o) {
			results = append(results, t.project(sess, current.doc, current.edge, o))
		}
		if o.MaxDepth > 0 && current.depth >= o.MaxDepth {
			continue
		}

		edges, err := t.edgesTo(ctx, current.handle, o)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			child, _ := edge[entity.FromField].(string)
			if child == "" || visited[child] {
				continue
			}
			visited[child] = true
			doc, err := t.vertex(ctx, child)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				continue
			}
			queue = append(queue, hop{handle: child, doc: doc, edge: edge, depth: current.depth + 1})
		}
	}
	return results, nil
}

// Tree returns the origin vertex with its descendants nested under the
// _children property, bounded by MaxDepth.
func (t *Traverser) Tree(ctx context.Context, sess session.Session, originHandle string, o Options) (map[string]any, error) {
	originDoc, err := t.origin(ctx, sess, originHandle)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{originHandle: true}
	return t.subtree(ctx, sess, originHandle, originDoc, nil, 0, visited, o)
}

func (t *Traverser) subtree(ctx context.Context, sess session.Session, handle string, doc, edge map[string]any, depth int, visited map[string]bool, o Options) (map[string]any, error) {
	node := t.project(sess, doc, edge, o)

	if o.MaxDepth > 0 && depth >= o.MaxDepth {
		return node, nil
	}
	edges, err := t.edgesTo(ctx, handle, o)
	if err != nil {
		return nil, err
	}

	var children []map[string]any
	for _, childEdge := range edges {
		child, _ := childEdge[entity.FromField].(string)
		if child == "" || visited[child] {
			continue
		}
		visited[child] = true
		childDoc, err := t.vertex(ctx, child)
		if err != nil {
			return nil, err
		}
		if childDoc == nil {
			continue
		}
		sub, err := t.subtree(ctx, sess, child, childDoc, childEdge, depth+1, visited, o)
		if err != nil {
			return nil, err
		}
		children = append(children, sub)
	}
	if len(children) > 0 {
		if o.IncludeEdges {
			// The vertex carries the children so the wrapping stays flat.
			node["vertex"].(map[string]any)[ChildrenField] = children
		} else {
			node[ChildrenField] = children
		}
	}
	return node, nil
}

// include applies the depth window and the choice-vs-category filter.
func (t *Traverser) include(depth int, doc map[string]any, o Options) bool {
	if depth < o.MinDepth {
		return false
	}
	if o.MaxDepth > 0 && depth > o.MaxDepth {
		return false
	}
	if o.ChoicesOnly {
		if kind, _ := doc[entity.TypeField].(string); kind == "category" {
			return false
		}
	}
	return true
}

// project applies field projection and language restriction to a vertex and
// optionally wraps it with its edge.
func (t *Traverser) project(sess session.Session, doc, edge map[string]any, o Options) map[string]any {
	vertex := projectFields(doc, o.VertexFields)
	if o.RestrictLanguage {
		restrictLanguage(vertex, sess.Language)
	}
	if !o.IncludeEdges {
		return vertex
	}
	wrapped := map[string]any{"vertex": vertex}
	if edge != nil {
		wrapped["edge"] = projectFields(edge, o.EdgeFields)
	} else {
		wrapped["edge"] = nil
	}
	return wrapped
}

// projectFields returns a copy restricted to the given fields, or the
// untouched document when fields is nil.
func projectFields(doc map[string]any, fields []string) map[string]any {
	if fields == nil {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := doc[field]; ok {
			out[field] = value
		}
	}
	return out
}

// restrictLanguage collapses the multi-language text maps to the given
// language. A field without a matching entry is left untouched.
func restrictLanguage(doc map[string]any, language string) {
	for _, field := range languageFields {
		if byLang, ok := doc[field].(map[string]any); ok {
			if value, ok := byLang[language]; ok {
				doc[field] = value
			}
		}
	}
}
