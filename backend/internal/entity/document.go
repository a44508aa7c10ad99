package entity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	errs "repograph/backend/pkg/errors"
)

// Document is a generic persistable record. It moves through a strict
// lifecycle, transient → persistent → modified → removed, and is mutated
// only through its own Insert, Replace and Remove operations.
type Document struct {
	Kind  *Kind
	Props map[string]any

	// stored is the snapshot of the persisted values, used by replace-time
	// unique and locked field comparison.
	stored map[string]any
	rev    string
	state  State
}

// State is the document's lifecycle phase.
type State int

const (
	StateTransient State = iota
	StatePersistent
	StateModified
	StateRemoved
)

// ReplaceOptions tune a single Replace call. The zero value keeps the
// optimistic revision check enabled.
type ReplaceOptions struct {
	DisableRevisionCheck bool
}

// New constructs a transient document of the given kind. Reserved fields in
// the caller's properties are stripped, never trusted.
func New(kind *Kind, props map[string]any) *Document {
	clean := make(map[string]any, len(props))
	for field, value := range props {
		if kind.IsReserved(field) {
			continue
		}
		clean[field] = value
	}
	return &Document{Kind: kind, Props: clean, state: StateTransient}
}

// NewReference constructs a transient document referencing a stored one by
// key, ready to Resolve.
func NewReference(kind *Kind, key string) *Document {
	return &Document{Kind: kind, Props: map[string]any{KeyField: key}, state: StateTransient}
}

// FromStored wraps a document as read from the store.
func FromStored(kind *Kind, props map[string]any) *Document {
	d := &Document{Kind: kind, Props: props, state: StatePersistent}
	d.rev, _ = props[RevField].(string)
	d.stored = cloneProps(props)
	return d
}

// IsPersistent reports whether the document exists in the store.
func (d *Document) IsPersistent() bool {
	return d.state == StatePersistent || d.state == StateModified
}

// LifecycleState returns the lifecycle phase.
func (d *Document) LifecycleState() State {
	return d.state
}

// Key returns the document key, empty while unset.
func (d *Document) Key() string {
	key, _ := d.Props[KeyField].(string)
	return key
}

// Handle returns the collection-qualified reference other documents use to
// point at this one.
func (d *Document) Handle() string {
	return Handle(d.Kind.Collection, d.Key())
}

// Handle builds a collection-qualified document reference.
func Handle(collection, key string) string {
	return collection + "/" + key
}

// SplitHandle splits a collection-qualified reference. The collection is
// empty when the reference is a bare key.
func SplitHandle(handle string) (collection, key string) {
	if i := strings.IndexByte(handle, '/'); i >= 0 {
		return handle[:i], handle[i+1:]
	}
	return "", handle
}

// HasSignificantFields reports whether every significant field is present
// and non-nil. With assert set, a miss fails with IncompleteDocument naming
// the missing fields.
func (d *Document) HasSignificantFields(sess session.Session, assert bool) (bool, error) {
	var missing []string
	for _, field := range d.Kind.Significant {
		if value, ok := d.Props[field]; !ok || value == nil {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return true, nil
	}
	if assert {
		return false, errs.New(errs.KindIncompleteDocument, sess.Language, missing).
			WithData(map[string]any{"fields": missing, "kind": d.Kind.Name})
	}
	return false, nil
}

// ValidateRequiredProperties checks every required field is non-nil. With
// assert set, a miss fails with ValidationError naming every missing field.
func (d *Document) ValidateRequiredProperties(sess session.Session, assert bool) (bool, error) {
	var missing []string
	for _, field := range d.Kind.Required {
		if value, ok := d.Props[field]; !ok || value == nil {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return true, nil
	}
	if assert {
		detail := fmt.Sprintf("missing required fields %v", missing)
		return false, errs.New(errs.KindValidationError, sess.Language, detail).
			WithData(map[string]any{"fields": missing, "kind": d.Kind.Name})
	}
	return false, nil
}

// SetKey derives and sets the content-addressed key. Callers must have
// confirmed HasSignificantFields; derivation is idempotent for unchanged
// significant fields.
func (d *Document) SetKey(sess session.Session) error {
	if d.Kind.ComputeKey == nil {
		return nil
	}
	if _, err := d.HasSignificantFields(sess, true); err != nil {
		return err
	}
	key, err := d.Kind.ComputeKey(d.Props)
	if err != nil {
		return err
	}
	d.Props[KeyField] = key
	return nil
}

// Insert validates the document and writes it to the store. On success the
// document becomes persistent and carries its store-assigned key and
// revision.
func (d *Document) Insert(ctx context.Context, sess session.Session, st store.Store) error {
	if d.state != StateTransient {
		return errs.New(errs.KindConstraintViolated, sess.Language, "document is already persistent")
	}
	if _, err := d.HasSignificantFields(sess, true); err != nil {
		return err
	}
	if err := d.SetKey(sess); err != nil {
		return err
	}
	if _, err := d.ValidateRequiredProperties(sess, true); err != nil {
		return err
	}
	if d.Kind.NormaliseInsert != nil {
		d.Kind.NormaliseInsert(d.Props)
	}

	key, rev, err := st.Insert(ctx, d.Kind.Collection, d.Props)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return errs.New(errs.KindAmbiguousDocumentReference, sess.Language,
				fmt.Sprintf("%s already exists", d.Kind.Name)).Wrap(err)
		}
		return err
	}
	d.Props[KeyField] = key
	d.Props[RevField] = rev
	d.rev = rev
	d.stored = cloneProps(d.Props)
	d.state = StatePersistent
	return nil
}

// Replace validates the pending changes and overwrites the persisted
// document. Locked-field changes and key mismatches are rejected before any
// store mutation.
func (d *Document) Replace(ctx context.Context, sess session.Session, st store.Store, opts ReplaceOptions) error {
	if !d.IsPersistent() {
		return errs.New(errs.KindConstraintViolated, sess.Language, "document is not persistent")
	}

	// A branch edge whose last branch was removed reverts to a bare edge
	// shape; replacing it deletes it instead.
	if d.Kind.PruneOnReplace != nil && d.Kind.PruneOnReplace(d.Props) {
		return d.Remove(ctx, sess, st)
	}

	if _, err := d.ValidateRequiredProperties(sess, true); err != nil {
		return err
	}

	var locked []string
	for _, field := range d.Kind.Locked {
		if !reflect.DeepEqual(d.stored[field], d.Props[field]) {
			locked = append(locked, field)
		}
	}
	if len(locked) > 0 {
		detail := fmt.Sprintf("locked fields cannot change: %v", locked)
		return errs.New(errs.KindValidationError, sess.Language, detail).
			WithData(map[string]any{"fields": locked, "kind": d.Kind.Name})
	}

	// Proposed unique values are compared against the persisted snapshot
	// here only to recompute identity; distinctness itself is the store's
	// contract and surfaces as a duplicate on write.
	if d.Kind.ComputeKey != nil {
		key, err := d.Kind.ComputeKey(d.Props)
		if err != nil {
			return err
		}
		if stored := d.Key(); stored != "" && stored != key {
			return errs.New(errs.KindKeyMismatch, sess.Language,
				fmt.Sprintf("stored %s, computed %s", stored, key)).
				WithData(map[string]any{"stored": stored, "computed": key})
		}
	}

	if d.Kind.NormaliseReplace != nil {
		d.Kind.NormaliseReplace(d.Props)
	}
	d.state = StateModified

	rev := d.rev
	if opts.DisableRevisionCheck {
		rev = ""
	}
	newRev, err := st.Replace(ctx, d.Kind.Collection, d.Key(), d.Props, rev)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return errs.New(errs.KindDocumentNotFound, sess.Language, d.Handle()).Wrap(err)
		case errors.Is(err, store.ErrRevisionMismatch):
			return errs.New(errs.KindConstraintViolated, sess.Language,
				"document changed since it was read").Wrap(err)
		case errors.Is(err, store.ErrDuplicateKey):
			return errs.New(errs.KindAmbiguousDocumentReference, sess.Language,
				fmt.Sprintf("%s already exists", d.Kind.Name)).Wrap(err)
		}
		return err
	}
	d.Props[RevField] = newRev
	d.rev = newRev
	d.stored = cloneProps(d.Props)
	d.state = StatePersistent
	return nil
}

// Remove deletes the persisted document. The document is destroyed: no
// further operations are legal on it.
func (d *Document) Remove(ctx context.Context, sess session.Session, st store.Store) error {
	if !d.IsPersistent() {
		return errs.New(errs.KindConstraintViolated, sess.Language, "document is not persistent")
	}
	if err := st.Remove(ctx, d.Kind.Collection, d.Key()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.New(errs.KindDocumentNotFound, sess.Language, d.Handle()).Wrap(err)
		}
		return err
	}
	d.state = StateRemoved
	return nil
}

// Resolve fills the document from the store: by key when one is set,
// otherwise by the content of its significant fields. More than one match is
// ambiguous, none is a bad reference.
func (d *Document) Resolve(ctx context.Context, sess session.Session, st store.Store) error {
	if key := d.Key(); key != "" {
		props, err := st.Get(ctx, d.Kind.Collection, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.New(errs.KindBadDocumentReference, sess.Language, d.Handle()).Wrap(err)
			}
			return err
		}
		d.adopt(props)
		return nil
	}

	if _, err := d.HasSignificantFields(sess, true); err != nil {
		return err
	}
	filter := make(map[string]any, len(d.Kind.Significant))
	for _, field := range d.Kind.Significant {
		filter[field] = d.Props[field]
	}
	matches, count, err := st.Find(ctx, d.Kind.Collection, filter)
	if err != nil {
		return err
	}
	switch count {
	case 0:
		return errs.New(errs.KindBadDocumentReference, sess.Language, filter)
	case 1:
		d.adopt(matches[0])
		return nil
	default:
		return errs.New(errs.KindAmbiguousDocumentReference, sess.Language, filter).
			WithData(map[string]any{"matches": count})
	}
}

func (d *Document) adopt(props map[string]any) {
	d.Props = props
	d.rev, _ = props[RevField].(string)
	d.stored = cloneProps(props)
	d.state = StatePersistent
}

// ClientView returns the properties with every restricted field removed.
// This is the only projection handed to callers outside the core.
func (d *Document) ClientView() map[string]any {
	view := cloneProps(d.Props)
	for _, field := range d.Kind.Restricted {
		delete(view, field)
	}
	return view
}

func cloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneProps(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
