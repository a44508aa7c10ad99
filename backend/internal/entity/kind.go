// Package entity implements the persistable document contract: per-kind
// field classification, lifecycle validation, edge identity and descriptor
// path computation. Kinds are a small closed set of tagged values; behavior
// differences live in per-kind hooks, not in a type hierarchy.
package entity

import "time"

// Property names shared across kinds.
const (
	KeyField        = "_key"
	RevField        = "_rev"
	FromField       = "_from"
	ToField         = "_to"
	PredicateField  = "predicate"
	AttributesField = "attributes"
	BranchesField   = "branches"
	ModifiersField  = "modifiers"
	CreatedField    = "created"
	ModifiedField   = "modified"
	CodeField       = "code"
	TypeField       = "type"
)

// Predicates selecting the graphs this repository traverses.
const (
	PredicateEnumOf    = "enum-of"
	PredicateTypeOf    = "type-of"
	PredicateFieldOf   = "field-of"
	PredicateManagedBy = "managed-by"
	PredicateMemberOf  = "member-of"
)

// Kind declares, per concrete entity kind, the six field sets driving
// validation plus the lifecycle hooks. Dispatch happens on the Kind value a
// Document carries.
type Kind struct {
	Name       string
	Collection string

	// Significant fields determine the document's identity.
	Significant []string
	// Required fields must be non-nil for the document to validate.
	Required []string
	// Unique fields are enforced distinct by the store.
	Unique []string
	// Locked fields are immutable once persisted.
	Locked []string
	// Restricted fields are never returned to callers.
	Restricted []string
	// Reserved fields are store-managed; caller-supplied values are stripped.
	Reserved []string

	// ComputeKey derives the content-addressed key from the significant
	// fields. Nil for kinds whose keys the store assigns.
	ComputeKey func(props map[string]any) (string, error)

	// NormaliseInsert and NormaliseReplace adjust properties ahead of the
	// corresponding store write.
	NormaliseInsert  func(props map[string]any)
	NormaliseReplace func(props map[string]any)

	// PruneOnReplace reports that a replace should delete the document
	// instead of persisting it. Nil means never.
	PruneOnReplace func(props map[string]any) bool
}

// IsReserved reports whether the field is store-managed for this kind.
func (k *Kind) IsReserved(field string) bool {
	if field == KeyField || field == RevField {
		return true
	}
	for _, reserved := range k.Reserved {
		if field == reserved {
			return true
		}
	}
	return false
}

// StampInsert is the default insert normalization: set the creation
// timestamp and drop any modification timestamp.
func StampInsert(props map[string]any) {
	props[CreatedField] = time.Now().UTC().Format(time.RFC3339)
	delete(props, ModifiedField)
}

// StampReplace is the default replace normalization: set the modification
// timestamp.
func StampReplace(props map[string]any) {
	props[ModifiedField] = time.Now().UTC().Format(time.RFC3339)
}

// TermKind describes the vocabulary terms the enumeration, type and form
// graphs are built over. Multi-language text lives in label, definition,
// description, note and example maps keyed by language code.
var TermKind = &Kind{
	Name:             "term",
	Collection:       "terms",
	Significant:      []string{CodeField},
	Required:         []string{CodeField},
	Unique:           []string{CodeField},
	Locked:           []string{CodeField},
	NormaliseInsert:  StampInsert,
	NormaliseReplace: StampReplace,
}
