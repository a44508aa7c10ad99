package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind represents the category of a repository error.
type Kind string

const (
	// KindIncompleteDocument is raised when significant or required fields are missing.
	KindIncompleteDocument Kind = "IncompleteDocument"
	// KindValidationError is raised when a field value violates a constraint.
	KindValidationError Kind = "ValidationError"
	// KindKeyMismatch is raised when a stored key disagrees with the recomputed one.
	KindKeyMismatch Kind = "KeyMismatch"
	// KindAmbiguousDocumentReference is raised when a selector matches more than one document.
	KindAmbiguousDocumentReference Kind = "AmbiguousDocumentReference"
	// KindDatabaseCorrupt is raised when an invariant that construction should
	// have prevented is violated.
	KindDatabaseCorrupt Kind = "DatabaseCorrupt"
	// KindBadDocumentReference is raised when a referenced id or selector fails to resolve.
	KindBadDocumentReference Kind = "BadDocumentReference"
	// KindConstraintViolated is raised when a remove or replace would break a
	// dependent invariant.
	KindConstraintViolated Kind = "ConstraintViolated"
	// KindUserGroupConflict is raised when a resolved group disagrees with the stored one.
	KindUserGroupConflict Kind = "UserGroupConflict"
	// KindUserManagerConflict is raised when a resolved manager disagrees with the stored one.
	KindUserManagerConflict Kind = "UserManagerConflict"
	// KindDocumentNotFound is raised when a traversal origin or lookup target does not exist.
	KindDocumentNotFound Kind = "DocumentNotFound"
)

// statusByKind maps each kind to the transport status suggested to the calling layer.
var statusByKind = map[Kind]int{
	KindIncompleteDocument:         http.StatusBadRequest,
	KindValidationError:            http.StatusBadRequest,
	KindKeyMismatch:                http.StatusConflict,
	KindAmbiguousDocumentReference: http.StatusConflict,
	KindDatabaseCorrupt:            http.StatusInternalServerError,
	KindBadDocumentReference:       http.StatusBadRequest,
	KindConstraintViolated:         http.StatusConflict,
	KindUserGroupConflict:          http.StatusConflict,
	KindUserManagerConflict:        http.StatusConflict,
	KindDocumentNotFound:           http.StatusNotFound,
}

// messages holds the per-language message templates, keyed by kind then
// language code. English is the fallback for unknown languages.
var messages = map[Kind]map[string]string{
	KindIncompleteDocument: {
		"en": "document is missing fields: %v",
		"it": "il documento manca dei campi: %v",
	},
	KindValidationError: {
		"en": "validation failed: %v",
		"it": "convalida fallita: %v",
	},
	KindKeyMismatch: {
		"en": "stored key does not match computed key: %v",
		"it": "la chiave memorizzata non corrisponde a quella calcolata: %v",
	},
	KindAmbiguousDocumentReference: {
		"en": "reference matches more than one document: %v",
		"it": "il riferimento corrisponde a più di un documento: %v",
	},
	KindDatabaseCorrupt: {
		"en": "database integrity violation: %v",
		"it": "violazione di integrità della base di dati: %v",
	},
	KindBadDocumentReference: {
		"en": "unable to resolve document reference: %v",
		"it": "impossibile risolvere il riferimento al documento: %v",
	},
	KindConstraintViolated: {
		"en": "operation would violate a constraint: %v",
		"it": "l'operazione violerebbe un vincolo: %v",
	},
	KindUserGroupConflict: {
		"en": "user group conflicts with the stored value: %v",
		"it": "il gruppo dell'utente è in conflitto con il valore memorizzato: %v",
	},
	KindUserManagerConflict: {
		"en": "user manager conflicts with the stored value: %v",
		"it": "il responsabile dell'utente è in conflitto con il valore memorizzato: %v",
	},
	KindDocumentNotFound: {
		"en": "document not found: %v",
		"it": "documento non trovato: %v",
	},
}

// DataError is the error type shared by every repository failure. It carries
// the kind, a language-resolved message, an optional data payload naming the
// offending fields or documents, and a suggested transport status. Whether the
// structured detail is surfaced belongs to the calling layer.
type DataError struct {
	Kind      Kind
	Message   string
	Data      map[string]any
	Status    int
	Timestamp time.Time
	Err       error // wrapped cause, if any
}

// Error implements the error interface
func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for error unwrapping
func (e *DataError) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is works against a bare kind sentinel.
func (e *DataError) Is(target error) bool {
	t, ok := target.(*DataError)
	return ok && t.Kind == e.Kind
}

// New creates a DataError of the given kind with its message resolved in the
// given language. The detail is rendered into the message template.
func New(kind Kind, language string, detail any) *DataError {
	tmpl, ok := messages[kind][language]
	if !ok {
		tmpl = messages[kind]["en"]
	}
	return &DataError{
		Kind:      kind,
		Message:   fmt.Sprintf(tmpl, detail),
		Status:    statusByKind[kind],
		Timestamp: time.Now(),
	}
}

// Wrap attaches a cause to the error and returns it.
func (e *DataError) Wrap(err error) *DataError {
	e.Err = err
	return e
}

// WithData attaches a structured payload to the error and returns it.
func (e *DataError) WithData(data map[string]any) *DataError {
	e.Data = data
	return e
}

// IsKind checks whether an error is a DataError of the given kind.
func IsKind(err error, kind Kind) bool {
	if dataErr, ok := err.(*DataError); ok {
		return dataErr.Kind == kind
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if inner := wrapped.Unwrap(); inner != nil {
			return IsKind(inner, kind)
		}
	}
	return false
}

// StatusOf returns the transport status suggested for an error, or 500 when
// the error is not a DataError.
func StatusOf(err error) int {
	if dataErr, ok := err.(*DataError); ok {
		return dataErr.Status
	}
	return http.StatusInternalServerError
}
