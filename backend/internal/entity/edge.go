package entity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// keySeparator joins the ordered significant values before hashing.
const keySeparator = "\t"

// digest is the edge key derivation: a deterministic digest over the
// delimiter-joined ordered field values. Not used for any cryptographic
// purpose.
func digest(parts []string) string {
	sum := md5.Sum([]byte(strings.Join(parts, keySeparator)))
	return hex.EncodeToString(sum[:])
}

// edgeEndpoints extracts and checks the three fields every edge key depends on.
func edgeEndpoints(props map[string]any) (from, to, predicate string, err error) {
	from, _ = props[FromField].(string)
	to, _ = props[ToField].(string)
	predicate, _ = props[PredicateField].(string)
	if from == "" || to == "" || predicate == "" {
		return "", "", "", fmt.Errorf("edge key needs %s, %s and %s", FromField, ToField, PredicateField)
	}
	return from, to, predicate, nil
}

// EdgeKey derives the key of a plain edge: a pure function of from, to and
// predicate at persistence time. Two edges with identical significant fields
// are the same edge.
func EdgeKey(props map[string]any) (string, error) {
	from, to, predicate, err := edgeEndpoints(props)
	if err != nil {
		return "", err
	}
	return digest([]string{from, to, predicate}), nil
}

// EdgeAttributeKey derives the key of an attribute edge. The attribute set
// participates in identity; it is sorted before hashing and written back
// sorted so logically equal sets canonicalize identically regardless of
// insertion order.
func EdgeAttributeKey(props map[string]any) (string, error) {
	from, to, predicate, err := edgeEndpoints(props)
	if err != nil {
		return "", err
	}
	attrs := stringSlice(props[AttributesField])
	if len(attrs) == 0 {
		return "", fmt.Errorf("attribute edge key needs a non-empty %s", AttributesField)
	}
	sort.Strings(attrs)
	props[AttributesField] = attrs
	return digest(append([]string{from, to, predicate}, attrs...)), nil
}

// EdgeKind is the plain directed, predicate-typed relationship.
var EdgeKind = newEdgeKind("edge", "edges", EdgeKey)

// EdgeAttributeKind is an edge whose attribute set is significant.
var EdgeAttributeKind = func() *Kind {
	k := newEdgeKind("edge-attribute", "edges", EdgeAttributeKey)
	k.Significant = append(k.Significant, AttributesField)
	k.Required = append(k.Required, AttributesField)
	return k
}()

// EdgeBranchKind is an edge carrying a mutable branches set and per-branch
// modifiers, neither of which participates in identity. Once the last branch
// is gone the record is a bare edge shape and a replace deletes it.
var EdgeBranchKind = func() *Kind {
	k := newEdgeKind("edge-branch", "edges", EdgeKey)
	k.PruneOnReplace = func(props map[string]any) bool {
		_, ok := props[BranchesField]
		return !ok
	}
	return k
}()

// RelationKind is the edge kind of the shared user relationship collection.
var RelationKind = newEdgeKind("relation", "relations", EdgeKey)

func newEdgeKind(name, collection string, computeKey func(map[string]any) (string, error)) *Kind {
	return &Kind{
		Name:             name,
		Collection:       collection,
		Significant:      []string{FromField, ToField, PredicateField},
		Required:         []string{FromField, ToField, PredicateField},
		Locked:           []string{FromField, ToField, PredicateField},
		ComputeKey:       computeKey,
		NormaliseInsert:  StampInsert,
		NormaliseReplace: StampReplace,
	}
}

// NewEdge builds a transient edge of the given kind between two document
// handles.
func NewEdge(kind *Kind, from, to, predicate string) *Document {
	return New(kind, map[string]any{
		FromField:      from,
		ToField:        to,
		PredicateField: predicate,
	})
}

// AddBranch appends a branch to the edge's deduplicated ordered branch set
// and, when a modifier is given, upserts it under the branch name.
func AddBranch(d *Document, branch string, modifier map[string]any) {
	AddBranches(d, []string{branch}, modifier)
}

// AddBranches adds every given branch, applying the modifier, if any, to
// each of them.
func AddBranches(d *Document, branches []string, modifier map[string]any) {
	current := stringSlice(d.Props[BranchesField])
	for _, branch := range branches {
		if !contains(current, branch) {
			current = append(current, branch)
		}
	}
	d.Props[BranchesField] = current

	if modifier == nil {
		return
	}
	modifiers, _ := d.Props[ModifiersField].(map[string]any)
	if modifiers == nil {
		modifiers = make(map[string]any)
	}
	for _, branch := range branches {
		modifiers[branch] = modifier
	}
	d.Props[ModifiersField] = modifiers
}

// DelBranch removes a branch and its modifier entry. An emptied modifiers
// map is pruned; once the last branch is removed the branches property is
// pruned entirely, reverting the record to a bare edge shape.
func DelBranch(d *Document, branch string) {
	current := stringSlice(d.Props[BranchesField])
	kept := current[:0]
	for _, b := range current {
		if b != branch {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		delete(d.Props, BranchesField)
	} else {
		d.Props[BranchesField] = kept
	}

	if modifiers, ok := d.Props[ModifiersField].(map[string]any); ok {
		delete(modifiers, branch)
		if len(modifiers) == 0 {
			delete(d.Props, ModifiersField)
		}
	}
}

// Branches returns the edge's branch set, empty when the property is absent.
func Branches(d *Document) []string {
	return stringSlice(d.Props[BranchesField])
}

// stringSlice coerces a stored value into a string slice. Stores round-trip
// arrays as []any, so both shapes are accepted.
func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
