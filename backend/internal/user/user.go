// Package user maintains the user aggregate: a primary document plus up to
// two 1:1 outgoing relationships, group and manager, each materialized as an
// edge in the shared relations collection.
package user

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"repograph/backend/internal/auth"
	"repograph/backend/internal/entity"
	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	errs "repograph/backend/pkg/errors"
	"repograph/backend/pkg/logger"
)

// AuthField holds the opaque authentication record. Restricted: never
// returned to callers.
const AuthField = "auth"

// NameField is the user's display name.
const NameField = "name"

// UserKind classifies the primary user document. The store assigns its key;
// identity for content resolution is the user code.
var UserKind = &entity.Kind{
	Name:             "user",
	Collection:       "users",
	Significant:      []string{entity.CodeField},
	Required:         []string{entity.CodeField, NameField},
	Unique:           []string{entity.CodeField},
	Locked:           []string{entity.CodeField},
	Restricted:       []string{AuthField},
	Reserved:         []string{AuthField},
	NormaliseInsert:  entity.StampInsert,
	NormaliseReplace: entity.StampReplace,
}

// GroupKind classifies the groups users may belong to.
var GroupKind = &entity.Kind{
	Name:             "group",
	Collection:       "groups",
	Significant:      []string{entity.CodeField},
	Required:         []string{entity.CodeField},
	Unique:           []string{entity.CodeField},
	Locked:           []string{entity.CodeField},
	NormaliseInsert:  entity.StampInsert,
	NormaliseReplace: entity.StampReplace,
}

// User composes the primary document with its resolved relationships. The
// group and manager values are document handles; they stay unset until a
// Resolve call fills them.
type User struct {
	Doc *entity.Document

	group      string
	groupSet   bool
	manager    string
	managerSet bool

	managedCount int
	managedKnown bool
}

// New constructs a transient user from caller properties.
func New(props map[string]any) *User {
	return &User{Doc: entity.New(UserKind, props)}
}

// FromDocument wraps an already loaded user document.
func FromDocument(doc *entity.Document) *User {
	return &User{Doc: doc}
}

// Code returns the user's identifying code.
func (u *User) Code() string {
	code, _ := u.Doc.Props[entity.CodeField].(string)
	return code
}

// Group returns the resolved group handle and whether one has been resolved.
func (u *User) Group() (string, bool) {
	return u.group, u.groupSet
}

// Manager returns the resolved manager handle and whether one has been
// resolved.
func (u *User) Manager() (string, bool) {
	return u.manager, u.managerSet
}

// Service runs the multi-step user operations against a store.
type Service struct {
	st        store.Store
	logger    *zap.Logger
	adminCode string
}

// NewService creates a user service. adminCode is the identifying code of
// the distinguished root administrator, the only user legally without a
// manager.
func NewService(st store.Store, adminCode string) *Service {
	return &Service{
		st:        st,
		logger:    logger.Named("user"),
		adminCode: adminCode,
	}
}

// Load fetches a persistent user by key.
func (s *Service) Load(ctx context.Context, sess session.Session, key string) (*User, error) {
	props, err := s.st.Get(ctx, UserKind.Collection, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.New(errs.KindDocumentNotFound, sess.Language, entity.Handle(UserKind.Collection, key)).Wrap(err)
		}
		return nil, err
	}
	return FromDocument(entity.FromStored(UserKind, props)), nil
}

// relationEdge returns the single relationship edge for (owner, predicate),
// nil when there is none. More than one is a corruption signal, never
// auto-resolved.
func (s *Service) relationEdge(ctx context.Context, sess session.Session, owner, predicate string) (map[string]any, error) {
	matches, count, err := s.st.Find(ctx, entity.RelationKind.Collection, map[string]any{
		entity.FromField:      owner,
		entity.PredicateField: predicate,
	})
	if err != nil {
		return nil, err
	}
	switch count {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, errs.New(errs.KindDatabaseCorrupt, sess.Language,
			fmt.Sprintf("user %s has %d %s relations", owner, count, predicate)).
			WithData(map[string]any{"owner": owner, "predicate": predicate, "count": count})
	}
}

// resolveReference turns a relationship reference into a target handle.
// Nil looks up the existing edge; a selector map resolves by content; a
// string is a direct id checked for existence.
func (s *Service) resolveReference(ctx context.Context, sess session.Session, u *User, ref any, predicate string, targetKind *entity.Kind) (string, error) {
	switch value := ref.(type) {
	case nil:
		if !u.Doc.IsPersistent() {
			return "", nil
		}
		edge, err := s.relationEdge(ctx, sess, u.Doc.Handle(), predicate)
		if err != nil {
			return "", err
		}
		if edge == nil {
			return "", nil
		}
		to, _ := edge[entity.ToField].(string)
		return to, nil

	case map[string]any:
		target := entity.New(targetKind, value)
		if err := target.Resolve(ctx, sess, s.st); err != nil {
			return "", err
		}
		return target.Handle(), nil

	case string:
		collection, key := entity.SplitHandle(value)
		if collection == "" {
			collection = targetKind.Collection
		}
		exists, err := s.st.Exists(ctx, collection, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", errs.New(errs.KindBadDocumentReference, sess.Language, value)
		}
		return entity.Handle(collection, key), nil

	default:
		return "", errs.New(errs.KindBadDocumentReference, sess.Language,
			fmt.Sprintf("unsupported reference type %T", ref))
	}
}

// ResolveGroup resolves the group relationship from the given reference and
// reconciles it with the value already on the instance. An unset stored
// value is filled in; a disagreement fails UserGroupConflict.
func (s *Service) ResolveGroup(ctx context.Context, sess session.Session, u *User, ref any) (string, error) {
	candidate, err := s.resolveReference(ctx, sess, u, ref, entity.PredicateMemberOf, GroupKind)
	if err != nil {
		return "", err
	}
	if candidate == "" {
		return u.group, nil
	}
	if u.groupSet && u.group != "" && u.group != candidate {
		return "", errs.New(errs.KindUserGroupConflict, sess.Language,
			fmt.Sprintf("stored %s, resolved %s", u.group, candidate)).
			WithData(map[string]any{"stored": u.group, "resolved": candidate})
	}
	u.group = candidate
	u.groupSet = true
	return u.group, nil
}

// ResolveManager resolves the manager relationship. A persistent user
// without a manager edge is legal only for the root administrator; any other
// case is a corruption signal.
func (s *Service) ResolveManager(ctx context.Context, sess session.Session, u *User, ref any) (string, error) {
	candidate, err := s.resolveReference(ctx, sess, u, ref, entity.PredicateManagedBy, UserKind)
	if err != nil {
		return "", err
	}
	if candidate == "" {
		if ref == nil && u.Doc.IsPersistent() && !u.managerSet && u.Code() != s.adminCode {
			return "", errs.New(errs.KindDatabaseCorrupt, sess.Language,
				fmt.Sprintf("user %s has no manager", u.Code())).
				WithData(map[string]any{"user": u.Doc.Handle()})
		}
		return u.manager, nil
	}
	if u.managerSet && u.manager != "" && u.manager != candidate {
		return "", errs.New(errs.KindUserManagerConflict, sess.Language,
			fmt.Sprintf("stored %s, resolved %s", u.manager, candidate)).
			WithData(map[string]any{"stored": u.manager, "resolved": candidate})
	}
	u.manager = candidate
	u.managerSet = true
	return u.manager, nil
}

// Insert writes the primary document, sets the authentication material and
// inserts the group and manager edges. Edge failures remove whichever edge
// did get in and rethrow; the primary document is not rolled back. This is
// compensating-action error handling, not a transaction.
func (s *Service) Insert(ctx context.Context, sess session.Session, u *User, password string) error {
	if u.manager == "" && u.Code() != s.adminCode {
		return errs.New(errs.KindIncompleteDocument, sess.Language, []string{"manager"}).
			WithData(map[string]any{"fields": []string{"manager"}, "kind": UserKind.Name})
	}

	if err := u.Doc.Insert(ctx, sess, s.st); err != nil {
		return err
	}

	record, err := auth.Create(password)
	if err != nil {
		return err
	}
	u.Doc.Props[AuthField] = record
	if err := u.Doc.Replace(ctx, sess, s.st, entity.ReplaceOptions{}); err != nil {
		return err
	}

	var groupEdge, managerEdge *entity.Document
	if u.group != "" {
		groupEdge = entity.NewEdge(entity.RelationKind, u.Doc.Handle(), u.group, entity.PredicateMemberOf)
		if err := groupEdge.SetKey(sess); err != nil {
			return err
		}
		if err := groupEdge.Insert(ctx, sess, s.st); err != nil {
			return err
		}
	}
	if u.manager != "" {
		managerEdge = entity.NewEdge(entity.RelationKind, u.Doc.Handle(), u.manager, entity.PredicateManagedBy)
		if err := managerEdge.SetKey(sess); err == nil {
			err = managerEdge.Insert(ctx, sess, s.st)
		} else {
			err = fmt.Errorf("failed to derive manager edge key: %w", err)
		}
		if err != nil {
			// Best-effort compensation: remove the edge that did succeed.
			// Its own failure is swallowed so the original error survives.
			if groupEdge != nil && groupEdge.IsPersistent() {
				if cleanupErr := groupEdge.Remove(ctx, sess, s.st); cleanupErr != nil {
					s.logger.Warn("failed to clean up group edge",
						zap.String("user", u.Doc.Handle()),
						zap.Error(cleanupErr))
				}
			}
			return err
		}
	}
	return nil
}

// Remove deletes the primary document, then conditionally the group and
// manager edges. Removing the manager relationship reparents every directly
// managed user onto the removed user's own manager. The reparenting loop is
// not transactional; a mid-loop failure leaves a partially reparented graph.
func (s *Service) Remove(ctx context.Context, sess session.Session, u *User, doGroup, doManager bool) error {
	owner := u.Doc.Handle()

	var managerEdge map[string]any
	var reports []map[string]any
	if doManager {
		var err error
		managerEdge, err = s.relationEdge(ctx, sess, owner, entity.PredicateManagedBy)
		if err != nil {
			return err
		}
		reports, _, err = s.st.Find(ctx, entity.RelationKind.Collection, map[string]any{
			entity.ToField:        owner,
			entity.PredicateField: entity.PredicateManagedBy,
		})
		if err != nil {
			return err
		}
		if len(reports) > 0 && managerEdge == nil {
			return errs.New(errs.KindConstraintViolated, sess.Language,
				fmt.Sprintf("user %s manages %d users but has no manager to hand them to", owner, len(reports))).
				WithData(map[string]any{"user": owner, "managed": len(reports)})
		}
	}

	if err := u.Doc.Remove(ctx, sess, s.st); err != nil {
		return err
	}

	if doGroup {
		groupEdge, err := s.relationEdge(ctx, sess, owner, entity.PredicateMemberOf)
		if err != nil {
			return err
		}
		if groupEdge != nil {
			if err := s.removeRelation(ctx, groupEdge); err != nil {
				return err
			}
		}
	}

	if doManager {
		var newManager string
		if managerEdge != nil {
			newManager, _ = managerEdge[entity.ToField].(string)
		}
		for _, report := range reports {
			if err := s.removeRelation(ctx, report); err != nil {
				return err
			}
			from, _ := report[entity.FromField].(string)
			if newManager == "" {
				continue
			}
			// Skip the insert when an equivalent edge already exists.
			_, count, err := s.st.Find(ctx, entity.RelationKind.Collection, map[string]any{
				entity.FromField:      from,
				entity.ToField:        newManager,
				entity.PredicateField: entity.PredicateManagedBy,
			})
			if err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			edge := entity.NewEdge(entity.RelationKind, from, newManager, entity.PredicateManagedBy)
			if err := edge.SetKey(sess); err != nil {
				return err
			}
			if err := edge.Insert(ctx, sess, s.st); err != nil {
				return err
			}
		}
		if managerEdge != nil {
			if err := s.removeRelation(ctx, managerEdge); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) removeRelation(ctx context.Context, edge map[string]any) error {
	key, _ := edge[entity.KeyField].(string)
	return s.st.Remove(ctx, entity.RelationKind.Collection, key)
}

// ManagedCount returns the number of directly managed users, computed
// lazily and memoized per instance.
func (s *Service) ManagedCount(ctx context.Context, u *User) (int, error) {
	if u.managedKnown {
		return u.managedCount, nil
	}
	_, count, err := s.st.Find(ctx, entity.RelationKind.Collection, map[string]any{
		entity.ToField:        u.Doc.Handle(),
		entity.PredicateField: entity.PredicateManagedBy,
	})
	if err != nil {
		return 0, err
	}
	u.managedCount = count
	u.managedKnown = true
	return count, nil
}

// Authenticate verifies a password against the stored authentication record.
func (s *Service) Authenticate(u *User, password string) bool {
	record, _ := u.Doc.Props[AuthField].(string)
	if record == "" {
		return false
	}
	return auth.Verify(record, password)
}
