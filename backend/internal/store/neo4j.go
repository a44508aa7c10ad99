package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"go.uber.org/zap"

	"repograph/backend/pkg/logger"
)

// docField holds the JSON encoding of the full document on each node. Flat
// scalar fields are additionally materialized as node properties so Cypher
// can filter on them and uniqueness constraints can bind to them.
const docField = "_doc"

// Neo4j is the production Store. Collections map to node labels and
// documents to nodes; nested values live only in the JSON payload.
type Neo4j struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4j wraps an existing driver.
func NewNeo4j(driver neo4j.DriverWithContext) *Neo4j {
	return &Neo4j{
		driver: driver,
		logger: logger.Named("store"),
	}
}

func (s *Neo4j) EnsureCollection(ctx context.Context, name string, unique ...string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	fields := append([]string{KeyField}, unique...)
	for _, field := range fields {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT `%s_%s_unique` IF NOT EXISTS FOR (n:`%s`) REQUIRE n.`%s` IS UNIQUE",
			name, field, name, field,
		)
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to ensure constraint on %s.%s: %w", name, field, err)
		}
	}
	return nil
}

func (s *Neo4j) Insert(ctx context.Context, collection string, doc map[string]any) (string, string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	key, _ := doc[KeyField].(string)
	if key == "" {
		key = uuid.NewString()
	}
	rev := uuid.NewString()

	props, err := nodeProps(doc, key, rev)
	if err != nil {
		return "", "", err
	}

	query := fmt.Sprintf("CREATE (n:`%s`) SET n = $props", collection)
	if _, err := session.Run(ctx, query, map[string]any{"props": props}); err != nil {
		if isConstraintViolation(err) {
			return "", "", ErrDuplicateKey
		}
		return "", "", fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return key, rev, nil
}

func (s *Neo4j) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf("MATCH (n:`%s` {`_key`: $key}) RETURN n.`%s` AS doc", collection, docField)
	result, err := session.Run(ctx, query, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to get from %s: %w", collection, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch record: %w", err)
		}
		return nil, ErrNotFound
	}
	return decodeDoc(result.Record())
}

func (s *Neo4j) Exists(ctx context.Context, collection, key string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf("MATCH (n:`%s` {`_key`: $key}) RETURN count(n) AS total", collection)
	result, err := session.Run(ctx, query, map[string]any{"key": key})
	if err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", collection, err)
	}
	if result.Next(ctx) {
		if total, ok := result.Record().Get("total"); ok {
			if count, ok := total.(int64); ok {
				return count > 0, nil
			}
		}
	}
	return false, result.Err()
}

func (s *Neo4j) Replace(ctx context.Context, collection, key string, doc map[string]any, rev string) (string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	// Read the stored revision first so a miss and a stale revision stay
	// distinguishable.
	query := fmt.Sprintf("MATCH (n:`%s` {`_key`: $key}) RETURN n.`_rev` AS rev", collection)
	result, err := session.Run(ctx, query, map[string]any{"key": key})
	if err != nil {
		return "", fmt.Errorf("failed to read revision in %s: %w", collection, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return "", fmt.Errorf("failed to fetch record: %w", err)
		}
		return "", ErrNotFound
	}
	if rev != "" {
		if stored, ok := result.Record().Get("rev"); ok {
			if storedRev, ok := stored.(string); ok && storedRev != rev {
				return "", ErrRevisionMismatch
			}
		}
	}

	newRev := uuid.NewString()
	props, err := nodeProps(doc, key, newRev)
	if err != nil {
		return "", err
	}
	query = fmt.Sprintf("MATCH (n:`%s` {`_key`: $key}) SET n = $props", collection)
	if _, err := session.Run(ctx, query, map[string]any{"key": key, "props": props}); err != nil {
		if isConstraintViolation(err) {
			return "", ErrDuplicateKey
		}
		return "", fmt.Errorf("failed to replace in %s: %w", collection, err)
	}
	return newRev, nil
}

func (s *Neo4j) Remove(ctx context.Context, collection, key string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf("MATCH (n:`%s` {`_key`: $key}) DETACH DELETE n RETURN count(n) AS removed", collection)
	result, err := session.Run(ctx, query, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("failed to remove from %s: %w", collection, err)
	}
	if result.Next(ctx) {
		if removed, ok := result.Record().Get("removed"); ok {
			if count, ok := removed.(int64); ok && count == 0 {
				return ErrNotFound
			}
		}
	}
	return result.Err()
}

func (s *Neo4j) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	params := map[string]any{}
	conditions := make([]string, 0, len(fields))
	for i, field := range fields {
		param := fmt.Sprintf("p%d", i)
		conditions = append(conditions, fmt.Sprintf("n.`%s` = $%s", field, param))
		params[param] = filter[field]
	}

	query := fmt.Sprintf("MATCH (n:`%s`)", collection)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" RETURN n.`%s` AS doc ORDER BY n.`_key`", docField)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find in %s: %w", collection, err)
	}

	var docs []map[string]any
	for result.Next(ctx) {
		doc, err := decodeDoc(result.Record())
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := result.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate results: %w", err)
	}
	return docs, len(docs), nil
}

func (s *Neo4j) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// nodeProps builds the property map stored on a node: the JSON payload plus
// every flat top-level value, with key and revision stamped in.
func nodeProps(doc map[string]any, key, rev string) (map[string]any, error) {
	full := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		full[k] = v
	}
	full[KeyField] = key
	full[RevField] = rev

	encoded, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	props := map[string]any{docField: string(encoded)}
	for k, v := range full {
		switch val := v.(type) {
		case string, bool, int, int64, float64:
			props[k] = val
		case []string:
			props[k] = val
		}
	}
	return props, nil
}

func decodeDoc(record *db.Record) (map[string]any, error) {
	raw, ok := record.Get("doc")
	if !ok || raw == nil {
		return nil, fmt.Errorf("node is missing its document payload")
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected document payload type %T", raw)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(encoded), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func isConstraintViolation(err error) bool {
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.Contains(neoErr.Code, "ConstraintValidationFailed")
	}
	return false
}
