package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/store"
	"repograph/backend/internal/user"
	"repograph/backend/pkg/config"
)

func testRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.EnsureCollection(ctx, user.UserKind.Collection, entity.CodeField))
	require.NoError(t, st.EnsureCollection(ctx, user.GroupKind.Collection, entity.CodeField))
	require.NoError(t, st.EnsureCollection(ctx, entity.TermKind.Collection, entity.CodeField))
	require.NoError(t, st.EnsureCollection(ctx, entity.EdgeKind.Collection))
	require.NoError(t, st.EnsureCollection(ctx, entity.RelationKind.Collection))

	cfg := &config.Config{
		Port:            "8080",
		Env:             "development",
		DefaultLanguage: "en",
		AdminCode:       "admin",
	}
	return newRouter(zap.NewNop(), cfg, st), st
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "ok", response["status"])
}

func TestCreateUser_InvalidRequest(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, "POST", "/api/users", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserLifecycleOverHTTP(t *testing.T) {
	router, _ := testRouter(t)

	// Root administrator needs no manager.
	w := doJSON(router, "POST", "/api/users", map[string]any{
		"user":     map[string]any{"code": "admin", "name": "Root"},
		"password": "root-pw",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	adminKey, _ := created["_key"].(string)
	require.NotEmpty(t, adminKey)
	// Restricted material never leaves the API.
	assert.NotContains(t, created, "auth")

	// A regular user referencing the administrator as manager.
	w = doJSON(router, "POST", "/api/users", map[string]any{
		"user":     map[string]any{"code": "bob", "name": "Bob"},
		"password": "bob-pw",
		"manager":  "users/" + adminKey,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var bob map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bob))
	bobKey, _ := bob["_key"].(string)

	w = doJSON(router, "GET", "/api/users/"+bobKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/users/"+bobKey+"/authenticate", map[string]any{"password": "bob-pw"})
	require.Equal(t, http.StatusOK, w.Code)
	var auth map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	assert.Equal(t, true, auth["authenticated"])

	w = doJSON(router, "POST", "/api/users/"+bobKey+"/authenticate", map[string]any{"password": "wrong"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	assert.Equal(t, false, auth["authenticated"])

	// The administrator manages bob.
	w = doJSON(router, "GET", "/api/users/"+adminKey+"/managed?min_depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var managed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &managed))
	require.Len(t, managed, 1)
	assert.Equal(t, "bob", managed[0]["code"])

	w = doJSON(router, "DELETE", "/api/users/"+bobKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/api/users/"+bobKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateUser_UnknownManager(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, "POST", "/api/users", map[string]any{
		"user":     map[string]any{"code": "bob", "name": "Bob"},
		"password": "pw",
		"manager":  "users/nope",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "BadDocumentReference", response["kind"])
}

func TestGetUser_NotFound(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, "GET", "/api/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTermTraversalOverHTTP(t *testing.T) {
	router, st := testRouter(t)
	ctx := context.Background()

	// colour ← red via an enum-of edge on branch "palette".
	for _, code := range []string{"colour", "red"} {
		w := doJSON(router, "POST", "/api/terms", map[string]any{"code": code})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	find := func(code string) string {
		matches, count, err := st.Find(ctx, entity.TermKind.Collection, map[string]any{entity.CodeField: code})
		require.NoError(t, err)
		require.Equal(t, 1, count)
		key, _ := matches[0][entity.KeyField].(string)
		return key
	}
	colourKey, redKey := find("colour"), find("red")

	_, _, err := st.Insert(ctx, entity.EdgeKind.Collection, map[string]any{
		entity.FromField:      entity.Handle(entity.TermKind.Collection, redKey),
		entity.ToField:        entity.Handle(entity.TermKind.Collection, colourKey),
		entity.PredicateField: entity.PredicateEnumOf,
		entity.BranchesField:  []string{"palette"},
	})
	require.NoError(t, err)

	w := doJSON(router, "GET", "/api/terms/"+colourKey+"/enum/list?branch=palette&min_depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "red", results[0]["code"])

	// No edges carry the other branch.
	w = doJSON(router, "GET", "/api/terms/"+colourKey+"/enum/list?branch=other&min_depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Empty(t, results)

	w = doJSON(router, "GET", "/api/terms/"+colourKey+"/enum/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTerm_Duplicate(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(router, "POST", "/api/terms", map[string]any{"code": "dup"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, "POST", "/api/terms", map[string]any{"code": "dup"})
	assert.Equal(t, http.StatusConflict, w.Code)
}
