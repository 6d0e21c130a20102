package airlock_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	airlock "github.com/goliatone/go-airlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamClient_FindUserByUsername(t *testing.T) {
	var gotFormula, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		gotAuth = r.Header.Get("Authorization")

		json.NewEncoder(w).Encode(map[string]any{
			"records": []any{
				map[string]any{"id": "recU1", "fields": map[string]any{"username": "alice"}},
			},
		})
	}))
	defer server.Close()

	client := airlock.NewUpstreamClient(testOptions(t, server.URL))

	user, found, err := client.FindUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "recU1", user.ID)
	assert.Equal(t, `username="alice"`, gotFormula)
	assert.Equal(t, "Bearer key-test", gotAuth)
}

func TestUpstreamClient_FindUserByUsernameAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"records": []any{}})
	}))
	defer server.Close()

	client := airlock.NewUpstreamClient(testOptions(t, server.URL))

	_, found, err := client.FindUserByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpstreamClient_CreateUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fields := body["fields"].(map[string]any)

		json.NewEncoder(w).Encode(map[string]any{
			"id":     "recNEW",
			"fields": fields,
		})
	}))
	defer server.Close()

	client := airlock.NewUpstreamClient(testOptions(t, server.URL))

	user, err := client.CreateUser(context.Background(), map[string]any{
		"username": "bob",
		"password": "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, "recNEW", user.ID)
	assert.Equal(t, "bob", user.Fields["username"])
}

func TestUpstreamClient_CreateUserUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "INVALID_REQUEST", "message": "bad field"},
		})
	}))
	defer server.Close()

	client := airlock.NewUpstreamClient(testOptions(t, server.URL))

	_, err := client.CreateUser(context.Background(), map[string]any{"username": "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestUpstreamClient_FetchRecordsByIDs(t *testing.T) {
	var gotFormula string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		json.NewEncoder(w).Encode(map[string]any{
			"records": []any{
				map[string]any{"id": "rec1", "fields": map[string]any{"n": 1}},
				map[string]any{"id": "rec2", "fields": map[string]any{"n": 2}},
			},
		})
	}))
	defer server.Close()

	client := airlock.NewUpstreamClient(testOptions(t, server.URL))

	t.Run("multiple ids build an OR formula", func(t *testing.T) {
		records, err := client.FetchRecordsByIDs(context.Background(), "v0", "Tasks", []string{"rec1", "rec2"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "OR(RECORD_ID()='rec1',RECORD_ID()='rec2')", gotFormula)
	})

	t.Run("single id is a bare comparison", func(t *testing.T) {
		_, err := client.FetchRecordsByIDs(context.Background(), "v0", "Tasks", []string{"rec1"})
		require.NoError(t, err)
		assert.Equal(t, "RECORD_ID()='rec1'", gotFormula)
	})

	t.Run("no ids is a no-op", func(t *testing.T) {
		records, err := client.FetchRecordsByIDs(context.Background(), "v0", "Tasks", nil)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestUpstreamClient_KeyRotation(t *testing.T) {
	var keys []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"records": []any{}})
	}))
	defer server.Close()

	opts := testOptions(t, server.URL)
	opts.APIKeys = []string{"key-a", "key-b"}
	client := airlock.NewUpstreamClient(opts)

	for i := 0; i < 4; i++ {
		_, _, err := client.FindUserByUsername(context.Background(), "alice")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Bearer key-a", "Bearer key-b", "Bearer key-a", "Bearer key-b"}, keys)
}
