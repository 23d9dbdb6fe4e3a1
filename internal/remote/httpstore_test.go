package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/errors"
)

func testStore(t *testing.T, handler http.HandlerFunc) *HTTPStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPStore(config.RemoteConfig{
		BaseURL:        srv.URL,
		TimeoutSeconds: 2,
		APIKey:         "test-key",
	})
}

func TestInsertSendsIdempotencyKeyAndAuth(t *testing.T) {
	var gotKey, gotAuth, gotMethod string
	store := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"r1","notes":"ok"}`))
	})

	created, err := store.Insert(context.Background(), "reports",
		json.RawMessage(`{"notes":"ok"}`), "idem-123")
	require.NoError(t, err)
	assert.Equal(t, "idem-123", gotKey)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "r1", RecordID(created))
}

func TestUpdateUsesPatch(t *testing.T) {
	var gotMethod, gotPath string
	store := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	err := store.Update(context.Background(), "reports", "r1", json.RawMessage(`{"notes":"edit"}`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/reports/r1", gotPath)
}

func TestSelectByIDNotFound(t *testing.T) {
	store := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, found, err := store.SelectByID(context.Background(), "reports", "missing")
	require.NoError(t, err, "404 on select is an answer, not an error")
	assert.False(t, found)
}

func TestSelectAllAppliesFilter(t *testing.T) {
	var gotQuery string
	store := testStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"id":"r1"},{"id":"r2"}]`))
	})

	records, err := store.SelectAll(context.Background(), "reports",
		map[string]string{"project_id": "p1"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "project_id=p1", gotQuery)
}

func TestStatusCodeClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errors.Code
	}{
		{"server error is transient", http.StatusInternalServerError, errors.CodeTransient},
		{"bad gateway is transient", http.StatusBadGateway, errors.CodeTransient},
		{"rate limit is transient", http.StatusTooManyRequests, errors.CodeTransient},
		{"conflict is conflict", http.StatusConflict, errors.CodeConflict},
		{"not found is not found", http.StatusNotFound, errors.CodeNotFound},
		{"bad request is validation", http.StatusBadRequest, errors.CodeValidation},
		{"unprocessable is validation", http.StatusUnprocessableEntity, errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "failure detail", tt.status)
			})
			err := store.Update(context.Background(), "reports", "r1", json.RawMessage(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CodeOf(err))
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := NewHTTPStore(config.RemoteConfig{BaseURL: srv.URL, TimeoutSeconds: 1})
	_, err := store.Insert(context.Background(), "reports", json.RawMessage(`{}`), "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransient, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestRecordProbes(t *testing.T) {
	raw := json.RawMessage(`{"id":"r1","updated_at":12345}`)
	assert.Equal(t, "r1", RecordID(raw))
	assert.Equal(t, int64(12345), RecordTimestamp(raw))

	assert.Empty(t, RecordID(json.RawMessage(`{}`)))
	assert.Zero(t, RecordTimestamp(json.RawMessage(`not json`)))
}
