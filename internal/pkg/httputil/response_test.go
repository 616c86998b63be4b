package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"id": "e1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"id":"e1"}`, rec.Body.String())
}

func TestConflict_CarriesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	Conflict(rec, "enrollment changed")

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", body.Code)
	assert.Equal(t, "enrollment changed", body.Error)
}

func TestInternalError_HidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestDecode(t *testing.T) {
	type payload struct {
		Label string `json:"label"`
	}

	t.Run("valid", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"label":"optin"}`))
		rec := httptest.NewRecorder()
		require.True(t, Decode(rec, req, &p))
		assert.Equal(t, "optin", p.Label)
	})

	t.Run("empty body", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		rec := httptest.NewRecorder()
		assert.False(t, Decode(rec, req, &p))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"labl":"x"}`))
		rec := httptest.NewRecorder()
		assert.False(t, Decode(rec, req, &p))
	})
}
