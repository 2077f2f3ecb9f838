package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp["error"]
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"count": 42})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":42}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, http.StatusConflict, "busy"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, decodeError(t, rec))
		})
	}
}

func TestReadJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		var b body
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		require.NoError(t, ReadJSON(req, &b))
		assert.Equal(t, "x", b.Name)
	})

	t.Run("empty", func(t *testing.T) {
		b := body{Name: "keep"}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		require.NoError(t, ReadJSON(req, &b))
		assert.Equal(t, "keep", b.Name)
	})

	for name, in := range map[string]string{
		"unknown field": `{"other":1}`,
		"syntax":        `{"name":`,
		"trailing":      `{"name":"a"} {"name":"b"}`,
		"too large":     `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var b body
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(in))
			assert.Error(t, ReadJSON(req, &b))
		})
	}
}
