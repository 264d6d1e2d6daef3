package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, WriteJSON(rec, http.StatusCreated, Envelope{"data": map[string]int{"n": 1}}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"n":1}}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, WriteError(rec, http.StatusNotFound, "session not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"session not found"}`, rec.Body.String())
}

func TestWriteJSONUnsupportedValue(t *testing.T) {
	rec := httptest.NewRecorder()

	assert.Error(t, WriteJSON(rec, http.StatusOK, Envelope{"ch": make(chan int)}))
	assert.Equal(t, http.StatusOK, rec.Code, "nothing written")
	assert.Empty(t, rec.Body.String())
}
