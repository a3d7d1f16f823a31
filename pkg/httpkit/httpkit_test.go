package httpkit_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/pkg/httpkit"
)

func TestJSON(t *testing.T) {
	t.Parallel()

	// Arrange
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	// Act
	httpkit.JSON(map[string]int{"delegations": 3})(rec, req)

	// Assert
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"delegations":3}`, rec.Body.String())
}

func TestJsonError(t *testing.T) {
	t.Parallel()

	t.Run("it exposes client error causes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		cause := errors.New("invalid wallet address")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req = req.WithContext(httpkit.WithErrorTracking(req.Context()))

		// Act
		httpkit.JsonError(httpkit.NewError(http.StatusBadRequest, cause))(rec, req)

		// Assert
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"code":400,"message":"invalid wallet address"}`, rec.Body.String())
		assert.ErrorIs(t, httpkit.ErrorFrom(req.Context()), cause, "error is tracked for the logging middleware")
	})

	t.Run("it hides server error causes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)

		// Act
		httpkit.JsonError(httpkit.NewError(http.StatusInternalServerError, errors.New("pool exhausted")))(rec, req)

		// Assert
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Internal Server Error", body["message"])
	})
}
