package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("users: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("users: %w", ErrDuplicate), http.StatusConflict},
		{ErrValidation, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("pg: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Empty(t, body.Detail)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}
	decode := func(raw string) (body, error) {
		var out body
		req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(raw))
		return out, DecodeJSON(req, &out)
	}

	got, err := decode(`{"email":"a@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = decode(`{"email":"a@example.com","role":"super_user"}`)
	assert.Error(t, err, "unknown fields are rejected")

	_, err = decode(`{"email":"a@example.com"}{"email":"b@example.com"}`)
	assert.Error(t, err, "a second document is rejected")
}
