package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	status int
	err    error
}

func (f fakeProcessor) Handle(context.Context, *http.Request) (int, error) {
	return f.status, f.err
}

func receive(p Processor) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewController(p).Receive(rec, httptest.NewRequest(http.MethodPost, "/event", nil))
	return rec
}

func TestReceive_Accepted(t *testing.T) {
	rec := receive(fakeProcessor{status: http.StatusAccepted})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestReceive_Errors(t *testing.T) {
	cases := map[int]string{
		http.StatusBadRequest:            "BAD_REQUEST",
		http.StatusForbidden:             "FORBIDDEN",
		http.StatusNotFound:              "NOT_FOUND",
		http.StatusConflict:              "CONFLICT",
		http.StatusLengthRequired:        "LENGTH_REQUIRED",
		http.StatusRequestEntityTooLarge: "BODY_TOO_LARGE",
		http.StatusInternalServerError:   "INTERNAL_SERVER_ERROR",
	}
	for status, code := range cases {
		rec := receive(fakeProcessor{status: status, err: errors.New("reason")})
		assert.Equal(t, status, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, code, body["code"])
		assert.NotContains(t, rec.Body.String(), "reason")
	}
}

func TestReceive_MethodNotAllowedSetsAllow(t *testing.T) {
	rec := receive(fakeProcessor{status: http.StatusMethodNotAllowed})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}
