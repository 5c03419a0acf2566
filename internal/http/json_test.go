package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "monitor already running",
			err:        model.ErrMonitorRunning,
			wantStatus: http.StatusConflict,
			wantCode:   "conflict",
		},
		{
			name:       "monitor not running",
			err:        model.ErrMonitorNotRunning,
			wantStatus: http.StatusConflict,
			wantCode:   "conflict",
		},
		{
			name:       "job not found",
			err:        model.ErrJobNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "validation error",
			err:        apperrors.Validation("topic is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
		},
		{
			name:       "wrapped validation error",
			err:        apperrors.Wrap(errors.New("topic is required"), apperrors.ErrCodeValidation, "invalid job request"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
		},
		{
			name:       "blocked content",
			err:        apperrors.Blocked("Content blocked: Blocked keyword detected"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "blocked",
		},
		{
			name:       "unavailable collaborator",
			err:        apperrors.Unavailable("generation backend unreachable"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "unavailable",
		},
		{
			name:       "untyped error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.err.Error(), body["message"])
		})
	}
}

func TestDecodeJSONRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Body = http.NoBody

	rec := httptest.NewRecorder()
	var dst struct{ Topic string }
	ok := DecodeJSON(rec, req, &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
