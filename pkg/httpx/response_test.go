package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewConfigurationError("bad period"), http.StatusBadRequest},
		{fmt.Errorf("run: %w", domain.NewContinuityViolationError("gap")), http.StatusConflict},
		{domain.NewDataUnavailableError("get", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRespondDomainError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondDomainError(rr, domain.NewConfigurationError("unknown channel %q", "Q"))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Contains(t, resp.Message, `unknown channel "Q"`)
}
