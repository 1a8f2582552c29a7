package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsWrappedSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("sales: %w", ErrNotFound), http.StatusNotFound},
		{"duplicate", fmt.Errorf("customers: document 20300123 already registered: %w", ErrDuplicate), http.StatusConflict},
		{"validation", fmt.Errorf("sales: total must be positive: %w", ErrValidation), http.StatusBadRequest},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)

			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.status, problem.Status)
			if tc.status == http.StatusInternalServerError {
				// Internal details never leak to the client.
				require.Empty(t, problem.Detail)
			} else {
				require.Equal(t, tc.err.Error(), problem.Detail)
			}
		})
	}
}
