package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/marketplace-api/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("op: %w: username already exists", model.ErrConflict), http.StatusConflict, "username already exists"},
		{fmt.Errorf("op: %w: bad signature", model.ErrUnauthenticated), http.StatusUnauthorized, "unauthenticated"},
		{fmt.Errorf("op: %w: role buyer not permitted", model.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("review 3: %w", model.ErrNotFound), http.StatusNotFound, "not found"},
		{fmt.Errorf("%w: grade must be between 1 and 5", model.ErrInvalidInput), http.StatusBadRequest, "grade must be between 1 and 5"},
		{model.ErrDomainInvariant, http.StatusBadRequest, "domain invariant violation"},
		{fmt.Errorf("op: %w: dial tcp", model.ErrStorageUnavailable), http.StatusServiceUnavailable, "storage unavailable"},
		{fmt.Errorf("op: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "request timed out"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		status, msg := classify(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.msg, msg, tc.err.Error())
	}
}
