package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{fmt.Errorf("engine: resolve: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{domain.ErrDuplicateAddress, http.StatusConflict},
		{domain.ErrBetTooLow, http.StatusBadRequest},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrTimelockNotExpired, http.StatusTooEarly},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestDecodeBody(t *testing.T) {
	decode := func(body string) error {
		r := httptest.NewRequest("POST", "/", strings.NewReader(body))
		var req placeBetRequest
		return decodeBody(r, &req)
	}

	require.NoError(t, decode(`{"amount":100000,"outcome":"yes"}`))

	err := decode(`{"amount":0,"outcome":"yes"}`)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Contains(t, err.Error(), "amount failed required")

	require.ErrorIs(t, decode(`{"amount":1,"outcome":"perhaps"}`), domain.ErrInvalidInput)
	require.ErrorIs(t, decode(`{"amount":-1,"outcome":"yes"}`), domain.ErrInvalidInput)
	require.ErrorIs(t, decode(`not json`), domain.ErrInvalidInput)
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/audit?limit=9999&offset=-3", nil)
	opts := parseListOpts(r)
	require.Equal(t, 500, opts.Limit)
	require.Equal(t, 0, opts.Offset)
}
