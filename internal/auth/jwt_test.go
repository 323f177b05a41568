package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

func TestVerifierRoundTrip(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	token, err := v.Sign(shared.Identity{UserID: 7, Role: shared.RoleUser, ChurchIDs: []int64{3}}, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, int64(7), id.UserID)
	require.False(t, id.IsAdmin())
	require.True(t, id.BelongsTo(3))
}

func TestVerifierRejectsExpiredAndForeignTokens(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	expired, err := v.Sign(shared.Identity{UserID: 1, Role: shared.RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	other, err := NewVerifier("other")
	require.NoError(t, err)
	foreign, err := other.Sign(shared.Identity{UserID: 1, Role: shared.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 1, Role: "ROOT"})
	signed, err := noRole.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Parse(signed)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestMiddlewareAndRequireAdmin(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	handler := v.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	userToken, _ := v.Sign(shared.Identity{UserID: 2, Role: shared.RoleUser}, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	adminToken, _ := v.Sign(shared.Identity{UserID: 1, Role: shared.RoleAdmin}, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}
