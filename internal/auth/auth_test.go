// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
)

//nolint:gochecknoinits // keep test output clean
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testManager(t *testing.T, timeout time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{JWTSecret: testSecret, SessionTimeout: timeout})
	require.NoError(t, err)
	return m
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := testManager(t, time.Hour)

	token, err := m.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := testManager(t, time.Hour)
	other, err := NewJWTManager(&config.SecurityConfig{JWTSecret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)

	token, err := other.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := testManager(t, time.Millisecond)

	token, err := m.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewJWTManager(&config.SecurityConfig{})
	assert.Error(t, err)
}

func TestHubValidateChecksSubjectOwnership(t *testing.T) {
	m := testManager(t, time.Hour)
	token, err := m.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	principal, err := m.Validate("alice", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)

	// Omitting the user id is fine; the token alone identifies the principal.
	principal, err = m.Validate("", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)

	// Claiming someone else's identity is not.
	_, err = m.Validate("bob", token)
	assert.Error(t, err)
}

func TestCredentialVerifier(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)

	v, err := NewCredentialVerifier(&config.SecurityConfig{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	})
	require.NoError(t, err)

	assert.NoError(t, v.Verify("admin", "correct horse battery"))
	assert.Error(t, v.Verify("admin", "wrong"))
	assert.Error(t, v.Verify("intruder", "correct horse battery"))
}

func TestCredentialVerifierRejectsPlaintextHash(t *testing.T) {
	_, err := NewCredentialVerifier(&config.SecurityConfig{
		AdminUsername:     "admin",
		AdminPasswordHash: "hunter2hunter2",
	})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m := testManager(t, time.Hour)
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := m.GenerateToken("alice", RoleAdmin)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("nil manager disables auth", func(t *testing.T) {
		open := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
