// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/homelab-tools/quartermaster/internal/config"
)

// RoleAdmin is the only role Quartermaster knows about today. The claim
// exists so finer-grained roles can be added without reissuing the token
// format.
const RoleAdmin = "admin"

// CredentialVerifier checks the admin login against the configured
// username and bcrypt password hash.
type CredentialVerifier struct {
	username     string
	passwordHash []byte
}

// NewCredentialVerifier builds a verifier from config. The password hash
// must be a bcrypt hash; generate one with `htpasswd -bnBC 12 "" <pw>` or
// the HashPassword helper.
func NewCredentialVerifier(cfg *config.SecurityConfig) (*CredentialVerifier, error) {
	if cfg.AdminUsername == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("admin password hash is required")
	}
	if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash is not a valid bcrypt hash: %w", err)
	}

	return &CredentialVerifier{
		username:     cfg.AdminUsername,
		passwordHash: []byte(cfg.AdminPasswordHash),
	}, nil
}

// Verify checks a username/password pair. Both comparisons run regardless
// of the username result so timing does not leak which field was wrong.
func (v *CredentialVerifier) Verify(username, password string) error {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	passwordErr := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password))

	if !usernameMatch || passwordErr != nil {
		return fmt.Errorf("invalid username or password")
	}
	return nil
}

// HashPassword produces a bcrypt hash suitable for admin_password_hash.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
