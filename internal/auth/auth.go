// Package auth maps (email, password, tenant) to a session and resolves
// session IDs presented in hello messages. Sessions are HS256 JWTs so the
// hub stays stateless about them. Credential storage and password hashing
// are external concerns; the built-in authenticator holds a static user
// table for LAN deployments seeded at startup.
package auth

import (
	"errors"
	"time"
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// tenant mismatches alike, so the login surface leaks nothing.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is an entry of the static user table.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
	Role     string `json:"role,omitempty"`
	Password string `json:"-"`
}

// Session is a resolved, verified session.
type Session struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	TenantID string    `json:"tenantId"`
	Role     string    `json:"role,omitempty"`
	Expires  time.Time `json:"expiresAt"`
}

// Authenticator is the pluggable credential backend.
type Authenticator interface {
	// Login checks credentials and mints a session token.
	Login(email, password, tenantID string) (*User, string, time.Time, error)
	// Resolve verifies a session token from a hello message.
	Resolve(sessionID string) (*Session, error)
}

// StaticAuthenticator authenticates against a fixed user table.
type StaticAuthenticator struct {
	users map[string]User // email → user
	jwt   *JWTManager
}

// NewStaticAuthenticator builds an authenticator over the given users.
func NewStaticAuthenticator(users []User, jwt *JWTManager) *StaticAuthenticator {
	byEmail := make(map[string]User, len(users))
	for _, u := range users {
		byEmail[u.Email] = u
	}
	return &StaticAuthenticator{users: byEmail, jwt: jwt}
}

// DefaultUsers returns the demo user table used when no external table is
// wired. Plaintext comparison is deliberate here: hashing is out of scope
// for the hub and belongs to the real credential backend.
func DefaultUsers() []User {
	return []User{
		{ID: "u_manager", Email: "manager@demo.local", Name: "Demo Manager", TenantID: "demo", Role: "manager", Password: "demo1234"},
		{ID: "u_cashier1", Email: "cashier1@demo.local", Name: "Cashier One", TenantID: "demo", Role: "cashier", Password: "demo1234"},
		{ID: "u_cashier2", Email: "cashier2@demo.local", Name: "Cashier Two", TenantID: "demo", Role: "cashier", Password: "demo1234"},
	}
}

func (a *StaticAuthenticator) Login(email, password, tenantID string) (*User, string, time.Time, error) {
	u, ok := a.users[email]
	if !ok || u.Password != password || u.TenantID != tenantID {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	token, expiresAt, err := a.jwt.Generate(u.ID, u.Name, u.TenantID, u.Role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	cp := u
	return &cp, token, expiresAt, nil
}

func (a *StaticAuthenticator) Resolve(sessionID string) (*Session, error) {
	claims, err := a.jwt.Verify(sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		Expires:  claims.ExpiresAt.Time,
	}, nil
}
