// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// CreateUser inserts a new user. The caller decides role (first
// registered user becomes admin; later registrations start pending
// until an admin promotes them, per spec.md §3).
func (s *Store) CreateUser(username, passwordHash string, role Role, userType UserType) (User, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO users (username, password_hash, role, user_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		username, passwordHash, string(role), string(userType), now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash, Role: role, UserType: userType, CreatedAt: now}, nil
}

// UserCount returns how many users exist, used to decide whether a new
// registration should become the first admin.
func (s *Store) UserCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// GetUserByUsername looks up a user by username.
func (s *Store) GetUserByUsername(username string) (User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT id, username, password_hash, role, user_type, created_at FROM users WHERE username = ?`, username))
}

// GetUser looks up a user by ID.
func (s *Store) GetUser(id int64) (User, error) {
	return scanUser(s.db.QueryRow(
		`SELECT id, username, password_hash, role, user_type, created_at FROM users WHERE id = ?`, id))
}

// GetOrCreateMindUser returns the mind-type user whose username matches
// mindName, auto-creating it on first participant add (spec.md §3).
func (s *Store) GetOrCreateMindUser(mindName string) (User, error) {
	u, err := s.GetUserByUsername(mindName)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	return s.CreateUser(mindName, "", RoleUser, UserTypeMind)
}

// SetRole promotes/demotes a user.
func (s *Store) SetRole(userID int64, role Role) error {
	_, err := s.db.Exec(`UPDATE users SET role = ? WHERE id = ?`, string(role), userID)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var role, userType, createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &userType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	u.UserType = UserType(userType)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err == nil {
		u.CreatedAt = t
	}
	return u, nil
}

// CreateSession issues a new session cookie for userID.
func (s *Store) CreateSession(id string, userID int64) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, user_id, created_at) VALUES (?, ?, ?)`,
		id, userID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSessionUser resolves a session cookie to its owning user.
func (s *Store) GetSessionUser(sessionID string) (User, error) {
	var userID int64
	err := s.db.QueryRow(`SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get session: %w", err)
	}
	return s.GetUser(userID)
}

// DeleteSession revokes a session cookie (logout).
func (s *Store) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
