// Package session persists the signed-in user, the selected project and the
// last download root between invocations.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bina/bimsync/internal/storage/local"
	"github.com/bina/bimsync/pkg/protocol"
)

// DefaultTokenLifetime applies when the server reports no expiry.
const DefaultTokenLifetime = 24 * time.Hour

// ErrNoState is returned by Load when no state file exists yet.
var ErrNoState = errors.New("no saved session")

// State is the persisted session record. The password is never stored.
type State struct {
	Email            string    `json:"email,omitempty"`
	ProjectID        int       `json:"projectId,omitempty"`
	UserID           int       `json:"userId,omitempty"`
	UserName         string    `json:"userName,omitempty"`
	ProjectName      string    `json:"projectName,omitempty"`
	AccessToken      string    `json:"accessToken,omitempty"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	TokenExpiry      time.Time `json:"tokenExpiry,omitzero"`
	LastDownloadPath string    `json:"lastDownloadPath,omitempty"`
}

// IsLoggedIn reports whether a token, a user and a project are all present.
func (s State) IsLoggedIn() bool {
	return s.AccessToken != "" && s.UserName != "" && s.ProjectID > 0
}

// IsAuthenticated reports whether the access token is present and not
// expired at now. The stored expiry wins; otherwise the token's own exp
// claim is used. A token with no known expiry is assumed valid.
func (s State) IsAuthenticated(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	exp := s.TokenExpiry
	if exp.IsZero() {
		exp, _ = TokenExpiryFromJWT(s.AccessToken)
	}
	return exp.IsZero() || now.Before(exp)
}

// ApplyLogin records a successful sign-in. The previously selected project
// is kept so a re-login does not force a new selection.
func (s *State) ApplyLogin(email string, resp *protocol.LoginResponse, now time.Time) {
	s.Email = email
	s.UserName = email
	s.UserID = resp.UserID
	s.AccessToken = resp.AccessToken
	s.RefreshToken = resp.RefreshToken
	if resp.AccessTokenExpiry > 0 {
		s.TokenExpiry = time.UnixMilli(resp.AccessTokenExpiry)
	} else {
		s.TokenExpiry = now.Add(DefaultTokenLifetime)
	}
}

// SelectProject records the sync target.
func (s *State) SelectProject(id int, name string) {
	s.ProjectID = id
	s.ProjectName = name
}

// ClearSession drops identity, tokens and the selected project. The last
// download root survives a logout.
func (s *State) ClearSession() {
	*s = State{LastDownloadPath: s.LastDownloadPath}
}

// TokenExpiryFromJWT reads the exp claim without verifying the signature.
// The client only uses it to decide whether to prompt for a new sign-in.
func TokenExpiryFromJWT(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Store reads and writes State as JSON at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved state. On any failure it returns the zero State
// together with the error, so callers can continue with defaults and still
// report why. A missing file yields ErrNoState.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, ErrNoState
		}
		return State{}, fmt.Errorf("read session %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse session %s: %w", s.path, err)
	}
	return st, nil
}

// Save writes st atomically with owner-only permissions.
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := local.WriteFileAtomic(s.path, bytes.NewReader(data), 0600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
