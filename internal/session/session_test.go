package session

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bina/bimsync/pkg/protocol"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "17"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestStore_LoadMissing(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "state.json")).Load()
	if !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
	if st != (State{}) {
		t.Errorf("expected zero state, got %+v", st)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	st, err := NewStore(path).Load()
	if err == nil || errors.Is(err, ErrNoState) {
		t.Errorf("expected parse error, got %v", err)
	}
	if st != (State{}) {
		t.Errorf("expected zero state on parse error, got %+v", st)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStore(path)

	want := State{
		Email:            "ana@example.com",
		ProjectID:        12,
		UserID:           17,
		UserName:         "ana@example.com",
		ProjectName:      "Tower A",
		AccessToken:      "access",
		RefreshToken:     "refresh",
		TokenExpiry:      now,
		LastDownloadPath: "/data/bim",
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.TokenExpiry.Equal(want.TokenExpiry) {
		t.Errorf("expiry mismatch: %v vs %v", got.TokenExpiry, want.TokenExpiry)
	}
	got.TokenExpiry = want.TokenExpiry
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("expected 0600 permissions, got %o", perm)
		}
	}
}

func TestApplyLogin(t *testing.T) {
	var st State
	st.SelectProject(4, "Depot")
	st.ApplyLogin("ana@example.com", &protocol.LoginResponse{
		AccessToken:       "a",
		RefreshToken:      "r",
		AccessTokenExpiry: now.Add(time.Hour).UnixMilli(),
		UserID:            17,
	}, now)

	if st.UserName != "ana@example.com" || st.UserID != 17 {
		t.Errorf("unexpected identity %+v", st)
	}
	if !st.TokenExpiry.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", st.TokenExpiry)
	}
	if st.ProjectID != 4 || !st.IsLoggedIn() {
		t.Errorf("expected project kept and logged in, got %+v", st)
	}
}

func TestApplyLogin_DefaultExpiry(t *testing.T) {
	var st State
	st.ApplyLogin("ana@example.com", &protocol.LoginResponse{AccessToken: "a"}, now)
	if !st.TokenExpiry.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expected 24h default, got %v", st.TokenExpiry)
	}
}

func TestIsLoggedIn(t *testing.T) {
	full := State{AccessToken: "a", UserName: "u", ProjectID: 1}
	if !full.IsLoggedIn() {
		t.Error("expected logged in")
	}
	noProject := full
	noProject.ProjectID = 0
	if noProject.IsLoggedIn() {
		t.Error("expected not logged in without project")
	}
	noToken := full
	noToken.AccessToken = ""
	if noToken.IsLoggedIn() {
		t.Error("expected not logged in without token")
	}
}

func TestIsAuthenticated(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"no token", State{}, false},
		{"stored expiry in future", State{AccessToken: "opaque", TokenExpiry: now.Add(time.Minute)}, true},
		{"stored expiry passed", State{AccessToken: "opaque", TokenExpiry: now.Add(-time.Minute)}, false},
		{"jwt exp in future", State{AccessToken: signedToken(t, now.Add(time.Hour))}, true},
		{"jwt exp passed", State{AccessToken: signedToken(t, now.Add(-time.Hour))}, false},
		{"jwt without exp", State{AccessToken: signedToken(t, time.Time{})}, true},
		{"opaque without expiry", State{AccessToken: "opaque"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsAuthenticated(now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClearSession(t *testing.T) {
	st := State{
		Email:            "ana@example.com",
		ProjectID:        3,
		AccessToken:      "a",
		UserName:         "ana",
		LastDownloadPath: "/data/bim",
	}
	st.ClearSession()
	if st.IsLoggedIn() || st.AccessToken != "" || st.ProjectID != 0 || st.Email != "" {
		t.Errorf("expected cleared session, got %+v", st)
	}
	if st.LastDownloadPath != "/data/bim" {
		t.Errorf("expected download path kept, got %q", st.LastDownloadPath)
	}
}

func TestTokenExpiryFromJWT(t *testing.T) {
	exp := now.Add(2 * time.Hour)
	got, err := TokenExpiryFromJWT(signedToken(t, exp))
	if err != nil {
		t.Fatalf("TokenExpiryFromJWT: %v", err)
	}
	if got.Unix() != exp.Unix() {
		t.Errorf("expected %v, got %v", exp, got)
	}

	if _, err := TokenExpiryFromJWT("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
