package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bina/bimsync/internal/listing"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL:          ts.URL,
		Timeout:          2 * time.Second,
		SkipProxyWarning: true,
	})
	return c, ts
}

func TestFetchDisciplineListing_Success(t *testing.T) {
	var gotAuth, gotUA, gotBypass string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/cloud-docs/bim-discipline/project/42/latest-shared-urls" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotBypass = r.Header.Get(ProxyBypassHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Structure": {"folders": [{"id": 1, "name": "L1", "latestFile": {"id": 5, "fileName": "a.nwc", "fileUrl": "https://x/a.nwc"}}]},
			"mechanical": {"folders": [{"id": 2, "name": "M1", "error": "no NWC linked"}]}
		}`))
	}))
	defer ts.Close()

	l, err := c.FetchDisciplineListing(context.Background(), 42, "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("expected user agent %s, got %q", DefaultUserAgent, gotUA)
	}
	if gotBypass != "true" {
		t.Errorf("expected proxy bypass header, got %q", gotBypass)
	}
	if _, ok := l.Get(listing.Structure); !ok {
		t.Error("expected Structure discipline")
	}
	if _, ok := l.Get(listing.Mechanical); !ok {
		t.Error("expected lower-cased mechanical key to be accepted")
	}
	if items := listing.Resolve(l); len(items) != 2 {
		t.Errorf("expected 2 work items, got %d", len(items))
	}
}

func TestFetchDisciplineListing_FailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"token expired"}`, KindUnauthorized},
		{"forbidden", http.StatusForbidden, ``, KindUnauthorized},
		{"not found", http.StatusNotFound, `{"error":"no such project"}`, KindNotFound},
		{"server error", http.StatusInternalServerError, `oops`, KindServerError},
		{"bad gateway", http.StatusBadGateway, ``, KindServerError},
		{"malformed", http.StatusOK, `{"Structure": 12}`, KindMalformed},
		{"not json", http.StatusOK, `<html>proxy warning</html>`, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := c.FetchDisciplineListing(context.Background(), 1, "tok")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("expected kind %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestFetchDisciplineListing_ServerMessage(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"project 7 not found"}`))
	}))
	defer ts.Close()

	_, err := c.FetchDisciplineListing(context.Background(), 7, "tok")
	e, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.StatusCode != http.StatusNotFound || e.Message != "project 7 not found" {
		t.Errorf("unexpected error fields: %+v", e)
	}
}

func TestFetchDisciplineListing_Transport(t *testing.T) {
	c, ts := testClient(http.NotFoundHandler())
	ts.Close()

	_, err := c.FetchDisciplineListing(context.Background(), 1, "tok")
	if !IsKind(err, KindTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestFetchDisciplineListing_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})

	_, err := c.FetchDisciplineListing(context.Background(), 1, "tok")
	if !IsKind(err, KindTransport) {
		t.Errorf("expected transport error on timeout, got %v", err)
	}
}

func TestFetchUserProjects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[{"id": 1, "name": "Tower A"}, {"id": 2, "name": "Tower B", "description": "phase 2"}]`},
		{"wrapped", `{"projects": [{"id": 1, "name": "Tower A"}, {"id": 2, "name": "Tower B"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/cloud-docs/bim-discipline/user/projects" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			projects, err := c.FetchUserProjects(context.Background(), "tok")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(projects) != 2 || projects[1].ID != 2 || projects[1].Name != "Tower B" {
				t.Errorf("unexpected projects: %+v", projects)
			}
		})
	}
}

func TestFetchUserProjects_Unauthorized(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := c.FetchUserProjects(context.Background(), "expired")
	if !IsKind(err, KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/auth/user/sign-in" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["email"] != "ana@example.com" || req["password"] != "secret" || req["rememberMe"] != true {
			t.Errorf("unexpected login body: %v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":       "access-1",
			"refreshToken":      "refresh-1",
			"accessTokenExpiry": 1767225600000,
			"userId":            17,
		})
	}))
	defer ts.Close()

	resp, err := c.Login(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AccessToken != "access-1" || resp.RefreshToken != "refresh-1" {
		t.Errorf("unexpected tokens: %+v", resp)
	}
	if resp.UserID != 17 || resp.AccessTokenExpiry != 1767225600000 {
		t.Errorf("unexpected user/expiry: %+v", resp)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad password"}`},
		{"bad request", http.StatusBadRequest, ``},
		{"server error", http.StatusInternalServerError, ``},
		{"ok without token", http.StatusOK, `{"accessToken": "", "userId": 3}`},
		{"ok with garbage", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := c.Login(context.Background(), "ana@example.com", "wrong")
			if !IsKind(err, KindInvalidCredentials) {
				t.Errorf("expected invalid credentials, got %v", err)
			}
		})
	}
}

func TestLogin_Transport(t *testing.T) {
	c, ts := testClient(http.NotFoundHandler())
	ts.Close()

	_, err := c.Login(context.Background(), "ana@example.com", "secret")
	if !IsKind(err, KindTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindNotFound, Op: "fetch_listing", StatusCode: 404, Message: "missing"}
	want := "fetch_listing: not_found (404): missing"
	if e.Error() != want {
		t.Errorf("expected %q, got %q", want, e.Error())
	}
	if KindOf(nil) != KindUnknown {
		t.Error("expected unknown kind for nil")
	}
}
