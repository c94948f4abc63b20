// Package protocol defines the request/response types of the BINA cloud API.
// The discipline listing has its own decoder in internal/listing.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bina/bimsync/pkg/models"
)

// LoginRequest is the body for POST /api/auth/user/sign-in.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResponse is returned by POST /api/auth/user/sign-in.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// AccessTokenExpiry is in epoch milliseconds; 0 when the server omits it.
	AccessTokenExpiry int64 `json:"accessTokenExpiry"`
	UserID            int   `json:"userId"`
}

// ProjectsResponse is returned by GET /api/cloud-docs/bim-discipline/user/projects.
// Older servers wrap the array in {"projects": [...]}; both are accepted.
type ProjectsResponse struct {
	Projects []models.ProjectRef `json:"projects"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ProjectsResponse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty projects response")
	}
	switch data[0] {
	case '[':
		return json.Unmarshal(data, &p.Projects)
	case '{':
		var wrapped struct {
			Projects []models.ProjectRef `json:"projects"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		p.Projects = wrapped.Projects
		return nil
	case 'n':
		p.Projects = nil
		return nil
	default:
		return fmt.Errorf("unexpected projects response starting with %q", data[0])
	}
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Text returns the most specific message carried by the response.
func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// UploadData describes an accepted clash report.
type UploadData struct {
	ID          models.FlexString `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	FileName    string            `json:"fileName,omitempty"`
	FileURL     string            `json:"fileUrl,omitempty"`
	CreatedAt   string            `json:"createdAt,omitempty"`
}

// UploadResult is returned by POST /api/clash-detection/project/{id}/upload
// and is also the folded result of a failed upload attempt.
type UploadResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    *UploadData `json:"data,omitempty"`
}
