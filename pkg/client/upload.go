package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/pkg/models"
	"github.com/bina/bimsync/pkg/protocol"
)

// ReportUpload describes one clash report submission.
type ReportUpload struct {
	FilePath    string
	Category    models.ClashCategory
	Name        string // optional
	Description string // optional
}

// UploadReport submits a clash-detection report. It never returns an error:
// every failure is folded into a result with Success=false, because the
// upload is the last step of a user action with nothing left to recover.
func (c *Client) UploadReport(ctx context.Context, projectID int, accessToken string, rep ReportUpload) protocol.UploadResult {
	result := c.uploadReport(ctx, projectID, accessToken, rep)
	metrics.RecordReportUpload(result.Success)
	if !result.Success {
		logging.WithContext(ctx).Warn("report upload failed",
			logging.Int("project_id", projectID),
			logging.String("file", rep.FilePath),
			logging.String("message", result.Message),
		)
	}
	return result
}

func (c *Client) uploadReport(ctx context.Context, projectID int, accessToken string, rep ReportUpload) protocol.UploadResult {
	const op = "upload_report"

	switch {
	case projectID <= 0:
		return failed("No project selected.")
	case accessToken == "":
		return failed("Not logged in.")
	case rep.FilePath == "":
		return failed("Please select a file to upload.")
	case !rep.Category.Valid():
		return failed("Please select a category.")
	}

	body, contentType, err := buildReportBody(rep)
	if err != nil {
		return failed(fmt.Sprintf("Upload failed: %v", err))
	}

	path := fmt.Sprintf("/api/clash-detection/project/%d/upload", projectID)
	req, err := c.newRequest(ctx, http.MethodPost, path, accessToken, body)
	if err != nil {
		return failed(fmt.Sprintf("Upload failed: %v", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(c.uploadClient, op, req)
	if err != nil {
		return failed(describeUploadError(err))
	}

	var result protocol.UploadResult
	if err := decodeBody(ctx, op, resp, &result); err != nil {
		return failed(fmt.Sprintf("Upload failed: unexpected response from server (%v)", err))
	}
	if !result.Success && result.Message == "" {
		result.Message = "Upload failed. Please try again."
	}
	return result
}

// buildReportBody renders the multipart form in memory. Reports are HTML
// exports of a few megabytes at most.
func buildReportBody(rep ReportUpload) (*bytes.Buffer, string, error) {
	f, err := os.Open(rep.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(rep.FilePath))))
	h.Set("Content-Type", "text/html")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read report: %w", err)
	}

	if err := w.WriteField("category", string(rep.Category)); err != nil {
		return nil, "", err
	}
	if name := strings.TrimSpace(rep.Name); name != "" {
		if err := w.WriteField("name", name); err != nil {
			return nil, "", err
		}
	}
	if desc := strings.TrimSpace(rep.Description); desc != "" {
		if err := w.WriteField("description", desc); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func describeUploadError(err error) string {
	e, ok := AsError(err)
	if !ok {
		return fmt.Sprintf("Upload failed: %v", err)
	}
	switch e.Kind {
	case KindUnauthorized:
		return "Upload failed: session expired, please log in again."
	case KindTransport:
		return fmt.Sprintf("Upload failed: could not reach server (%v)", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("Upload failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Upload failed (%d).", e.StatusCode)
}

func failed(msg string) protocol.UploadResult {
	return protocol.UploadResult{Success: false, Message: msg}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
