// Package transfer downloads discipline files from their shared URLs into
// the local download tree.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
	"github.com/bina/bimsync/internal/storage/local"
	"github.com/bina/bimsync/pkg/client"
	"github.com/bina/bimsync/pkg/models"
)

const op = "download_file"

// Config holds downloader configuration.
type Config struct {
	Timeout          time.Duration
	UserAgent        string
	SkipProxyWarning bool
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	// Now is used for the fallback file name.
	Now func() time.Time
}

// Downloader fetches files over HTTP and writes them atomically.
type Downloader struct {
	httpClient       *http.Client
	userAgent        string
	skipProxyWarning bool
	now              func() time.Time
}

// New creates a new downloader.
func New(cfg Config) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: time.Minute,
		}
	}
	return &Downloader{
		httpClient:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		userAgent:        cfg.UserAgent,
		skipProxyWarning: cfg.SkipProxyWarning,
		now:              cfg.Now,
	}
}

// FileNameFromURL returns the last path segment of rawURL, or a timestamped
// fallback name when the URL has none.
func FileNameFromURL(rawURL string, now time.Time) string {
	if u, err := url.Parse(rawURL); err == nil {
		name := u.Path[strings.LastIndex(u.Path, "/")+1:]
		if name != "" && name != "." && name != ".." {
			return name
		}
	}
	return fmt.Sprintf("discipline_file_%s.nwd", now.Format("20060102_150405"))
}

// LocalName is the name a download is stored under: fileName reduced to a
// single path element, or the name derived from rawURL when fileName is
// empty.
func LocalName(fileName, rawURL string, now time.Time) string {
	if strings.TrimSpace(fileName) == "" {
		fileName = FileNameFromURL(rawURL, now)
	}
	return models.PathElement(fileName)
}

// DownloadFile fetches rawURL into destDir/fileName and returns the local
// path. An empty fileName is derived from the URL. The destination is only
// replaced once the whole body has been received.
func (d *Downloader) DownloadFile(ctx context.Context, rawURL, destDir, fileName string) (string, error) {
	start := time.Now()
	log := logging.WithContext(ctx)

	fileName = LocalName(fileName, rawURL, d.now())

	if err := os.MkdirAll(destDir, 0755); err != nil {
		metrics.RecordTransfer(0, time.Since(start), false)
		return "", client.NewError(client.KindIO, op, fmt.Errorf("create %s: %w", destDir, err))
	}
	dest := filepath.Join(destDir, fileName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.RecordTransfer(0, time.Since(start), false)
		return "", client.NewError(client.KindTransport, op, err)
	}
	client.ApplyHeaders(req, d.userAgent, d.skipProxyWarning)

	log.Debug("download started",
		logging.String("url", req.URL.Redacted()),
		logging.String("dest", dest),
	)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		metrics.RecordTransfer(0, time.Since(start), false)
		return "", client.NewError(client.KindTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordTransfer(0, time.Since(start), false)
		e := client.StatusError(op, resp)
		// Any non-2xx from a share link is a server-side failure.
		e.Kind = client.KindServerError
		return "", e
	}

	body := &readTracker{r: resp.Body}
	n, err := local.WriteFileAtomic(dest, body, 0644)
	if err != nil {
		metrics.RecordTransfer(n, time.Since(start), false)
		kind := client.KindIO
		if body.err != nil {
			kind = client.KindTransport
		}
		return "", client.NewError(kind, op, err)
	}

	metrics.RecordTransfer(n, time.Since(start), true)
	log.Debug("download finished",
		logging.String("dest", dest),
		logging.Int64("bytes", n),
		logging.Duration("duration", time.Since(start)),
	)
	return dest, nil
}

// readTracker remembers the first read error so a broken connection is not
// reported as a local write failure.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
