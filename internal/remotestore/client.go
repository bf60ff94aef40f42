// Package remotestore talks to the reader app's content server: a single
// basic-auth HTTP endpoint fronting the device's file storage. All
// operations are synchronous; the only asynchrony is the bounded retry
// loop around uploads.
package remotestore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dwaller/shelfsync/internal/constants"
	"github.com/dwaller/shelfsync/internal/domain"
	"github.com/dwaller/shelfsync/internal/logger"
)

// Client is a content-server client. Not safe for concurrent use by
// multiple sync runs; the sync pipeline is single-worker by design.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	log        *logger.Logger

	attempts int
	backoff  time.Duration
}

// New creates a content-server client for the given base URL and
// credentials.
func New(serverURL, username, password string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		baseURL:  strings.TrimSuffix(serverURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
		log:      log.WithComponent("remotestore"),
		attempts: constants.UploadAttempts,
		backoff:  constants.UploadRetryBackoff,
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// WithRetryPolicy overrides the upload retry attempts and backoff.
func (c *Client) WithRetryPolicy(attempts int, backoff time.Duration) *Client {
	c.attempts = attempts
	c.backoff = backoff
	return c
}

func (c *Client) newRequest(ctx context.Context, method, urlPath string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+urlPath, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	return req, nil
}

// postForm issues a form-encoded POST, the shape the server expects for
// its create and delete endpoints.
func (c *Client) postForm(ctx context.Context, urlPath string, form url.Values) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, urlPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.httpClient.Do(req)
}

// Probe checks connectivity and credentials with a GET on the server
// root, then makes sure the covers directory exists. A failed probe is
// fatal to the run.
func (c *Client) Probe(ctx context.Context) error {
	c.log.Info("Logging in to content server", "url", c.baseURL)
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login probe returned %s", domain.ErrConnectivity, resp.Status)
	}
	return c.CreatePath(ctx, strings.Trim(constants.RemoteCoversDir, "/"))
}

// FileExists reports whether a remote file exists. Transport errors
// degrade to false; callers must tolerate false negatives.
func (c *Client) FileExists(ctx context.Context, remotePath string) bool {
	return c.headOK(ctx, "/download?path="+url.QueryEscape(remotePath))
}

// DirExists reports whether a remote directory exists. Transport errors
// degrade to false.
func (c *Client) DirExists(ctx context.Context, remoteDir string) bool {
	return c.headOK(ctx, "/list?path="+url.QueryEscape(remoteDir))
}

func (c *Client) headOK(ctx context.Context, urlPath string) bool {
	req, err := c.newRequest(ctx, http.MethodHead, urlPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("existence probe failed", "path", urlPath, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CreatePath creates each missing ancestor of fullPath on the server,
// top-down. The server can only create one level at a time. Idempotent.
func (c *Client) CreatePath(ctx context.Context, fullPath string) error {
	// Remote paths always use forward slashes, never the host separator.
	cur := ""
	for _, part := range strings.Split(strings.Trim(fullPath, "/"), "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		if c.DirExists(ctx, cur) {
			continue
		}
		c.log.Info("Creating remote directory", "path", cur)
		resp, err := c.postForm(ctx, "/create", url.Values{"path": {cur}})
		if err != nil {
			return fmt.Errorf("create %s: %w", cur, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("create %s: %s", cur, resp.Status)
		}
	}
	return nil
}

// DeletePath removes a remote file or directory. Returns false on any
// failure, including "not found"; it never raises.
func (c *Client) DeletePath(ctx context.Context, remotePath string) bool {
	c.log.Debug("Deleting remote path", "path", remotePath)
	resp, err := c.postForm(ctx, "/delete", url.Values{"path": {remotePath}})
	if err != nil {
		c.log.Debug("delete failed", "path", remotePath, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// DownloadFile streams a remote file to localPath. A non-200 response is
// logged and leaves localPath untouched.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	c.log.Info("Downloading", "remote", remotePath, "local", localPath)
	req, err := c.newRequest(ctx, http.MethodGet, "/download?path="+url.QueryEscape(remotePath), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", domain.ErrTransferFailed, remotePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Error("download refused", "remote", remotePath, "status", resp.Status)
		return fmt.Errorf("%w: download %s: %s", domain.ErrTransferFailed, remotePath, resp.Status)
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrTransferFailed, localPath, err)
	}
	return nil
}

// UploadFile uploads a local file into remoteDir. remoteName overrides
// the file name on the server when non-empty. When deleteFirst is set and
// the destination already exists it is deleted before the upload, which
// is how the server replaces files. Transport failures are retried up to
// the configured attempt budget with a fixed backoff; exhaustion returns
// a domain.ErrTransferFailed the caller reports but survives.
func (c *Client) UploadFile(ctx context.Context, localPath, remoteDir, remoteName string, deleteFirst bool) error {
	contents, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrIntegrity, localPath, err)
	}
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	if deleteFirst {
		target := strings.TrimSuffix(remoteDir, "/") + "/" + remoteName
		if c.FileExists(ctx, target) {
			if !c.DeletePath(ctx, target) {
				c.log.Error("could not delete existing remote file", "path", target)
			}
		}
	}

	contentType, body := encodeMultipart(
		[]formField{{name: "path", value: remoteDir}},
		[]filePart{{field: "files[]", filename: remoteName, contents: contents}},
	)

	c.log.Info("Uploading", "local", localPath, "remote", remoteDir+remoteName, "bytes", len(contents))

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		req, err := c.newRequest(ctx, http.MethodPost, "/upload", strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
		}
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = int64(len(body))

		resp, err := c.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			// The server answered; retrying the same body will not help.
			return fmt.Errorf("%w: upload %s: %s", domain.ErrTransferFailed, remoteName, resp.Status)
		}

		lastErr = err
		c.log.Debug("upload attempt failed", "attempt", attempt, "error", err)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrTransferFailed, ctx.Err())
		case <-time.After(c.backoff):
		}
	}
	return fmt.Errorf("%w: upload %s after %d attempts: %v", domain.ErrTransferFailed, remoteName, c.attempts, lastErr)
}

// DownloadDBSnapshot fetches the destination catalog file to localPath,
// keeping a timestamped backup of whatever was there before. Returns
// false when the download produced nothing usable; the run must abort in
// that case rather than mutate missing state.
func (c *Client) DownloadDBSnapshot(ctx context.Context, remotePath, localPath string) bool {
	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		backup := localPath + time.Now().Format("-20060102-150405")
		if err := copyFile(localPath, backup); err != nil {
			c.log.Error("could not back up previous snapshot", "error", err)
		} else {
			c.log.Info("Previous snapshot backed up", "backup", backup)
		}
	}

	if err := c.DownloadFile(ctx, remotePath, localPath); err != nil {
		c.log.Error("snapshot download failed", "error", err)
	}

	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		c.log.Error("No catalog snapshot or it is empty", "path", localPath)
		return false
	}
	return true
}

// UploadDBSnapshot pushes the working catalog file back to its well-known
// application path, replacing the remote copy wholesale.
func (c *Client) UploadDBSnapshot(ctx context.Context, localDBPath string) error {
	return c.UploadFile(ctx, localDBPath, constants.RemoteDBDir, "", true)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

type formField struct {
	name  string
	value string
}

type filePart struct {
	field    string
	filename string
	contents []byte
}

// encodeMultipart builds the multipart/form-data body by hand. The server
// was written against one specific client framing (CRLF-joined parts,
// boundary suffixed with the current unix time), so we reproduce it
// rather than rely on mime/multipart's own layout.
func encodeMultipart(fields []formField, files []filePart) (contentType, body string) {
	boundary := "-----------------------------" + strconv.FormatInt(time.Now().Unix(), 10)
	var lines []string
	for _, f := range fields {
		lines = append(lines,
			"--"+boundary,
			fmt.Sprintf("Content-Disposition: form-data; name=%q", f.name),
			"",
			f.value)
	}
	for _, f := range files {
		lines = append(lines,
			"--"+boundary,
			fmt.Sprintf("Content-Disposition: form-data; name=%q; filename=%q", f.field, f.filename),
			"Content-Type: "+contentTypeFor(f.filename),
			"",
			string(f.contents))
	}
	lines = append(lines, "--"+boundary+"--", "")
	return "multipart/form-data; boundary=" + boundary, strings.Join(lines, "\r\n")
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
