// Package rowfilesclient talks to the attachments-api row file endpoints.
package rowfilesclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const attachmentsPath = "/v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}"

// Scope names the row whose attachments are synchronized.
type Scope struct {
	AppID      string
	TableID    string
	SchemaETag string
	RowID      string
}

func (s Scope) params() map[string]string {
	return map[string]string{
		"appId":      s.AppID,
		"tableId":    s.TableID,
		"schemaETag": s.SchemaETag,
		"rowId":      s.RowID,
	}
}

// FileEntry mirrors a manifest entry.
type FileEntry struct {
	Filename      string `json:"filename"`
	ContentLength int64  `json:"contentLength,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	MD5Hash       string `json:"md5hash,omitempty"`
	LastModified  string `json:"lastModified,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
}

// Manifest is the list of files of a row.
type Manifest struct {
	Files []FileEntry `json:"files"`
}

// DiffResult lists the files the client should fetch and push.
type DiffResult struct {
	ToSend    []FileEntry `json:"toSend"`
	ToReceive []string    `json:"toReceive"`
}

// PartStatus is the server verdict for one uploaded file.
type PartStatus struct {
	Filename      string `json:"filename"`
	Outcome       string `json:"outcome"`
	Unchanged     bool   `json:"unchanged,omitempty"`
	ContentLength int64  `json:"contentLength"`
	MD5Hash       string `json:"md5hash"`
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Files []PartStatus `json:"files"`
}

// File is a file body addressed by its instance-relative path.
type File struct {
	Path        string
	ContentType string
	Data        []byte
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	RequestID  string `json:"request_id"`
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("attachments-api %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if sent again later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Client calls the row file endpoints.
type Client struct {
	httpClient *resty.Client
	retries    int
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.httpClient.SetAuthToken(token)
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.SetTimeout(d) }
}

// WithRetries retries requests rejected because the row is locked.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("User-Agent", "Jan-Attachments-Client/1.0").
			SetHeader("Accept", "application/json").
			SetTimeout(60 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs build until it succeeds, fails permanently, or retries run out.
// build is called per attempt so request bodies are never reused.
func (c *Client) do(ctx context.Context, build func() (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := build()
		if err != nil {
			return nil, err
		}
		if !resp.IsError() {
			return resp, nil
		}

		apiErr := toAPIError(resp)
		if !apiErr.Retryable() || attempt >= c.retries {
			return resp, apiErr
		}
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func toAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if e, ok := resp.Error().(*APIError); ok && e != nil {
		apiErr.Code = e.Code
		apiErr.Message = e.Message
		apiErr.RequestID = e.RequestID
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

func (c *Client) request(ctx context.Context, scope Scope) *resty.Request {
	return c.httpClient.R().
		SetContext(ctx).
		SetPathParams(scope.params()).
		SetError(&APIError{})
}

// GetManifest lists the files stored for scope.
func (c *Client) GetManifest(ctx context.Context, scope Scope) (*Manifest, error) {
	var out Manifest
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.request(ctx, scope).SetResult(&out).Get(attachmentsPath + "/manifest")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Diff asks the server which files differ from the local manifest.
func (c *Client) Diff(ctx context.Context, scope Scope, local *Manifest) (*DiffResult, error) {
	var out DiffResult
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.request(ctx, scope).SetBody(local).SetResult(&out).Post(attachmentsPath + "/diff")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Download fetches the listed files. Entries carrying md5hash are skipped by
// the server when they already match; nil is returned when nothing changed.
func (c *Client) Download(ctx context.Context, scope Scope, files []FileEntry) ([]File, error) {
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.request(ctx, scope).
			SetBody(Manifest{Files: files}).
			SetHeader("Accept", "multipart/form-data").
			Post(attachmentsPath + "/download")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	return parseMultipart(scope.AppID, resp.Header().Get("Content-Type"), bytes.NewReader(resp.Body()))
}

// Upload stores files in one all-or-nothing batch.
func (c *Client) Upload(ctx context.Context, scope Scope, files []File) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to upload")
	}
	var out UploadResult
	_, err := c.do(ctx, func() (*resty.Response, error) {
		fields := make([]*resty.MultipartField, 0, len(files))
		for _, f := range files {
			contentType := f.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			fields = append(fields, &resty.MultipartField{
				Param:       "file",
				FileName:    scope.AppID + "/" + strings.TrimPrefix(f.Path, "/"),
				ContentType: contentType,
				Reader:      bytes.NewReader(f.Data),
			})
		}
		return c.request(ctx, scope).SetMultipartFields(fields...).SetResult(&out).Post(attachmentsPath + "/upload")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFile downloads one file.
func (c *Client) GetFile(ctx context.Context, scope Scope, path string) (*File, error) {
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.request(ctx, scope).
			SetHeader("Accept", "*/*").
			Get(attachmentsPath + "/file/" + escapePath(scope.AppID, path))
	})
	if err != nil {
		return nil, err
	}
	return &File{Path: path, ContentType: resp.Header().Get("Content-Type"), Data: resp.Body()}, nil
}

// PutFile stores one file.
func (c *Client) PutFile(ctx context.Context, scope Scope, file File) (*FileEntry, error) {
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var out FileEntry
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.request(ctx, scope).
			SetHeader("Content-Type", contentType).
			SetBody(file.Data).
			SetResult(&out).
			Post(attachmentsPath + "/file/" + escapePath(scope.AppID, file.Path))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func escapePath(appID, path string) string {
	segments := []string{url.PathEscape(appID)}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		segments = append(segments, url.PathEscape(seg))
	}
	return strings.Join(segments, "/")
}

func parseMultipart(appID, contentType string, body io.Reader) ([]File, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parse download content type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("download response has no multipart boundary")
	}

	reader := multipart.NewReader(body, boundary)
	var files []File
	for {
		part, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read download part: %w", err)
		}

		_, disposition, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			return nil, fmt.Errorf("parse part disposition: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}
		files = append(files, File{
			Path:        strings.TrimPrefix(disposition["filename"], appID+"/"),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}
