package responses

import (
	"encoding/xml"
	"net/url"
	"strings"
	"time"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// FileEntryResponse describes one stored file.
type FileEntryResponse struct {
	Filename      string `json:"filename" xml:"filename"`
	ContentLength int64  `json:"contentLength" xml:"contentLength"`
	ContentType   string `json:"contentType" xml:"contentType"`
	MD5Hash       string `json:"md5hash" xml:"md5hash"`
	LastModified  string `json:"lastModified,omitempty" xml:"lastModified,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty" xml:"downloadUrl,omitempty"`
}

// ManifestResponse lists the files of a row.
type ManifestResponse struct {
	XMLName xml.Name            `json:"-" xml:"manifest"`
	Files   []FileEntryResponse `json:"files" xml:"file"`
}

// DiffResponse tells a client what to fetch and what to push.
type DiffResponse struct {
	XMLName   xml.Name            `json:"-" xml:"diff"`
	ToSend    []FileEntryResponse `json:"toSend" xml:"toSend>file"`
	ToReceive []string            `json:"toReceive" xml:"toReceive>filename"`
}

// PartStatus reports the outcome of one uploaded part.
type PartStatus struct {
	Filename      string `json:"filename" xml:"filename"`
	Outcome       string `json:"outcome" xml:"outcome"`
	Unchanged     bool   `json:"unchanged,omitempty" xml:"unchanged,omitempty"`
	ContentLength int64  `json:"contentLength" xml:"contentLength"`
	MD5Hash       string `json:"md5hash" xml:"md5hash"`
}

// UploadResponse is returned by bulk upload.
type UploadResponse struct {
	XMLName xml.Name     `json:"-" xml:"upload"`
	Files   []PartStatus `json:"files" xml:"file"`
}

// FileURLBuilder renders downloadUrl values for a scope.
type FileURLBuilder struct {
	base  string
	scope rowfiles.RowScope
}

// NewFileURLBuilder builds URLs under base, which is the public service origin.
func NewFileURLBuilder(base string, scope rowfiles.RowScope) FileURLBuilder {
	return FileURLBuilder{base: strings.TrimRight(base, "/"), scope: scope}
}

// FileURL returns the single-file endpoint for an instance-relative path.
func (b FileURLBuilder) FileURL(path string) string {
	var sb strings.Builder
	sb.WriteString(b.base)
	sb.WriteString(AttachmentsPath(b.scope))
	sb.WriteString("/file/")
	sb.WriteString(url.PathEscape(b.scope.AppID))
	for _, seg := range rowfiles.SplitPath(path) {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(seg))
	}
	return sb.String()
}

// AttachmentsPath is the route prefix of a scope's attachment endpoints.
func AttachmentsPath(scope rowfiles.RowScope) string {
	return "/v1/odktables/" + url.PathEscape(scope.AppID) +
		"/tables/" + url.PathEscape(scope.TableID) +
		"/attachments/" + url.PathEscape(scope.SchemaETag) +
		"/" + url.PathEscape(scope.RowID)
}

func NewFileEntryResponse(entry rowfiles.FileEntry, urls *FileURLBuilder) FileEntryResponse {
	resp := FileEntryResponse{
		Filename:      entry.Path,
		ContentLength: entry.ContentLength,
		ContentType:   entry.ContentType,
		MD5Hash:       entry.ContentHash,
	}
	if !entry.LastModified.IsZero() {
		resp.LastModified = entry.LastModified.UTC().Format(time.RFC3339)
	}
	if urls != nil {
		resp.DownloadURL = urls.FileURL(entry.Path)
	}
	return resp
}

func NewManifestResponse(m *rowfiles.Manifest, urls *FileURLBuilder) ManifestResponse {
	resp := ManifestResponse{Files: make([]FileEntryResponse, 0, len(m.Files))}
	for _, f := range m.Files {
		resp.Files = append(resp.Files, NewFileEntryResponse(f, urls))
	}
	return resp
}

func NewDiffResponse(d rowfiles.DiffResult, urls *FileURLBuilder) DiffResponse {
	resp := DiffResponse{
		ToSend:    make([]FileEntryResponse, 0, len(d.ToSend)),
		ToReceive: append([]string{}, d.ToReceive...),
	}
	for _, f := range d.ToSend {
		resp.ToSend = append(resp.ToSend, NewFileEntryResponse(f, urls))
	}
	return resp
}

func NewUploadResponse(batch *rowfiles.TransferBatch) UploadResponse {
	resp := UploadResponse{Files: make([]PartStatus, 0, len(batch.Parts))}
	for _, p := range batch.Parts {
		resp.Files = append(resp.Files, PartStatus{
			Filename:      p.Entry.Path,
			Outcome:       string(p.Outcome),
			Unchanged:     p.Unchanged,
			ContentLength: p.Entry.ContentLength,
			MD5Hash:       p.Entry.ContentHash,
		})
	}
	return resp
}
