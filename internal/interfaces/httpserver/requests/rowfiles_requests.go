package requests

import (
	"encoding/xml"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// FileEntry is one file named by a client manifest.
type FileEntry struct {
	Filename      string `json:"filename" xml:"filename"`
	ContentLength int64  `json:"contentLength,omitempty" xml:"contentLength,omitempty"`
	ContentType   string `json:"contentType,omitempty" xml:"contentType,omitempty"`
	MD5Hash       string `json:"md5hash,omitempty" xml:"md5hash,omitempty"`
}

// FileManifest is the manifest body of download and diff requests.
type FileManifest struct {
	XMLName xml.Name    `json:"-" xml:"manifest"`
	Files   []FileEntry `json:"files" xml:"file"`
}

// ToDomain converts the manifest for a scope. Paths are validated later.
func (m *FileManifest) ToDomain(scope rowfiles.RowScope) *rowfiles.Manifest {
	out := &rowfiles.Manifest{Scope: scope, Files: make([]rowfiles.FileEntry, 0, len(m.Files))}
	for _, f := range m.Files {
		out.Files = append(out.Files, rowfiles.FileEntry{
			Path:          f.Filename,
			ContentLength: f.ContentLength,
			ContentHash:   f.MD5Hash,
			ContentType:   f.ContentType,
		})
	}
	return out
}
