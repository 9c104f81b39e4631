package rowfiles

import (
	"sort"
	"strings"
	"time"
)

// RowScope identifies the attachment namespace of one row.
type RowScope struct {
	AppID      string
	TableID    string
	SchemaETag string
	RowID      string
}

// NewRowScope builds a scope from request path values.
func NewRowScope(appID, tableID, schemaETag, rowID string) RowScope {
	return RowScope{
		AppID:      strings.TrimSpace(appID),
		TableID:    strings.TrimSpace(tableID),
		SchemaETag: strings.TrimSpace(schemaETag),
		RowID:      strings.TrimSpace(rowID),
	}
}

func (s RowScope) String() string {
	return strings.Join([]string{s.AppID, s.TableID, s.SchemaETag, s.RowID}, "/")
}

// LockGranularity selects how much of the namespace a row lock covers.
type LockGranularity string

const (
	LockPerRow   LockGranularity = "row"
	LockPerTable LockGranularity = "table"
)

// LockName returns the lock name guarding writes to the scope.
func (s RowScope) LockName(granularity LockGranularity) string {
	if granularity == LockPerTable {
		return "rowfiles:" + s.AppID + ":" + s.TableID
	}
	return "rowfiles:" + s.AppID + ":" + s.TableID + ":" + s.SchemaETag + ":" + s.RowID
}

// FileEntry is one file of a row's attachment set.
type FileEntry struct {
	Path          string
	ContentLength int64
	ContentHash   string
	ContentType   string
	LastModified  time.Time
	StorageKey    string
}

// SameContent reports whether two entries describe identical bytes. A length
// mismatch always means different content.
func (e FileEntry) SameContent(other FileEntry) bool {
	if e.ContentLength != other.ContentLength {
		return false
	}
	return e.ContentHash == other.ContentHash
}

// Manifest is the set of files stored for one scope.
type Manifest struct {
	Scope RowScope
	Files []FileEntry
}

// Lookup returns the entry stored at path.
func (m *Manifest) Lookup(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

func (m *Manifest) byPath() map[string]FileEntry {
	index := make(map[string]FileEntry, len(m.Files))
	for _, f := range m.Files {
		index[f.Path] = f
	}
	return index
}

func sortEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// PartOutcome records what happened to one part of a transfer.
type PartOutcome string

const (
	PartPending  PartOutcome = "pending"
	PartAccepted PartOutcome = "accepted"
	PartRejected PartOutcome = "rejected"
)

// TransferPart is one file moving through a bulk transfer.
type TransferPart struct {
	Entry   FileEntry
	Data    []byte
	Outcome PartOutcome
	Reason  string
	// Unchanged is set when identical bytes were already stored at the path.
	Unchanged bool
}

// TransferBatch is the ordered set of files moved by one request.
type TransferBatch struct {
	Scope RowScope
	Parts []TransferPart
}

// TotalBytes sums the payload sizes of the batch.
func (b *TransferBatch) TotalBytes() int64 {
	var total int64
	for _, p := range b.Parts {
		total += int64(len(p.Data))
	}
	return total
}

func (b *TransferBatch) markAll(outcome PartOutcome, reason string) {
	for i := range b.Parts {
		b.Parts[i].Outcome = outcome
		b.Parts[i].Reason = reason
	}
}

// RawPart is one multipart section as produced by the request body parser.
type RawPart struct {
	Index       int
	FormName    string
	FileName    string
	ContentType string
	Data        []byte
}

// Caller identifies who issued a request.
type Caller struct {
	Subject string
	Roles   []string
	Apps    []string
}

// HasRole reports whether the caller carries role (case-insensitive).
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// DiffResult is the reconciliation plan between two manifests.
type DiffResult struct {
	ToSend    []FileEntry
	ToReceive []string
}

// Empty reports whether both sides already agree.
func (d DiffResult) Empty() bool {
	return len(d.ToSend) == 0 && len(d.ToReceive) == 0
}
