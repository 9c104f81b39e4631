package rowfiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/utils/platformerrors"
	"jan-server/services/attachments-api/utils/blobkey"
)

const (
	defaultContentType = "application/octet-stream"
	maxContentTypeLen  = 128

	// A read whose blob vanished re-resolves the entry this many times.
	maxReresolve = 2
)

// TransferOptions bounds inbound transfers.
type TransferOptions struct {
	MaxFileBytes int64
	MaxParts     int
	// RetireAfter delays deletion of blobs replaced by an upload so readers
	// holding an older manifest can finish. Zero deletes right after commit.
	RetireAfter time.Duration
}

// Transfer packs files for bulk download and unpacks, validates and commits
// bulk uploads.
type Transfer struct {
	repo    Repository
	storage Storage
	opts    TransferOptions
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.Mutex
	retired map[string]*time.Timer
	closed  bool
}

func NewTransfer(repo Repository, storage Storage, opts TransferOptions, log zerolog.Logger) *Transfer {
	return &Transfer{
		repo:    repo,
		storage: storage,
		opts:    opts,
		now:     time.Now,
		log:     log.With().Str("component", "rowfiles-transfer").Logger(),
		retired: make(map[string]*time.Timer),
	}
}

// Assemble fetches the bytes of every entry. An empty set is a caller error,
// and any unreadable file fails the whole batch naming its path.
func (t *Transfer) Assemble(ctx context.Context, scope RowScope, entries []FileEntry) (*TransferBatch, error) {
	if len(entries) == 0 {
		return nil, ManifestEmptyError(ctx)
	}

	batch := &TransferBatch{Scope: scope, Parts: make([]TransferPart, 0, len(entries))}
	for _, want := range entries {
		entry, data, contentType, err := t.readCurrent(ctx, scope, want)
		if err != nil {
			return nil, err
		}
		if entry.ContentType == "" {
			entry.ContentType = contentType
		}
		batch.Parts = append(batch.Parts, TransferPart{
			Entry:   entry,
			Data:    data,
			Outcome: PartAccepted,
		})
	}
	return batch, nil
}

// Open streams the stored bytes of entry. The returned entry is the one the
// bytes belong to; it differs from the argument when a concurrent upload
// replaced the file. The caller closes the reader.
func (t *Transfer) Open(ctx context.Context, scope RowScope, entry FileEntry) (FileEntry, io.ReadCloser, string, error) {
	for attempt := 0; ; attempt++ {
		reader, contentType, err := t.storage.Download(ctx, entry.StorageKey)
		if err == nil {
			return entry, reader, contentType, nil
		}
		next, ok := t.reresolve(ctx, scope, entry, attempt)
		if !ok {
			return entry, nil, "", StorageError(ctx, "read", entry.Path, err)
		}
		entry = next
	}
}

// readCurrent reads entry, following it to its replacement when an upload
// committed after the caller built its manifest.
func (t *Transfer) readCurrent(ctx context.Context, scope RowScope, entry FileEntry) (FileEntry, []byte, string, error) {
	for attempt := 0; ; attempt++ {
		data, contentType, err := t.read(ctx, entry)
		if err == nil {
			return entry, data, contentType, nil
		}
		next, ok := t.reresolve(ctx, scope, entry, attempt)
		if !ok {
			return entry, nil, "", err
		}
		entry = next
	}
}

// reresolve looks entry up again and reports whether it now points at a
// different blob worth reading.
func (t *Transfer) reresolve(ctx context.Context, scope RowScope, entry FileEntry, attempt int) (FileEntry, bool) {
	if attempt >= maxReresolve || ctx.Err() != nil {
		return entry, false
	}
	current, err := t.repo.FindByPath(ctx, scope, entry.Path)
	if err != nil || current == nil || current.StorageKey == entry.StorageKey {
		return entry, false
	}
	t.log.Debug().
		Str("scope", scope.String()).
		Str("path", entry.Path).
		Msg("file replaced during read; following new blob")
	return *current, true
}

func (t *Transfer) read(ctx context.Context, entry FileEntry) ([]byte, string, error) {
	reader, contentType, err := t.storage.Download(ctx, entry.StorageKey)
	if err != nil {
		return nil, "", StorageError(ctx, "read", entry.Path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", StorageError(ctx, "read", entry.Path, err)
	}
	if entry.ContentLength > 0 && int64(len(data)) != entry.ContentLength {
		return nil, "", StorageError(ctx, "read", entry.Path,
			fmt.Errorf("stored object has %d bytes, manifest records %d", len(data), entry.ContentLength))
	}
	return data, contentType, nil
}

// Disassemble validates inbound multipart sections against the scope. Any
// invalid part fails the whole batch before anything is written.
func (t *Transfer) Disassemble(ctx context.Context, parts []RawPart, scope RowScope) (*TransferBatch, error) {
	if len(parts) == 0 {
		return nil, MultipartParseError(ctx, errors.New("multipart body contains no parts"))
	}
	if t.opts.MaxParts > 0 && len(parts) > t.opts.MaxParts {
		return nil, TooManyPartsError(ctx, len(parts), t.opts.MaxParts)
	}

	now := t.now().UTC()
	seen := make(map[string]struct{}, len(parts))
	batch := &TransferBatch{Scope: scope, Parts: make([]TransferPart, 0, len(parts))}

	for _, raw := range parts {
		if raw.FileName == "" {
			if raw.ContentType == "" {
				return nil, FilesOnlyError(ctx, raw.Index)
			}
			return nil, FilenameExpectedError(ctx, raw.Index)
		}

		path, err := ValidateWirePath(scope.AppID, raw.FileName)
		if err != nil {
			return nil, withPartIndex(err, raw.Index)
		}
		if _, dup := seen[path]; dup {
			return nil, DuplicatePartError(ctx, raw.Index, path)
		}
		seen[path] = struct{}{}

		if t.opts.MaxFileBytes > 0 && int64(len(raw.Data)) > t.opts.MaxFileBytes {
			return nil, FileTooLargeError(ctx, path, t.opts.MaxFileBytes)
		}
		if len(strings.TrimSpace(raw.ContentType)) > maxContentTypeLen {
			return nil, ContentTypeTooLongError(ctx, raw.Index, path, maxContentTypeLen)
		}

		batch.Parts = append(batch.Parts, TransferPart{
			Entry: FileEntry{
				Path:          path,
				ContentLength: int64(len(raw.Data)),
				ContentHash:   HashContent(raw.Data),
				ContentType:   ResolveContentType(raw.ContentType, raw.Data),
				LastModified:  now,
			},
			Data:    raw.Data,
			Outcome: PartPending,
		})
	}
	return batch, nil
}

// Commit writes a validated batch. Bytes go to fresh storage keys first, then
// every entry is swapped in with one repository transaction, so the scope's
// manifest moves from the old file set to the new one without intermediate
// states. On failure the manifest is unchanged and written objects are removed.
// Callers must hold the scope's row lock.
func (t *Transfer) Commit(ctx context.Context, batch *TransferBatch) error {
	scope := batch.Scope
	existing, err := t.repo.ListByScope(ctx, scope)
	if err != nil {
		batch.markAll(PartRejected, "metadata unavailable")
		return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list row files")
	}
	current := make(map[string]FileEntry, len(existing))
	for _, e := range existing {
		current[e.Path] = e
	}

	var (
		written    []string
		superseded []string
		staged     []FileEntry
	)

	for i := range batch.Parts {
		part := &batch.Parts[i]

		if err := ctx.Err(); err != nil {
			t.cleanup(ctx, written)
			batch.markAll(PartRejected, "request cancelled")
			return StorageError(ctx, "write", part.Entry.Path, err)
		}

		prev, ok := current[part.Entry.Path]
		if ok && prev.SameContent(part.Entry) && prev.ContentType == part.Entry.ContentType {
			part.Unchanged = true
			part.Entry.StorageKey = prev.StorageKey
			part.Entry.LastModified = prev.LastModified
			continue
		}

		key := storageKey(scope)
		if err := t.storage.Upload(ctx, key, bytes.NewReader(part.Data), int64(len(part.Data)), part.Entry.ContentType); err != nil {
			t.cleanup(ctx, written)
			batch.markAll(PartRejected, "not stored")
			part.Reason = err.Error()
			return StorageError(ctx, "write", part.Entry.Path, err)
		}
		written = append(written, key)
		part.Entry.StorageKey = key
		staged = append(staged, part.Entry)
		if ok && prev.StorageKey != "" {
			superseded = append(superseded, prev.StorageKey)
		}
	}

	if len(staged) > 0 {
		// A lost row lock cancels ctx; nothing may be swapped in after that.
		if err := ctx.Err(); err != nil {
			t.cleanup(ctx, written)
			batch.markAll(PartRejected, "request cancelled")
			return StorageError(ctx, "write", staged[len(staged)-1].Path, context.Cause(ctx))
		}
		if err := t.repo.UpsertBatch(ctx, scope, staged); err != nil {
			t.cleanup(ctx, written)
			batch.markAll(PartRejected, "metadata not committed")
			return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "commit row files")
		}
	}

	batch.markAll(PartAccepted, "")
	t.retire(ctx, superseded)

	t.log.Debug().
		Str("scope", scope.String()).
		Int("parts", len(batch.Parts)).
		Int("written", len(staged)).
		Msg("transfer committed")
	return nil
}

// cleanup deletes objects best effort; it outlives request cancellation.
func (t *Transfer) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := t.storage.Delete(cleanupCtx, key); err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("failed to delete orphaned object")
		}
	}
}

// retire schedules deletion of replaced blobs once RetireAfter has passed.
func (t *Transfer) retire(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	t.mu.Lock()
	if t.opts.RetireAfter <= 0 || t.closed {
		t.mu.Unlock()
		t.cleanup(ctx, keys)
		return
	}
	for _, key := range keys {
		t.retired[key] = time.AfterFunc(t.opts.RetireAfter, func() {
			t.mu.Lock()
			delete(t.retired, key)
			t.mu.Unlock()
			t.cleanup(context.Background(), []string{key})
		})
	}
	t.mu.Unlock()
}

// Close deletes every blob still waiting for retirement. Later retirements
// delete immediately.
func (t *Transfer) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	keys := make([]string, 0, len(t.retired))
	for key, timer := range t.retired {
		if timer.Stop() {
			keys = append(keys, key)
		}
		delete(t.retired, key)
	}
	t.mu.Unlock()
	t.cleanup(ctx, keys)
}

// ResolveContentType keeps a declared type and sniffs one otherwise.
func ResolveContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.EqualFold(declared, defaultContentType) {
		return declared
	}
	if len(data) == 0 {
		return defaultContentType
	}
	return mimetype.Detect(data).String()
}

func storageKey(scope RowScope) string {
	return blobkey.Join(scope.AppID, scope.TableID, scope.SchemaETag, scope.RowID)
}

func withPartIndex(err error, index int) error {
	var platformErr *platformerrors.PlatformError
	if errors.As(err, &platformErr) {
		platformErr.Context["part_index"] = index
	}
	return err
}
