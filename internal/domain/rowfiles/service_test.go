package rowfiles_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/domain/rowfiles/rowfilestest"
	"jan-server/services/attachments-api/internal/infrastructure/lock"
	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

type serviceFixture struct {
	repo     *rowfilestest.Repository
	storage  *rowfilestest.Storage
	recorder *recordingRecorder
	service  *rowfiles.Service
}

func newServiceFixture(t *testing.T, perms rowfiles.PermissionEvaluator) *serviceFixture {
	t.Helper()
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	rec := &recordingRecorder{}
	transfer := rowfiles.NewTransfer(repo, storage, rowfiles.TransferOptions{MaxFileBytes: 1 << 20, MaxParts: 16}, zerolog.Nop())
	locks := rowfiles.NewLockCoordinator(lock.NewLocalLocker(), rowfiles.LockPerRow, 2*time.Second, rec, zerolog.Nop())
	return &serviceFixture{
		repo:     repo,
		storage:  storage,
		recorder: rec,
		service:  rowfiles.NewService(repo, storage, transfer, locks, perms, rec, zerolog.Nop()),
	}
}

func (f *serviceFixture) upload(t *testing.T, parts ...rowfiles.RawPart) *rowfiles.TransferBatch {
	t.Helper()
	batch, err := f.service.Upload(context.Background(), rowfiles.Caller{Subject: "tester"}, testScope, parts)
	require.NoError(t, err)
	return batch
}

func (f *serviceFixture) manifest(t *testing.T) *rowfiles.Manifest {
	t.Helper()
	m, err := f.service.GetManifest(context.Background(), rowfiles.Caller{}, testScope)
	require.NoError(t, err)
	return m
}

type denyWrites struct{}

func (denyWrites) CheckReadAccess(context.Context, rowfiles.RowScope, rowfiles.Caller) error {
	return nil
}

func (denyWrites) CheckWriteAccess(ctx context.Context, scope rowfiles.RowScope, _ rowfiles.Caller) error {
	return rowfiles.PermissionDeniedError(ctx, scope, "write")
}

func TestUploadThenManifestRoundTrip(t *testing.T) {
	f := newServiceFixture(t, nil)
	assert.Empty(t, f.manifest(t).Files)

	data := []byte("\xff\xd8\xff\xe0 jpeg bytes")
	f.upload(t, rowfiles.RawPart{FormName: "file", FileName: "default/photos/a.jpg", ContentType: "image/jpeg", Data: data})

	m := f.manifest(t)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "photos/a.jpg", m.Files[0].Path)
	assert.Equal(t, rowfiles.HashContent(data), m.Files[0].ContentHash)
	assert.EqualValues(t, len(data), m.Files[0].ContentLength)
	assert.Equal(t, "image/jpeg", m.Files[0].ContentType)
	assert.Contains(t, f.recorder.transfers, "upload:ok")
}

func TestUploadSameBytesTwiceIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, nil)
	part := rowfiles.RawPart{FormName: "file", FileName: "default/a.txt", ContentType: "text/plain", Data: []byte("same")}

	f.upload(t, part)
	first := f.manifest(t)
	second := f.upload(t, part)
	after := f.manifest(t)

	require.Len(t, after.Files, 1)
	assert.True(t, second.Parts[0].Unchanged)
	assert.True(t, rowfiles.Diff(after, first).Empty())
	assert.Len(t, f.storage.Keys(), 1)
}

func TestUploadWithEscapingPartPersistsNothing(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.service.Upload(context.Background(), rowfiles.Caller{}, testScope, []rowfiles.RawPart{
		{Index: 0, FormName: "file", FileName: "default/valid.jpg", ContentType: "image/jpeg", Data: []byte("ok")},
		{Index: 1, FormName: "file", FileName: "default/../escape.jpg", ContentType: "image/jpeg", Data: []byte("bad")},
	})
	require.Error(t, err)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodePathNotUnderAppID))

	assert.Empty(t, f.manifest(t).Files)
	assert.Empty(t, f.storage.Keys())
	assert.Empty(t, f.recorder.snapshot(), "lock must not be taken for an invalid batch")
}

func TestConcurrentUploadsNeverInterleave(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.repo.OnUpsert = func(rowfiles.RowScope, []rowfiles.FileEntry) { time.Sleep(20 * time.Millisecond) }

	batchFor := func(tag string) []rowfiles.RawPart {
		return []rowfiles.RawPart{
			{Index: 0, FormName: "file", FileName: "default/a.txt", ContentType: "text/plain", Data: []byte("a-" + tag)},
			{Index: 1, FormName: "file", FileName: "default/b.txt", ContentType: "text/plain", Data: []byte("b-" + tag)},
		}
	}

	var wg sync.WaitGroup
	for _, tag := range []string{"one", "two"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			_, err := f.service.Upload(context.Background(), rowfiles.Caller{}, testScope, batchFor(tag))
			assert.NoError(t, err)
		}(tag)
	}
	wg.Wait()

	m := f.manifest(t)
	require.Len(t, m.Files, 2)
	a, _ := m.Lookup("a.txt")
	b, _ := m.Lookup("b.txt")
	switch a.ContentHash {
	case rowfiles.HashContent([]byte("a-one")):
		assert.Equal(t, rowfiles.HashContent([]byte("b-one")), b.ContentHash)
	case rowfiles.HashContent([]byte("a-two")):
		assert.Equal(t, rowfiles.HashContent([]byte("b-two")), b.ContentHash)
	default:
		t.Fatalf("unexpected content for a.txt: %s", a.ContentHash)
	}
	assert.Len(t, f.storage.Keys(), 2, "superseded objects are removed")
}

func TestDiffScenario(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.upload(t,
		rowfiles.RawPart{FormName: "file", FileName: "default/a.jpg", ContentType: "image/jpeg", Data: []byte("H2")},
		rowfiles.RawPart{Index: 1, FormName: "file", FileName: "default/b.jpg", ContentType: "image/jpeg", Data: []byte("b")},
	)

	client := &rowfiles.Manifest{Files: []rowfiles.FileEntry{entry("a.jpg", "H1")}}
	result, err := f.service.Diff(context.Background(), rowfiles.Caller{}, testScope, client)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, paths(result.ToSend))
	assert.Equal(t, rowfiles.HashContent([]byte("H2")), result.ToSend[0].ContentHash)
	assert.Empty(t, result.ToReceive)

	_, err = f.service.Diff(context.Background(), rowfiles.Caller{}, testScope, &rowfiles.Manifest{
		Files: []rowfiles.FileEntry{{Path: "../x.jpg"}},
	})
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodePathNotUnderAppID))
}

func TestDownload(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.upload(t,
		rowfiles.RawPart{FormName: "file", FileName: "default/a.txt", ContentType: "text/plain", Data: []byte("alpha")},
		rowfiles.RawPart{Index: 1, FormName: "file", FileName: "default/b.txt", ContentType: "text/plain", Data: []byte("beta")},
	)
	ctx := context.Background()

	t.Run("requested files", func(t *testing.T) {
		batch, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{{Path: "a.txt"}, {Path: "b.txt"}},
		})
		require.NoError(t, err)
		require.Len(t, batch.Parts, 2)
		assert.Equal(t, "alpha", string(batch.Parts[0].Data))
		assert.Equal(t, "beta", string(batch.Parts[1].Data))
	})

	t.Run("skips files the client holds", func(t *testing.T) {
		batch, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{entry("a.txt", "alpha"), entry("b.txt", "stale")},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b.txt"}, paths(partsEntries(batch)))
	})

	t.Run("nothing to send", func(t *testing.T) {
		_, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{entry("a.txt", "alpha")},
		})
		assert.ErrorIs(t, err, rowfiles.ErrNothingToSend)
	})

	t.Run("repeated filename is sent once", func(t *testing.T) {
		batch, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{{Path: "a.txt"}, {Path: "/a.txt"}, {Path: "b.txt"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt"}, paths(partsEntries(batch)))
	})

	t.Run("empty manifest", func(t *testing.T) {
		_, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{})
		assert.True(t, rowfiles.HasCode(err, rowfiles.CodeManifestEmpty))
		_, err = f.service.Download(ctx, rowfiles.Caller{}, testScope, nil)
		assert.True(t, rowfiles.HasCode(err, rowfiles.CodeManifestEmpty))
	})

	t.Run("unknown file", func(t *testing.T) {
		_, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{{Path: "missing.txt"}},
		})
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
	})

	t.Run("unreadable file fails the batch", func(t *testing.T) {
		f.storage.FailDownload = rowfilestest.ErrInjected
		defer func() { f.storage.FailDownload = nil }()
		_, err := f.service.Download(ctx, rowfiles.Caller{}, testScope, &rowfiles.Manifest{
			Files: []rowfiles.FileEntry{{Path: "a.txt"}},
		})
		assert.True(t, rowfiles.HasCode(err, rowfiles.CodeStorage))
		assert.Contains(t, err.Error(), "a.txt")
	})
}

func partsEntries(batch *rowfiles.TransferBatch) []rowfiles.FileEntry {
	out := make([]rowfiles.FileEntry, 0, len(batch.Parts))
	for _, p := range batch.Parts {
		out = append(out, p.Entry)
	}
	return out
}

func TestGetAndPutFile(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	stored, err := f.service.PutFile(ctx, rowfiles.Caller{}, testScope, []string{"default", "docs", "note.txt"}, []byte("note"), "")
	require.NoError(t, err)
	assert.Equal(t, "docs/note.txt", stored.Path)
	assert.Contains(t, stored.ContentType, "text/plain")

	entry, reader, err := f.service.GetFile(ctx, rowfiles.Caller{}, testScope, []string{"default", "docs", "note.txt"})
	require.NoError(t, err)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "note", string(body))
	assert.Equal(t, rowfiles.HashContent([]byte("note")), entry.ContentHash)

	_, _, err = f.service.GetFile(ctx, rowfiles.Caller{}, testScope, []string{"default", "missing.txt"})
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeFileNotFound))

	_, _, err = f.service.GetFile(ctx, rowfiles.Caller{}, testScope, nil)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeInsufficientPath))

	_, err = f.service.PutFile(ctx, rowfiles.Caller{}, testScope, []string{"other", "x.txt"}, []byte("x"), "text/plain")
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodePathNotUnderAppID))
}

func TestWritesRequirePermission(t *testing.T) {
	f := newServiceFixture(t, denyWrites{})
	ctx := context.Background()

	_, err := f.service.Upload(ctx, rowfiles.Caller{Subject: "reader"}, testScope, []rowfiles.RawPart{
		{FormName: "file", FileName: "default/a.txt", ContentType: "text/plain", Data: []byte("a")},
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	_, err = f.service.PutFile(ctx, rowfiles.Caller{}, testScope, []string{"default", "a.txt"}, []byte("a"), "text/plain")
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodePermissionDenied))

	_, err = f.service.GetManifest(ctx, rowfiles.Caller{}, testScope)
	assert.NoError(t, err)
	assert.Empty(t, f.storage.Keys())
}

func TestInvalidScopeIsRejected(t *testing.T) {
	f := newServiceFixture(t, nil)
	_, err := f.service.GetManifest(context.Background(), rowfiles.Caller{}, rowfiles.NewRowScope("default", "plot", "etag", ".."))
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeInvalidScope))
}

// hookStorage runs callbacks around the in-memory store.
type hookStorage struct {
	*rowfilestest.Storage
	once           sync.Once
	beforeDownload func()
	afterUpload    func(ctx context.Context)
}

func (s *hookStorage) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if s.beforeDownload != nil {
		s.once.Do(s.beforeDownload)
	}
	return s.Storage.Download(ctx, key)
}

func (s *hookStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := s.Storage.Upload(context.WithoutCancel(ctx), key, body, size, contentType); err != nil {
		return err
	}
	if s.afterUpload != nil {
		s.afterUpload(ctx)
	}
	return nil
}

func newRacingService(t *testing.T, retireAfter time.Duration) (*rowfiles.Service, *rowfiles.Transfer, *hookStorage) {
	t.Helper()
	repo := rowfilestest.NewRepository()
	storage := &hookStorage{Storage: rowfilestest.NewStorage()}
	transfer := rowfiles.NewTransfer(repo, storage, rowfiles.TransferOptions{MaxFileBytes: 1 << 20, MaxParts: 16, RetireAfter: retireAfter}, zerolog.Nop())
	t.Cleanup(func() { transfer.Close(context.Background()) })
	locks := rowfiles.NewLockCoordinator(lock.NewLocalLocker(), rowfiles.LockPerRow, time.Second, nil, zerolog.Nop())
	return rowfiles.NewService(repo, storage, transfer, locks, nil, nil, zerolog.Nop()), transfer, storage
}

func uploadText(t *testing.T, svc *rowfiles.Service, path, data string) {
	t.Helper()
	_, err := svc.Upload(context.Background(), rowfiles.Caller{}, testScope, []rowfiles.RawPart{
		{FormName: "file", FileName: "default/" + path, ContentType: "text/plain", Data: []byte(data)},
	})
	require.NoError(t, err)
}

func TestDownloadOverlappingUploadServesPreviousContent(t *testing.T) {
	svc, transfer, storage := newRacingService(t, time.Minute)
	uploadText(t, svc, "a.txt", "old")
	storage.beforeDownload = func() { uploadText(t, svc, "a.txt", "new") }

	batch, err := svc.Download(context.Background(), rowfiles.Caller{}, testScope, &rowfiles.Manifest{
		Files: []rowfiles.FileEntry{{Path: "a.txt"}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Parts, 1)
	assert.Equal(t, "old", string(batch.Parts[0].Data))
	assert.Equal(t, rowfiles.HashContent([]byte("old")), batch.Parts[0].Entry.ContentHash)
	assert.Len(t, storage.Keys(), 2, "replaced blob is kept until retired")

	transfer.Close(context.Background())
	assert.Len(t, storage.Keys(), 1)
}

func TestDownloadFollowsReplacedFile(t *testing.T) {
	svc, _, storage := newRacingService(t, 0)
	uploadText(t, svc, "a.txt", "old")
	storage.beforeDownload = func() { uploadText(t, svc, "a.txt", "newer") }

	batch, err := svc.Download(context.Background(), rowfiles.Caller{}, testScope, &rowfiles.Manifest{
		Files: []rowfiles.FileEntry{{Path: "a.txt"}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Parts, 1)
	assert.Equal(t, "newer", string(batch.Parts[0].Data))
	assert.Equal(t, rowfiles.HashContent([]byte("newer")), batch.Parts[0].Entry.ContentHash)
	assert.EqualValues(t, 5, batch.Parts[0].Entry.ContentLength)
}

func TestGetFileFollowsReplacedFile(t *testing.T) {
	svc, _, storage := newRacingService(t, 0)
	uploadText(t, svc, "a.txt", "old")
	storage.beforeDownload = func() { uploadText(t, svc, "a.txt", "newer") }

	entry, reader, err := svc.GetFile(context.Background(), rowfiles.Caller{}, testScope, []string{"default", "a.txt"})
	require.NoError(t, err)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "newer", string(body))
	assert.Equal(t, rowfiles.HashContent([]byte("newer")), entry.ContentHash)
}

// expiringLocker grants a lock whose lease ends when lost is closed.
type expiringLocker struct {
	lost     chan struct{}
	released int32
}

func (l *expiringLocker) Acquire(context.Context, string, time.Duration) (rowfiles.Unlocker, error) {
	return l, nil
}

func (l *expiringLocker) Unlock(context.Context) error {
	atomic.AddInt32(&l.released, 1)
	return nil
}

func (l *expiringLocker) Done() <-chan struct{} { return l.lost }

func TestUploadAbortsWhenLockIsLost(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := &hookStorage{Storage: rowfilestest.NewStorage()}
	locker := &expiringLocker{lost: make(chan struct{})}
	storage.afterUpload = func(ctx context.Context) {
		close(locker.lost)
		<-ctx.Done()
	}
	transfer := rowfiles.NewTransfer(repo, storage, rowfiles.TransferOptions{MaxFileBytes: 1 << 20, MaxParts: 16}, zerolog.Nop())
	locks := rowfiles.NewLockCoordinator(locker, rowfiles.LockPerRow, time.Second, nil, zerolog.Nop())
	svc := rowfiles.NewService(repo, storage, transfer, locks, nil, nil, zerolog.Nop())

	_, err := svc.Upload(context.Background(), rowfiles.Caller{}, testScope, []rowfiles.RawPart{
		{FormName: "file", FileName: "default/a.txt", ContentType: "text/plain", Data: []byte("a")},
	})
	require.Error(t, err)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeLockUnavailable))
	assert.ErrorIs(t, err, rowfiles.ErrLockLost)

	var platformErr *platformerrors.PlatformError
	require.ErrorAs(t, err, &platformErr)
	assert.True(t, platformErr.Retryable())

	entries, err := repo.ListByScope(context.Background(), testScope)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, storage.Keys())
	assert.EqualValues(t, 1, atomic.LoadInt32(&locker.released))
}
