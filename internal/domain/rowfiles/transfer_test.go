package rowfiles_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/domain/rowfiles/rowfilestest"
	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

var testScope = rowfiles.NewRowScope("default", "plot", "etag-1", "uuid:row-1")

func newTestTransfer(repo *rowfilestest.Repository, storage *rowfilestest.Storage) *rowfiles.Transfer {
	return rowfiles.NewTransfer(repo, storage, rowfiles.TransferOptions{MaxFileBytes: 64, MaxParts: 4}, zerolog.Nop())
}

func filePart(index int, name, contentType, data string) rowfiles.RawPart {
	return rowfiles.RawPart{Index: index, FormName: "file", FileName: name, ContentType: contentType, Data: []byte(data)}
}

func TestDisassembleValidBatch(t *testing.T) {
	tr := newTestTransfer(rowfilestest.NewRepository(), rowfilestest.NewStorage())

	batch, err := tr.Disassemble(context.Background(), []rowfiles.RawPart{
		filePart(0, "default/a.txt", "text/plain", "hello"),
		filePart(1, "default/media/b.bin", "", "\x89PNG\r\n\x1a\n0000"),
	}, testScope)
	require.NoError(t, err)
	require.Len(t, batch.Parts, 2)

	a := batch.Parts[0]
	assert.Equal(t, "a.txt", a.Entry.Path)
	assert.Equal(t, "text/plain", a.Entry.ContentType)
	assert.EqualValues(t, 5, a.Entry.ContentLength)
	assert.Equal(t, rowfiles.HashContent([]byte("hello")), a.Entry.ContentHash)
	assert.Equal(t, rowfiles.PartPending, a.Outcome)

	b := batch.Parts[1]
	assert.Equal(t, "media/b.bin", b.Entry.Path)
	assert.Equal(t, "image/png", b.Entry.ContentType)
	assert.EqualValues(t, 17, batch.TotalBytes())
}

func TestDisassembleRejectsBatch(t *testing.T) {
	tests := []struct {
		name  string
		parts []rowfiles.RawPart
		code  string
		msg   string
	}{
		{name: "no parts", parts: nil, code: rowfiles.CodeMultipartParse, msg: rowfiles.MsgMultipartParseFailed},
		{
			name:  "form field",
			parts: []rowfiles.RawPart{{Index: 0, FormName: "note", Data: []byte("x")}},
			code:  rowfiles.CodeInvalidPart,
			msg:   rowfiles.MsgMultipartFilesOnly,
		},
		{
			name:  "file without name",
			parts: []rowfiles.RawPart{{Index: 0, FormName: "file", ContentType: "image/jpeg", Data: []byte("x")}},
			code:  rowfiles.CodeInvalidPart,
			msg:   rowfiles.MsgMultipartFilenameNeeded,
		},
		{
			name:  "escaping path",
			parts: []rowfiles.RawPart{filePart(0, "default/valid.jpg", "image/jpeg", "x"), filePart(1, "default/../escape.jpg", "image/jpeg", "y")},
			code:  rowfiles.CodePathNotUnderAppID,
			msg:   rowfiles.MsgPathNotUnderAppID,
		},
		{
			name:  "other app",
			parts: []rowfiles.RawPart{filePart(0, "survey/a.jpg", "image/jpeg", "x")},
			code:  rowfiles.CodePathNotUnderAppID,
		},
		{
			name:  "duplicate path",
			parts: []rowfiles.RawPart{filePart(0, "default/a.jpg", "image/jpeg", "x"), filePart(1, "/default/a.jpg/", "image/jpeg", "y")},
			code:  rowfiles.CodeInvalidPart,
		},
		{
			name:  "too large",
			parts: []rowfiles.RawPart{filePart(0, "default/a.bin", "", string(make([]byte, 65)))},
			code:  rowfiles.CodeFileTooLarge,
		},
		{
			name:  "content type too long",
			parts: []rowfiles.RawPart{filePart(0, "default/a.txt", "text/plain; "+strings.Repeat("p=v; ", 30), "x")},
			code:  rowfiles.CodeInvalidPart,
		},
		{
			name: "too many parts",
			parts: []rowfiles.RawPart{
				filePart(0, "default/1", "", "1"), filePart(1, "default/2", "", "2"), filePart(2, "default/3", "", "3"),
				filePart(3, "default/4", "", "4"), filePart(4, "default/5", "", "5"),
			},
			code: rowfiles.CodeInvalidPart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransfer(rowfilestest.NewRepository(), rowfilestest.NewStorage())
			batch, err := tr.Disassemble(context.Background(), tt.parts, testScope)
			require.Error(t, err)
			assert.Nil(t, batch)
			assert.True(t, rowfiles.HasCode(err, tt.code), "expected %s, got %v", tt.code, err)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestDisassembleTagsFailingPartIndex(t *testing.T) {
	tr := newTestTransfer(rowfilestest.NewRepository(), rowfilestest.NewStorage())
	_, err := tr.Disassemble(context.Background(), []rowfiles.RawPart{
		filePart(0, "default/ok.jpg", "image/jpeg", "x"),
		filePart(1, "default/../escape.jpg", "image/jpeg", "y"),
	}, testScope)

	var platformErr *platformerrors.PlatformError
	require.True(t, errors.As(err, &platformErr))
	assert.Equal(t, 1, platformErr.Context["part_index"])
}

func TestResolveContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", rowfiles.ResolveContentType("image/jpeg", []byte("anything")))
	assert.Equal(t, "application/octet-stream", rowfiles.ResolveContentType("", nil))
	assert.Equal(t, "application/pdf", rowfiles.ResolveContentType("application/octet-stream", []byte("%PDF-1.4\n")))
	assert.Contains(t, rowfiles.ResolveContentType(" ", []byte("plain words")), "text/plain")
}

func TestCommitStoresBatch(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)
	ctx := context.Background()

	batch, err := tr.Disassemble(ctx, []rowfiles.RawPart{
		filePart(0, "default/a.txt", "text/plain", "alpha"),
		filePart(1, "default/b.txt", "text/plain", "beta"),
	}, testScope)
	require.NoError(t, err)
	require.NoError(t, tr.Commit(ctx, batch))

	for _, p := range batch.Parts {
		assert.Equal(t, rowfiles.PartAccepted, p.Outcome)
		assert.False(t, p.Unchanged)
		assert.NotEmpty(t, p.Entry.StorageKey)
	}
	assert.Len(t, storage.Keys(), 2)

	stored, err := repo.ListByScope(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, paths(stored))
}

func TestCommitIdenticalContentIsUnchanged(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)
	ctx := context.Background()

	upload := func(data string) *rowfiles.TransferBatch {
		batch, err := tr.Disassemble(ctx, []rowfiles.RawPart{filePart(0, "default/a.txt", "text/plain", data)}, testScope)
		require.NoError(t, err)
		require.NoError(t, tr.Commit(ctx, batch))
		return batch
	}

	first := upload("same")
	second := upload("same")
	assert.True(t, second.Parts[0].Unchanged)
	assert.Equal(t, first.Parts[0].Entry.StorageKey, second.Parts[0].Entry.StorageKey)
	assert.Len(t, storage.Keys(), 1)

	third := upload("changed")
	assert.False(t, third.Parts[0].Unchanged)
	assert.NotEqual(t, first.Parts[0].Entry.StorageKey, third.Parts[0].Entry.StorageKey)
	assert.Equal(t, []string{third.Parts[0].Entry.StorageKey}, storage.Keys())
}

func TestCommitStorageFailureLeavesNothingBehind(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)
	ctx := context.Background()

	storage.FailUploadAfter = 1
	batch, err := tr.Disassemble(ctx, []rowfiles.RawPart{
		filePart(0, "default/a.txt", "text/plain", "alpha"),
		filePart(1, "default/b.txt", "text/plain", "beta"),
	}, testScope)
	require.NoError(t, err)

	err = tr.Commit(ctx, batch)
	require.Error(t, err)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeStorage))
	assert.Contains(t, err.Error(), "b.txt")
	assert.True(t, errors.Is(err, rowfilestest.ErrInjected))

	for _, p := range batch.Parts {
		assert.Equal(t, rowfiles.PartRejected, p.Outcome)
	}
	assert.Empty(t, storage.Keys())
	stored, _ := repo.ListByScope(ctx, testScope)
	assert.Empty(t, stored)
}

func TestCommitMetadataFailureRemovesUploadedObjects(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)
	ctx := context.Background()

	repo.FailUpsert = errors.New("database down")
	batch, err := tr.Disassemble(ctx, []rowfiles.RawPart{filePart(0, "default/a.txt", "text/plain", "alpha")}, testScope)
	require.NoError(t, err)

	require.Error(t, tr.Commit(ctx, batch))
	assert.Empty(t, storage.Keys())
	assert.Equal(t, rowfiles.PartRejected, batch.Parts[0].Outcome)
}

func TestCommitCancelledContext(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)

	batch, err := tr.Disassemble(context.Background(), []rowfiles.RawPart{filePart(0, "default/a.txt", "text/plain", "alpha")}, testScope)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, tr.Commit(ctx, batch))
	assert.Empty(t, storage.Keys())
}

func TestAssemble(t *testing.T) {
	repo := rowfilestest.NewRepository()
	storage := rowfilestest.NewStorage()
	tr := newTestTransfer(repo, storage)
	ctx := context.Background()

	_, err := tr.Assemble(ctx, testScope, nil)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeManifestEmpty))

	storage.Seed("k1", []byte("hello"), "text/plain")
	batch, err := tr.Assemble(ctx, testScope, []rowfiles.FileEntry{{Path: "a.txt", ContentLength: 5, StorageKey: "k1"}})
	require.NoError(t, err)
	require.Len(t, batch.Parts, 1)
	assert.Equal(t, "hello", string(batch.Parts[0].Data))
	assert.Equal(t, "text/plain", batch.Parts[0].Entry.ContentType)

	_, err = tr.Assemble(ctx, testScope, []rowfiles.FileEntry{
		{Path: "a.txt", StorageKey: "k1"},
		{Path: "gone.txt", StorageKey: "missing"},
	})
	require.Error(t, err)
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeStorage))
	assert.Contains(t, err.Error(), "gone.txt")

	_, err = tr.Assemble(ctx, testScope, []rowfiles.FileEntry{{Path: "short.txt", ContentLength: 9, StorageKey: "k1"}})
	assert.True(t, rowfiles.HasCode(err, rowfiles.CodeStorage))
}
