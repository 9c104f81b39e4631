package rowfiles

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

const hashPrefix = "md5:"

// HashContent returns the content fingerprint stored for data.
func HashContent(data []byte) string {
	sum := md5.Sum(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// HashReader streams r into a content fingerprint.
func HashReader(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// ManifestBuilder reads the current file set of a scope.
type ManifestBuilder struct {
	repo    Repository
	storage Storage
}

func NewManifestBuilder(repo Repository, storage Storage) *ManifestBuilder {
	return &ManifestBuilder{repo: repo, storage: storage}
}

// Build lists the scope and returns its manifest. A scope without files
// yields an empty manifest. Callers making a write decision from the result
// must hold the scope's row lock.
func (b *ManifestBuilder) Build(ctx context.Context, scope RowScope) (*Manifest, error) {
	entries, err := b.repo.ListByScope(ctx, scope)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list row files")
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ContentHash == "" {
			hash, size, err := b.hashStored(ctx, entry)
			if err != nil {
				return nil, err
			}
			entry.ContentHash = hash
			entry.ContentLength = size
		}
		files = append(files, entry)
	}
	sortEntries(files)

	return &Manifest{Scope: scope, Files: files}, nil
}

func (b *ManifestBuilder) hashStored(ctx context.Context, entry FileEntry) (string, int64, error) {
	reader, _, err := b.storage.Download(ctx, entry.StorageKey)
	if err != nil {
		return "", 0, StorageError(ctx, "read", entry.Path, err)
	}
	defer reader.Close()

	hash, size, err := HashReader(reader)
	if err != nil {
		return "", 0, StorageError(ctx, "read", entry.Path, err)
	}
	return hash, size, nil
}
