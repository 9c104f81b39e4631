package main

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"jan-server/services/attachments-api/pkg/rowfilesclient"
)

// buildLocalManifest fingerprints every regular file under dir.
func buildLocalManifest(dir string) (*rowfilesclient.Manifest, error) {
	manifest := &rowfilesclient.Manifest{Files: []rowfilesclient.FileEntry{}}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := md5.Sum(data)
		manifest.Files = append(manifest.Files, rowfilesclient.FileEntry{
			Filename:      filepath.ToSlash(rel),
			ContentLength: int64(len(data)),
			ContentType:   mimetype.Detect(data).String(),
			MD5Hash:       "md5:" + hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(manifest.Files, func(i, j int) bool { return manifest.Files[i].Filename < manifest.Files[j].Filename })
	return manifest, nil
}

func readLocalFile(dir, rel string) (rowfilesclient.File, error) {
	path, err := localPath(dir, rel)
	if err != nil {
		return rowfilesclient.File{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rowfilesclient.File{}, err
	}
	return rowfilesclient.File{Path: rel, ContentType: mimetype.Detect(data).String(), Data: data}, nil
}

// localPath maps a server path into dir, refusing paths that leave it.
func localPath(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	back, err := filepath.Rel(dir, target)
	if err != nil || back == "." || strings.HasPrefix(back, "..") {
		return "", fmt.Errorf("refusing path outside %s: %q", dir, rel)
	}
	return target, nil
}
