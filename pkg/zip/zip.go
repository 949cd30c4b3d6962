// Package zip bundles the stored outputs of a job into one archive.
package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/storage"
)

// Reader loads stored bytes by storage key.
type Reader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// ArchiveArtifacts writes every artifact into a zip named after the output.
// Cache-hit artifacts share a storage key with their source and are read
// from there. Duplicate names get a numeric suffix.
func ArchiveArtifacts(ctx context.Context, r Reader, artifacts []domain.Artifact) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	used := map[string]int{}
	for _, a := range artifacts {
		if a.StorageKey == "" {
			return nil, fmt.Errorf("artifact %s has no storage key", a.ID)
		}
		data, err := r.Read(ctx, a.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", a.ID, err)
		}
		hdr := &zip.FileHeader{
			Name:     entryName(a, used),
			Method:   zip.Store,
			Modified: a.CreatedAt,
		}
		if hdr.Modified.IsZero() {
			hdr.Modified = time.Now().UTC()
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func entryName(a domain.Artifact, used map[string]int) string {
	base := strings.TrimSpace(a.Name)
	if base == "" {
		base = a.ID
	}
	ext := path.Ext(a.StorageKey)
	if ext == "" {
		ext = storage.ExtensionForMIME(a.MIMEType)
	}
	name := base + ext
	if n := used[name]; n > 0 {
		name = fmt.Sprintf("%s-%d%s", base, n+1, ext)
	}
	used[base+ext]++
	return name
}
