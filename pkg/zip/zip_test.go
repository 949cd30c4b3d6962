package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

type mapReader map[string][]byte

func (m mapReader) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func TestArchiveArtifactsNamesEntries(t *testing.T) {
	r := mapReader{
		"generated/swap-face/j1/output.png": []byte("a"),
		"generated/swap-face/j0/output.jpg": []byte("b"),
		"generated/swap-face/j1/preview":    []byte("c"),
	}
	data, err := ArchiveArtifacts(context.Background(), r, []domain.Artifact{
		{ID: "a1", Name: "output", StorageKey: "generated/swap-face/j1/output.png"},
		{ID: "a2", Name: "output", StorageKey: "generated/swap-face/j0/output.jpg"},
		{ID: "a3", Name: "output", StorageKey: "generated/swap-face/j1/output.png"},
		{ID: "a4", Name: "preview", StorageKey: "generated/swap-face/j1/preview", MIMEType: "image/webp"},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := []string{"output.png", "output.jpg", "output-2.png", "preview.webp"}
	if len(zr.File) != len(want) {
		t.Fatalf("entries %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, f.Name, want[i])
		}
	}
	rc, err := zr.File[1].Open()
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "b" {
		t.Fatalf("entry body %q", body)
	}
}

func TestArchiveArtifactsFailsOnMissingObject(t *testing.T) {
	_, err := ArchiveArtifacts(context.Background(), mapReader{}, []domain.Artifact{{ID: "a1", Name: "output", StorageKey: "gone.png"}})
	if err == nil {
		t.Fatal("expected error for unreadable artifact")
	}
	if _, err := ArchiveArtifacts(context.Background(), mapReader{}, []domain.Artifact{{ID: "a2"}}); err == nil {
		t.Fatal("expected error for artifact without storage key")
	}
}
