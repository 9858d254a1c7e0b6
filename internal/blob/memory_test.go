package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemStore_FileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMem()

	folder, err := store.CreateFolder(ctx, "film-1")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	created, err := store.CreateFile(ctx, "poster.png", "image/png",
		strings.NewReader("pngdata"), folder)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if !strings.HasPrefix(created.Handle, folder) {
		t.Errorf("handle %q not under folder %q", created.Handle, folder)
	}

	if err := store.SetPublicReadable(ctx, created.Handle); err != nil {
		t.Fatalf("SetPublicReadable: %v", err)
	}
	if !store.IsPublic(created.Handle) {
		t.Error("file not marked public")
	}

	meta, err := store.Metadata(ctx, created.Handle)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Size != int64(len("pngdata")) || meta.MIMEType != "image/png" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestMemStore_RangeStream(t *testing.T) {
	ctx := context.Background()
	store := NewMem()
	store.Put("vid", "video/mp4", []byte("0123456789"))

	rc, err := store.RangeStream(ctx, "vid", 2, 5)
	if err != nil {
		t.Fatalf("RangeStream: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("2345")) {
		t.Errorf("range bytes = %q; want 2345", data)
	}

	// End past the object clamps to the last byte.
	rc, err = store.RangeStream(ctx, "vid", 8, 100)
	if err != nil {
		t.Fatalf("RangeStream clamp: %v", err)
	}
	defer rc.Close()
	data, _ = io.ReadAll(rc)
	if !bytes.Equal(data, []byte("89")) {
		t.Errorf("clamped bytes = %q; want 89", data)
	}
}

func TestMemStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMem()

	if _, err := store.Metadata(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Metadata err = %v; want ErrNotFound", err)
	}
	if _, err := store.RangeStream(ctx, "ghost", 0, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("RangeStream err = %v; want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete err = %v; want ErrNotFound", err)
	}
}

func TestMemStore_DeleteFolderRemovesContents(t *testing.T) {
	ctx := context.Background()
	store := NewMem()

	folder, _ := store.CreateFolder(ctx, "film-2")
	created, _ := store.CreateFile(ctx, "ep1.mp4", "video/mp4", strings.NewReader("vid"), folder)

	if err := store.Delete(ctx, folder); err != nil {
		t.Fatalf("Delete folder: %v", err)
	}
	if _, err := store.Metadata(ctx, created.Handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("file survived folder delete: err = %v", err)
	}
}
