package traitmerge

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/setanarut/traitmerge/utils"
)

func ImageName(index int) string {
	return "merged_image_" + strconv.Itoa(index) + ".png"
}

func MetadataName(index int) string {
	return "metadata_merged_image_" + strconv.Itoa(index) + ".json"
}

// ArtifactWriter persists one artifact. WriteImage returns the path the
// image can be referenced by. RemoveImage undoes WriteImage when the
// metadata of the same index could not be stored.
type ArtifactWriter interface {
	WriteImage(index int, img image.Image) (string, error)
	WriteMetadata(index int, md Metadata) error
	RemoveImage(index int) error
}

// WriteError means an artifact could not be stored. The cursor never moves
// past Index.
type WriteError struct {
	Index int
	Path  string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DirWriter stores artifacts as files in Dir. Files are written to a
// temporary name, synced and renamed, so a reader never sees a partial file
// and rewriting an index replaces it.
type DirWriter struct {
	Dir string
}

func (w *DirWriter) WriteImage(index int, img image.Image) (string, error) {
	path := filepath.Join(w.Dir, ImageName(index))
	data, err := utils.EncodePNG(img)
	if err != nil {
		return path, &WriteError{Index: index, Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return path, &WriteError{Index: index, Path: path, Err: err}
	}
	return path, nil
}

func (w *DirWriter) WriteMetadata(index int, md Metadata) error {
	path := filepath.Join(w.Dir, MetadataName(index))
	data, err := md.Marshal()
	if err != nil {
		return &WriteError{Index: index, Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return &WriteError{Index: index, Path: path, Err: err}
	}
	return nil
}

// RemoveImage deletes the image of index. A missing file is not an error.
func (w *DirWriter) RemoveImage(index int) error {
	path := filepath.Join(w.Dir, ImageName(index))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &WriteError{Index: index, Path: path, Err: err}
	}
	return syncDir(w.Dir)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

// syncDir makes a rename in dir durable.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
