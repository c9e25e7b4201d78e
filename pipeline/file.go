package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gmlewis/msla/dedup"
)

// Target is a temporary file in the destination directory. Commit
// renames it over the destination; until then the destination is
// untouched.
type Target struct {
	*os.File
	path string
	done bool
}

// CreateTarget opens a new temporary file that will become path.
func CreateTarget(path string) (*Target, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("CreateTarget: %w", err)
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("CreateTarget: %w", err)
	}
	return &Target{File: f, path: path}, nil
}

// Path returns the final destination.
func (t *Target) Path() string { return t.path }

// Commit closes the temporary file and moves it into place.
func (t *Target) Commit() error {
	if t.done {
		return errors.New("target already closed")
	}
	t.done = true
	if err := t.File.Close(); err != nil {
		os.Remove(t.File.Name())
		return fmt.Errorf("close %v: %w", t.File.Name(), err)
	}
	if err := os.Rename(t.File.Name(), t.path); err != nil {
		os.Remove(t.File.Name())
		return fmt.Errorf("commit %v: %w", t.path, err)
	}
	return nil
}

// Abort discards the temporary file. It does nothing after Commit, so it
// is safe to defer.
func (t *Target) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.File.Close()
	return os.Remove(t.File.Name())
}

// PatchFile copies path to a temporary file, lets fn rewrite fields in
// place with ReadAt/WriteAt, and replaces path with the result. If fn
// fails path is left as it was.
func PatchFile(path string, fn func(f *os.File) error) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	t, err := CreateTarget(path)
	if err != nil {
		src.Close()
		return err
	}
	defer t.Abort()

	_, err = io.Copy(t.File, src)
	src.Close()
	if err != nil {
		return fmt.Errorf("copy %v: %w", path, err)
	}
	if err := fn(t.File); err != nil {
		return err
	}
	return t.Commit()
}

// WriterAt is the file surface OffsetWriter needs.
type WriterAt interface {
	io.Writer
	io.WriterAt
}

// OffsetWriter appends to a file while tracking the current offset, so
// tables can be written as placeholders and patched once sizes are known.
type OffsetWriter struct {
	f     WriterAt
	off   int64
	order binary.ByteOrder
}

// NewOffsetWriter starts writing at offset 0 of f.
func NewOffsetWriter(f WriterAt, order binary.ByteOrder) *OffsetWriter {
	return &OffsetWriter{f: f, order: order}
}

// Offset returns the number of bytes appended so far.
func (w *OffsetWriter) Offset() int64 { return w.off }

func (w *OffsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.off += int64(n)
	return n, err
}

// WriteAt overwrites bytes already written. It does not move the offset.
func (w *OffsetWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.off {
		return 0, fmt.Errorf("WriteAt %v+%v is outside the %v bytes written", off, len(p), w.off)
	}
	return w.f.WriteAt(p, off)
}

// WriteStruct appends the binary encoding of v.
func (w *OffsetWriter) WriteStruct(v interface{}) error {
	return binary.Write(w, w.order, v)
}

// PatchStruct overwrites the binary encoding of v at off.
func (w *OffsetWriter) PatchStruct(off int64, v interface{}) error {
	return PatchStruct(w, w.order, off, v)
}

// PatchStruct writes the binary encoding of v at off.
func PatchStruct(w io.WriterAt, order binary.ByteOrder, off int64, v interface{}) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, v); err != nil {
		return err
	}
	_, err := w.WriteAt(buf.Bytes(), off)
	return err
}

// ReadStruct decodes v from r at off, mapping short reads to ErrTruncated.
func ReadStruct(r io.ReaderAt, order binary.ByteOrder, off int64, v interface{}) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("ReadStruct: %T has no fixed size", v)
	}
	sr := io.NewSectionReader(r, off, int64(size))
	if err := binary.Read(sr, order, v); err != nil {
		return ReadError(fmt.Sprintf("%T at offset %v", v, off), err)
	}
	return nil
}

// AppendWriter is a LayerWriter that appends each layer to an
// OffsetWriter and records its region.
type AppendWriter struct {
	W       *OffsetWriter
	Regions []dedup.Region
}

// NewAppendWriter records regions for n layers.
func NewAppendWriter(w *OffsetWriter, n int) *AppendWriter {
	return &AppendWriter{W: w, Regions: make([]dedup.Region, n)}
}

func (a *AppendWriter) WriteLayer(index int, data []byte) (dedup.Region, error) {
	r := dedup.Region{Offset: a.W.Offset(), Length: int64(len(data))}
	if _, err := a.W.Write(data); err != nil {
		return r, err
	}
	a.Regions[index] = r
	return r, nil
}

func (a *AppendWriter) ReuseLayer(index int, r dedup.Region) error {
	a.Regions[index] = r
	return nil
}

// RegionReader is a LayerReader over layers stored at known regions of
// a file of Size bytes.
type RegionReader struct {
	R       io.ReaderAt
	Size    int64
	Regions []dedup.Region
}

func (rr *RegionReader) ReadLayer(index int) ([]byte, error) {
	r := rr.Regions[index]
	return ReadBytes(rr.R, rr.Size, r.Offset, r.Length, "layer data")
}

// ReadBytes reads n bytes at off from a file of size bytes, failing with
// ErrTruncated if the range does not fit.
func ReadBytes(r io.ReaderAt, size, off, n int64, what string) ([]byte, error) {
	if off < 0 || n < 0 || off+n > size {
		return nil, fmt.Errorf("%v at %v+%v past end of %v-byte file: %w", what, off, n, size, ErrTruncated)
	}
	buf := make([]byte, n)
	if m, err := r.ReadAt(buf, off); int64(m) < n {
		return nil, ReadError(what, err)
	}
	return buf, nil
}

// Origin remembers which file a document was last read from or written
// to. Partial saves are only valid against that file.
type Origin struct {
	path string
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Set records path as the document's file.
func (o *Origin) Set(path string) { o.path = absPath(path) }

// Path returns the recorded file, or "".
func (o *Origin) Path() string { return o.path }

// Check returns ErrPartialSaveIncompatible unless path is the recorded file.
func (o *Origin) Check(path string) error {
	if o.path == "" || absPath(path) != o.path {
		return Incompatiblef("%v is not the file this document was read from", path)
	}
	return nil
}
