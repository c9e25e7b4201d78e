// Package format is the registry of printer file formats.
//
// Each format package registers a Handler from its init function, so a
// program selects the formats it supports by importing them:
//
//	import _ "github.com/gmlewis/msla/photon"
package format

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gmlewis/msla/internal/logging"
	"github.com/gmlewis/msla/layer"
	"github.com/gmlewis/msla/pipeline"
)

// Document is one decoded or newly created print file.
type Document interface {
	// Table returns the layers and parameters of the print.
	Table() *layer.Table
	// Encode writes every header and layer image to path.
	Encode(ctx context.Context, path string, cfg pipeline.Config) error
	// PartialSave rewrites the metadata of the file at path in place,
	// leaving layer images as they are. It fails with
	// pipeline.ErrPartialSaveIncompatible when that is not possible.
	PartialSave(ctx context.Context, path string) error
}

// Handler reads and creates Documents of one format.
type Handler interface {
	Name() string
	// Extensions lists the lower-case file extensions, with the dot.
	Extensions() []string
	Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (Document, error)
	New(t *layer.Table) Document
}

var (
	mu       sync.RWMutex
	handlers = map[string]Handler{} // by extension
)

// RegisterFormat makes h available for its extensions. It panics if an
// extension is already taken.
func RegisterFormat(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	for _, ext := range h.Extensions() {
		ext = strings.ToLower(ext)
		if old, ok := handlers[ext]; ok {
			panic(fmt.Sprintf("format: %v already registered by %v", ext, old.Name()))
		}
		handlers[ext] = h
	}
}

// ForPath returns the Handler for the extension of path.
func ForPath(path string) (Handler, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mu.RLock()
	defer mu.RUnlock()
	if h, ok := handlers[ext]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%v: no format handles %q files: %w", path, ext, pipeline.ErrFormat)
}

// Formats returns every registered Handler, sorted by name.
func Formats() []Handler {
	mu.RLock()
	defer mu.RUnlock()
	seen := map[string]bool{}
	var out []Handler
	for _, h := range handlers {
		if !seen[h.Name()] {
			seen[h.Name()] = true
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Decode opens path with the Handler for its extension.
func Decode(ctx context.Context, path string, mode pipeline.Mode, cfg pipeline.Config) (Document, error) {
	h, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	return h.Decode(ctx, path, mode, cfg)
}

// Save stores doc at path. When only metadata changed and path already
// holds the file, it is patched in place; otherwise doc is fully encoded.
func Save(ctx context.Context, doc Document, path string, cfg pipeline.Config) error {
	t := doc.Table()
	if !t.NeedsFullEncode() {
		if _, err := os.Stat(path); err == nil {
			err := doc.PartialSave(ctx, path)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pipeline.ErrPartialSaveIncompatible) {
				return err
			}
			logging.Info("%v: %v; writing the whole file", path, err)
		}
	}
	return doc.Encode(ctx, path, cfg)
}
