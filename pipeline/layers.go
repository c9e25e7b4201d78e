package pipeline

import (
	"context"
	"fmt"

	"github.com/gmlewis/msla/batch"
	"github.com/gmlewis/msla/dedup"
	"github.com/gmlewis/msla/internal/logging"
	"github.com/gmlewis/msla/layer"
)

// LayerReader supplies the stored bytes of each layer. ReadLayer is
// called in increasing index order from the goroutine running
// DecodeLayers, so it may own the file handle.
type LayerReader interface {
	ReadLayer(index int) ([]byte, error)
}

// LayerWriter stores encoded layers. Both methods are called in
// increasing index order from the goroutine running EncodeLayers.
type LayerWriter interface {
	// WriteLayer stores data for layer index and returns where it went.
	WriteLayer(index int, data []byte) (dedup.Region, error)
	// ReuseLayer points layer index at a region written earlier.
	ReuseLayer(index int, r dedup.Region) error
}

// DecodeLayers reads and decodes every layer image of t.
//
// Reads happen one batch at a time, then the batch is decoded
// concurrently. On any error all images are released again.
func DecodeLayers(ctx context.Context, cfg Config, t *layer.Table, lc LayerCodec, r LayerReader) error {
	w, h := t.Width(), t.Height()
	raw := make([][]byte, t.Len())
	err := cfg.scheduler().Run(ctx, t.Len(), batch.Stage{
		Before: func(ctx context.Context, b batch.Batch) error {
			for i := b.Start; i < b.End; i++ {
				data, err := r.ReadLayer(i)
				if err != nil {
					return fmt.Errorf("read layer %v: %w", i, err)
				}
				raw[i] = data
			}
			return nil
		},
		Work: func(ctx context.Context, i int) error {
			img, err := lc.Decode(i, raw[i], w, h)
			raw[i] = nil
			if err != nil {
				return &CorruptLayerError{Index: i, Err: err}
			}
			t.Layer(i).SetDecodedImage(img)
			return nil
		},
	})
	if err != nil {
		t.ReleaseImages()
		return err
	}
	return nil
}

// EncodeLayers encodes every layer image of t and hands the results to
// lw in index order.
//
// With cfg.Dedup, a layer whose stored bytes equal an earlier layer's is
// pointed at the earlier region instead of being written again. Unless
// cfg.KeepImages is set, images are released once every layer is stored.
// A failed or canceled encode leaves them attached so it can be retried.
func EncodeLayers(ctx context.Context, cfg Config, t *layer.Table, lc LayerCodec, lw LayerWriter) error {
	encoded := make([][]byte, t.Len())
	hashes := make([]dedup.Hash, t.Len())
	var index *dedup.Index
	if cfg.Dedup {
		index = dedup.New()
	}

	err := cfg.scheduler().Run(ctx, t.Len(), batch.Stage{
		Work: func(ctx context.Context, i int) error {
			img := t.Layer(i).Image()
			if img == nil {
				return fmt.Errorf("layer %v: %w", i, ErrMissingImage)
			}
			if img.Width() != t.Width() || img.Height() != t.Height() {
				return fmt.Errorf("layer %v: image is %vx%v, table is %vx%v: %w", i, img.Width(), img.Height(), t.Width(), t.Height(), layer.ErrInvalid)
			}
			data, err := lc.Encode(i, img)
			if err != nil {
				return fmt.Errorf("layer %v: %w", i, err)
			}
			encoded[i] = data
			if index != nil {
				hashes[i] = dedup.Sum(data)
			}
			return nil
		},
		After: func(ctx context.Context, b batch.Batch) error {
			for i := b.Start; i < b.End; i++ {
				if err := storeLayer(lw, index, i, encoded[i], hashes[i]); err != nil {
					return err
				}
				encoded[i] = nil
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	if !cfg.KeepImages {
		t.ReleaseImages()
	}
	if index != nil {
		logging.Debug("encoded %v layers, %v distinct, %v reused", t.Len(), index.Len(), index.Hits())
	}
	return nil
}

func storeLayer(lw LayerWriter, index *dedup.Index, i int, data []byte, h dedup.Hash) error {
	if index != nil {
		if r, ok := index.TryReuse(h); ok {
			if err := lw.ReuseLayer(i, r); err != nil {
				return fmt.Errorf("reuse layer %v: %w", i, err)
			}
			return nil
		}
	}
	r, err := lw.WriteLayer(i, data)
	if err != nil {
		return fmt.Errorf("write layer %v: %w", i, err)
	}
	if index != nil {
		index.Register(h, r)
	}
	return nil
}
