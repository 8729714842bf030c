package traitmerge

import (
	"github.com/setanarut/traitmerge/utils"
	"go.uber.org/zap"
)

type Backend string

const (
	BackendDraw Backend = "draw"
	BackendGG   Backend = "gg"
)

type Options struct {
	// Maximum number of combinations processed by one Processor.Run call.
	// Each batch boundary is a checkpoint where the caller may pause.
	BatchSize int
	// Caps the total number of combinations considered. 0 means no cap.
	// Useful for quick test runs (the classic value is 50).
	SampleSize int
	// Directory receiving merged_image_<i>.png and its metadata. Required by
	// NewProcessor; the config layer defaults it to the scanned root.
	OutputDir string
	// Number of combinations composited concurrently inside a batch.
	// 1 keeps the processing strictly sequential.
	Workers int
	// Compositing backend.
	Backend Backend
	// Consecutive failed attempts at the same cursor before RunAll gives up.
	MaxWriteRetries int
	// Trait image extension, including the dot.
	Extension string
	// Orders trait files inside a category. nil means DigitsSortKey.
	SortKey SortKeyFunc

	Collection Collection

	// Adds background_color to metadata, computed from the composite palette.
	BackgroundColor bool
	PaletteMethod   utils.PaletteMethod
	// Palette size used for background color extraction.
	PaletteColors int

	Logger *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		BatchSize:       8500,
		Workers:         1,
		Backend:         BackendDraw,
		MaxWriteRetries: 3,
		Extension:       ".png",
		Collection:      DefaultCollection(),
		PaletteMethod:   utils.PaletteMethodDominantColor,
		PaletteColors:   5,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
