package traitmerge

import (
	"fmt"
	"image"
	"strings"

	"github.com/gogpu/gg"
	"github.com/setanarut/traitmerge/utils"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Compositor flattens one combination into a single raster.
type Compositor interface {
	Composite(c Combination) (image.Image, error)
}

// DecodeFunc loads one layer.
type DecodeFunc func(path string) (image.Image, error)

// DecodeError reports a layer that could not be decoded. The layer is left
// out of the composite.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode layer %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NoContentError is returned when no layer of a combination decoded.
type NoContentError struct {
	Paths []string
}

func (e *NoContentError) Error() string {
	return fmt.Sprintf("no decodable layer in combination [%s]", strings.Join(e.Paths, ", "))
}

// CanvasSize is the largest width and the largest height among images.
func CanvasSize(images []image.Image) image.Point {
	var size image.Point
	for _, img := range images {
		b := img.Bounds()
		size.X = max(size.X, b.Dx())
		size.Y = max(size.Y, b.Dy())
	}
	return size
}

type layerDecoder struct {
	decode DecodeFunc
	log    *zap.Logger
}

func (d layerDecoder) layers(c Combination) ([]image.Image, error) {
	decode := d.decode
	if decode == nil {
		decode = utils.ReadImage
	}
	images := make([]image.Image, 0, len(c))
	for _, f := range c {
		img, err := decode(f.Path)
		if err != nil {
			d.log.Warn("composite: layer skipped", zap.Error(&DecodeError{Path: f.Path, Err: err}))
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, &NoContentError{Paths: c.Paths()}
	}
	return images, nil
}

// DrawCompositor draws layers with golang.org/x/image/draw using the Over
// operator. Every layer is anchored at the canvas origin.
type DrawCompositor struct {
	Decode DecodeFunc
	Logger *zap.Logger
}

func (dc *DrawCompositor) Composite(c Combination) (image.Image, error) {
	images, err := layerDecoder{dc.Decode, nopIfNil(dc.Logger)}.layers(c)
	if err != nil {
		return nil, err
	}
	canvas := image.NewNRGBA(image.Rectangle{Max: CanvasSize(images)})
	for _, img := range images {
		b := img.Bounds()
		draw.Draw(canvas, image.Rectangle{Max: b.Size()}, img, b.Min, draw.Over)
	}
	return canvas, nil
}

// GGCompositor draws layers on a gg.Context. The context is closed on every
// return path. gg blends in premultiplied 8-bit space, so translucent pixels
// may differ from DrawCompositor by a few units per channel.
type GGCompositor struct {
	Decode DecodeFunc
	Logger *zap.Logger
}

func (gc *GGCompositor) Composite(c Combination) (image.Image, error) {
	images, err := layerDecoder{gc.Decode, nopIfNil(gc.Logger)}.layers(c)
	if err != nil {
		return nil, err
	}
	size := CanvasSize(images)
	dc := gg.NewContext(size.X, size.Y)
	defer dc.Close()
	dc.Clear()
	for _, img := range images {
		// Layers are drawn unscaled. gg maps a zero Interpolation to
		// bilinear, so nearest cannot be requested here.
		dc.DrawImage(gg.ImageBufFromImage(img), 0, 0)
	}
	return dc.Image(), nil
}

// NewCompositor returns the compositor selected by opt.Backend.
func NewCompositor(opt Options) (Compositor, error) {
	switch opt.Backend {
	case BackendDraw, "":
		return &DrawCompositor{Logger: opt.logger()}, nil
	case BackendGG:
		return &GGCompositor{Logger: opt.logger()}, nil
	}
	return nil, fmt.Errorf("unknown compositing backend %q", opt.Backend)
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
