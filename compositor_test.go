package traitmerge

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	opaqueRed   = color.NRGBA{R: 255, A: 255}
	opaqueGreen = color.NRGBA{G: 255, A: 255}
	halfBlue    = color.NRGBA{B: 255, A: 128}
)

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestCanvasSize(t *testing.T) {
	tests := []struct {
		sizes  []image.Point
		expect image.Point
	}{
		{nil, image.Point{}},
		{[]image.Point{{3, 5}}, image.Pt(3, 5)},
		{[]image.Point{{4, 2}, {2, 4}}, image.Pt(4, 4)},
		{[]image.Point{{1, 9}, {7, 1}, {3, 3}}, image.Pt(7, 9)},
	}
	for _, tt := range tests {
		var imgs []image.Image
		for _, s := range tt.sizes {
			imgs = append(imgs, image.NewNRGBA(image.Rectangle{Max: s}))
		}
		assert.Equal(t, tt.expect, CanvasSize(imgs))
	}
}

func combinationOf(paths ...string) Combination {
	c := make(Combination, len(paths))
	for i, p := range paths {
		c[i] = TraitFile{Path: p}
	}
	return c
}

func TestDrawCompositorLayers(t *testing.T) {
	dir := t.TempDir()
	bottom := filepath.Join(dir, "bottom.png")
	top := filepath.Join(dir, "top.png")
	writePNG(t, bottom, solid(4, 2, opaqueRed))
	writePNG(t, top, solid(2, 4, halfBlue))

	img, err := (&DrawCompositor{}).Composite(combinationOf(bottom, top))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())

	// both layers
	mixed := nrgbaAt(img, 0, 0)
	assert.EqualValues(t, 255, mixed.A)
	assert.InDelta(t, 127, int(mixed.R), 2)
	assert.InDelta(t, 128, int(mixed.B), 2)
	// bottom only
	assert.Equal(t, opaqueRed, nrgbaAt(img, 3, 1))
	// top only
	topOnly := nrgbaAt(img, 1, 3)
	assert.InDelta(t, int(halfBlue.A), int(topOnly.A), 1)
	assert.InDelta(t, int(halfBlue.B), int(topOnly.B), 2)
	assert.Zero(t, topOnly.R)
	// neither layer covers the bottom right corner
	assert.EqualValues(t, 0, nrgbaAt(img, 3, 3).A)
}

func TestDrawCompositorOpaqueTopHidesBottom(t *testing.T) {
	dir := t.TempDir()
	bottom := filepath.Join(dir, "bottom.png")
	top := filepath.Join(dir, "top.png")
	writePNG(t, bottom, solid(3, 3, opaqueRed))
	writePNG(t, top, solid(3, 3, opaqueGreen))

	img, err := (&DrawCompositor{}).Composite(combinationOf(bottom, top))
	require.NoError(t, err)
	for y := range 3 {
		for x := range 3 {
			assert.Equal(t, opaqueGreen, nrgbaAt(img, x, y))
		}
	}

	img, err = (&DrawCompositor{}).Composite(combinationOf(top, bottom))
	require.NoError(t, err)
	assert.Equal(t, opaqueRed, nrgbaAt(img, 1, 1), "layer order follows the combination")
}

func TestCompositorSkipsUndecodableLayer(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	bad := filepath.Join(dir, "bad.png")
	writePNG(t, good, solid(2, 3, opaqueGreen))
	writeFile(t, bad, "not a png")

	img, err := (&DrawCompositor{}).Composite(combinationOf(bad, good, filepath.Join(dir, "missing.png")))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 3), img.Bounds())
	assert.Equal(t, opaqueGreen, nrgbaAt(img, 1, 2))
}

func TestCompositorNoContent(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	writeFile(t, bad, "garbage")

	for name, comp := range map[string]Compositor{
		"draw": &DrawCompositor{},
		"gg":   &GGCompositor{},
	} {
		t.Run(name, func(t *testing.T) {
			img, err := comp.Composite(combinationOf(bad, filepath.Join(dir, "missing.png")))
			assert.Nil(t, img)
			var nc *NoContentError
			require.True(t, errors.As(err, &nc))
			assert.Equal(t, []string{bad, filepath.Join(dir, "missing.png")}, nc.Paths)
		})
	}
}

func TestCompositorCustomDecoder(t *testing.T) {
	calls := 0
	comp := &DrawCompositor{Decode: func(path string) (image.Image, error) {
		calls++
		if path == "fail" {
			return nil, errors.New("boom")
		}
		return solid(5, 1, opaqueRed), nil
	}}
	img, err := comp.Composite(combinationOf("a", "fail", "b"))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, image.Pt(5, 1), img.Bounds().Size())
}

func TestGGCompositor(t *testing.T) {
	dir := t.TempDir()
	bottom := filepath.Join(dir, "bottom.png")
	top := filepath.Join(dir, "top.png")
	writePNG(t, bottom, solid(10, 6, opaqueRed))
	writePNG(t, top, solid(4, 12, opaqueGreen))

	img, err := (&GGCompositor{}).Composite(combinationOf(bottom, top))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 12), img.Bounds().Size())

	// interior pixels, away from layer edges
	r, g, _, a := img.At(7, 2).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Less(t, g, uint32(0x1000))
	assert.Greater(t, a, uint32(0xf000))

	r, g, _, _ = img.At(1, 2).RGBA()
	assert.Less(t, r, uint32(0x1000), "top layer covers the bottom one")
	assert.Greater(t, g, uint32(0xf000))

	_, _, _, a = img.At(8, 10).RGBA()
	assert.Less(t, a, uint32(0x1000))
}

func TestNewCompositor(t *testing.T) {
	opt := DefaultOptions()
	c, err := NewCompositor(opt)
	require.NoError(t, err)
	assert.IsType(t, &DrawCompositor{}, c)

	opt.Backend = BackendGG
	c, err = NewCompositor(opt)
	require.NoError(t, err)
	assert.IsType(t, &GGCompositor{}, c)

	opt.Backend = "vulkan"
	_, err = NewCompositor(opt)
	assert.Error(t, err)
}

func TestBackendsAgreeWithinRounding(t *testing.T) {
	dir := t.TempDir()
	bottom := filepath.Join(dir, "bottom.png")
	top := filepath.Join(dir, "top.png")
	writePNG(t, bottom, solid(8, 8, opaqueRed))
	writePNG(t, top, solid(8, 4, color.NRGBA{R: 10, G: 50, B: 250, A: 100}))

	c := combinationOf(bottom, top)
	want, err := (&DrawCompositor{}).Composite(c)
	require.NoError(t, err)
	got, err := (&GGCompositor{}).Composite(c)
	require.NoError(t, err)
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())

	// interior of the translucent layer and of the opaque one
	for _, pt := range []image.Point{{3, 1}, {4, 2}, {3, 6}} {
		w, g := nrgbaAt(want, pt.X, pt.Y), nrgbaAt(got, pt.X, pt.Y)
		assert.InDelta(t, int(w.R), int(g.R), 4, "R at %v", pt)
		assert.InDelta(t, int(w.G), int(g.G), 4, "G at %v", pt)
		assert.InDelta(t, int(w.B), int(g.B), 4, "B at %v", pt)
		assert.InDelta(t, int(w.A), int(g.A), 1, "A at %v", pt)
	}

	// a lone translucent layer keeps its alpha in both backends
	alone := combinationOf(top)
	want, err = (&DrawCompositor{}).Composite(alone)
	require.NoError(t, err)
	got, err = (&GGCompositor{}).Composite(alone)
	require.NoError(t, err)
	assert.InDelta(t, 100, int(nrgbaAt(want, 3, 1).A), 1)
	assert.InDelta(t, 100, int(nrgbaAt(got, 3, 1).A), 1)
}
