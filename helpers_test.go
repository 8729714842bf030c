package traitmerge

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// layerTree writes one 2x2 PNG per file name, grouped by category folder.
// Each file gets a distinct color so composites differ.
func layerTree(t *testing.T, root string, tree map[string][]string) {
	t.Helper()
	n := 0
	for dir, files := range tree {
		for _, name := range files {
			n++
			c := color.NRGBA{R: uint8(n * 37), G: uint8(n * 91), B: uint8(n * 53), A: 255}
			writePNG(t, filepath.Join(root, dir, name), solid(2, 2, c))
		}
	}
}

// syntheticCategories builds categories without touching the disk.
func syntheticCategories(sizes ...int) []TraitCategory {
	cats := make([]TraitCategory, len(sizes))
	for k, n := range sizes {
		name := string(rune('A' + k))
		cats[k].Name = name
		for i := range n {
			base := name + "-" + string(rune('0'+i))
			cats[k].Files = append(cats[k].Files, TraitFile{
				Path:    "/" + name + "/" + base + ".png",
				Name:    base,
				SortKey: i,
				Attr:    Attribute{TraitType: name, Value: string(rune('0' + i))},
				HasAttr: true,
			})
		}
	}
	return cats
}

func testOptions(out string) Options {
	opt := DefaultOptions()
	opt.OutputDir = out
	opt.Collection.ImageBaseURI = "ipfs://collection"
	return opt
}
