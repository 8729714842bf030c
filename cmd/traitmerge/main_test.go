package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/setanarut/traitmerge"
	"github.com/setanarut/traitmerge/internal/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayer(t *testing.T, path string, c color.NRGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range 4 {
		img.SetNRGBA(i%2, i/2, c)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func traitRoot(t *testing.T, perCategory int) string {
	t.Helper()
	root := t.TempDir()
	for i := range perCategory {
		writeLayer(t, filepath.Join(root, "Background", "bg-"+string(rune('a'+i))+".png"), color.NRGBA{R: uint8(i * 40), A: 255})
		writeLayer(t, filepath.Join(root, "Shape", "shape-"+string(rune('a'+i))+".png"), color.NRGBA{G: uint8(i * 40), A: 128})
	}
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScanCommand(t *testing.T) {
	root := traitRoot(t, 3)
	out, err := execute(t, "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "0\tBackground\t3 files")
	assert.Contains(t, out, "1\tShape\t3 files")
	assert.Contains(t, out, "combinations: 9")
}

func TestRunCommand(t *testing.T) {
	root := traitRoot(t, 3)
	out := t.TempDir()
	stdout, err := execute(t, "run", root, "--out", out, "--batch-size", "4")
	require.NoError(t, err)
	assert.Contains(t, stdout, "4/9")
	assert.Contains(t, stdout, "done: 9 written, 0 skipped, 3 batches")

	for i := range 9 {
		assert.FileExists(t, filepath.Join(out, traitmerge.ImageName(i)))
		assert.FileExists(t, filepath.Join(out, traitmerge.MetadataName(i)))
	}
	store, err := checkpoint.NewStore(filepath.Join(out, checkpoint.FileName))
	require.NoError(t, err)
	st, err := store.Load()
	require.NoError(t, err)
	assert.True(t, st.Done())
	assert.Equal(t, 9, st.Total)
}

func TestRunCommandTestSample(t *testing.T) {
	root := traitRoot(t, 8)
	out := t.TempDir()
	stdout, err := execute(t, "run", root, "--out", out, "--test")
	require.NoError(t, err)
	assert.Contains(t, stdout, "done: 50 written")
	assert.NoFileExists(t, filepath.Join(out, traitmerge.ImageName(50)))
}

func TestRunCommandResume(t *testing.T) {
	root := traitRoot(t, 2)
	out := t.TempDir()
	seq := traitmerge.NewGenerator(traitmerge.Scan(root, traitmerge.DefaultOptions()))
	store, err := checkpoint.NewStore(filepath.Join(out, checkpoint.FileName))
	require.NoError(t, err)
	st := checkpoint.NewState(root, out, seq)
	st.Cursor = 3
	require.NoError(t, store.Save(st))

	stdout, err := execute(t, "run", root, "--out", out, "--resume")
	require.NoError(t, err)
	assert.Contains(t, stdout, "done: 1 written")
	assert.FileExists(t, filepath.Join(out, traitmerge.ImageName(3)))
	assert.NoFileExists(t, filepath.Join(out, traitmerge.ImageName(0)))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, st.RunID, got.RunID)
	assert.Equal(t, 4, got.Cursor)
}

func TestRunCommandResumeRejectsChangedTree(t *testing.T) {
	root := traitRoot(t, 2)
	out := t.TempDir()
	seq := traitmerge.NewGenerator(traitmerge.Scan(root, traitmerge.DefaultOptions()))
	store, err := checkpoint.NewStore(filepath.Join(out, checkpoint.FileName))
	require.NoError(t, err)
	require.NoError(t, store.Save(checkpoint.NewState(root, out, seq)))

	writeLayer(t, filepath.Join(root, "Shape", "shape-z.png"), color.NRGBA{B: 255, A: 255})
	_, err = execute(t, "run", root, "--out", out, "--resume")
	assert.ErrorIs(t, err, checkpoint.ErrMismatch)
}

func TestRarityCommand(t *testing.T) {
	root := traitRoot(t, 2)
	stdout, err := execute(t, "rarity", root)
	require.NoError(t, err)

	var rep traitmerge.RarityReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, 4, rep.Artifacts)
	assert.Len(t, rep.Categories, 2)

	out := t.TempDir()
	_, err = execute(t, "rarity", root, "--write", "--sample", "3", "--config", writeConfig(t, "output_dir: "+out+"\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(out, "rarity.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 3, rep.Artifacts)
}

func TestInvalidFlags(t *testing.T) {
	root := traitRoot(t, 1)
	_, err := execute(t, "run", root, "--batch-size", "0")
	assert.Error(t, err)
	_, err = execute(t, "run", root, "--backend", "opengl")
	assert.Error(t, err)
	_, err = execute(t, "run")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traitmerge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
