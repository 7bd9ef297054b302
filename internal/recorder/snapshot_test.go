// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSnapshot(t *testing.T) {
	root := t.TempDir()
	cfg := camera.Config{ID: "front", Name: "Front", PictureFilename: "%Y/%m-%d-%H%M%S-%$"}.WithDefaults()
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	ev, err := WriteSnapshot(root, cfg, image.NewRGBA(image.Rect(0, 0, 32, 24)), at, "manual")
	require.NoError(t, err)

	assert.Equal(t, camera.EventSnapshotSave, ev.Type)
	assert.Equal(t, filepath.Join("front", "2025", "03-04-050607-Front.jpg"), mustRel(t, root, ev.Path))
	assert.Equal(t, 32, ev.Width)
	assert.Equal(t, 24, ev.Height)

	data, err := os.ReadFile(ev.Path)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestWriteSnapshot_RejectsNilFrame(t *testing.T) {
	_, err := WriteSnapshot(t.TempDir(), camera.Config{ID: "x"}.WithDefaults(), nil, time.Now(), "manual")
	assert.Error(t, err)
}

func mustRel(t *testing.T, root, path string) string {
	t.Helper()
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	rel, err := filepath.Rel(realRoot, path)
	require.NoError(t, err)
	return rel
}
