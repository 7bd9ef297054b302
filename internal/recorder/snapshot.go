// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"fmt"
	"image"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/fsutil"
	"github.com/ManuGH/vigil/internal/imaging"
	"github.com/ManuGH/vigil/internal/metrics"
)

// WriteSnapshot stores img as a JPEG under the camera directory using the
// picture filename template. The file appears atomically; viewers never see
// a partial image. trigger labels the metric (motion, manual).
func WriteSnapshot(mediaRoot string, cfg camera.Config, img *image.RGBA, now time.Time, trigger string) (camera.Event, error) {
	if img == nil {
		return camera.Event{}, fmt.Errorf("snapshot: no frame")
	}
	rel, err := camera.RenderFilename(cfg.PictureFilename, cfg.Name, now, ".jpg")
	if err != nil {
		return camera.Event{}, err
	}
	path, err := fsutil.MediaFile(mediaRoot, cfg.ID, rel)
	if err != nil {
		return camera.Event{}, err
	}
	data, err := imaging.EncodeJPEG(img, cfg.PictureQuality)
	if err != nil {
		return camera.Event{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return camera.Event{}, fmt.Errorf("write snapshot: %w", err)
	}
	metrics.IncSnapshot(cfg.ID, trigger)

	b := img.Bounds()
	return camera.Event{
		CameraID: cfg.ID,
		Type:     camera.EventSnapshotSave,
		At:       now,
		Path:     path,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
