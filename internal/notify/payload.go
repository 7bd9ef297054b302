// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"time"

	"github.com/ManuGH/vigil/internal/camera"
)

// Webhook event types understood by the backend.
const (
	TypeMotionOn     = "motion_on"
	TypeEventStart   = "event_start"
	TypeMotionOff    = "motion_off"
	TypeMovieEnd     = "movie_end"
	TypePictureSave  = "picture_save"
	TypeCameraHealth = "camera_health"
)

// Payload is the JSON body of one webhook POST.
type Payload struct {
	EventID   string `json:"event_id"`
	CameraID  string `json:"camera_id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	FilePath string `json:"file_path,omitempty"`
	// Width and Height are always set on movie_end and picture_save, even when zero.
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	Status  string `json:"status,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Payloads maps a pipeline event onto the webhook vocabulary. Events the
// backend does not consume map to nothing. Event ids are left empty.
func Payloads(ev camera.Event) []Payload {
	base := Payload{
		CameraID:  ev.CameraID,
		Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
	}

	switch ev.Type {
	case camera.EventMotionStart:
		on, start := base, base
		on.Type, on.FilePath = TypeMotionOn, ev.Path
		start.Type, start.FilePath = TypeEventStart, ev.Path
		return []Payload{on, start}
	case camera.EventMotionEnd:
		base.Type, base.FilePath = TypeMotionOff, ev.Path
	case camera.EventRecordingEnd:
		base.Type = TypeMovieEnd
		base.setMedia(ev)
	case camera.EventSnapshotSave:
		base.Type = TypePictureSave
		base.setMedia(ev)
	case camera.EventHealth:
		base.Type = TypeCameraHealth
		base.Status, base.Title, base.Message = ev.Health.String(), ev.Title, ev.Message
	default:
		return nil
	}
	return []Payload{base}
}

func (p *Payload) setMedia(ev camera.Event) {
	w, h := ev.Width, ev.Height
	p.FilePath, p.Width, p.Height = ev.Path, &w, &h
}
