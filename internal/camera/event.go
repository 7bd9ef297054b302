// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import "time"

// EventType names a pipeline lifecycle event.
type EventType string

const (
	EventMotionStart    EventType = "motion_start"
	EventMotionEnd      EventType = "motion_end"
	EventRecordingStart EventType = "recording_start"
	EventRecordingEnd   EventType = "recording_end"
	EventSnapshotSave   EventType = "snapshot_save"
	EventHealth         EventType = "camera_health"
)

// Event is emitted by a camera pipeline onto its bounded event channel.
// Fields not relevant to Type are left zero.
type Event struct {
	CameraID string
	Type     EventType
	At       time.Time

	Path   string
	Width  int
	Height int

	Health  Health
	Title   string
	Message string
}
