// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import "fmt"

// Health is the connection state of a camera as seen by its stream reader.
// Only the reader writes it.
type Health int

const (
	HealthStarting Health = iota
	HealthConnected
	HealthUnreachable
	HealthUnauthorized
)

func (h Health) String() string {
	switch h {
	case HealthStarting:
		return "starting"
	case HealthConnected:
		return "connected"
	case HealthUnreachable:
		return "unreachable"
	case HealthUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("health(%d)", int(h))
	}
}

// MarshalText renders the state name in JSON status payloads.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Describe returns the human readable title and message sent with a
// camera_health notification.
func (h Health) Describe(cameraName string) (title, message string) {
	switch h {
	case HealthUnauthorized:
		return "Camera authentication failed",
			fmt.Sprintf("%s rejected the configured credentials. Check the username and password.", cameraName)
	case HealthUnreachable:
		return "Camera unreachable",
			fmt.Sprintf("%s cannot be reached. Check power, network and the stream address.", cameraName)
	case HealthConnected:
		return "Camera connected",
			fmt.Sprintf("%s is streaming again.", cameraName)
	default:
		return "Camera starting", fmt.Sprintf("%s is connecting.", cameraName)
	}
}
