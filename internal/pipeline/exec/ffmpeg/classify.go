// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import "strings"

var authFailureMarkers = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"authorization failed",
	"authentication failed",
}

func containsAuthFailure(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range authFailureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsAuthFailure reports whether any of the lines indicates that the camera
// rejected the credentials.
func IsAuthFailure(lines []string) bool {
	for _, l := range lines {
		if containsAuthFailure(l) {
			return true
		}
	}
	return false
}
