// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Expand renders a strftime-like template. Supported tokens:
//
//	%Y %y %m %d %H %I %M %S %p %j %a %A %b %B %Z %s   time fields
//	%$                                                camera name
//	%%                                                literal percent
//
// Unknown tokens are copied through unchanged.
func Expand(tmpl, cameraName string, t time.Time) string {
	if !strings.Contains(tmpl, "%") {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl) + 16)
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i == len(tmpl)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch tmpl[i] {
		case 'Y':
			b.WriteString(strconv.Itoa(t.Year()))
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'I':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			fmt.Fprintf(&b, "%02d", h)
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'p':
			b.WriteString(t.Format("PM"))
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'Z':
			b.WriteString(t.Format("MST"))
		case 's':
			b.WriteString(strconv.FormatInt(t.Unix(), 10))
		case '$':
			b.WriteString(cameraName)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(tmpl[i])
		}
	}
	return b.String()
}

// ValidateFilenameTemplate rejects templates that could escape the camera
// directory regardless of the values substituted into them.
func ValidateFilenameTemplate(tmpl string) error {
	switch {
	case strings.TrimSpace(tmpl) == "":
		return fmt.Errorf("%w: empty", ErrInvalidTemplate)
	case strings.HasPrefix(tmpl, "/"):
		return fmt.Errorf("%w: %q must be relative", ErrInvalidTemplate, tmpl)
	case strings.Contains(tmpl, "\\"):
		return fmt.Errorf("%w: %q contains a backslash", ErrInvalidTemplate, tmpl)
	}
	for _, seg := range strings.Split(tmpl, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q contains a parent segment", ErrInvalidTemplate, tmpl)
		}
	}
	return nil
}

// RenderFilename expands a filename template into a relative, slash separated
// path with the given extension. Separators inside the camera name are
// neutralised so only the template controls directory structure.
func RenderFilename(tmpl, cameraName string, t time.Time, ext string) (string, error) {
	if err := ValidateFilenameTemplate(tmpl); err != nil {
		return "", err
	}
	safeName := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(cameraName)
	rel := path.Clean(Expand(tmpl, safeName, t))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q renders outside the camera directory", ErrInvalidTemplate, tmpl)
	}
	if ext != "" && !strings.HasSuffix(rel, ext) {
		rel += ext
	}
	return rel, nil
}
