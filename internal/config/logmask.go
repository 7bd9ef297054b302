// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net/url"
	"reflect"
	"strings"
)

// sensitiveKeywords mark field names whose values are masked in logs.
var sensitiveKeywords = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
}

// MaskSecrets returns a loggable copy of data: structs and maps become
// map[string]any with sensitive fields replaced by "***". Strings that parse
// as URLs with userinfo are masked as well.
func MaskSecrets(data any) any {
	if data == nil {
		return nil
	}
	val := reflect.ValueOf(data)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.String:
		return MaskURL(val.String())

	case reflect.Map:
		out := make(map[string]any, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			if isSensitiveKey(key) {
				out[key] = "***"
				continue
			}
			out[key] = MaskSecrets(iter.Value().Interface())
		}
		return out

	case reflect.Slice, reflect.Array:
		if val.Type().Elem().Kind() != reflect.Struct && val.Type().Elem().Kind() != reflect.String {
			return val.Interface()
		}
		out := make([]any, val.Len())
		for i := range out {
			out[i] = MaskSecrets(val.Index(i).Interface())
		}
		return out

	case reflect.Struct:
		out := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			if isSensitiveKey(field.Name) {
				out[field.Name] = "***"
				continue
			}
			out[field.Name] = MaskSecrets(val.Field(i).Interface())
		}
		return out

	default:
		return val.Interface()
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MaskURL replaces the userinfo of a URL with "***", e.g.
// rtsp://admin:pw@cam/ becomes rtsp://***@cam/. Strings that are not URLs
// are returned unchanged.
func MaskURL(rawURL string) string {
	if rawURL == "" || !strings.Contains(rawURL, "@") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err == nil && u.User != nil {
		stripped := *u
		stripped.User = nil
		s := stripped.String()
		if i := strings.Index(s, "://"); i >= 0 {
			return s[:i+3] + "***@" + s[i+3:]
		}
	}
	// Unparseable input: cut everything between the scheme and the last '@'.
	schemeIdx := strings.Index(rawURL, "://")
	at := strings.LastIndex(rawURL, "@")
	if schemeIdx > 0 && at > schemeIdx {
		return rawURL[:schemeIdx+3] + "***" + rawURL[at:]
	}
	return rawURL
}
