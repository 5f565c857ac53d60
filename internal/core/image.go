package core

import (
	"bytes"
	"encoding/base64"
	"log"
	"strings"
)

var defaultImageFormats = []string{"jpeg", "jpg", "png", "gif", "webp"}

var validImageFormats = map[string]bool{
	"jpeg": true, "jpg": true, "png": true, "gif": true,
	"webp": true, "bmp": true, "tiff": true,
}

const (
	defaultImageMaxSize = 5 << 20
	imageMaxSizeCeiling = 50 << 20
	imageDimensionLimit = 1000
)

// normalizeImageConfig repairs an image field's metadata in place: out-of-range
// or unknown configuration values fall back to defaults, with a log line so
// the bad declaration gets noticed.
func normalizeImageConfig(model, field string, md map[string]any) {
	if size, ok := md["max_size"].(int); !ok || size <= 0 || size > imageMaxSizeCeiling {
		log.Printf("model %s field %s: invalid image max_size, using default", model, field)
		md["max_size"] = defaultImageMaxSize
	}
	formats, ok := md["allowed_formats"].([]string)
	if !ok || len(formats) == 0 {
		md["allowed_formats"] = defaultImageFormats
	} else {
		normalized := make([]string, 0, len(formats))
		for _, f := range formats {
			lf := strings.ToLower(f)
			if !validImageFormats[lf] {
				log.Printf("model %s field %s: unsupported image format %q, using defaults", model, field, f)
				normalized = nil
				break
			}
			normalized = append(normalized, lf)
		}
		if normalized == nil {
			md["allowed_formats"] = defaultImageFormats
		} else {
			md["allowed_formats"] = normalized
		}
	}
	for _, key := range []string{"display_width", "display_height"} {
		if v, ok := md[key].(int); !ok || v <= 0 || v > imageDimensionLimit {
			log.Printf("model %s field %s: invalid image %s, using default", model, field, key)
			md[key] = 120
		}
	}
}

// validateImageData validates a base64 image payload against a field's
// constraints and returns it normalized to a data URL. Accepts either a
// data URL or raw base64; the actual format is detected from magic bytes,
// never trusted from the header alone.
func validateImageData(f Field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	maxSize := f.MaxSize
	if maxSize <= 0 || maxSize > imageMaxSizeCeiling {
		maxSize = defaultImageMaxSize
	}
	allowed := f.AllowedFormats
	if len(allowed) == 0 {
		allowed = defaultImageFormats
	}

	b64 := value
	if strings.HasPrefix(value, "data:") {
		_, data, ok := strings.Cut(value, ",")
		if !ok {
			return "", NewValidationError("invalid image data format")
		}
		b64 = data
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", NewValidationError("invalid base64 image data")
	}
	if len(decoded) > maxSize {
		return "", NewValidationError("image size (%d bytes) exceeds maximum allowed size (%d bytes)", len(decoded), maxSize)
	}

	format := detectImageFormat(decoded)
	if format == "" {
		return "", NewValidationError("unsupported image format")
	}
	if !formatAllowed(format, allowed) {
		return "", NewValidationError("image format %q not allowed, supported formats: %s", format, strings.Join(allowed, ", "))
	}
	return "data:image/" + format + ";base64," + b64, nil
}

func detectImageFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return "jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	}
	return ""
}

func formatAllowed(format string, allowed []string) bool {
	for _, a := range allowed {
		if a == format {
			return true
		}
		if format == "jpeg" && a == "jpg" {
			return true
		}
	}
	return false
}
