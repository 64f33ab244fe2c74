package services

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

var imageFields = []string{
	"tile_image", "icon", "image", "cover", "logo", "tile", "thumbnail", "thumb",
	"large_capsule", "featured_image_small",
}

var descriptionFields = []string{"description", "body", "blurb"}

var rejectedImageExt = map[string]bool{
	"zip": true, "rar": true, "7z": true, "tar": true, "gz": true,
	"bz2": true, "xz": true, "tgz": true, "torrent": true,
}

// ExtractImage returns the first usable image URL of a product payload.
func ExtractImage(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	for _, field := range imageFields {
		if u := imageCandidate(payload[field]); u != "" {
			return u
		}
	}
	return imageCandidate(payload["visuals"])
}

func imageCandidate(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "http") && !IsRejectedImage(s) {
			return s
		}
	case []any:
		for _, item := range t {
			if u := imageCandidate(item); u != "" {
				return u
			}
		}
	case map[string]any:
		// the biggest variant usually sorts last
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		for _, k := range keys {
			if u := imageCandidate(t[k]); u != "" {
				return u
			}
		}
	}
	return ""
}

// IsRejectedImage reports URLs that point at archives or torrents.
func IsRejectedImage(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	if strings.Contains(p, "/torrent") {
		return true
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return rejectedImageExt[ext]
}

// ExtractDescription returns the first non-empty description-like field.
func ExtractDescription(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	for _, field := range descriptionFields {
		if s, ok := payload[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if strings.Contains(strings.ToLower(k), "desc") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
