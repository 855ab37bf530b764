package deploy

import (
	"mime"
	"path"
	"strings"
)

const defaultContentType = "application/octet-stream"

// contentTypeFor pins the types browsers care about and falls back to the
// platform mime table for everything else.
func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json", ".map":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".svg":
		return "image/svg+xml"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".ico":
		return "image/x-icon"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	case "":
		return defaultContentType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultContentType
}

// compressible reports whether a payload of content type ct is worth gzipping
func compressible(ct string) bool {
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.TrimSpace(mt)

	switch mt {
	case "text/html", "text/css", "text/javascript", "text/plain",
		"application/json", "application/xml", "image/svg+xml":
		return true
	}
	return false
}
