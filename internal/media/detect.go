package media

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/thoas/go-funk"
)

const (
	zipExtension = ".zip"
	zipMIMEType  = "application/zip"

	// used when an extension is recognized but missing from videoMIMETypes
	fallbackVideoMIMEType = "video/mp4"
)

var videoExtensions = []string{
	".mp4", ".mov", ".m4v", ".avi", ".mkv", ".webm", ".wmv", ".flv", ".mpg", ".mpeg", ".3gp",
}

var videoMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".3gp":  "video/3gpp",
}

// Browsers and operating systems disagree on how to label zip files.
var archiveMIMETypes = []string{
	zipMIMEType,
	"application/x-zip",
	"application/x-zip-compressed",
	"multipart/x-zip",
}

// genericMIMETypes carry no information and defer to extension and content.
var genericMIMETypes = []string{
	"",
	"application/octet-stream",
	"binary/octet-stream",
}

func extension(name string) string {
	return strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
}

func baseName(name string) string {
	return path.Base(strings.ReplaceAll(name, "\\", "/"))
}

func normalizeMIMEType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

// IsVideoExtension reports whether name ends in a recognized video extension.
func IsVideoExtension(name string) bool {
	return funk.ContainsString(videoExtensions, extension(name))
}

// VideoMIMEType returns the normalized MIME type for a video file name.
func VideoMIMEType(name string) string {
	if t, ok := videoMIMETypes[extension(name)]; ok {
		return t
	}
	return fallbackVideoMIMEType
}

// MIMETypeForName guesses the declared type of a local file from its name,
// the way a file picker would.
func MIMETypeForName(name string) string {
	ext := extension(name)
	if ext == zipExtension {
		return zipMIMEType
	}
	if t, ok := videoMIMETypes[ext]; ok {
		return t
	}
	return ""
}

func isArchiveMIMEType(mimeType string) bool {
	return funk.ContainsString(archiveMIMETypes, mimeType)
}

func isVideoMIMEType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/")
}

// classify decides whether a source is a video, an archive or neither. The
// declared MIME type is checked first, then the extension, and content
// sniffing is only used when the declared type says nothing.
func classify(src Source) (Kind, string, bool) {
	declared := normalizeMIMEType(src.MIMEType)

	switch {
	case isArchiveMIMEType(declared):
		return KindArchive, zipMIMEType, true
	case isVideoMIMEType(declared):
		return KindVideo, declared, true
	case extension(src.Name) == zipExtension:
		return KindArchive, zipMIMEType, true
	case IsVideoExtension(src.Name):
		return KindVideo, VideoMIMEType(src.Name), true
	}

	if !funk.ContainsString(genericMIMETypes, declared) || len(src.Data) == 0 {
		return "", declared, false
	}

	detected := mimetype.Detect(src.Data)
	switch {
	case detected.Is(zipMIMEType):
		return KindArchive, zipMIMEType, true
	case isVideoMIMEType(detected.String()):
		return KindVideo, normalizeMIMEType(detected.String()), true
	}
	return "", detected.String(), false
}
