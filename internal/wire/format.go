package wire

import (
	"mime"
	"strings"
)

// Format is the encoding a request arrived in; responses mirror it.
type Format int

const (
	FormatBinary Format = iota
	FormatText
)

const (
	ContentTypeBinary = "application/octet-stream"
	ContentTypeText   = "text/plain"
)

// FormatFromContentType selects the structured-text form for text/plain and
// application/json bodies and the binary form for everything else.
func FormatFromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch mediaType {
	case "text/plain", "application/json":
		return FormatText
	default:
		return FormatBinary
	}
}

func (f Format) ContentType() string {
	if f == FormatText {
		return ContentTypeText
	}
	return ContentTypeBinary
}

func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "binary"
}
