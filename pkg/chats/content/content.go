// Package content defines the content parts a message is built from.
package content

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return "text" }

// Image is raw image data attached to a message, for multimodal models.
type Image struct {
	Data      []byte
	MediaType string // Sniffed from Data when empty.
}

func (i Image) PartKind() string { return "image" }

// Type returns the media type, sniffing it from the data when unset.
// Data that does not look like an image is reported as image/png.
func (i Image) Type() string {
	if i.MediaType != "" {
		return i.MediaType
	}

	if t := http.DetectContentType(i.Data); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}

// Base64 returns the data in standard base64, as the local runtime expects.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL, as OpenAI-compatible APIs expect.
func (i Image) DataURL() string {
	return "data:" + i.Type() + ";base64," + i.Base64()
}
