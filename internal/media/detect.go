package media

import (
	"bytes"
	"errors"
)

// ErrUnsupportedMedia is returned for anything that is not a known image.
var ErrUnsupportedMedia = errors.New("unsupported media type")

type Format struct {
	Ext         string
	ContentType string
}

var (
	FormatJPEG = Format{Ext: "jpg", ContentType: "image/jpeg"}
	FormatPNG  = Format{Ext: "png", ContentType: "image/png"}
	FormatGIF  = Format{Ext: "gif", ContentType: "image/gif"}
	FormatWebP = Format{Ext: "webp", ContentType: "image/webp"}
)

var (
	jpegMagic  = []byte{0xFF, 0xD8, 0xFF}
	pngMagic   = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gif87Magic = []byte("GIF87a")
	gif89Magic = []byte("GIF89a")
)

// Detect identifies an image from its leading bytes. The declared content
// type and file name are never consulted.
func Detect(head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, jpegMagic):
		return FormatJPEG, nil
	case bytes.HasPrefix(head, pngMagic):
		return FormatPNG, nil
	case bytes.HasPrefix(head, gif87Magic), bytes.HasPrefix(head, gif89Magic):
		return FormatGIF, nil
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return FormatWebP, nil
	default:
		return Format{}, ErrUnsupportedMedia
	}
}
