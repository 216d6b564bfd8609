package common

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 75

// TranscodeToJpeg decodes input bytes as image data and re-encodes them as
// JPEG. Source format is detected from content, all registered decoders are
// accepted.
func TranscodeToJpeg(input io.Reader, output io.Writer) error {
	img, _, err := image.Decode(input)
	if err != nil {
		return fmt.Errorf("image decoding failed: %s", err)
	}

	err = jpeg.Encode(output, img, &jpeg.Options{Quality: jpegQuality})
	if err != nil {
		return fmt.Errorf("failed to encode image as jpeg: %s", err)
	}

	return nil
}

// TranscodeBytesToJpeg is a byte slice convenience wrapper around
// TranscodeToJpeg.
func TranscodeBytesToJpeg(data []byte) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)
	err := TranscodeToJpeg(bytes.NewReader(data), buffer)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// MediaTypeFromExt maps an image file extension to its MIME type. Unknown
// extensions are treated as JPEG.
func MediaTypeFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ReplaceFileExt swaps extension of given file name, `newExt` should contain
// leading dot.
func ReplaceFileExt(name string, newExt string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)] + newExt
}
