package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

const (
	// DefaultMaxEdge caps the longest image edge before transmission.
	DefaultMaxEdge = 1024
	// DefaultJPEGQuality is the recompression quality for normalized images.
	DefaultJPEGQuality = 85
)

// Normalizer re-encodes receipt inputs into bounded JPEG payloads before
// they are sent to an extraction backend. It accepts JPEG, PNG, GIF,
// HEIC/HEIF, and PDF (first page) inputs. Normalization is idempotent
// and optional: a pipeline may skip it and forward the original bytes.
type Normalizer struct {
	maxEdge int
	quality int
}

// NewNormalizer creates a Normalizer. Non-positive arguments select the
// defaults.
func NewNormalizer(maxEdge, quality int) *Normalizer {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return &Normalizer{maxEdge: maxEdge, quality: quality}
}

// Normalize decodes the input, downscales it so the longest edge is
// within the configured cap, and re-encodes it as JPEG. It returns the
// encoded bytes and their MIME type.
func (n *Normalizer) Normalize(data []byte, contentType string) ([]byte, string, error) {
	img, err := decodeInput(data, contentType)
	if err != nil {
		return nil, "", err
	}

	img = downscale(img, n.maxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, "", fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// decodeInput decodes receipt input bytes into an image, routing PDFs
// and HEIC files to their dedicated decoders.
func decodeInput(data []byte, contentType string) (image.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	if mimeType == "application/pdf" {
		return pdfToImage(data)
	}

	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF: %v", ErrImageDecode, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF. Receipts are almost
// always single page.
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %v", ErrImageDecode, err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering PDF page: %v", ErrImageDecode, err)
	}
	return img, nil
}

// downscale resizes img so its longest edge is at most maxEdge,
// preserving aspect ratio. Images already within bounds pass through.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(longest)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// isHEICFormat checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
