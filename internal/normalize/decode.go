package normalize

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/receipt-parser/internal/fault"
)

// Decode reads JPEG, PNG, GIF, HEIC/HEIF or PDF bytes into an image.
// JPEG orientation tags are applied. PDFs are rasterized from their first page.
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, fault.New(fault.Decode, "image data is empty")
	}

	switch {
	case IsPDF(raw):
		img, err := pdfFirstPage(raw)
		if err != nil {
			return nil, fault.Wrap(fault.Decode, err, "decoding PDF")
		}
		return img, nil
	case IsHEIC(raw):
		img, err := heic.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fault.Wrap(fault.Decode, err, "decoding HEIC/HEIF image")
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fault.Wrap(fault.Decode, err, "decoding image")
	}
	return img, nil
}

func pdfFirstPage(raw []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(raw)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// IsPDF checks for the PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// IsHEIC checks for an ftyp box with a HEIC/HEIF brand at offset 4
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// IsHEICMimeType reports whether the MIME type names HEIC or HEIF
func IsHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
