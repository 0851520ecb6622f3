package scanning

import (
	"bytes"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/normalize"
)

// prepareImageData returns bytes and a MIME type the remote model accepts.
// JPEG and PNG pass through untouched; HEIC/HEIF and PDF are converted to PNG.
func prepareImageData(imageData []byte, contentType string) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	needsConversion := mimeType == "application/pdf" ||
		normalize.IsPDF(imageData) ||
		normalize.IsHEIC(imageData) ||
		normalize.IsHEICMimeType(mimeType)
	if !needsConversion {
		return imageData, mimeType, nil
	}

	img, err := normalize.Decode(imageData)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, "", fault.Wrap(fault.ExtractionFailed, err, "encoding PNG")
	}
	return buf.Bytes(), "image/png", nil
}
