// Package ocr runs Tesseract over normalized receipt images.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-parser/internal/fault"
)

// Whitelist is the set of characters Tesseract may emit
const Whitelist = "0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	":/.%-$"

// DefaultTimeout bounds a single recognition when no timeout is configured
const DefaultTimeout = 30 * time.Second

// Tesseract recognizes text with a single-block page layout and a fixed
// character whitelist
type Tesseract struct {
	language     string
	tessdataPath string
	timeout      time.Duration
}

// NewTesseract creates a recognizer. An empty language means "eng" and an
// empty tessdataPath uses Tesseract's default lookup.
func NewTesseract(language, tessdataPath string, timeout time.Duration) *Tesseract {
	if language == "" {
		language = "eng"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tesseract{
		language:     language,
		tessdataPath: tessdataPath,
		timeout:      timeout,
	}
}

// Check reports whether the engine is linked and has data for the language
func (t *Tesseract) Check() error {
	if gosseract.Version() == "" {
		return errors.New("tesseract not available")
	}

	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("listing tesseract languages: %w", err)
	}
	if t.tessdataPath == "" && !slices.Contains(langs, t.language) {
		return fmt.Errorf("tesseract language data %q not installed", t.language)
	}
	return nil
}

type recognition struct {
	text string
	err  error
}

// Recognize returns the trimmed text in img. A blank image yields "".
func (t *Tesseract) Recognize(ctx context.Context, img *image.Gray) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fault.Wrap(fault.ExtractionFailed, err, "encoding image for recognition")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", fault.Wrap(fault.ProviderUnavailable, err, "text recognition cancelled")
	}

	// the engine cannot be interrupted, so it runs on its own goroutine and
	// owns its client until it finishes
	done := make(chan recognition, 1)
	go func() {
		text, err := t.run(buf.Bytes())
		done <- recognition{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fault.Wrap(fault.ProviderUnavailable, ctx.Err(), "text recognition timed out")
	case r := <-done:
		if r.err != nil {
			return "", fault.Wrap(fault.ExtractionFailed, r.err, "recognizing text")
		}
		return r.text, nil
	}
}

func (t *Tesseract) run(data []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPath != "" {
		if err := client.SetTessdataPrefix(t.tessdataPath); err != nil {
			return "", fmt.Errorf("setting tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(Whitelist); err != nil {
		return "", fmt.Errorf("setting whitelist: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
