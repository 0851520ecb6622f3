package normalize

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// Check reports whether OpenCV is linked into the binary
func Check(context.Context) error {
	if gocv.OpenCVVersion() == "" {
		return errors.New("opencv not linked")
	}
	return nil
}
