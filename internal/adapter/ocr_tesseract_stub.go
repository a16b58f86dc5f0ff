//go:build !cgo

package adapter

import "errors"

func newTextRecognizer(opts Options) (TextRecognizer, error) {
	return nil, errors.New("tesseract OCR requires cgo")
}
