//go:build !gocv

package adapter

import "errors"

func newAcceleratedVision() (VisionOps, error) {
	return nil, errors.New("gocv build tag is not enabled")
}
