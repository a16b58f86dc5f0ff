//go:build !cgo

package adapter

import "errors"

func newAcceleratedTensor(opts Options) (TensorInference, error) {
	return nil, errors.New("onnx runtime requires cgo")
}
