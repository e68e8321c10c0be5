//go:build !tflite

package model

import "fmt"

// TFLiteOptions configures LoadTFLite.
type TFLiteOptions struct {
	ModelPath string
	Threads   int
}

// LoadTFLite reports that this binary was built without the tflite tag.
func LoadTFLite(opts TFLiteOptions) (Engine, error) {
	if err := checkModelFile(opts.ModelPath); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: built without tensorflow lite support (rebuild with -tags tflite)", ErrModelLoad)
}
