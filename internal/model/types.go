package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

// ErrModelLoad is returned when a model file is missing, corrupt or unsupported.
var ErrModelLoad = errors.New("model load failure")

var errNilEngine = errors.New("engine is nil")

// PairSize is the number of values in one pair input.
const PairSize = 2 * preprocess.Size

// Engine runs the siamese network on a stacked pair and returns its similarity score.
type Engine interface {
	Run(pair []float32) (float32, error)
	Close() error
}

// Metadata describes the tensors a model file exposes.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
}

// InputShape is batch, pair slot, height, width, channels.
func InputShape() []int64 {
	return []int64{1, 2, preprocess.Height, preprocess.Width, preprocess.Channels}
}

// OutputShape is a single score per batch.
func OutputShape() []int64 {
	return []int64{1, 1}
}

// DefaultMetadata returns the fixed shapes with unnamed tensors.
func DefaultMetadata() Metadata {
	return Metadata{InputShape: InputShape(), OutputShape: OutputShape()}
}

// ReadMetadata loads a metadata file. Missing shapes fall back to the fixed
// ones; shapes that differ from them are rejected.
func ReadMetadata(path string) (Metadata, error) {
	metadata := DefaultMetadata()
	if path == "" {
		return metadata, nil
	}

	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to read metadata: %v", ErrModelLoad, err)
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to parse metadata: %v", ErrModelLoad, err)
	}
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// Validate checks the shapes against the fixed pair input and scalar output.
func (m Metadata) Validate() error {
	if !slices.Equal(m.InputShape, InputShape()) {
		return fmt.Errorf("%w: unsupported input shape %v, expected %v", ErrModelLoad, m.InputShape, InputShape())
	}
	if !slices.Equal(m.OutputShape, OutputShape()) {
		return fmt.Errorf("%w: unsupported output shape %v, expected %v", ErrModelLoad, m.OutputShape, OutputShape())
	}
	return nil
}

const (
	BackendONNX   = "onnx"
	BackendTFLite = "tflite"
)

// Options selects and configures an engine backend.
type Options struct {
	Backend      string
	ModelPath    string
	MetadataPath string
	LibraryPath  string
	Threads      int
}

// BackendFor returns the backend for a model path when none is configured.
func BackendFor(backend, modelPath string) (string, error) {
	if backend != "" {
		backend = strings.ToLower(backend)
		if backend != BackendONNX && backend != BackendTFLite {
			return "", fmt.Errorf("%w: unknown backend %q", ErrModelLoad, backend)
		}
		return backend, nil
	}
	switch strings.ToLower(filepath.Ext(modelPath)) {
	case ".onnx":
		return BackendONNX, nil
	case ".tflite":
		return BackendTFLite, nil
	}
	return "", fmt.Errorf("%w: cannot infer backend from %q", ErrModelLoad, modelPath)
}

// Load maps the configured model into memory and returns a reusable engine.
func Load(opts Options) (Engine, error) {
	backend, err := BackendFor(opts.Backend, opts.ModelPath)
	if err != nil {
		return nil, err
	}
	if err := checkModelFile(opts.ModelPath); err != nil {
		return nil, err
	}

	metadata, err := ReadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if backend == BackendTFLite {
		engine, err := LoadTFLite(TFLiteOptions{ModelPath: opts.ModelPath, Threads: opts.Threads})
		if err != nil {
			return nil, err
		}
		return engine, nil
	}

	engine, err := LoadONNX(ONNXOptions{
		ModelPath:   opts.ModelPath,
		LibraryPath: opts.LibraryPath,
		Metadata:    metadata,
		Threads:     opts.Threads,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func checkModelFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no model path configured", ErrModelLoad)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrModelLoad, path)
	}
	return nil
}

func checkPair(pair []float32) error {
	if len(pair) != PairSize {
		return fmt.Errorf("pair input has %d values, expected %d", len(pair), PairSize)
	}
	return nil
}
