package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures LoadONNX.
type ONNXOptions struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	Metadata    Metadata
	Threads     int
}

// ONNXEngine runs a siamese model through ONNX Runtime. The input and output
// tensors are allocated once and bound to the session.
type ONNXEngine struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

var _ Engine = (*ONNXEngine)(nil)

// LoadONNX creates a session for the model at opts.ModelPath.
func LoadONNX(opts ONNXOptions) (*ONNXEngine, error) {
	if err := checkModelFile(opts.ModelPath); err != nil {
		return nil, err
	}
	if len(opts.Metadata.InputShape) == 0 {
		opts.Metadata = DefaultMetadata()
	}
	if err := opts.Metadata.Validate(); err != nil {
		return nil, err
	}

	if !ort.IsInitialized() {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %v", ErrModelLoad, err)
		}
	}

	metadata := opts.Metadata
	if metadata.InputName == "" || metadata.OutputName == "" {
		inputName, outputName, err := discoverNames(opts.ModelPath)
		if err != nil {
			return nil, err
		}
		if metadata.InputName == "" {
			metadata.InputName = inputName
		}
		if metadata.OutputName == "" {
			metadata.OutputName = outputName
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", ErrModelLoad, err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create output tensor: %v", ErrModelLoad, err)
	}

	var sessionOptions *ort.SessionOptions
	if opts.Threads > 0 {
		sessionOptions, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("%w: failed to create session options: %v", ErrModelLoad, err)
		}
		defer sessionOptions.Destroy()
		if err := sessionOptions.SetIntraOpNumThreads(opts.Threads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("%w: failed to set thread count: %v", ErrModelLoad, err)
		}
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOptions)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("%w: failed to create ONNX session: %v", ErrModelLoad, err)
	}

	return &ONNXEngine{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func discoverNames(modelPath string) (string, string, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to inspect model: %v", ErrModelLoad, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return "", "", fmt.Errorf("%w: expected one input and one output, model has %d and %d",
			ErrModelLoad, len(inputs), len(outputs))
	}
	return inputs[0].Name, outputs[0].Name, nil
}

// Run copies pair into the bound input tensor and returns the scalar output.
func (e *ONNXEngine) Run(pair []float32) (float32, error) {
	if e == nil {
		return 0, errNilEngine
	}
	if err := checkPair(pair); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return 0, fmt.Errorf("session closed")
	}

	copy(e.inputTensor.GetData(), pair)

	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	outputData := e.outputTensor.GetData()
	if len(outputData) == 0 {
		return 0, fmt.Errorf("model produced no output")
	}
	return outputData[0], nil
}

// Close releases the session, its tensors and the ONNX environment.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return ort.DestroyEnvironment()
}
