//go:build tflite

package model

import (
	"fmt"
	"sync"

	"github.com/mattn/go-tflite"
)

// TFLiteOptions configures LoadTFLite.
type TFLiteOptions struct {
	ModelPath string
	Threads   int
}

// TFLiteEngine runs a siamese model through the TensorFlow Lite interpreter.
type TFLiteEngine struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	lastError   string
}

var _ Engine = (*TFLiteEngine)(nil)

// LoadTFLite maps the model file and allocates the interpreter tensors. The
// returned Engine is a *TFLiteEngine.
func LoadTFLite(opts TFLiteOptions) (Engine, error) {
	if err := checkModelFile(opts.ModelPath); err != nil {
		return nil, err
	}

	e := &TFLiteEngine{}

	e.model = tflite.NewModelFromFile(opts.ModelPath)
	if e.model == nil {
		return nil, fmt.Errorf("%w: cannot read tflite model %s", ErrModelLoad, opts.ModelPath)
	}

	e.options = tflite.NewInterpreterOptions()
	if opts.Threads > 0 {
		e.options.SetNumThread(opts.Threads)
	}
	e.options.SetErrorReporter(func(msg string, _ interface{}) {
		e.lastError = msg
	}, nil)

	e.interpreter = tflite.NewInterpreter(e.model, e.options)
	if e.interpreter == nil {
		e.release()
		return nil, fmt.Errorf("%w: cannot create interpreter: %s", ErrModelLoad, e.lastError)
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		e.release()
		return nil, fmt.Errorf("%w: allocate tensors failed (status %d): %s", ErrModelLoad, status, e.lastError)
	}

	if err := e.checkTensors(); err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

func (e *TFLiteEngine) checkTensors() error {
	if n := e.interpreter.GetInputTensorCount(); n != 1 {
		return fmt.Errorf("%w: expected one input tensor, model has %d", ErrModelLoad, n)
	}

	input := e.interpreter.GetInputTensor(0)
	if input.Type() != tflite.Float32 {
		return fmt.Errorf("%w: input tensor type %v, expected float32", ErrModelLoad, input.Type())
	}
	want := InputShape()
	if input.NumDims() != len(want) {
		return fmt.Errorf("%w: input tensor has %d dims, expected %d", ErrModelLoad, input.NumDims(), len(want))
	}
	for i, dim := range want {
		if int64(input.Dim(i)) != dim {
			return fmt.Errorf("%w: input dim %d is %d, expected %d", ErrModelLoad, i, input.Dim(i), dim)
		}
	}

	output := e.interpreter.GetOutputTensor(0)
	if output == nil || output.Type() != tflite.Float32 {
		return fmt.Errorf("%w: output tensor must be float32", ErrModelLoad)
	}
	return nil
}

// Run copies pair into the input tensor, invokes the interpreter and returns the first output value.
func (e *TFLiteEngine) Run(pair []float32) (float32, error) {
	if e == nil {
		return 0, errNilEngine
	}
	if err := checkPair(pair); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter == nil {
		return 0, fmt.Errorf("interpreter closed")
	}

	copy(e.interpreter.GetInputTensor(0).Float32s(), pair)

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return 0, fmt.Errorf("invoke failed (status %d): %s", status, e.lastError)
	}

	out := e.interpreter.GetOutputTensor(0).Float32s()
	if len(out) == 0 {
		return 0, fmt.Errorf("model produced no output")
	}
	return out[0], nil
}

// Close deletes the interpreter, its options and the model.
func (e *TFLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release()
	return nil
}

func (e *TFLiteEngine) release() {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
}
