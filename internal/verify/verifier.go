package verify

import (
	"image"

	"go.uber.org/zap"

	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

// Verifier runs the full image-pair flow against a Handle.
type Verifier struct {
	handle       *Handle
	preprocessor *preprocess.Preprocessor
	logger       *zap.Logger
}

// NewVerifier constructs a Verifier. A nil preprocessor uses the default interpolation.
func NewVerifier(handle *Handle, preprocessor *preprocess.Preprocessor, logger *zap.Logger) *Verifier {
	if preprocessor == nil {
		preprocessor, _ = preprocess.New("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		handle:       handle,
		preprocessor: preprocessor,
		logger:       logger.Named("verifier"),
	}
}

// State reports the engine lifecycle state of the underlying handle.
func (v *Verifier) State() State {
	return v.handle.State()
}

// Check returns the error a verification would fail with right now because
// of the engine: the recorded load failure (matching model.ErrModelLoad),
// ErrEngineNotLoaded, or nil when the engine is ready.
func (v *Verifier) Check() error {
	_, err := v.engine()
	return err
}

func (v *Verifier) engine() (model.Engine, error) {
	if engine, ok := v.handle.Engine(); ok {
		return engine, nil
	}
	if err := v.handle.Err(); err != nil {
		return nil, err
	}
	return nil, ErrEngineNotLoaded
}

// VerifyTensors scores two already preprocessed tensors.
func (v *Verifier) VerifyTensors(input, verification preprocess.Tensor) (Verdict, error) {
	engine, err := v.engine()
	if err != nil {
		return Verdict{}, err
	}

	verdict, err := Verify(input, verification, engine)
	if err != nil {
		return Verdict{}, err
	}

	v.logger.Debug("pair scored",
		zap.Float32("score", verdict.Score),
		zap.Bool("verified", verdict.Verified),
	)
	return verdict, nil
}

// VerifyImages preprocesses both images and scores them. The engine is
// checked before any preprocessing happens.
func (v *Verifier) VerifyImages(input, verification image.Image) (Verdict, error) {
	if err := v.Check(); err != nil {
		return Verdict{}, err
	}

	inputTensor, err := v.preprocessor.Preprocess(input)
	if err != nil {
		return Verdict{}, err
	}
	verificationTensor, err := v.preprocessor.Preprocess(verification)
	if err != nil {
		return Verdict{}, err
	}

	return v.VerifyTensors(inputTensor, verificationTensor)
}
