// Package verify turns a pair of preprocessed images into a same-person verdict.
package verify

import (
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

// Threshold is the similarity score a pair must exceed to be verified. It is
// calibrated for the bundled siamese model.
const Threshold float32 = 0.5

var (
	// ErrEngineNotLoaded is returned when verification runs before a model is loaded.
	ErrEngineNotLoaded = errors.New("engine not loaded")
	// ErrInferenceFailure wraps errors raised by the engine while scoring a pair.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrInvalidTensor is returned for tensors of the wrong length or range.
	ErrInvalidTensor = errors.New("invalid tensor")
)

// Verdict is the outcome of one verification attempt.
type Verdict struct {
	Score    float32 `json:"score"`
	Verified bool    `json:"verified"`
}

// Decide applies the strict greater-than threshold to score.
func Decide(score float32) Verdict {
	return Verdict{Score: score, Verified: score > Threshold}
}

// Pair stacks the input and verification tensors in that order.
func Pair(input, verification preprocess.Tensor) ([]float32, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: input image: %v", ErrInvalidTensor, err)
	}
	if err := verification.Validate(); err != nil {
		return nil, fmt.Errorf("%w: verification image: %v", ErrInvalidTensor, err)
	}

	pair := make([]float32, 0, model.PairSize)
	pair = append(pair, input...)
	pair = append(pair, verification...)
	return pair, nil
}

// Verify scores the pair with engine once and thresholds the result.
// Engine errors are returned as is, without retrying. A nil engine, including
// a typed nil pointer, is ErrEngineNotLoaded.
func Verify(input, verification preprocess.Tensor, engine model.Engine) (Verdict, error) {
	if isNilEngine(engine) {
		return Verdict{}, ErrEngineNotLoaded
	}

	pair, err := Pair(input, verification)
	if err != nil {
		return Verdict{}, err
	}

	score, err := engine.Run(pair)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrInferenceFailure, err)
	}
	if math.IsNaN(float64(score)) || math.IsInf(float64(score), 0) {
		return Verdict{}, fmt.Errorf("%w: engine returned non-finite score %v", ErrInferenceFailure, score)
	}

	return Decide(score), nil
}
