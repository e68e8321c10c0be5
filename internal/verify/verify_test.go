package verify

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

type stubEngine struct {
	score  float32
	err    error
	calls  int
	pairs  [][]float32
	closed bool
}

func (s *stubEngine) Run(pair []float32) (float32, error) {
	s.calls++
	s.pairs = append(s.pairs, append([]float32(nil), pair...))
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}

func (s *stubEngine) Close() error {
	s.closed = true
	return nil
}

func filled(v float32) preprocess.Tensor {
	t := make(preprocess.Tensor, preprocess.Size)
	for i := range t {
		t[i] = v
	}
	return t
}

func face(seed uint8) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 240, 320))
	for y := 0; y < 320; y++ {
		for x := 0; x < 240; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	return img
}

func TestDecideThreshold(t *testing.T) {
	tests := []struct {
		score float32
		want  bool
	}{
		{score: 0, want: false},
		{score: 0.1, want: false},
		{score: 0.5, want: false},
		{score: 0.50001, want: true},
		{score: 0.9, want: true},
		{score: 1, want: true},
	}
	for _, tt := range tests {
		got := Decide(tt.score)
		if got.Verified != tt.want {
			t.Fatalf("Decide(%v).Verified = %v, want %v", tt.score, got.Verified, tt.want)
		}
		if got.Score != tt.score {
			t.Fatalf("Decide(%v).Score = %v", tt.score, got.Score)
		}
	}
}

func TestVerifyWithoutEngine(t *testing.T) {
	_, err := Verify(filled(0), filled(0), nil)
	if !errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrEngineNotLoaded, got %v", err)
	}
}

func TestVerifyPairOrder(t *testing.T) {
	engine := &stubEngine{score: 0.7}

	verdict, err := Verify(filled(0.25), filled(0.75), engine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Verified {
		t.Fatal("expected verified verdict")
	}
	if engine.calls != 1 {
		t.Fatalf("expected exactly one engine call, got %d", engine.calls)
	}

	pair := engine.pairs[0]
	if len(pair) != model.PairSize {
		t.Fatalf("expected pair of %d values, got %d", model.PairSize, len(pair))
	}
	if pair[0] != 0.25 || pair[preprocess.Size-1] != 0.25 {
		t.Fatal("input tensor must occupy the first slot")
	}
	if pair[preprocess.Size] != 0.75 || pair[model.PairSize-1] != 0.75 {
		t.Fatal("verification tensor must occupy the second slot")
	}
}

func TestVerifyInferenceFailureIsNotRetried(t *testing.T) {
	cause := errors.New("kernel exploded")
	engine := &stubEngine{err: cause}

	_, err := Verify(filled(0), filled(0), engine)
	if !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("expected ErrInferenceFailure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", engine.calls)
	}
}

func TestVerifyRejectsNonFiniteScore(t *testing.T) {
	engine := &stubEngine{score: float32(math.NaN())}
	if _, err := Verify(filled(0), filled(0), engine); !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("expected ErrInferenceFailure, got %v", err)
	}
}

func TestVerifyRejectsInvalidTensor(t *testing.T) {
	engine := &stubEngine{score: 0.9}

	_, err := Verify(make(preprocess.Tensor, 10), filled(0), engine)
	if !errors.Is(err, ErrInvalidTensor) {
		t.Fatalf("expected ErrInvalidTensor, got %v", err)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run for invalid tensors")
	}
}

func TestHandleLifecycle(t *testing.T) {
	var h Handle
	if h.Loaded() {
		t.Fatal("zero handle must be unloaded")
	}
	if _, ok := h.Engine(); ok {
		t.Fatal("zero handle must not return an engine")
	}

	engine := &stubEngine{}
	h.Set(engine)
	if !h.Loaded() {
		t.Fatal("expected loaded handle")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !engine.closed {
		t.Fatal("expected engine to be closed")
	}
	if h.Loaded() {
		t.Fatal("closed handle must be unloaded")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestHandleRejectsTypedNilEngine(t *testing.T) {
	var engine *model.ONNXEngine

	h := NewHandle(engine)
	if h.Loaded() {
		t.Fatal("typed nil engine must not count as loaded")
	}
	if h.State() != StateLoading {
		t.Fatalf("expected state %q, got %q", StateLoading, h.State())
	}
	if _, err := Verify(filled(0), filled(0), engine); !errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrEngineNotLoaded, got %v", err)
	}
	if _, err := NewVerifier(h, nil, nil).VerifyTensors(filled(0), filled(0)); !errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrEngineNotLoaded, got %v", err)
	}
}

func TestHandleFailedState(t *testing.T) {
	var h Handle
	h.Fail(errors.New("open siamese.onnx: no such file or directory"))

	if h.State() != StateFailed {
		t.Fatalf("expected state %q, got %q", StateFailed, h.State())
	}
	if h.Loaded() {
		t.Fatal("failed handle must not be loaded")
	}
	if !errors.Is(h.Err(), model.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", h.Err())
	}

	v := NewVerifier(&h, nil, nil)
	if _, err := v.VerifyImages(nil, nil); !errors.Is(err, model.ErrModelLoad) || errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrModelLoad only, got %v", err)
	}
	if _, err := v.VerifyTensors(filled(0), filled(0)); !errors.Is(err, model.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}

	engine := &stubEngine{score: 0.9}
	h.Set(engine)
	if h.State() != StateReady || h.Err() != nil {
		t.Fatalf("publishing an engine must clear the failure, got %q / %v", h.State(), h.Err())
	}
}

func TestHandleClosesEnginePublishedAfterClose(t *testing.T) {
	var h Handle
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	engine := &stubEngine{}
	h.Set(engine)
	if !engine.closed {
		t.Fatal("engine published after close must be closed")
	}
	if h.Loaded() {
		t.Fatal("closed handle must stay unloaded")
	}
	if h.State() != StateClosed {
		t.Fatalf("expected state %q, got %q", StateClosed, h.State())
	}
}

func TestVerifierNotLoadedDoesNoWork(t *testing.T) {
	v := NewVerifier(&Handle{}, nil, nil)

	// A nil image would fail preprocessing; the load check must come first.
	_, err := v.VerifyImages(nil, nil)
	if !errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrEngineNotLoaded, got %v", err)
	}
	if _, err := v.VerifyTensors(filled(0), filled(0)); !errors.Is(err, ErrEngineNotLoaded) {
		t.Fatalf("expected ErrEngineNotLoaded, got %v", err)
	}
}

func TestVerifierIdenticalImagesVerified(t *testing.T) {
	engine := &stubEngine{score: 0.9}
	v := NewVerifier(NewHandle(engine), nil, nil)

	img := face(10)
	verdict, err := v.VerifyImages(img, img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Verified || verdict.Score != 0.9 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}

	pair := engine.pairs[0]
	for i := 0; i < preprocess.Size; i++ {
		if pair[i] != pair[preprocess.Size+i] {
			t.Fatalf("identical images produced different tensors at %d", i)
		}
	}
}

func TestVerifierLowScoreNotVerified(t *testing.T) {
	v := NewVerifier(NewHandle(&stubEngine{score: 0.1}), nil, nil)

	verdict, err := v.VerifyImages(face(10), face(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Verified {
		t.Fatalf("expected not verified, got %+v", verdict)
	}
}

func TestVerifierSurfacesDecodeFailure(t *testing.T) {
	v := NewVerifier(NewHandle(&stubEngine{score: 0.9}), nil, nil)

	_, err := v.VerifyImages(face(1), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	if !errors.Is(err, preprocess.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}
