package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"PORT", "MODEL_PATH", "ONNXRUNTIME_LIB", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "face.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigSampleCommand(t *testing.T) {
	out, err := runCommand(t, "config", "sample")
	if err != nil {
		t.Fatalf("config sample: %v", err)
	}
	for _, want := range []string{"[server]", "[engine]", "model_path", "interpolation"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in sample config:\n%s", want, out)
		}
	}
}

func TestPreprocessCommandWritesTensor(t *testing.T) {
	dir := t.TempDir()
	imagePath := writePNG(t, dir, 80, 120)
	target := filepath.Join(dir, "face.cbor")

	out, err := runCommand(t, "preprocess", imagePath, "--out", target)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if !strings.Contains(out, "30000 values") {
		t.Fatalf("unexpected output: %q", out)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	tensor, err := preprocess.DecodeCBOR(data)
	if err != nil {
		t.Fatalf("decode tensor: %v", err)
	}
	if len(tensor) != preprocess.Size {
		t.Fatalf("expected %d values, got %d", preprocess.Size, len(tensor))
	}
}

func TestVerifyCommandSurfacesDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	imagePath := writePNG(t, dir, 40, 40)

	_, err := runCommand(t, "verify", "--input", imagePath, "--verification", filepath.Join(dir, "missing.jpg"))
	if !errors.Is(err, preprocess.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
}

func TestVerifyCommandSurfacesModelLoadFailure(t *testing.T) {
	dir := t.TempDir()
	imagePath := writePNG(t, dir, 40, 40)

	_, err := runCommand(t, "verify",
		"--input", imagePath,
		"--verification", imagePath,
		"--model", filepath.Join(dir, "siamesemodel.onnx"),
	)
	if !errors.Is(err, model.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestRenderVerdict(t *testing.T) {
	out := renderVerdict(verifyResult{
		Input:        "a.jpg",
		Verification: "b.jpg",
		Score:        0.91234,
		Threshold:    0.5,
		Verified:     true,
	})
	for _, want := range []string{"a.jpg", "b.jpg", "0.9123", "0.50", "yes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}
