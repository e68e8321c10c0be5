package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/nfnt/resize"
)

const (
	Height   = 100
	Width    = 100
	Channels = 3

	// Size is the number of values in one image tensor.
	Size = Height * Width * Channels
)

// ErrImageDecode is returned when an image cannot be decoded or turned into a tensor.
var ErrImageDecode = errors.New("image decode failure")

// Tensor holds a 100x100 RGB image in row-major, channel-interleaved order,
// each value scaled to [0, 1].
type Tensor []float32

// Validate reports whether t has the fixed length and every value is in [0, 1].
func (t Tensor) Validate() error {
	if len(t) != Size {
		return fmt.Errorf("tensor has %d values, expected %d", len(t), Size)
	}
	for i, v := range t {
		if math.IsNaN(float64(v)) || v < 0 || v > 1 {
			return fmt.Errorf("tensor value %d out of range: %v", i, v)
		}
	}
	return nil
}

// At returns the normalized value of channel c at pixel (x, y).
func (t Tensor) At(x, y, c int) float32 {
	return t[(y*Width+x)*Channels+c]
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// DefaultInterpolation matches the filtered bilinear scale the model was trained against.
const DefaultInterpolation = "bilinear"

// Preprocessor converts decoded images into model input tensors.
type Preprocessor struct {
	Interpolation resize.InterpolationFunction
}

// New returns a Preprocessor using the named interpolation. An empty name
// selects DefaultInterpolation.
func New(interpolation string) (*Preprocessor, error) {
	name := strings.ToLower(strings.TrimSpace(interpolation))
	if name == "" {
		name = DefaultInterpolation
	}
	fn, ok := interpolations[name]
	if !ok {
		return nil, fmt.Errorf("unknown interpolation %q", interpolation)
	}
	return &Preprocessor{Interpolation: fn}, nil
}

// ValidInterpolation reports whether name is a supported interpolation.
func ValidInterpolation(name string) bool {
	if name == "" {
		return true
	}
	_, ok := interpolations[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

var defaultPreprocessor = &Preprocessor{Interpolation: resize.Bilinear}

// Preprocess converts img using the default interpolation.
func Preprocess(img image.Image) (Tensor, error) {
	return defaultPreprocessor.Preprocess(img)
}

// Preprocess scales img to 100x100 without preserving aspect ratio and
// flattens it into a Tensor at index (y*100+x)*3+channel.
func (p *Preprocessor) Preprocess(img image.Image) (Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrImageDecode)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrImageDecode)
	}

	// nfnt/resize hands back the source image when it is already 100x100.
	resized := resize.Resize(Width, Height, img, p.Interpolation)

	bounds := resized.Bounds()
	if bounds.Dx() != Width || bounds.Dy() != Height {
		return nil, fmt.Errorf("%w: resized to %dx%d, expected %dx%d",
			ErrImageDecode, bounds.Dx(), bounds.Dy(), Width, Height)
	}

	tensor := make(Tensor, Size)
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			px := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)

			i := (y*Width + x) * Channels
			tensor[i] = float32(px.R) / 255.0
			tensor[i+1] = float32(px.G) / 255.0
			tensor[i+2] = float32(px.B) / 255.0
		}
	}

	return tensor, nil
}
