package preprocess

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is the wire form of a Tensor, shared by the JSON and CBOR encodings.
type Envelope struct {
	Shape []int     `json:"shape,omitempty" cbor:"shape,omitempty"`
	Data  []float32 `json:"data" cbor:"data"`
}

// Shape is the per-image tensor shape (height, width, channels).
func Shape() []int {
	return []int{Height, Width, Channels}
}

// NewEnvelope wraps t with its shape.
func NewEnvelope(t Tensor) Envelope {
	return Envelope{Shape: Shape(), Data: t}
}

// Tensor checks the envelope and returns its data. A missing shape is
// accepted when the data length is right.
func (e Envelope) Tensor() (Tensor, error) {
	if len(e.Shape) > 0 {
		if len(e.Shape) != 3 || e.Shape[0] != Height || e.Shape[1] != Width || e.Shape[2] != Channels {
			return nil, fmt.Errorf("unsupported tensor shape %v, expected %v", e.Shape, Shape())
		}
	}
	t := Tensor(e.Data)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeCBOR serializes t as a CBOR envelope.
func EncodeCBOR(t Tensor) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return cbor.Marshal(NewEnvelope(t))
}

// DecodeCBOR parses a CBOR envelope produced by EncodeCBOR.
func DecodeCBOR(data []byte) (Tensor, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	return env.Tensor()
}
