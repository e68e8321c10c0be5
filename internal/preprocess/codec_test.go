package preprocess

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestCBORCarriesPreprocessedTensor(t *testing.T) {
	tensor, err := Preprocess(gradient(150, 80))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}

	data, err := EncodeCBOR(tensor)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCBOR(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range tensor {
		if decoded[i] != tensor[i] {
			t.Fatalf("value %d: got %v want %v", i, decoded[i], tensor[i])
		}
	}
}

func TestDecodeCBORRejectsWrongShape(t *testing.T) {
	data, err := cbor.Marshal(Envelope{Shape: []int{50, 200, 3}, Data: make([]float32, Size)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeCBOR(data); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestEnvelopeWithoutShape(t *testing.T) {
	if _, err := (Envelope{Data: make([]float32, Size)}).Tensor(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := (Envelope{Data: make([]float32, 10)}).Tensor(); err == nil {
		t.Fatal("expected length error")
	}
}
