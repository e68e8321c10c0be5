package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const mimeCBOR = "application/cbor"

func decodeTensorPair(contentType string, body []byte) (*tensorPairRequest, error) {
	var req tensorPairRequest
	switch contentType {
	case mimeCBOR:
		if err := cbor.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid CBOR: %w", err)
		}
	case "", "application/json":
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	return &req, nil
}
