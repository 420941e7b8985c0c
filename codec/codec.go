// Package codec serializes a signed transfer authorization into the
// payment header value and back: base64 over compact JSON. Decode is the
// exact inverse of Encode for every valid payload, in both signature
// representations.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/wildhash/cronox/types"
)

// Encode serializes a payment payload into the opaque header value.
func Encode(p *types.PaymentPayload) (string, error) {
	if p == nil {
		return "", &types.Error{Code: types.ErrInvalidPayload, Message: "payload is nil"}
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("failed to marshal payment payload: %v", err),
		}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a header value back into a payment payload. Malformed
// base64 or JSON yields an INVALID_PAYLOAD error so the gate can reject
// without a remote call.
func Decode(header string) (*types.PaymentPayload, error) {
	if header == "" {
		return nil, &types.Error{Code: types.ErrInvalidPayload, Message: "payment header is empty"}
	}

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("payment header is not valid base64: %v", err),
		}
	}

	var p types.PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("payment header is not valid JSON: %v", err),
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SignatureBytes normalizes either signature representation into the
// 65-byte R||S||V form with V at 27/28.
func SignatureBytes(s *types.SignatureBundle) ([]byte, error) {
	if s.Combined() {
		sig, err := hexutil.Decode(withHexPrefix(s.Signature))
		if err != nil {
			return nil, &types.Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("invalid combined signature: %v", err),
			}
		}
		if len(sig) != 65 {
			return nil, &types.Error{
				Code:    types.ErrInvalidPayload,
				Message: fmt.Sprintf("combined signature must be 65 bytes, got %d", len(sig)),
			}
		}
		out := make([]byte, 65)
		copy(out, sig)
		if out[64] < 27 {
			out[64] += 27
		}
		return out, nil
	}

	r, err := wordBytes(s.R, "r")
	if err != nil {
		return nil, err
	}
	sWord, err := wordBytes(s.S, "s")
	if err != nil {
		return nil, err
	}

	v := s.V
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("invalid signature recovery id %d", s.V),
		}
	}

	out := make([]byte, 65)
	copy(out[32-len(r):32], r)
	copy(out[64-len(sWord):64], sWord)
	out[64] = v
	return out, nil
}

// wordBytes decodes a hex signature component of at most 32 bytes.
func wordBytes(hexVal, name string) ([]byte, error) {
	b, err := hexutil.Decode(withHexPrefix(hexVal))
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("invalid signature component %s: %v", name, err),
		}
	}
	if len(b) > 32 {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("signature component %s exceeds 32 bytes", name),
		}
	}
	return b, nil
}

// SplitSignature converts a 65-byte signature into its r/s/v wire form.
func SplitSignature(sig []byte) (*types.SignatureBundle, error) {
	if len(sig) != 65 {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("signature must be 65 bytes, got %d", len(sig)),
		}
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	return &types.SignatureBundle{
		R: hexutil.Encode(new(big.Int).SetBytes(sig[:32]).FillBytes(make([]byte, 32))),
		S: hexutil.Encode(new(big.Int).SetBytes(sig[32:64]).FillBytes(make([]byte, 32))),
		V: v,
	}, nil
}

func withHexPrefix(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s
	}
	return "0x" + s
}
