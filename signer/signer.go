// Package signer constructs and signs gasless transfer authorizations on
// behalf of a paying caller. Each authorization carries a fresh 32-byte
// nonce from a cryptographically secure source and an EIP-712 signature
// binding payer, payee, value, validity window, chain id and token
// contract into one digest.
package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/wildhash/cronox/types"
	"github.com/wildhash/cronox/utils"
	"github.com/wildhash/cronox/utils/eip712"
)

// DefaultValidity is the authorization window when none is given:
// [now, now+1h).
const DefaultValidity = time.Hour

// Signer signs transfer authorizations with a payer key.
type Signer struct {
	key   *ecdsa.PrivateKey
	clock func() time.Time
}

// New creates a Signer around a payer private key.
func New(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, clock: time.Now}
}

// NewFromHex creates a Signer from a hex-encoded private key.
func NewFromHex(hexKey string) (*Signer, error) {
	key, err := utils.PrivateKeyFromHex(hexKey)
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrKeyUnavailable,
			Message: fmt.Sprintf("invalid payer key: %v", err),
		}
	}
	return New(key), nil
}

// Address returns the payer address derived from the signing key.
func (s *Signer) Address() common.Address {
	return utils.AddressFromPrivateKey(s.key)
}

// SignOption customizes a single Sign call.
type SignOption func(*signParams)

type signParams struct {
	validAfter  int64
	validBefore int64
	nonce       string
}

// WithValidityWindow overrides the default [now, now+1h) window.
func WithValidityWindow(validAfter, validBefore int64) SignOption {
	return func(p *signParams) {
		p.validAfter = validAfter
		p.validBefore = validBefore
	}
}

// WithNonce pins the nonce, for tests that need a reproducible payload.
func WithNonce(nonceHex string) SignOption {
	return func(p *signParams) {
		p.nonce = nonceHex
	}
}

// Sign builds a signed payment payload satisfying the requirement. It
// fails with a MISSING_FIELD error if the requirement omits any bound
// field, and with KEY_UNAVAILABLE if the signer has no key.
func (s *Signer) Sign(req *types.PaymentRequirement, opts ...SignOption) (*types.PaymentPayload, error) {
	if s == nil || s.key == nil {
		return nil, &types.Error{Code: types.ErrKeyUnavailable, Message: "signing key is not available"}
	}
	if req == nil {
		return nil, &types.Error{Code: types.ErrMissingField, Message: "payment requirement is nil"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := utils.ValidateBigInt(req.Amount); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequirement,
			Message: fmt.Sprintf("invalid requirement amount: %v", err),
		}
	}
	if !utils.ValidateAddress(req.PayTo) {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequirement,
			Message: fmt.Sprintf("payTo is not a valid address: %q", req.PayTo),
		}
	}
	if !utils.ValidateAddress(req.Asset) {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequirement,
			Message: fmt.Sprintf("asset is not a valid address: %q", req.Asset),
		}
	}

	now := s.clock().Unix()
	params := signParams{
		validAfter:  now,
		validBefore: now + int64(DefaultValidity/time.Second),
	}
	for _, opt := range opts {
		opt(&params)
	}
	if params.validBefore <= params.validAfter {
		return nil, &types.Error{
			Code:    types.ErrSigningFailed,
			Message: "validity window is empty",
		}
	}

	nonce := params.nonce
	if nonce == "" {
		var err error
		nonce, err = NewNonce()
		if err != nil {
			return nil, err
		}
	}

	auth := types.TransferAuthorization{
		From:        s.Address().Hex(),
		To:          utils.NormalizeAddress(req.PayTo),
		Value:       req.Amount,
		ValidAfter:  params.validAfter,
		ValidBefore: params.validBefore,
		Nonce:       nonce,
	}

	digest, err := Digest(&auth, req.Currency, req.ChainID, req.Asset)
	if err != nil {
		return nil, err
	}

	signature, err := utils.SignDigest(digest.Bytes(), s.key)
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrSigningFailed,
			Message: fmt.Sprintf("failed to sign authorization: %v", err),
		}
	}

	return &types.PaymentPayload{
		Type:          types.PayloadTypeEIP3009,
		Version:       types.ProtocolVersion,
		ChainID:       req.ChainID,
		Asset:         utils.NormalizeAddress(req.Asset),
		Authorization: auth,
		Signature:     types.SignatureBundle{Signature: signature},
	}, nil
}

// Digest computes the EIP-712 digest for an authorization against a
// chain and token contract. Changing any bound field changes the digest,
// so a signature cannot be replayed across chains, tokens or recipients.
func Digest(auth *types.TransferAuthorization, currency string, chainID int64, asset string) (common.Hash, error) {
	domain := eip712.Domain{
		Name:              currency,
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.HexToAddress(asset),
	}
	digest, err := eip712.TransferAuthorizationDigest(
		domain,
		auth.From,
		auth.To,
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
	)
	if err != nil {
		return common.Hash{}, &types.Error{
			Code:    types.ErrSigningFailed,
			Message: fmt.Sprintf("failed to build authorization digest: %v", err),
		}
	}
	return digest, nil
}

// NewNonce draws 32 bytes from crypto/rand and returns them as 0x hex.
// The entropy source error propagates; a weak fallback is never used.
func NewNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", &types.Error{
			Code:    types.ErrSigningFailed,
			Message: fmt.Sprintf("failed to generate nonce: %v", err),
		}
	}
	return hexutil.Encode(nonce[:]), nil
}
