// Package eip712 implements the typed-data hashing needed to sign and
// recover EIP-3009 TransferWithAuthorization messages.
package eip712

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 signing domain. ChainID and VerifyingContract tie
// a signature to one chain and one token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	transferAuthTypeHash = crypto.Keccak256Hash([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// keccakConcat hashes the concatenation of 32-byte words, matching
// keccak256(abi.encode(...)) for already-padded parts.
func keccakConcat(parts ...[]byte) common.Hash {
	var joined []byte
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

// padLeft32 right-aligns a big.Int into a 32-byte word.
func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressTo32 left-pads an address into a 32-byte word.
func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

// HexToBytes32 parses hex (with or without 0x) into a bytes32. Values
// shorter than 32 bytes are left-padded; longer values are rejected.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	if len(hexStr) >= 2 && hexStr[0:2] == "0x" {
		hexStr = hexStr[2:]
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("value exceeds 32 bytes: %d", len(b))
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// DomainSeparator computes the EIP-712 domainSeparator:
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract)).
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return common.Hash{}, errors.New("incomplete signing domain")
	}
	return keccakConcat(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(d.Name)).Bytes(),
		crypto.Keccak256Hash([]byte(d.Version)).Bytes(),
		padLeft32(d.ChainID),
		addressTo32(d.VerifyingContract),
	), nil
}

// HashTransferAuthorization computes the TransferWithAuthorization struct
// hash over (from, to, value, validAfter, validBefore, nonce).
func HashTransferAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	return keccakConcat(
		transferAuthTypeHash.Bytes(),
		addressTo32(from),
		addressTo32(to),
		padLeft32(value),
		padLeft32(validAfter),
		padLeft32(validBefore),
		nonce[:],
	)
}

// TypedDataHash is the final digest to sign or recover:
// keccak256("\x19\x01" || domainSeparator || structHash).
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSeparator.Bytes()...), structHash.Bytes()...))
}

// TransferAuthorizationDigest builds the complete digest for an EIP-3009
// transfer: domain separation plus the struct hash. value/validAfter/
// validBefore are decimal strings; nonce is hex.
func TransferAuthorizationDigest(domain Domain, fromHex, toHex, valueDec string, validAfter, validBefore int64, nonceHex string) (common.Hash, error) {
	domainSep, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, err
	}

	value, ok := new(big.Int).SetString(valueDec, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("invalid value %q", valueDec)
	}
	nonce, err := HexToBytes32(nonceHex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid nonce: %w", err)
	}

	structHash := HashTransferAuthorization(
		common.HexToAddress(fromHex),
		common.HexToAddress(toHex),
		value,
		big.NewInt(validAfter),
		big.NewInt(validBefore),
		nonce,
	)
	return TypedDataHash(domainSep, structHash), nil
}

// RecoverSigner recovers the address that signed the digest. sig must be
// 65 bytes R||S||V; V is accepted as 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}

	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
