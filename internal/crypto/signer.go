package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderCaller    = "X-Caller"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

const signatureLen = 65

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed caller.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest hashes a request for signing:
//
//	keccak256("\x19Ethereum Signed Message:\n32" || keccak256(method \n path \n ts \n body))
//
// The prefix is the personal_sign envelope, so wallet software can produce
// the same signature.
func RequestDigest(method, path string, unixTS int64, body []byte) []byte {
	inner := ethcrypto.Keccak256(
		[]byte(strings.ToUpper(method)), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(unixTS, 10)), []byte("\n"),
		body,
	)
	return ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), inner)
}

// Signer signs API requests with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key (with or without
// 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateKey returns a fresh hex-encoded private key without 0x prefix.
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
}

// Address returns the identity derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the request digest and returns the 0x-prefixed 65-byte
// signature.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, unixTS, body))
}

// Headers returns the three authentication headers for a request.
func (s *Signer) Headers(method, path string, unixTS int64, body []byte) (map[string]string, error) {
	sig, err := s.SignRequest(method, path, unixTS, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderCaller:    s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(unixTS, 10),
		HeaderSignature: sig,
	}, nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// CanonicalSignature decodes sigHex into its 65-byte r || s || v form with
// v normalized to {0,1}. Hex case and the 0x prefix are ignored. Signatures
// with s in the upper half of the curve order are rejected, so every
// accepted signature has exactly one canonical encoding.
func CanonicalSignature(sigHex string) ([]byte, error) {
	raw := sigHex
	if len(raw) >= 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		raw = raw[2:]
	}
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrBadSignature)
	}
	if len(sig) != signatureLen {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrBadSignature, signatureLen, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, fmt.Errorf("%w: r or s out of range", ErrBadSignature)
	}
	return sig, nil
}

// RecoverCaller returns the identity that produced sigHex over digest.
// Both {0,1} and {27,28} recovery ids are accepted.
func RecoverCaller(digest []byte, sigHex string) (common.Address, error) {
	sig, err := CanonicalSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was produced by caller.
func VerifyRequest(caller common.Address, method, path string, unixTS int64, body []byte, sigHex string) error {
	got, err := RecoverCaller(RequestDigest(method, path, unixTS, body), sigHex)
	if err != nil {
		return err
	}
	if got != caller {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrBadSignature, got.Hex(), caller.Hex())
	}
	return nil
}
