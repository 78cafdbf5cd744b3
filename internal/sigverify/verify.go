// Package sigverify checks wallet personal-message signatures (EIP-191) and
// binds them to an account address.
package sigverify

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

// Verify reports whether signature is a personal-message signature over
// message produced by the key behind claimedAddress. Every failure,
// malformed input included, yields false.
func Verify(message string, signature []byte, claimedAddress string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if !common.IsHexAddress(claimedAddress) {
		return false
	}
	signer, err := Recover(message, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(signer.Hex(), common.HexToAddress(claimedAddress).Hex())
}

// VerifyHex is Verify with a 0x-prefixed hex signature.
func VerifyHex(message, signatureHex, claimedAddress string) bool {
	sig, err := hexutil.Decode(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	return Verify(message, sig, claimedAddress)
}

// Recover returns the address that signed message.
func Recover(message string, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(signature))
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)

	// Wallets emit V as 27/28; recovery wants 0/1.
	switch v := sig[crypto.RecoveryIDOffset]; {
	case v == 27 || v == 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	case v > 1:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", v)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignPersonal signs message the way a wallet's personal_sign does and
// returns a 65-byte signature with V in {27, 28}.
func SignPersonal(key *ecdsa.PrivateKey, message string) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignPersonalHex is SignPersonal with a 0x-prefixed hex result.
func SignPersonalHex(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := SignPersonal(key, message)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// Address returns the EIP-55 checksum address of key.
func Address(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// ChecksumAddress returns the EIP-55 form of a hex address, or an error if
// raw is not a 20-byte hex address.
func ChecksumAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw).Hex(), nil
}
