// Package signature verifies digital signatures for the identity service.
// Dispatch is a closed match over the supported algorithms; adding an
// algorithm means extending the set, not branching ad hoc at call sites.
package signature

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Algorithm names a supported signature scheme.
type Algorithm string

const (
	// AlgorithmEd25519 is Ed25519 over the raw message.
	AlgorithmEd25519 Algorithm = "Ed25519"
	// AlgorithmRSASHA256 is RSA PKCS#1 v1.5 with SHA-256.
	AlgorithmRSASHA256 Algorithm = "RsaSha256"
	// AlgorithmECSHA256 is ECDSA over secp256k1 with a single SHA-256
	// prehash. Callers must pass the raw message, not a digest.
	AlgorithmECSHA256 Algorithm = "EcSha256"
)

const secp256k1KeySize = 32

// ErrUnsupportedAlgorithm is returned when a verification method type does
// not map onto a supported algorithm.
var ErrUnsupportedAlgorithm = errors.New("signature: unsupported algorithm")

// ParseAlgorithm maps a DID verification method type onto the closed
// algorithm set.
func ParseAlgorithm(vmType string) (Algorithm, error) {
	switch strings.ToLower(vmType) {
	case "ed25519", "ed25519verificationkey2018", "ed25519verificationkey2020":
		return AlgorithmEd25519, nil
	case "rsa", "rsasha256", "rsaverificationkey2018":
		return AlgorithmRSASHA256, nil
	case "ec", "ecdsa", "ecsha256", "ecdsasecp256k1verificationkey2019":
		return AlgorithmECSHA256, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, vmType)
	}
}

// Verifier verifies signatures against decoded public keys. It holds no
// state beyond the logger and is safe for concurrent use.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a verifier. A nil logger disables logging.
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger}
}

// Verify reports whether signature sig over message verifies under the given
// public key and algorithm. Verification is a pure function of its inputs:
// every internal parse or crypto error is converted to a false result with a
// logged cause, and nothing escapes the boundary.
func (v *Verifier) Verify(message, sig, pubKey []byte, alg Algorithm) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("signature verification panicked",
				zap.String("algorithm", string(alg)),
				zap.Any("panic", r),
				zap.String("cause", "internal-error"))
			ok = false
		}
	}()

	switch alg {
	case AlgorithmEd25519:
		return v.verifyEd25519(message, sig, pubKey)
	case AlgorithmRSASHA256:
		return v.verifyRSA(message, sig, pubKey)
	case AlgorithmECSHA256:
		return v.verifyEC(message, sig, pubKey)
	default:
		v.logger.Error("unsupported signature algorithm",
			zap.String("algorithm", string(alg)),
			zap.String("cause", "unsupported-algorithm"))
		return false
	}
}

func (v *Verifier) verifyEd25519(message, sig, pubKey []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		v.logger.Error("invalid Ed25519 public key size", zap.Int("size", len(pubKey)))
		return false
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), message, sig) {
		v.logger.Warn("invalid Ed25519 signature")
		return false
	}
	return true
}

func (v *Verifier) verifyRSA(message, sig, pubKey []byte) bool {
	pub, err := parseRSAPublicKey(pubKey)
	if err != nil {
		v.logger.Error("failed to parse RSA public key", zap.Error(err))
		return false
	}

	hashed := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		v.logger.Warn("invalid RSA signature", zap.Error(err))
		return false
	}
	return true
}

func parseRSAPublicKey(pubKey []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(pubKey); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key: %T", pub)
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(pubKey)
}

// verifyEC verifies an ECDSA secp256k1 signature over the SHA-256 digest of
// the message. Accepted signature forms: ASN.1 DER, 64-byte R||S, and the
// 65-byte R||S||V recovery form.
func (v *Verifier) verifyEC(message, sig, pubKey []byte) bool {
	hash := sha256.Sum256(message)

	pub, err := secp256k1.ParsePubKey(normalizeECKey(pubKey))
	if err != nil {
		v.logger.Error("failed to parse secp256k1 public key", zap.Error(err))
		return false
	}

	if len(sig) == 65 {
		return v.verifyECRecovered(hash[:], sig, pub)
	}

	if parsed, err := secpecdsa.ParseDERSignature(sig); err == nil {
		if parsed.Verify(hash[:], pub) {
			return true
		}
		v.logger.Warn("invalid secp256k1 signature")
		return false
	}

	if len(sig) == 2*secp256k1KeySize {
		var r, s secp256k1.ModNScalar
		if r.SetByteSlice(sig[:secp256k1KeySize]) || s.SetByteSlice(sig[secp256k1KeySize:]) {
			v.logger.Warn("secp256k1 signature component out of range")
			return false
		}
		if secpecdsa.NewSignature(&r, &s).Verify(hash[:], pub) {
			return true
		}
		v.logger.Warn("invalid secp256k1 signature")
		return false
	}

	v.logger.Error("unrecognized secp256k1 signature format", zap.Int("size", len(sig)))
	return false
}

// verifyECRecovered checks a recovery-tagged signature by recovering the
// signing key and comparing its compressed form against the expected key.
func (v *Verifier) verifyECRecovered(hash, sig []byte, pub *secp256k1.PublicKey) bool {
	recovered, err := ethcrypto.Ecrecover(hash, sig)
	if err != nil {
		v.logger.Warn("failed to recover public key from signature", zap.Error(err))
		return false
	}
	recoveredPub, err := ethcrypto.UnmarshalPubkey(recovered)
	if err != nil {
		v.logger.Warn("recovered public key is invalid", zap.Error(err))
		return false
	}
	if !bytes.Equal(ethcrypto.CompressPubkey(recoveredPub), pub.SerializeCompressed()) {
		v.logger.Warn("invalid secp256k1 signature")
		return false
	}
	return true
}

// normalizeECKey restores the SEC1 uncompressed tag on bare X||Y keys so a
// single parse path handles compressed, uncompressed, and tag-less forms.
func normalizeECKey(pubKey []byte) []byte {
	if len(pubKey) != 2*secp256k1KeySize {
		return pubKey
	}
	buf := make([]byte, 1+len(pubKey))
	buf[0] = 0x04
	copy(buf[1:], pubKey)
	if x, _ := elliptic.Unmarshal(btcec.S256(), buf); x == nil {
		return pubKey
	}
	return buf
}
