// Package keycodec decodes encoded public keys and signatures into their
// canonical byte form. Values arrive from the network in several encodings
// (multibase-base58, bare base58, base64, hex) and the codec is parameterized
// by an explicit encoding hint rather than guessing from the payload.
package keycodec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
)

// Encoding identifies how a key or signature value is encoded on the wire.
type Encoding string

const (
	Multibase Encoding = "multibase"
	Base58    Encoding = "base58"
	Base64    Encoding = "base64"
	Hex       Encoding = "hex"
)

// ErrEncoding wraps every decode failure so callers can match on a single
// sentinel regardless of the underlying codec.
var ErrEncoding = errors.New("keycodec: invalid encoding")

// Decode converts an encoded value into canonical bytes. The whole value is
// consumed or the call fails; there is no partial decoding.
func Decode(value string, enc Encoding) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty value", ErrEncoding)
	}

	switch enc {
	case Multibase:
		_, data, err := multibase.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return data, nil
	case Base58:
		data, err := base58.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return data, nil
	case Base64:
		data, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return data, nil
	case Hex:
		data, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrEncoding, enc)
	}
}

// DecodeKey decodes a wire-format public key. A `z` prefix denotes a
// multibase value; anything else is treated as hex, with or without the
// `0x` prefix.
func DecodeKey(value string) ([]byte, error) {
	if strings.HasPrefix(value, "z") {
		return Decode(value, Multibase)
	}
	return Decode(value, Hex)
}

// DecodeMultibaseKey decodes a publicKeyMultibase value. A recognized
// multibase prefix wins; bare base58 is the fallback for documents that
// omit the prefix.
func DecodeMultibaseKey(value string) ([]byte, error) {
	if data, err := Decode(value, Multibase); err == nil {
		return data, nil
	}
	return Decode(value, Base58)
}

// DecodeSignature decodes an encoded signature. Hex is the wire format for
// ledger entities; base64 is the fallback for algorithm-tagged payloads.
func DecodeSignature(value string) ([]byte, error) {
	if data, err := Decode(value, Hex); err == nil {
		return data, nil
	}
	return Decode(value, Base64)
}
