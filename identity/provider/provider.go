// Package provider defines the DID resolution boundary. The core never
// implements resolution itself; it consumes this contract and treats every
// resolution failure as a validation failure, never as a crash.
package provider

import (
	"context"
	"errors"

	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
)

// ErrNotFound signals that no document exists for the requested DID.
var ErrNotFound = errors.New("provider: DID not found")

// Provider resolves a DID string into a DID Document. Implementations decide
// the transport (resolver API, on-chain registry, local cache). A missing DID
// is reported as ErrNotFound, never as a nil document with a nil error.
type Provider interface {
	DIDResolver(ctx context.Context, did string) (*model.Document, error)
}
