// Package consensus holds the admission layer of the ledger: the cascading
// validators for transactions, proposals, and blocks, and the engine that
// owns the pending pools. Validators are total functions — every input comes
// back true or false with a logged cause, and malformed network input can
// never crash the engine.
package consensus

import (
	"context"
	"strconv"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/identity/common/keycodec"
	"github.com/pilacorp/go-ledger-sdk/ledger"
)

// Entity kinds recorded on admission and rejection logs.
const (
	kindTransaction = "transaction"
	kindProposal    = "proposal"
	kindBlock       = "block"
)

// Failure causes recorded on rejection logs.
const (
	causeMissingField        = "missing-field"
	causeEncodingError       = "encoding-error"
	causeSchemaInvalid       = "schema-invalid"
	causeSignatureInvalid    = "signature-invalid"
	causeNestedEntityInvalid = "nested-entity-invalid"
	causeInternalError       = "internal-error"
	causeDuplicateEntity     = "duplicate-entity"
)

// Validator runs the validation pipeline over ledger entities, delegating
// all signer checks to the identity service. It is stateless and safe for
// concurrent use.
type Validator struct {
	identity      *identity.Service
	logger        *zap.Logger
	contentSchema *gojsonschema.Schema
}

// ValidatorOpt configures a Validator.
type ValidatorOpt func(*Validator)

// WithValidationLogger sets the structured logger. The default discards all
// output.
func WithValidationLogger(logger *zap.Logger) ValidatorOpt {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithContentSchema additionally validates transaction content against a
// compiled JSON schema before any signature work.
func WithContentSchema(schema *gojsonschema.Schema) ValidatorOpt {
	return func(v *Validator) {
		v.contentSchema = schema
	}
}

// CompileContentSchema compiles a JSON schema for use with
// WithContentSchema.
func CompileContentSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
}

// NewValidator creates a validator over the given identity service.
func NewValidator(ids *identity.Service, opts ...ValidatorOpt) *Validator {
	v := &Validator{identity: ids, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateTransaction checks required fields and verifies the signer's
// signature over the canonical transaction content.
func (v *Validator) ValidateTransaction(ctx context.Context, tx *ledger.Transaction) (ok bool) {
	defer v.recoverValidation(kindTransaction, &ok)

	if tx == nil {
		v.reject(kindTransaction, "", causeMissingField, "transaction is nil")
		return false
	}
	if tx.ID == "" || tx.Signer == "" || tx.Signature == "" || tx.Content == nil {
		v.reject(kindTransaction, tx.ID, causeMissingField, "transaction missing required fields")
		return false
	}

	if v.contentSchema != nil {
		result, err := v.contentSchema.Validate(gojsonschema.NewGoLoader(tx.Content))
		if err != nil || !result.Valid() {
			v.reject(kindTransaction, tx.ID, causeSchemaInvalid, "transaction content failed schema validation")
			return false
		}
	}

	message, err := tx.SigningBytes()
	if err != nil {
		v.reject(kindTransaction, tx.ID, causeEncodingError, "failed to canonicalize transaction content")
		return false
	}

	sig, err := keycodec.DecodeSignature(tx.Signature)
	if err != nil {
		v.reject(kindTransaction, tx.ID, causeEncodingError, "failed to decode transaction signature")
		return false
	}

	if !v.identity.VerifySignature(ctx, tx.Signer, message, sig) {
		v.reject(kindTransaction, tx.ID, causeSignatureInvalid, "invalid transaction signature")
		return false
	}
	return true
}

// ValidateProposal checks required fields, verifies the proposer's signature
// over the canonical proposal content, then validates every bundled
// transaction. The first failing transaction rejects the whole proposal.
func (v *Validator) ValidateProposal(ctx context.Context, p *ledger.Proposal) (ok bool) {
	defer v.recoverValidation(kindProposal, &ok)

	if p == nil {
		v.reject(kindProposal, "", causeMissingField, "proposal is nil")
		return false
	}
	if p.ID == "" || p.Proposer == "" || p.Signature == "" {
		v.reject(kindProposal, p.ID, causeMissingField, "proposal missing required fields")
		return false
	}

	message, err := p.SigningBytes()
	if err != nil {
		v.reject(kindProposal, p.ID, causeEncodingError, "failed to canonicalize proposal")
		return false
	}

	sig, err := keycodec.DecodeSignature(p.Signature)
	if err != nil {
		v.reject(kindProposal, p.ID, causeEncodingError, "failed to decode proposal signature")
		return false
	}

	if !v.identity.VerifySignature(ctx, p.Proposer, message, sig) {
		v.reject(kindProposal, p.ID, causeSignatureInvalid, "invalid proposal signature")
		return false
	}

	for i := range p.Transactions {
		if !v.ValidateTransaction(ctx, &p.Transactions[i]) {
			v.logger.Error("invalid transaction in proposal",
				zap.String("entity_kind", kindProposal),
				zap.String("entity_id", p.ID),
				zap.String("transaction_id", p.Transactions[i].ID),
				zap.String("cause", causeNestedEntityInvalid))
			return false
		}
	}
	return true
}

// ValidateBlock checks required fields, verifies the producer's signature
// over the canonical block content, then validates every bundled proposal.
func (v *Validator) ValidateBlock(ctx context.Context, b *ledger.Block) (ok bool) {
	defer v.recoverValidation(kindBlock, &ok)

	if b == nil {
		v.reject(kindBlock, "", causeMissingField, "block is nil")
		return false
	}
	if b.Producer == "" || b.Signature == "" {
		v.reject(kindBlock, blockID(b), causeMissingField, "block missing required fields")
		return false
	}

	message, err := b.SigningBytes()
	if err != nil {
		v.reject(kindBlock, blockID(b), causeEncodingError, "failed to canonicalize block")
		return false
	}

	sig, err := keycodec.DecodeSignature(b.Signature)
	if err != nil {
		v.reject(kindBlock, blockID(b), causeEncodingError, "failed to decode block signature")
		return false
	}

	if !v.identity.VerifySignature(ctx, b.Producer, message, sig) {
		v.reject(kindBlock, blockID(b), causeSignatureInvalid, "invalid block signature")
		return false
	}

	for i := range b.Proposals {
		if !v.ValidateProposal(ctx, &b.Proposals[i]) {
			v.logger.Error("invalid proposal in block",
				zap.String("entity_kind", kindBlock),
				zap.String("entity_id", blockID(b)),
				zap.String("proposal_id", b.Proposals[i].ID),
				zap.String("cause", causeNestedEntityInvalid))
			return false
		}
	}
	return true
}

func (v *Validator) reject(kind, id, cause, msg string) {
	v.logger.Error(msg,
		zap.String("entity_kind", kind),
		zap.String("entity_id", id),
		zap.String("cause", cause))
}

// recoverValidation converts a panic anywhere below the pipeline entry into
// a false result, so malformed input cannot crash the engine.
func (v *Validator) recoverValidation(kind string, ok *bool) {
	if r := recover(); r != nil {
		v.logger.Error("validation panicked",
			zap.String("entity_kind", kind),
			zap.Any("panic", r),
			zap.String("cause", causeInternalError))
		*ok = false
	}
}

func blockID(b *ledger.Block) string {
	return strconv.FormatUint(b.Height, 10)
}
