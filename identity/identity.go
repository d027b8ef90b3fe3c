// Package identity composes DID resolution, document validation, and
// signature verification into a single trust check: given a DID, a message,
// and a signature, decide whether the message was signed by a key the DID's
// document declares. This is the security boundary between untrusted network
// input and the ledger state.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-ledger-sdk/identity/common/keycodec"
	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
	"github.com/pilacorp/go-ledger-sdk/identity/common/signature"
	"github.com/pilacorp/go-ledger-sdk/identity/provider"
)

const (
	defaultKeyCacheSize   = 256
	defaultResolveTimeout = 10 * time.Second
)

// Failure causes recorded on verification logs.
const (
	causeDidNotFound      = "did-not-found"
	causeDocumentInvalid  = "document-invalid"
	causeKeyMissing       = "key-missing"
	causeSignatureInvalid = "signature-invalid"
)

// ErrKeyNotFound is returned when a document declares no usable verification
// key for the requested key id.
var ErrKeyNotFound = errors.New("identity: verification key not found")

// Service verifies signatures and DIDs against resolved documents. Apart
// from its capped key cache it is stateless and safe to share across
// concurrent validation calls.
type Service struct {
	provider provider.Provider
	verifier *signature.Verifier
	logger   *zap.Logger

	keyCache       gcache.Cache
	keyCacheSize   int
	resolves       singleflight.Group
	resolveTimeout time.Duration
	validateJSONLD bool
}

type cachedKey struct {
	key []byte
	alg signature.Algorithm
}

// Opt configures a Service.
type Opt func(*Service)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeyCacheSize caps the key-lookup cache at n entries.
func WithKeyCacheSize(n int) Opt {
	return func(s *Service) {
		if n > 0 {
			s.keyCacheSize = n
		}
	}
}

// WithResolveTimeout bounds how long a single DID resolution may take.
// A timed-out resolution is treated as not-found.
func WithResolveTimeout(d time.Duration) Opt {
	return func(s *Service) {
		if d > 0 {
			s.resolveTimeout = d
		}
	}
}

// WithJSONLDValidation additionally checks that documents expand cleanly
// against their declared JSON-LD contexts.
func WithJSONLDValidation() Opt {
	return func(s *Service) {
		s.validateJSONLD = true
	}
}

// NewService creates an identity service over the given resolver.
func NewService(p provider.Provider, opts ...Opt) *Service {
	s := &Service{
		provider:       p,
		logger:         zap.NewNop(),
		keyCacheSize:   defaultKeyCacheSize,
		resolveTimeout: defaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = signature.NewVerifier(s.logger)
	s.keyCache = gcache.New(s.keyCacheSize).LRU().Build()
	return s
}

// ValidateDocument checks the structural integrity of a resolved document.
// Checks run in order and short-circuit on the first failure. A document id
// that is not among the verification method controllers is surfaced as a
// warning only; third-party controlled documents are allowed.
func (s *Service) ValidateDocument(doc *model.Document) bool {
	if doc == nil || doc.ID == "" {
		s.logger.Error("DID document missing required id field")
		return false
	}

	if len(doc.VerificationMethod) == 0 {
		s.logger.Error("DID document has no verification methods",
			zap.String("did", doc.ID))
		return false
	}

	for _, vm := range doc.VerificationMethod {
		if vm.ID == "" || vm.Type == "" || vm.Controller == "" ||
			(vm.PublicKeyMultibase == "" && vm.PublicKeyHex == "") {
			s.logger.Error("verification method missing required fields",
				zap.String("did", doc.ID),
				zap.String("verification_method", vm.ID))
			return false
		}
	}

	controllers := make(map[string]struct{}, len(doc.VerificationMethod))
	for _, vm := range doc.VerificationMethod {
		controllers[vm.Controller] = struct{}{}
	}
	if _, ok := controllers[doc.ID]; !ok {
		s.logger.Warn("DID document id is not a controller of any verification method",
			zap.String("did", doc.ID))
	}

	serviceIDs := make(map[string]struct{}, len(doc.Service))
	for _, svc := range doc.Service {
		serviceIDs[svc.ID] = struct{}{}
	}
	for _, vm := range doc.VerificationMethod {
		for _, ref := range vm.ServiceEndpoint {
			if _, ok := serviceIDs[ref]; !ok {
				s.logger.Error("verification method references non-existent service",
					zap.String("did", doc.ID),
					zap.String("verification_method", vm.ID),
					zap.String("service", ref))
				return false
			}
		}
	}

	if s.validateJSONLD {
		if err := validateJSONLD(doc); err != nil {
			s.logger.Error("DID document failed JSON-LD validation",
				zap.String("did", doc.ID),
				zap.Error(err))
			return false
		}
	}

	return true
}

// VerificationKey extracts and decodes the public key for keyID, falling back
// to the document's first verification method when keyID is empty. Multibase
// prefixes are stripped as part of decoding.
func (s *Service) VerificationKey(doc *model.Document, keyID string) ([]byte, signature.Algorithm, error) {
	for _, vm := range doc.VerificationMethod {
		if keyID != "" && vm.ID != keyID {
			continue
		}

		alg, err := signature.ParseAlgorithm(vm.Type)
		if err != nil {
			return nil, "", err
		}

		var key []byte
		switch {
		case vm.PublicKeyMultibase != "":
			key, err = keycodec.DecodeMultibaseKey(vm.PublicKeyMultibase)
		case vm.PublicKeyHex != "":
			key, err = keycodec.Decode(vm.PublicKeyHex, keycodec.Hex)
		default:
			return nil, "", ErrKeyNotFound
		}
		if err != nil {
			return nil, "", err
		}
		return key, alg, nil
	}
	return nil, "", ErrKeyNotFound
}

// VerifySignature reports whether sig over message verifies under a key
// drawn from the resolved document of did. Every failing step yields false
// with a logged cause; nothing escapes the boundary.
func (s *Service) VerifySignature(ctx context.Context, did string, message, sig []byte) bool {
	key, alg, ok := s.lookupKey(ctx, did)
	if !ok {
		return false
	}

	if !s.verifier.Verify(message, sig, key, alg) {
		s.logger.Error("signature verification failed",
			zap.String("did", did),
			zap.String("cause", causeSignatureInvalid))
		return false
	}
	return true
}

// VerifyDID reports whether did resolves to a structurally valid document.
func (s *Service) VerifyDID(ctx context.Context, did string) bool {
	doc, err := s.resolve(ctx, did)
	if err != nil {
		s.logger.Error("failed to resolve DID",
			zap.String("did", did),
			zap.String("cause", causeDidNotFound),
			zap.Error(err))
		return false
	}
	if !s.ValidateDocument(doc) {
		s.logger.Error("DID document failed validation",
			zap.String("did", did),
			zap.String("cause", causeDocumentInvalid))
		return false
	}
	return true
}

func (s *Service) lookupKey(ctx context.Context, did string) ([]byte, signature.Algorithm, bool) {
	if v, err := s.keyCache.Get(did); err == nil {
		entry := v.(cachedKey)
		return entry.key, entry.alg, true
	}

	doc, err := s.resolve(ctx, did)
	if err != nil {
		s.logger.Error("failed to resolve DID",
			zap.String("did", did),
			zap.String("cause", causeDidNotFound),
			zap.Error(err))
		return nil, "", false
	}

	if !s.ValidateDocument(doc) {
		s.logger.Error("DID document failed validation",
			zap.String("did", did),
			zap.String("cause", causeDocumentInvalid))
		return nil, "", false
	}

	key, alg, err := s.VerificationKey(doc, "")
	if err != nil {
		s.logger.Error("no usable verification key",
			zap.String("did", did),
			zap.String("cause", causeKeyMissing),
			zap.Error(err))
		return nil, "", false
	}

	_ = s.keyCache.Set(did, cachedKey{key: key, alg: alg})
	return key, alg, true
}

// resolve runs the provider lookup under a bounded timeout, deduplicating
// concurrent lookups of the same DID. Callers sharing a flight inherit the
// first caller's context.
func (s *Service) resolve(ctx context.Context, did string) (*model.Document, error) {
	v, err, _ := s.resolves.Do(did, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
		defer cancel()
		return s.provider.DIDResolver(ctx, did)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Document), nil
}
