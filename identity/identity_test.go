package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
	"github.com/pilacorp/go-ledger-sdk/identity/common/signature"
	"github.com/pilacorp/go-ledger-sdk/identity/provider"
)

// memProvider serves documents from memory and counts resolutions.
type memProvider struct {
	docs  map[string]*model.Document
	calls atomic.Int64
	delay time.Duration
}

func (m *memProvider) DIDResolver(ctx context.Context, did string) (*model.Document, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	doc, ok := m.docs[did]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return doc, nil
}

func ed25519Document(t *testing.T, did string) (*model.Document, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encoded, err := multibase.Encode(multibase.Base58BTC, pub)
	require.NoError(t, err)

	doc := &model.Document{
		ID: did,
		VerificationMethod: []model.VerificationMethod{
			{
				ID:                 did + "#key-1",
				Type:               "Ed25519VerificationKey2020",
				Controller:         did,
				PublicKeyMultibase: encoded,
			},
		},
	}
	return doc, priv
}

func TestValidateDocument(t *testing.T) {
	s := NewService(&memProvider{})

	valid, _ := ed25519Document(t, "did:x:1")

	tests := []struct {
		name     string
		doc      *model.Document
		expected bool
	}{
		{name: "nil document", doc: nil, expected: false},
		{name: "valid document", doc: valid, expected: true},
		{
			name:     "missing id",
			doc:      &model.Document{VerificationMethod: valid.VerificationMethod},
			expected: false,
		},
		{
			name:     "no verification methods",
			doc:      &model.Document{ID: "did:x:1"},
			expected: false,
		},
		{
			name: "verification method missing controller",
			doc: &model.Document{
				ID: "did:x:1",
				VerificationMethod: []model.VerificationMethod{
					{ID: "did:x:1#k1", Type: "Ed25519", PublicKeyMultibase: "zABC"},
				},
			},
			expected: false,
		},
		{
			name: "verification method missing key material",
			doc: &model.Document{
				ID: "did:x:1",
				VerificationMethod: []model.VerificationMethod{
					{ID: "did:x:1#k1", Type: "Ed25519", Controller: "did:x:1"},
				},
			},
			expected: false,
		},
		{
			name: "controller mismatch is a warning only",
			doc: &model.Document{
				ID: "did:x:1",
				VerificationMethod: []model.VerificationMethod{
					{ID: "did:x:1#k1", Type: "Ed25519", Controller: "did:x:other", PublicKeyMultibase: "zABC"},
				},
			},
			expected: true,
		},
		{
			name: "unresolved service reference",
			doc: &model.Document{
				ID: "did:x:1",
				VerificationMethod: []model.VerificationMethod{
					{
						ID: "did:x:1#k1", Type: "Ed25519", Controller: "did:x:1",
						PublicKeyMultibase: "zABC",
						ServiceEndpoint:    model.ServiceEndpoints{"did:x:1#missing"},
					},
				},
			},
			expected: false,
		},
		{
			name: "resolved service reference",
			doc: &model.Document{
				ID: "did:x:1",
				VerificationMethod: []model.VerificationMethod{
					{
						ID: "did:x:1#k1", Type: "Ed25519", Controller: "did:x:1",
						PublicKeyMultibase: "zABC",
						ServiceEndpoint:    model.ServiceEndpoints{"did:x:1#svc"},
					},
				},
				Service: []model.Service{{ID: "did:x:1#svc", Type: "Hub"}},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.ValidateDocument(tt.doc))
		})
	}
}

func TestValidateDocumentJSONLD(t *testing.T) {
	s := NewService(&memProvider{}, WithJSONLDValidation())

	doc, _ := ed25519Document(t, "did:x:1")
	// No declared @context fails under strict JSON-LD validation.
	assert.False(t, s.ValidateDocument(doc))
}

func TestVerificationKey(t *testing.T) {
	s := NewService(&memProvider{})

	doc, _ := ed25519Document(t, "did:x:1")
	doc.VerificationMethod = append(doc.VerificationMethod, model.VerificationMethod{
		ID:           "did:x:1#key-2",
		Type:         "EcdsaSecp256k1VerificationKey2019",
		Controller:   "did:x:1",
		PublicKeyHex: "02" + "11223344556677889900112233445566778899001122334455667788990011aa",
	})

	key, alg, err := s.VerificationKey(doc, "")
	require.NoError(t, err)
	assert.Equal(t, signature.AlgorithmEd25519, alg)
	assert.Len(t, key, ed25519.PublicKeySize)

	key2, alg2, err := s.VerificationKey(doc, "did:x:1#key-2")
	require.NoError(t, err)
	assert.Equal(t, signature.AlgorithmECSHA256, alg2)
	assert.Equal(t, byte(0x02), key2[0])
	assert.Len(t, key2, 33)

	_, _, err = s.VerificationKey(doc, "did:x:1#absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	doc.VerificationMethod[0].Type = "UnknownKey2099"
	_, _, err = s.VerificationKey(doc, "did:x:1#key-1")
	assert.ErrorIs(t, err, signature.ErrUnsupportedAlgorithm)
}

func TestVerifySignature(t *testing.T) {
	doc, priv := ed25519Document(t, "did:x:1")
	p := &memProvider{docs: map[string]*model.Document{"did:x:1": doc}}
	s := NewService(p)

	message := []byte(`{"amount":100,"recipient":"user123"}`)
	sig := ed25519.Sign(priv, message)

	ctx := context.Background()

	assert.True(t, s.VerifySignature(ctx, "did:x:1", message, sig))

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	assert.False(t, s.VerifySignature(ctx, "did:x:1", message, tampered))

	assert.False(t, s.VerifySignature(ctx, "did:x:unknown", message, sig))
}

func TestVerifySignatureCachesKeyLookups(t *testing.T) {
	doc, priv := ed25519Document(t, "did:x:1")
	p := &memProvider{docs: map[string]*model.Document{"did:x:1": doc}}
	s := NewService(p, WithKeyCacheSize(8))

	message := []byte("cached message")
	sig := ed25519.Sign(priv, message)

	ctx := context.Background()
	require.True(t, s.VerifySignature(ctx, "did:x:1", message, sig))
	require.True(t, s.VerifySignature(ctx, "did:x:1", message, sig))
	require.True(t, s.VerifySignature(ctx, "did:x:1", message, sig))

	assert.Equal(t, int64(1), p.calls.Load())
}

func TestVerifySignatureResolveTimeout(t *testing.T) {
	doc, priv := ed25519Document(t, "did:x:1")
	p := &memProvider{
		docs:  map[string]*model.Document{"did:x:1": doc},
		delay: 200 * time.Millisecond,
	}
	s := NewService(p, WithResolveTimeout(10*time.Millisecond))

	message := []byte("slow resolution")
	sig := ed25519.Sign(priv, message)

	// A timed-out resolution is a verification failure, not a hang or crash.
	assert.False(t, s.VerifySignature(context.Background(), "did:x:1", message, sig))
}

func TestVerifyDID(t *testing.T) {
	doc, _ := ed25519Document(t, "did:x:1")
	broken := &model.Document{ID: "did:x:2"}
	p := &memProvider{docs: map[string]*model.Document{
		"did:x:1": doc,
		"did:x:2": broken,
	}}
	s := NewService(p)

	ctx := context.Background()
	assert.True(t, s.VerifyDID(ctx, "did:x:1"))
	assert.False(t, s.VerifyDID(ctx, "did:x:2"))
	assert.False(t, s.VerifyDID(ctx, "did:x:unknown"))
}

func TestVerifySignatureHexEncodedKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	doc := &model.Document{
		ID: "did:x:hex",
		VerificationMethod: []model.VerificationMethod{
			{
				ID:           "did:x:hex#key-1",
				Type:         "Ed25519",
				Controller:   "did:x:hex",
				PublicKeyHex: hex.EncodeToString(pub),
			},
		},
	}
	p := &memProvider{docs: map[string]*model.Document{"did:x:hex": doc}}
	s := NewService(p)

	message := []byte("hex keyed message")
	sig := ed25519.Sign(priv, message)
	assert.True(t, s.VerifySignature(context.Background(), "did:x:hex", message, sig))
}
