package consensus

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/multiformats/go-multibase"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
	"github.com/pilacorp/go-ledger-sdk/identity/provider"
	"github.com/pilacorp/go-ledger-sdk/ledger"
)

// memProvider serves documents from memory.
type memProvider struct {
	docs map[string]*model.Document
}

func (m *memProvider) DIDResolver(ctx context.Context, did string) (*model.Document, error) {
	doc, ok := m.docs[did]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return doc, nil
}

// testActor is a DID with a registered Ed25519 document and its signing key.
type testActor struct {
	did  string
	priv ed25519.PrivateKey
}

// newTestNetwork registers Ed25519 documents for the given DIDs and returns
// an identity service over them plus the actors' signing keys.
func newTestNetwork(t *testing.T, dids ...string) (*identity.Service, map[string]testActor) {
	t.Helper()

	docs := make(map[string]*model.Document, len(dids))
	actors := make(map[string]testActor, len(dids))

	for _, did := range dids {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		encoded, err := multibase.Encode(multibase.Base58BTC, pub)
		require.NoError(t, err)

		docs[did] = &model.Document{
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
		actors[did] = testActor{did: did, priv: priv}
	}

	return identity.NewService(&memProvider{docs: docs}), actors
}

func signedTransaction(t *testing.T, actor testActor, id string, content map[string]interface{}) ledger.Transaction {
	t.Helper()

	tx := ledger.NewTransaction(id, actor.did, content)
	message, err := tx.SigningBytes()
	require.NoError(t, err)
	tx.Signature = hex.EncodeToString(ed25519.Sign(actor.priv, message))
	return *tx
}

func signedProposal(t *testing.T, actor testActor, id string, txs []ledger.Transaction) ledger.Proposal {
	t.Helper()

	p := ledger.NewProposal(id, actor.did, txs)
	message, err := p.SigningBytes()
	require.NoError(t, err)
	p.Signature = hex.EncodeToString(ed25519.Sign(actor.priv, message))
	return *p
}

// flipSignatureBit corrupts a hex-encoded signature by one bit.
func flipSignatureBit(t *testing.T, sig string) string {
	t.Helper()

	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	raw[0] ^= 0x01
	return hex.EncodeToString(raw)
}

func signedBlock(t *testing.T, actor testActor, height uint64, proposals []ledger.Proposal) ledger.Block {
	t.Helper()

	b := ledger.NewBlock(height, actor.did, proposals)
	message, err := b.SigningBytes()
	require.NoError(t, err)
	b.Signature = hex.EncodeToString(ed25519.Sign(actor.priv, message))
	return *b
}
