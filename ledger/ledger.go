// Package ledger defines the entities admitted to the network: transactions,
// the proposals that bundle them, and the blocks that bundle proposals. Every
// entity carries the DID of its author and a signature over its canonical
// byte form.
package ledger

import (
	"github.com/google/uuid"

	"github.com/pilacorp/go-ledger-sdk/ledger/canonicaljson"
)

// Transaction is a single signed ledger operation.
type Transaction struct {
	ID        string                 `json:"id"`
	Signer    string                 `json:"signer"`
	Content   map[string]interface{} `json:"content"`
	Signature string                 `json:"signature"`
}

// SigningBytes returns the canonical byte form of the transaction content,
// the exact bytes the signer is expected to have signed.
func (t *Transaction) SigningBytes() ([]byte, error) {
	return canonicaljson.Marshal(t.Content)
}

// Proposal bundles transactions put forward by one actor for inclusion in a
// block. A proposal owns its transaction list; it never shares a backing
// array with a pending pool.
type Proposal struct {
	ID           string        `json:"id"`
	Proposer     string        `json:"proposer"`
	Transactions []Transaction `json:"transactions"`
	Signature    string        `json:"signature"`
}

// SigningBytes covers every proposal field except the signature. The bundled
// transactions are signed as complete entities, their own signatures
// included.
func (p *Proposal) SigningBytes() ([]byte, error) {
	return canonicaljson.Marshal(map[string]interface{}{
		"id":           p.ID,
		"proposer":     p.Proposer,
		"transactions": p.Transactions,
	})
}

// Block bundles proposals under a producer signature. Height is assigned at
// creation and never mutated.
type Block struct {
	Height    uint64     `json:"height"`
	Producer  string     `json:"producer"`
	Proposals []Proposal `json:"proposals"`
	Signature string     `json:"signature"`
}

// SigningBytes covers every block field except the signature.
func (b *Block) SigningBytes() ([]byte, error) {
	return canonicaljson.Marshal(map[string]interface{}{
		"height":    b.Height,
		"producer":  b.Producer,
		"proposals": b.Proposals,
	})
}

// NewTransaction builds an unsigned transaction, assigning a fresh ID when
// none is given.
func NewTransaction(id, signer string, content map[string]interface{}) *Transaction {
	if id == "" {
		id = uuid.NewString()
	}
	return &Transaction{ID: id, Signer: signer, Content: content}
}

// NewProposal builds an unsigned proposal over its own copy of the
// transaction list.
func NewProposal(id, proposer string, txs []Transaction) *Proposal {
	if id == "" {
		id = uuid.NewString()
	}
	owned := make([]Transaction, len(txs))
	copy(owned, txs)
	return &Proposal{ID: id, Proposer: proposer, Transactions: owned}
}

// NewBlock builds an unsigned block over its own copy of the proposal list.
func NewBlock(height uint64, producer string, proposals []Proposal) *Block {
	owned := make([]Proposal, len(proposals))
	copy(owned, proposals)
	return &Block{Height: height, Producer: producer, Proposals: owned}
}
