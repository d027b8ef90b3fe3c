package consensus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pilacorp/go-ledger-sdk/ledger"
)

// Engine owns the pending pools for transactions and proposals. All
// correctness checks are delegated to the Validator; the engine only admits
// or rejects. Pools are append-only until externally drained by
// block-production logic, which lives outside this package.
type Engine struct {
	validator *Validator
	logger    *zap.Logger

	txMu       sync.Mutex
	pendingTxs []*ledger.Transaction
	txIDs      map[string]struct{}

	propMu           sync.Mutex
	pendingProposals []*ledger.Proposal
	proposalIDs      map[string]struct{}
}

// EngineOpt configures an Engine.
type EngineOpt func(*Engine)

// WithEngineLogger sets the structured logger. The default discards all
// output.
func WithEngineLogger(logger *zap.Logger) EngineOpt {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an admission engine over the given validator.
func NewEngine(validator *Validator, opts ...EngineOpt) *Engine {
	e := &Engine{
		validator:   validator,
		logger:      zap.NewNop(),
		txIDs:       make(map[string]struct{}),
		proposalIDs: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddTransaction validates tx and, on success, appends it to the pending
// pool. Validation — including DID resolution — runs before the pool lock is
// taken; the lock covers only the append. A rejected transaction leaves the
// pool untouched.
func (e *Engine) AddTransaction(ctx context.Context, tx *ledger.Transaction) bool {
	if !e.validator.ValidateTransaction(ctx, tx) {
		return false
	}

	e.txMu.Lock()
	defer e.txMu.Unlock()

	if _, dup := e.txIDs[tx.ID]; dup {
		e.logger.Warn("transaction already admitted",
			zap.String("entity_kind", kindTransaction),
			zap.String("entity_id", tx.ID),
			zap.String("cause", causeDuplicateEntity))
		return false
	}
	e.txIDs[tx.ID] = struct{}{}
	e.pendingTxs = append(e.pendingTxs, tx)

	e.logger.Info("transaction admitted to pending pool",
		zap.String("entity_kind", kindTransaction),
		zap.String("entity_id", tx.ID))
	return true
}

// AddProposal validates p and, on success, appends it to the pending pool.
func (e *Engine) AddProposal(ctx context.Context, p *ledger.Proposal) bool {
	if !e.validator.ValidateProposal(ctx, p) {
		return false
	}

	e.propMu.Lock()
	defer e.propMu.Unlock()

	if _, dup := e.proposalIDs[p.ID]; dup {
		e.logger.Warn("proposal already admitted",
			zap.String("entity_kind", kindProposal),
			zap.String("entity_id", p.ID),
			zap.String("cause", causeDuplicateEntity))
		return false
	}
	e.proposalIDs[p.ID] = struct{}{}
	e.pendingProposals = append(e.pendingProposals, p)

	e.logger.Info("proposal admitted to pending pool",
		zap.String("entity_kind", kindProposal),
		zap.String("entity_id", p.ID))
	return true
}

// ValidateBlock runs the full validation cascade over b without admitting
// anything.
func (e *Engine) ValidateBlock(ctx context.Context, b *ledger.Block) bool {
	return e.validator.ValidateBlock(ctx, b)
}

// AddBlock validates b and reports acceptance. Persisting an accepted block
// is the caller's responsibility; the engine does not extend a chain.
func (e *Engine) AddBlock(ctx context.Context, b *ledger.Block) bool {
	if !e.ValidateBlock(ctx, b) {
		return false
	}
	e.logger.Info("block validated and accepted",
		zap.String("entity_kind", kindBlock),
		zap.String("entity_id", blockID(b)))
	return true
}

// PendingTransactions returns a snapshot of the pending transaction pool in
// admission order.
func (e *Engine) PendingTransactions() []*ledger.Transaction {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	out := make([]*ledger.Transaction, len(e.pendingTxs))
	copy(out, e.pendingTxs)
	return out
}

// PendingProposals returns a snapshot of the pending proposal pool in
// admission order.
func (e *Engine) PendingProposals() []*ledger.Proposal {
	e.propMu.Lock()
	defer e.propMu.Unlock()
	out := make([]*ledger.Proposal, len(e.pendingProposals))
	copy(out, e.pendingProposals)
	return out
}

// PendingTransactionCount reports the size of the pending transaction pool.
func (e *Engine) PendingTransactionCount() int {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	return len(e.pendingTxs)
}

// PendingProposalCount reports the size of the pending proposal pool.
func (e *Engine) PendingProposalCount() int {
	e.propMu.Lock()
	defer e.propMu.Unlock()
	return len(e.pendingProposals)
}
