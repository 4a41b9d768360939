package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketplace/pkg/order"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/storage"
	"github.com/uhyunpark/marketplace/pkg/transfer"
	"github.com/uhyunpark/marketplace/pkg/util"
)

// DefaultMatchLimit is the default cap on matches per batch.
const DefaultMatchLimit = 50

// SignatureValidator checks that signature authorizes o when it is submitted
// by sender.
type SignatureValidator interface {
	Verify(ctx context.Context, o *order.Order, signature []byte, sender common.Address) error
}

// Match pairs a left and right order with their signatures.
type Match struct {
	Left     *order.Order
	SigLeft  []byte
	Right    *order.Order
	SigRight []byte
}

// MatchResult describes one executed match.
type MatchResult struct {
	LeftHash     common.Hash
	RightHash    common.Hash
	Fill         order.FillResult
	NewLeftFill  *big.Int
	NewRightFill *big.Int
	FeeSide      FeeSide
	Transfers    []transfer.Transfer
}

type Config struct {
	MatchLimit     int
	PrimaryFeeBP   uint64
	SecondaryFeeBP uint64
	FeeReceiver    common.Address
}

type Deps struct {
	Store     storage.FillStore
	Validator SignatureValidator
	Executor  transfer.Executor
	Royalties royalty.Registry
	Creators  royalty.CreatorProbe
	Policy    Policy
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

// Engine matches signed orders against the fill ledger and settles them
// through the transfer executor. Batches and cancellations are serialized.
type Engine struct {
	mu sync.Mutex

	store     storage.FillStore
	validator SignatureValidator
	executor  transfer.Executor
	dist      Distributor
	policy    Policy
	clock     util.Clock
	log       *zap.SugaredLogger

	limit  int
	fees   Fees
	paused bool

	hooksMu  sync.RWMutex
	onMatch  []func(MatchEvent)
	onCancel []func(CancelEvent)
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("exchange: fill store is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("exchange: transfer executor is required")
	}
	if cfg.MatchLimit == 0 {
		cfg.MatchLimit = DefaultMatchLimit
	}
	if cfg.MatchLimit < 0 {
		return nil, ErrInvalidMatchLimit
	}
	if cfg.PrimaryFeeBP >= MaxProtocolFeeBP || cfg.SecondaryFeeBP >= MaxProtocolFeeBP {
		return nil, ErrFeeTooHigh
	}
	if (cfg.PrimaryFeeBP > 0 || cfg.SecondaryFeeBP > 0) && cfg.FeeReceiver == (common.Address{}) {
		return nil, ErrInvalidFeeReceiver
	}
	if deps.Royalties == nil {
		deps.Royalties = royalty.NewStaticRegistry()
	}
	if deps.Policy == nil {
		deps.Policy = NewStaticPolicy(nil, nil)
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	return &Engine{
		store:     deps.Store,
		validator: deps.Validator,
		executor:  deps.Executor,
		dist:      Distributor{Royalties: deps.Royalties, Creators: deps.Creators},
		policy:    deps.Policy,
		clock:     deps.Clock,
		log:       util.OrNop(deps.Logger),
		limit:     cfg.MatchLimit,
		fees: Fees{
			PrimaryBP:   cfg.PrimaryFeeBP,
			SecondaryBP: cfg.SecondaryFeeBP,
			Receiver:    cfg.FeeReceiver,
		},
	}, nil
}

// OnMatch registers a callback run after each committed match.
func (e *Engine) OnMatch(fn func(MatchEvent)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onMatch = append(e.onMatch, fn)
}

// OnCancel registers a callback run after each cancellation.
func (e *Engine) OnCancel(fn func(CancelEvent)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onCancel = append(e.onCancel, fn)
}

// MatchOrders executes a batch of matches submitted by sender. Either every
// match is applied or none is.
func (e *Engine) MatchOrders(ctx context.Context, sender common.Address, matches []Match) ([]MatchResult, error) {
	results, events, err := e.matchBatch(ctx, sender, matches)
	if err != nil {
		e.log.Warnw("match_rejected", "sender", sender.Hex(), "matches", len(matches), "code", Code(err), "err", err)
		return nil, err
	}
	e.emitMatches(events)
	return results, nil
}

// MatchOrdersFrom executes a batch on behalf of sender. operator must be
// authorized by the policy.
func (e *Engine) MatchOrdersFrom(ctx context.Context, operator, sender common.Address, matches []Match) ([]MatchResult, error) {
	if !e.policy.IsOperator(operator) {
		return nil, fmt.Errorf("%w: %s", ErrNotOperator, operator.Hex())
	}
	return e.MatchOrders(ctx, sender, matches)
}

func (e *Engine) matchBatch(ctx context.Context, sender common.Address, matches []Match) ([]MatchResult, []MatchEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, nil, ErrPaused
	}
	if len(matches) == 0 {
		return nil, nil, ErrEmptyBatch
	}
	if len(matches) > e.limit {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrTooManyMatches, len(matches), e.limit)
	}

	now := e.clock.Now()
	staged := storage.NewOverlay(e.store)
	results := make([]MatchResult, 0, len(matches))
	var all []transfer.Transfer
	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		res, err := e.plan(ctx, staged, sender, now, m)
		if err != nil {
			return nil, nil, fmt.Errorf("match %d: %w", i, err)
		}
		results = append(results, res)
		all = append(all, res.Transfers...)
	}

	previous, err := staged.Previous(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := staged.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := e.executor.Execute(ctx, all); err != nil {
		if rbErr := e.store.CommitFills(context.WithoutCancel(ctx), previous); rbErr != nil {
			e.log.Errorw("fill_rollback_failed", "keys", len(previous), "err", rbErr)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	events := make([]MatchEvent, 0, len(results))
	for i, r := range results {
		m := matches[i]
		events = append(events, MatchEvent{
			ID:           uuid.New(),
			Sender:       sender,
			LeftHash:     r.LeftHash,
			RightHash:    r.RightHash,
			LeftMaker:    m.Left.Maker,
			RightMaker:   m.Right.Maker,
			NewLeftFill:  r.NewLeftFill,
			NewRightFill: r.NewRightFill,
			LeftAsset:    m.Left.MakeAsset.WithValue(r.Fill.LeftValue),
			RightAsset:   m.Right.MakeAsset.WithValue(r.Fill.RightValue),
			FeeSide:      r.FeeSide,
			Transfers:    r.Transfers,
			Timestamp:    now,
		})
	}
	e.log.Infow("match_committed",
		"sender", sender.Hex(),
		"matches", len(results),
		"transfers", len(all),
	)
	return results, events, nil
}

// plan validates one match and stages its fills. It does not touch the
// underlying store or move assets.
func (e *Engine) plan(ctx context.Context, staged *storage.Overlay, sender common.Address, now time.Time, m Match) (MatchResult, error) {
	left, right := m.Left, m.Right
	if left == nil || right == nil {
		return MatchResult{}, ErrInvalidOrder
	}
	if err := e.validateFull(ctx, sender, now, left, m.SigLeft); err != nil {
		return MatchResult{}, fmt.Errorf("left order: %w", err)
	}
	if err := e.validateFull(ctx, sender, now, right, m.SigRight); err != nil {
		return MatchResult{}, fmt.Errorf("right order: %w", err)
	}
	if left.Taker != (common.Address{}) && left.Taker != right.Maker {
		return MatchResult{}, fmt.Errorf("%w: left order wants %s", ErrTakerMismatch, left.Taker.Hex())
	}
	if right.Taker != (common.Address{}) && right.Taker != left.Maker {
		return MatchResult{}, fmt.Errorf("%w: right order wants %s", ErrTakerMismatch, right.Taker.Hex())
	}
	if !left.MakeAsset.Type.Equal(right.TakeAsset.Type) || !left.TakeAsset.Type.Equal(right.MakeAsset.Type) {
		return MatchResult{}, ErrAssetMismatch
	}

	leftKey, rightKey := left.HashKey(), right.HashKey()
	leftFill, err := e.currentFill(ctx, staged, left, leftKey)
	if err != nil {
		return MatchResult{}, err
	}
	rightFill, err := e.currentFill(ctx, staged, right, rightKey)
	if err != nil {
		return MatchResult{}, err
	}

	fill, err := order.Fill(left, right, leftFill, rightFill)
	if err != nil {
		return MatchResult{}, err
	}

	newLeft := new(big.Int).Add(leftFill, fill.RightValue)
	newRight := new(big.Int).Add(rightFill, fill.LeftValue)
	if !left.IsZeroSalt() {
		staged.Set(leftKey, newLeft)
	}
	if !right.IsZeroSalt() {
		staged.Set(rightKey, newRight)
	}

	leftDeal := DealSide{
		Asset:     left.MakeAsset.WithValue(fill.LeftValue),
		Account:   left.Maker,
		ApplyFees: !e.policy.IsFeeExempt(left.Maker),
	}
	rightDeal := DealSide{
		Asset:     right.MakeAsset.WithValue(fill.RightValue),
		Account:   right.Maker,
		ApplyFees: !e.policy.IsFeeExempt(right.Maker),
	}
	if err := leftDeal.Asset.Validate(); err != nil {
		return MatchResult{}, err
	}
	if err := rightDeal.Asset.Validate(); err != nil {
		return MatchResult{}, err
	}

	side := FeeSideOf(left.MakeAsset.Type.Class(), right.MakeAsset.Type.Class())
	transfers, err := e.dist.Transfers(ctx, e.fees, leftDeal, rightDeal, side)
	if err != nil {
		return MatchResult{}, err
	}

	e.log.Debugw("match_planned",
		"left", leftKey.Hex(),
		"right", rightKey.Hex(),
		"left_value", fill.LeftValue.String(),
		"right_value", fill.RightValue.String(),
		"fee_side", side.String(),
	)
	return MatchResult{
		LeftHash:     leftKey,
		RightHash:    rightKey,
		Fill:         fill,
		NewLeftFill:  newLeft,
		NewRightFill: newRight,
		FeeSide:      side,
		Transfers:    transfers,
	}, nil
}

func (e *Engine) currentFill(ctx context.Context, staged *storage.Overlay, o *order.Order, key common.Hash) (*big.Int, error) {
	if o.IsZeroSalt() {
		return new(big.Int), nil
	}
	v, err := staged.Fill(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return v, nil
}

func (e *Engine) validateFull(ctx context.Context, sender common.Address, now time.Time, o *order.Order, sig []byte) error {
	if err := o.ValidateTime(now); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		return err
	}
	if o.IsZeroSalt() {
		if sender != o.Maker {
			return fmt.Errorf("%w: %s", ErrNotMaker, sender.Hex())
		}
		return nil
	}
	if sender == o.Maker {
		return nil
	}
	if e.validator == nil {
		return fmt.Errorf("%w: no validator configured", ErrInvalidSignature)
	}
	if err := e.validator.Verify(ctx, o, sig, sender); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// CancelOrder marks o as cancelled. hash must equal the order's key.
func (e *Engine) CancelOrder(ctx context.Context, sender common.Address, o *order.Order, hash common.Hash) error {
	if o == nil {
		return ErrInvalidOrder
	}
	if o.IsZeroSalt() {
		return ErrZeroSaltCancel
	}
	if sender != o.Maker {
		return fmt.Errorf("%w: %s", ErrNotMaker, sender.Hex())
	}
	if o.HashKey() != hash {
		return fmt.Errorf("%w: %s", ErrInvalidOrderHash, hash.Hex())
	}

	e.mu.Lock()
	err := e.store.CommitFills(ctx, map[common.Hash]*big.Int{hash: storage.Cancelled})
	now := e.clock.Now()
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	e.log.Infow("order_cancelled", "maker", o.Maker.Hex(), "hash", hash.Hex())
	e.emitCancel(CancelEvent{Maker: o.Maker, Hash: hash, Timestamp: now})
	return nil
}

// Fill returns the recorded fill of an order key. It waits for any batch in
// flight, so fills staged by a batch that is later rolled back are never seen.
func (e *Engine) Fill(ctx context.Context, hash common.Hash) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.store.Fill(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return v, nil
}

func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Infow("exchange_paused")
}

func (e *Engine) Unpause() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.log.Infow("exchange_unpaused")
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetProtocolFee updates both fee rates. Each must be below 50%.
func (e *Engine) SetProtocolFee(primaryBP, secondaryBP uint64) error {
	if primaryBP >= MaxProtocolFeeBP || secondaryBP >= MaxProtocolFeeBP {
		return fmt.Errorf("%w: primary=%d secondary=%d", ErrFeeTooHigh, primaryBP, secondaryBP)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees.PrimaryBP, e.fees.SecondaryBP = primaryBP, secondaryBP
	e.log.Infow("protocol_fee_set", "primary_bp", primaryBP, "secondary_bp", secondaryBP)
	return nil
}

func (e *Engine) SetDefaultFeeReceiver(receiver common.Address) error {
	if receiver == (common.Address{}) {
		return ErrInvalidFeeReceiver
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees.Receiver = receiver
	e.log.Infow("fee_receiver_set", "receiver", receiver.Hex())
	return nil
}

func (e *Engine) SetMatchOrdersLimit(limit int) error {
	if limit <= 0 {
		return ErrInvalidMatchLimit
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limit = limit
	return nil
}

func (e *Engine) SetRoyaltiesRegistry(r royalty.Registry) error {
	if r == nil {
		return fmt.Errorf("exchange: royalties registry is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dist.Royalties = r
	return nil
}

// Fees returns the current protocol fee configuration.
func (e *Engine) Fees() Fees {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees
}

func (e *Engine) MatchLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limit
}

func (e *Engine) emitMatches(events []MatchEvent) {
	e.hooksMu.RLock()
	hooks := append([]func(MatchEvent){}, e.onMatch...)
	e.hooksMu.RUnlock()
	for _, ev := range events {
		for _, fn := range hooks {
			fn(ev)
		}
	}
}

func (e *Engine) emitCancel(ev CancelEvent) {
	e.hooksMu.RLock()
	hooks := append([]func(CancelEvent){}, e.onCancel...)
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}
