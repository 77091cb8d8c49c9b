// Package round runs the crash game lifecycle. Each table is owned by one
// Manager whose single goroutine is the only writer of round state; bets,
// cancellations and cashouts arrive as commands over a channel, which gives
// every operation a total order relative to ticks and the crash decision.
package round

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/limits"
	"github.com/sebastianusacom/banana-cases-sub000/internal/metrics"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/odds"
)

var (
	// ErrInvalidState is returned for operations not allowed in the current
	// round state, e.g. betting mid-flight.
	ErrInvalidState = errors.New("round: operation not allowed in current state")

	// ErrRoundCrashed is returned for a cashout that arrives after the
	// round's crash was recorded. The bet is lost.
	ErrRoundCrashed = errors.New("round: round already crashed")

	// ErrNoActiveBet is returned when the user has no bet in the current
	// round to cancel or cash out.
	ErrNoActiveBet = errors.New("round: no active bet")

	// ErrInvalidBet is returned for a non-positive amount or an auto-cashout
	// threshold below the minimum crash point.
	ErrInvalidBet = errors.New("round: invalid bet")

	// ErrStopped is returned once the table's run loop has exited.
	ErrStopped = errors.New("round: table stopped")
)

// historySize bounds the retained finished-round snapshots per table.
const historySize = 32

// Config holds the per-table parameters of the crash loop.
type Config struct {
	TableID      string
	PayoutFactor float64       // RTP fraction in (0, 1)
	GrowthRate   float64       // k in m(t) = 1 + (cp-1)(1 - e^(-k·t))
	TickInterval time.Duration // flight tick period
	WaitingDelay time.Duration // max idle wait before countdown
	Countdown    time.Duration // betting window before flight
	CrashPause   time.Duration // pause on the crashed screen
}

func (c Config) withDefaults() Config {
	if c.PayoutFactor == 0 {
		c.PayoutFactor = 0.95
	}
	if c.GrowthRate == 0 {
		c.GrowthRate = 0.7
	}
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.WaitingDelay == 0 {
		c.WaitingDelay = 10 * time.Second
	}
	if c.Countdown == 0 {
		c.Countdown = 5 * time.Second
	}
	if c.CrashPause == 0 {
		c.CrashPause = 3 * time.Second
	}
	return c
}

// Manager runs one crash table. All state mutation happens on the Run
// goroutine; the exported methods are thin channel wrappers safe for
// concurrent use.
type Manager struct {
	cfg     Config
	wallets ledger.Store
	limiter *limits.StakeLimiter
	clock   Clock
	log     *slog.Logger

	cmds chan *command
	done chan struct{}

	// sampleCrash is swapped in tests to pin the crash point.
	sampleCrash func(rng odds.RandomSource) (float64, error)

	mu      sync.Mutex
	subs    map[chan model.RoundSnapshot]struct{}
	history []model.RoundSnapshot

	cur *roundState // owned by the Run goroutine
}

// roundState is the mutable state of one round, touched only by Run.
type roundState struct {
	id         string
	state      model.RoundState
	seed       []byte
	commitment string
	crashPoint float64
	startedAt  time.Time
	tickSeq    int64
	multiplier float64
	bets       map[string]*model.Bet // by user id, one bet per user per round
	unpaid     map[string]*model.Bet // settled bets whose credit has not landed, by bet id
}

// NewManager creates a table manager. A nil clock selects the system clock.
func NewManager(cfg Config, wallets ledger.Store, limiter *limits.StakeLimiter, clock Clock) *Manager {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	m := &Manager{
		cfg:     cfg,
		wallets: wallets,
		limiter: limiter,
		clock:   clock,
		log:     slog.Default().With("table", cfg.TableID),
		cmds:    make(chan *command),
		done:    make(chan struct{}),
		subs:    make(map[chan model.RoundSnapshot]struct{}),
	}
	m.sampleCrash = func(rng odds.RandomSource) (float64, error) {
		return odds.SampleCrashPoint(cfg.PayoutFactor, rng)
	}
	return m
}

// Run drives rounds back to back until ctx is canceled. It must be called
// exactly once, typically in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		if err := m.safeRound(ctx); err != nil {
			m.log.Info("table stopped", "err", err)
			return
		}
	}
}

// safeRound contains a panic to the round it happened in: the table moves
// on to a fresh round instead of taking the process down. The abandoned
// round is voided, returning stakes and limiter reservations of any bets
// still open so nothing leaks into the next round.
func (m *Manager) safeRound(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			roundID := ""
			if m.cur != nil {
				roundID = m.cur.id
				m.refundOpenBets()
			}
			m.log.Error("round panicked", "round", roundID, "panic", r)
			err = nil
		}
	}()
	return m.runRound(ctx)
}

func (m *Manager) runRound(ctx context.Context) error {
	seed, commitment, err := odds.NewRoundSeed()
	if err != nil {
		return fmt.Errorf("round seed: %w", err)
	}

	m.cur = &roundState{
		id:         uuid.New().String(),
		state:      model.StateWaiting,
		seed:       seed,
		commitment: commitment,
		multiplier: 1.0,
		bets:       make(map[string]*model.Bet),
		unpaid:     make(map[string]*model.Bet),
	}
	m.publish()

	// Waiting: idle until the first bet or the delay, whichever is first.
	waitCh := m.clock.After(m.cfg.WaitingDelay)
	for m.cur.state == model.StateWaiting {
		select {
		case <-ctx.Done():
			m.refundOpenBets()
			return ctx.Err()
		case <-waitCh:
			m.cur.state = model.StateCountdown
		case cmd := <-m.cmds:
			m.handleBettingCmd(cmd)
			if len(m.cur.bets) > 0 {
				m.cur.state = model.StateCountdown
			}
		}
	}
	m.publish()

	// Countdown: fixed betting window.
	cdCh := m.clock.After(m.cfg.Countdown)
countdown:
	for {
		select {
		case <-ctx.Done():
			m.refundOpenBets()
			return ctx.Err()
		case <-cdCh:
			break countdown
		case cmd := <-m.cmds:
			m.handleBettingCmd(cmd)
		}
	}

	// Flight: the crash point is fixed before the first tick, derived from
	// the committed seed, and compared against a multiplier computed from
	// wall-clock elapsed time.
	rng := odds.SeedSource(m.cur.seed)
	crashPoint, err := m.sampleCrash(rng)
	if err != nil {
		return fmt.Errorf("crash point: %w", err)
	}
	m.cur.crashPoint = crashPoint
	m.cur.startedAt = m.clock.Now()
	m.cur.state = model.StateFlying
	m.publish()

	ticker := m.clock.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for m.cur.state == model.StateFlying {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.tick(ctx)
		case cmd := <-m.cmds:
			m.handleFlightCmd(ctx, cmd)
		}
	}

	// Crashed: hold the result on screen, then start over.
	pauseCh := m.clock.After(m.cfg.CrashPause)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pauseCh:
			return nil
		case cmd := <-m.cmds:
			m.handleCrashedCmd(cmd)
		}
	}
}

// tick advances the round one step. Ordering within a tick is fixed: the
// sequence number advances, due auto-cashouts settle in ascending threshold
// order, and only then is the crash condition checked. A threshold reached
// on the same tick as the crash therefore pays out.
func (m *Manager) tick(ctx context.Context) {
	m.retryUnpaid(ctx)

	elapsed := m.clock.Now().Sub(m.cur.startedAt)
	m.cur.tickSeq++
	m.cur.multiplier = odds.Multiplier(elapsed, m.cur.crashPoint, m.cfg.GrowthRate)

	var due []*model.Bet
	for _, b := range m.cur.bets {
		if b.Status == model.BetActive && b.AutoCashout > 0 && b.AutoCashout <= m.cur.multiplier {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AutoCashout < due[j].AutoCashout })
	for _, b := range due {
		// Auto-cashouts settle at the requested threshold, not the tick
		// multiplier the scheduler happened to land on.
		m.settleCashout(ctx, b, b.AutoCashout)
	}

	if odds.CrashReached(m.cur.multiplier, m.cur.crashPoint) {
		m.crash(ctx)
		return
	}
	m.publish()
}

func (m *Manager) crash(ctx context.Context) {
	m.retryUnpaid(ctx)
	for _, b := range m.cur.bets {
		if b.Status == model.BetActive {
			b.Status = model.BetLost
			m.limiter.Release(b.UserID, b.Amount)
			metrics.BetsTotal.WithLabelValues(m.cfg.TableID, string(model.BetLost)).Inc()
		}
	}
	m.cur.state = model.StateCrashed
	m.cur.multiplier = m.cur.crashPoint

	metrics.RoundsTotal.WithLabelValues(m.cfg.TableID).Inc()
	metrics.CrashPoints.WithLabelValues(m.cfg.TableID).Observe(m.cur.crashPoint)

	snap := m.snapshot()
	m.mu.Lock()
	m.history = append(m.history, snap)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()

	m.publish()
	m.log.Info("round crashed",
		"round", m.cur.id,
		"crash_point", m.cur.crashPoint,
		"ticks", m.cur.tickSeq,
		"bets", len(m.cur.bets))
}

// settleCashout marks the bet terminal and credits the payout. The credit is
// keyed per bet and round, so replays and retries cannot pay twice. A failed
// credit parks the bet in unpaid; retryUnpaid re-issues it on later ticks, at
// crash, and on every cashout replay until it lands.
func (m *Manager) settleCashout(ctx context.Context, b *model.Bet, at float64) {
	payout := model.Payout(b.Amount, at)
	b.Status = model.BetCashedOut
	b.Payout = payout
	b.CashoutAt = at
	m.limiter.Release(b.UserID, b.Amount)
	metrics.BetsTotal.WithLabelValues(m.cfg.TableID, string(model.BetCashedOut)).Inc()

	if _, err := m.wallets.Credit(ctx, b.UserID, payout, m.cashoutKey(b)); err != nil {
		m.cur.unpaid[b.ID] = b
		m.log.Error("cashout credit failed", "round", m.cur.id, "bet", b.ID, "err", err)
	}
}

func (m *Manager) cashoutKey(b *model.Bet) string {
	return fmt.Sprintf("cashout:%s:%s", m.cur.id, b.ID)
}

// retryUnpaid re-issues cashout credits that failed when the bet settled.
// The idempotency key makes the retry safe: once a credit has been applied,
// a further attempt is a no-op.
func (m *Manager) retryUnpaid(ctx context.Context) {
	for id, b := range m.cur.unpaid {
		if _, err := m.wallets.Credit(ctx, b.UserID, b.Payout, m.cashoutKey(b)); err != nil {
			m.log.Error("cashout credit retry failed", "round", m.cur.id, "bet", b.ID, "err", err)
			continue
		}
		delete(m.cur.unpaid, id)
	}
}

// handleBettingCmd serves commands during Waiting and Countdown.
func (m *Manager) handleBettingCmd(cmd *command) {
	switch cmd.kind {
	case cmdSnapshot:
		cmd.reply(cmdResult{snap: m.snapshot()})

	case cmdPlace:
		cmd.reply(m.placeBet(cmd))

	case cmdCancel:
		cmd.reply(m.cancelBet(cmd))

	case cmdCashout:
		cmd.reply(cmdResult{err: ErrInvalidState})
	}
}

// handleFlightCmd serves commands during Flying. Cashouts taken here, between
// ticks, settle at the multiplier of the acceptance instant.
func (m *Manager) handleFlightCmd(ctx context.Context, cmd *command) {
	switch cmd.kind {
	case cmdSnapshot:
		cmd.reply(cmdResult{snap: m.snapshot()})

	case cmdPlace, cmdCancel:
		cmd.reply(cmdResult{err: ErrInvalidState})

	case cmdCashout:
		b, ok := m.cur.bets[cmd.userID]
		switch {
		case !ok || b.Status == model.BetCanceled:
			cmd.reply(cmdResult{err: ErrNoActiveBet})
		case b.Status == model.BetCashedOut:
			// Replay of an already-settled cashout; re-issue the credit if
			// it has not landed yet.
			m.retryUnpaid(cmd.ctx)
			cmd.reply(cmdResult{bet: b})
		default:
			elapsed := m.clock.Now().Sub(m.cur.startedAt)
			at := odds.Multiplier(elapsed, m.cur.crashPoint, m.cfg.GrowthRate)
			m.settleCashout(ctx, b, at)
			cmd.reply(cmdResult{bet: b})
		}
	}
}

// handleCrashedCmd serves commands during the post-crash pause.
func (m *Manager) handleCrashedCmd(cmd *command) {
	switch cmd.kind {
	case cmdSnapshot:
		cmd.reply(cmdResult{snap: m.snapshot()})

	case cmdPlace, cmdCancel:
		cmd.reply(cmdResult{err: ErrInvalidState})

	case cmdCashout:
		b, ok := m.cur.bets[cmd.userID]
		switch {
		case ok && b.Status == model.BetCashedOut:
			m.retryUnpaid(cmd.ctx)
			cmd.reply(cmdResult{bet: b})
		case ok && b.Status == model.BetLost:
			cmd.reply(cmdResult{err: ErrRoundCrashed})
		default:
			cmd.reply(cmdResult{err: ErrNoActiveBet})
		}
	}
}

func (m *Manager) placeBet(cmd *command) cmdResult {
	if cmd.amount <= 0 {
		return cmdResult{err: fmt.Errorf("%w: amount %d", ErrInvalidBet, cmd.amount)}
	}
	if cmd.autoCashout != 0 && cmd.autoCashout < odds.MinCrashPoint {
		return cmdResult{err: fmt.Errorf("%w: auto-cashout %v", ErrInvalidBet, cmd.autoCashout)}
	}
	if prev, ok := m.cur.bets[cmd.userID]; ok && prev.Status != model.BetCanceled {
		// One bet per user per round; a repeat is a replay.
		return cmdResult{bet: prev}
	}

	if err := m.limiter.Reserve(cmd.userID, cmd.amount); err != nil {
		return cmdResult{err: err}
	}

	b := &model.Bet{
		ID:          uuid.New().String(),
		UserID:      cmd.userID,
		RoundID:     m.cur.id,
		Amount:      cmd.amount,
		AutoCashout: cmd.autoCashout,
		Status:      model.BetPending,
		PlacedAt:    m.clock.Now(),
	}
	receipt, err := m.wallets.Debit(cmd.ctx, cmd.userID, cmd.amount)
	if err != nil {
		m.limiter.Release(cmd.userID, cmd.amount)
		return cmdResult{err: err}
	}
	b.ReceiptID = receipt.ID
	b.Status = model.BetActive
	m.cur.bets[cmd.userID] = b
	metrics.BetsTotal.WithLabelValues(m.cfg.TableID, string(model.BetActive)).Inc()
	return cmdResult{bet: b}
}

func (m *Manager) cancelBet(cmd *command) cmdResult {
	b, ok := m.cur.bets[cmd.userID]
	if !ok {
		return cmdResult{err: ErrNoActiveBet}
	}
	if b.Status == model.BetCanceled {
		return cmdResult{bet: b}
	}
	if _, _, err := m.wallets.Refund(cmd.ctx, b.ReceiptID); err != nil && !errors.Is(err, ledger.ErrReceiptUsed) {
		return cmdResult{err: err}
	}
	b.Status = model.BetCanceled
	m.limiter.Release(cmd.userID, b.Amount)
	metrics.BetsTotal.WithLabelValues(m.cfg.TableID, string(model.BetCanceled)).Inc()
	return cmdResult{bet: b}
}

// refundOpenBets returns stakes of not-yet-flying bets on shutdown. The run
// context is already canceled, so refunds get a short fresh deadline.
func (m *Manager) refundOpenBets() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, b := range m.cur.bets {
		if b.Status != model.BetActive {
			continue
		}
		if _, _, err := m.wallets.Refund(ctx, b.ReceiptID); err != nil {
			m.log.Error("shutdown refund failed", "bet", b.ID, "err", err)
			continue
		}
		b.Status = model.BetCanceled
		m.limiter.Release(b.UserID, b.Amount)
	}
}

func (m *Manager) snapshot() model.RoundSnapshot {
	snap := model.RoundSnapshot{
		TableID:    m.cfg.TableID,
		RoundID:    m.cur.id,
		State:      m.cur.state,
		Multiplier: m.cur.multiplier,
		TickSeq:    m.cur.tickSeq,
		Commitment: m.cur.commitment,
	}
	if m.cur.state == model.StateCrashed {
		// Reveal: with the seed, clients can recompute the crash point and
		// check it against the pre-round commitment.
		snap.CrashPoint = m.cur.crashPoint
		snap.Seed = hex.EncodeToString(m.cur.seed)
	}
	return snap
}

// publish fans the current snapshot out to subscribers. Slow subscribers
// drop snapshots rather than stall the round loop.
func (m *Manager) publish() {
	snap := m.snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe returns a channel of round snapshots and a cancel function.
func (m *Manager) Subscribe() (<-chan model.RoundSnapshot, func()) {
	ch := make(chan model.RoundSnapshot, 16)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
}

// History returns the retained finished rounds, oldest first.
func (m *Manager) History() []model.RoundSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RoundSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// TableID returns the table this manager runs.
func (m *Manager) TableID() string { return m.cfg.TableID }

// PlaceBet stakes amount on the current round. autoCashout of 0 means none.
// Allowed during Waiting and Countdown; one bet per user per round, with a
// repeated call returning the existing bet.
func (m *Manager) PlaceBet(ctx context.Context, userID string, amount int64, autoCashout float64) (*model.Bet, error) {
	res, err := m.send(ctx, &command{kind: cmdPlace, ctx: ctx, userID: userID, amount: amount, autoCashout: autoCashout})
	if err != nil {
		return nil, err
	}
	return res.bet, res.err
}

// CancelBet refunds the user's bet before flight. Idempotent.
func (m *Manager) CancelBet(ctx context.Context, userID string) (*model.Bet, error) {
	res, err := m.send(ctx, &command{kind: cmdCancel, ctx: ctx, userID: userID})
	if err != nil {
		return nil, err
	}
	return res.bet, res.err
}

// Cashout settles the user's active bet at the current multiplier. A cashout
// processed before the crash is recorded wins, even on the crash tick; one
// processed after returns ErrRoundCrashed.
func (m *Manager) Cashout(ctx context.Context, userID string) (*model.Bet, error) {
	res, err := m.send(ctx, &command{kind: cmdCashout, ctx: ctx, userID: userID})
	if err != nil {
		return nil, err
	}
	return res.bet, res.err
}

// Snapshot returns the current round state.
func (m *Manager) Snapshot(ctx context.Context) (model.RoundSnapshot, error) {
	res, err := m.send(ctx, &command{kind: cmdSnapshot, ctx: ctx})
	if err != nil {
		return model.RoundSnapshot{}, err
	}
	return res.snap, res.err
}

type cmdKind int

const (
	cmdPlace cmdKind = iota
	cmdCancel
	cmdCashout
	cmdSnapshot
)

type command struct {
	kind        cmdKind
	ctx         context.Context
	userID      string
	amount      int64
	autoCashout float64
	resp        chan cmdResult
}

type cmdResult struct {
	bet  *model.Bet
	snap model.RoundSnapshot
	err  error
}

// reply never blocks: resp is buffered for exactly one result.
func (c *command) reply(res cmdResult) {
	c.resp <- res
}

func (m *Manager) send(ctx context.Context, cmd *command) (cmdResult, error) {
	cmd.resp = make(chan cmdResult, 1)
	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return cmdResult{}, ctx.Err()
	case <-m.done:
		return cmdResult{}, ErrStopped
	}
	select {
	case res := <-cmd.resp:
		return res, nil
	case <-ctx.Done():
		return cmdResult{}, ctx.Err()
	}
}
