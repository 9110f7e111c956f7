// Package cdp is the user facing facade over the ledger engines. It keeps the
// registry of collateral tokens, wires the engines to each other and to the
// token adapters, and turns deposits, borrows, paybacks, withdrawals and
// auction purchases into the underlying ledger calls. Every operation runs
// inside one state transaction, so a failure anywhere reverts the whole call.
package cdp

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nhbcdp/core/events"
	"nhbcdp/core/state"
	"nhbcdp/crypto"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/clip"
	"nhbcdp/native/dog"
	"nhbcdp/native/fixed"
	"nhbcdp/native/join"
	"nhbcdp/native/jug"
	"nhbcdp/native/spot"
	"nhbcdp/native/token"
	"nhbcdp/native/vat"
	"nhbcdp/observability/metrics"
)

const (
	registryPrefix     = "cdp/collateral/"
	whitelistPrefix    = "cdp/whitelist/member/"
	defaultStable      = "USDX"
	defaultStableName  = "NHB Dollar"
	stableDecimals     = 18
	surplusModuleName  = "vow"
	tracerInstrumentID = "nhbcdp/native/cdp"
)

var (
	registryListKey      = []byte("cdp/collaterals")
	whitelistEnabledKey  = []byte("cdp/whitelist/enabled")
	whitelistOperatorKey = []byte("cdp/whitelist/operator")
)

// Config wires the facade. Zero values fall back to the system clock, a
// no-op emitter and the default logger.
type Config struct {
	StableSymbol string
	StableName   string
	// Admin becomes a ward of every engine on first start.
	Admin   crypto.Address
	Clock   nativecommon.Clock
	Emitter events.Emitter
	Pauses  nativecommon.PauseView
	Logger  *slog.Logger
}

// Interaction is the orchestration facade.
type Interaction struct {
	state   *state.Manager
	vat     *vat.Engine
	tokens  *token.Engine
	jug     *jug.Engine
	spot    *spot.Engine
	dog     *dog.Engine
	stable  *join.StableJoin
	auth    nativecommon.Auth
	address crypto.Address
	vow     crypto.Address
	admin   crypto.Address
	symbol  string
	name    string

	clock   nativecommon.Clock
	pauses  nativecommon.PauseView
	emitter events.Emitter
	pending *events.Buffer
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.CDPMetrics

	mu          sync.RWMutex
	collaterals map[string]*CollateralType
}

type storedAddress struct {
	Prefix string
	Bytes  []byte
}

func encodeAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Bytes: append([]byte(nil), addr.Bytes()...)}
}

func (s storedAddress) decode() crypto.Address {
	return crypto.AddressFromBytes(crypto.AddressPrefix(s.Prefix), s.Bytes)
}

// New builds the engines over mgr, grants the module wards they need and
// restores the collateral registry.
func New(mgr *state.Manager, cfg Config) (*Interaction, error) {
	if mgr == nil {
		return nil, errNilManager
	}
	symbol := normalizeToken(cfg.StableSymbol)
	if symbol == "" {
		symbol = defaultStable
	}
	name := cfg.StableName
	if name == "" {
		name = defaultStableName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = nativecommon.SystemClock{}
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	i := &Interaction{
		state:       mgr,
		vat:         vat.NewEngine(),
		tokens:      token.NewEngine(),
		address:     crypto.ModuleAddress(moduleName),
		vow:         crypto.ModuleAddress(surplusModuleName),
		admin:       cfg.Admin,
		symbol:      symbol,
		name:        name,
		clock:       clock,
		pauses:      cfg.Pauses,
		emitter:     emitter,
		pending:     &events.Buffer{},
		logger:      logger.With(slog.String("module", moduleName)),
		tracer:      otel.Tracer(tracerInstrumentID),
		metrics:     metrics.CDP(),
		collaterals: make(map[string]*CollateralType),
	}
	i.jug = jug.NewEngine(i.vat)
	i.spot = spot.NewEngine(i.vat)
	i.dog = dog.NewEngine(i.vat)
	i.stable = join.NewStableJoin(symbol, i.vat, i.tokens, mgr)
	i.auth = nativecommon.NewAuth(moduleName, mgr)

	i.vat.SetState(mgr)
	i.vat.SetPauses(cfg.Pauses)
	i.tokens.SetState(mgr)
	i.jug.SetState(mgr)
	i.jug.SetClock(clock)
	i.jug.SetEmitter(i.pending)
	i.spot.SetState(mgr)
	i.spot.SetEmitter(i.pending)
	i.dog.SetState(mgr)
	i.dog.SetEmitter(i.pending)
	i.dog.SetPauses(cfg.Pauses)

	if err := mgr.UpdateThen(i.bootstrap, i.pending.Reset); err != nil {
		return nil, err
	}
	if err := i.restore(); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Interaction) bootstrap() error {
	self := i.address
	grants := []grant{
		{i.auth, self},
		{i.vat.Auth(), self},
		{i.vat.Auth(), i.jug.Address()},
		{i.vat.Auth(), i.spot.Address()},
		{i.vat.Auth(), i.dog.Address()},
		{i.vat.Auth(), i.stable.Address()},
		{i.jug.Auth(), self},
		{i.spot.Auth(), self},
		{i.dog.Auth(), self},
		{i.tokens.Auth(), self},
		{i.stable.Auth(), self},
	}
	if !i.admin.IsZero() {
		for _, auth := range []nativecommon.Auth{i.auth, i.vat.Auth(), i.jug.Auth(), i.spot.Auth(), i.dog.Auth(), i.tokens.Auth()} {
			grants = append(grants, grant{auth, i.admin})
		}
	}
	if err := applyGrants(grants); err != nil {
		return err
	}
	jg, err := i.jug.Globals()
	if err != nil {
		return err
	}
	if !jg.Vow.Equal(i.vow) {
		if err := i.jug.FileAddress(self, "vow", i.vow); err != nil {
			return err
		}
	}
	dg, err := i.dog.Globals()
	if err != nil {
		return err
	}
	if !dg.Vow.Equal(i.vow) {
		if err := i.dog.FileAddress(self, "vow", i.vow); err != nil {
			return err
		}
	}
	if _, err := i.tokens.Token(i.symbol); errors.Is(err, token.ErrUnknownToken) {
		if err := i.tokens.Register(self, i.symbol, i.name, stableDecimals); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if err := i.tokens.SetMintAuthority(self, i.symbol, i.stable.Address()); err != nil {
		return err
	}
	return i.vat.Hope(self, i.stable.Address())
}

func (i *Interaction) restore() error {
	return i.state.View(func() error {
		list, err := i.registryList()
		if err != nil {
			return err
		}
		i.mu.Lock()
		defer i.mu.Unlock()
		for _, tok := range list {
			rec, err := i.record(tok)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			ct := i.newBinding(rec.Token, rec.Ilk)
			ct.Live = rec.Live
			i.dog.Attach(rec.Ilk, ct.Clip)
			i.collaterals[rec.Token] = ct
		}
		return nil
	})
}

func (i *Interaction) newBinding(tok, ilk string) *CollateralType {
	c := clip.NewEngine(ilk, i.vat, i.spot)
	c.SetState(i.state)
	c.SetLiquidator(i.dog)
	c.SetClock(i.clock)
	c.SetEmitter(i.pending)
	c.SetPauses(i.pauses)
	return &CollateralType{
		Token:  tok,
		Ilk:    ilk,
		Live:   true,
		Escrow: join.NewGemJoin(ilk, tok, i.vat, i.tokens, i.state),
		Clip:   c,
	}
}

// Address is the facade's own ledger address.
func (i *Interaction) Address() crypto.Address { return i.address }

// Vow is the surplus and deficit sink owned by the facade.
func (i *Interaction) Vow() crypto.Address { return i.vow }

// StableSymbol is the symbol of the debt token.
func (i *Interaction) StableSymbol() string { return i.symbol }

// Engines used by the daemon and tests for reads and administration.
func (i *Interaction) Vat() *vat.Engine        { return i.vat }
func (i *Interaction) Tokens() *token.Engine   { return i.tokens }
func (i *Interaction) Jug() *jug.Engine        { return i.jug }
func (i *Interaction) Spot() *spot.Engine      { return i.spot }
func (i *Interaction) Dog() *dog.Engine        { return i.dog }
func (i *Interaction) State() *state.Manager   { return i.state }
func (i *Interaction) Auth() nativecommon.Auth { return i.auth }

// run executes fn as one state transaction with tracing, metrics and
// logging. Events raised by the engines are handed to the emitter after the
// commit, before the next transaction can start, and dropped on failure.
func (i *Interaction) run(ctx context.Context, op, tok string, fn func() (string, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := i.tracer.Start(ctx, "cdp."+op, trace.WithAttributes(attribute.String("token", tok)))
	defer span.End()

	var ilk string
	err := i.state.UpdateThen(func() error {
		i.pending.Reset()
		if err := nativecommon.Guard(i.pauses, moduleName); err != nil {
			return err
		}
		var err error
		ilk, err = fn()
		if err != nil {
			i.pending.Reset()
		}
		return err
	}, func() {
		i.pending.Flush(i.emitter)
	})
	i.metrics.RecordOperation(op, tok, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.DebugContext(ctx, "operation failed", slog.String("op", op), slog.String("token", tok), slog.String("ilk", ilk), slog.Any("error", err))
		return &OpError{Op: op, Token: tok, Ilk: ilk, Err: err}
	}
	span.SetAttributes(attribute.String("ilk", ilk))
	span.SetStatus(codes.Ok, op)
	i.logger.InfoContext(ctx, "operation applied", slog.String("op", op), slog.String("token", tok), slog.String("ilk", ilk))
	return nil
}

// view runs a read only closure under the manager's read lock.
func (i *Interaction) view(ctx context.Context, op, tok string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := i.tracer.Start(ctx, "cdp."+op, trace.WithAttributes(attribute.String("token", tok)))
	defer span.End()
	if err := i.state.View(fn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.DebugContext(ctx, "read failed", slog.String("op", op), slog.String("token", tok), slog.Any("error", err))
		return &OpError{Op: op, Token: tok, Err: err}
	}
	return nil
}

func (i *Interaction) Rely(ctx context.Context, caller, usr crypto.Address) error {
	return i.run(ctx, "rely", "", func() (string, error) { return "", i.auth.Rely(caller, usr) })
}

func (i *Interaction) Deny(ctx context.Context, caller, usr crypto.Address) error {
	return i.run(ctx, "deny", "", func() (string, error) { return "", i.auth.Deny(caller, usr) })
}

// Hope lets usr act on the caller's positions, for example to withdraw on
// their behalf.
func (i *Interaction) Hope(ctx context.Context, caller, usr crypto.Address) error {
	return i.run(ctx, "hope", "", func() (string, error) { return "", i.vat.Hope(caller, usr) })
}

func (i *Interaction) Nope(ctx context.Context, caller, usr crypto.Address) error {
	return i.run(ctx, "nope", "", func() (string, error) { return "", i.vat.Nope(caller, usr) })
}

// SetSystem applies the system wide parameters. The caller must be a ward of
// every engine it touches.
func (i *Interaction) SetSystem(ctx context.Context, caller crypto.Address, params SystemParams) error {
	return i.run(ctx, "set_system", "", func() (string, error) {
		if params.Line != nil {
			if err := i.vat.File(caller, "Line", params.Line); err != nil {
				return "", err
			}
		}
		if params.Base != nil {
			if err := i.jug.File(caller, "base", params.Base); err != nil {
				return "", err
			}
		}
		if params.Par != nil {
			if err := i.spot.File(caller, "par", params.Par); err != nil {
				return "", err
			}
		}
		if params.Hole != nil {
			if err := i.dog.File(caller, "Hole", params.Hole); err != nil {
				return "", err
			}
		}
		return "", nil
	})
}

// SetCollateralType lists a registered token as collateral and configures
// every engine for its new ledger type.
func (i *Interaction) SetCollateralType(ctx context.Context, caller crypto.Address, params CollateralParams) error {
	tok := normalizeToken(params.Token)
	var ct *CollateralType
	bound := false
	err := i.run(ctx, "set_collateral_type", tok, func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		if err := i.requireUncaged(); err != nil {
			return "", err
		}
		p, err := params.normalize()
		if err != nil {
			return "", err
		}
		if rec, err := i.record(p.Token); err != nil {
			return p.Ilk, err
		} else if rec != nil {
			return p.Ilk, ErrAlreadyInitialized
		}
		if _, err := i.tokens.Token(p.Token); err != nil {
			return p.Ilk, err
		}
		ct = i.newBinding(p.Token, p.Ilk)
		if err := i.configure(p, ct); err != nil {
			return p.Ilk, err
		}
		bound = true
		if err := i.dog.SetAuctioneer(i.address, p.Ilk, ct.Clip); err != nil {
			return p.Ilk, err
		}
		if err := ct.Clip.Upchost(); err != nil {
			return p.Ilk, err
		}
		if err := i.putRecord(&Record{Token: p.Token, Ilk: p.Ilk, Live: true, Deposits: fixed.Zero()}); err != nil {
			return p.Ilk, err
		}
		list, err := i.registryList()
		if err != nil {
			return p.Ilk, err
		}
		list = append(list, p.Token)
		sort.Strings(list)
		if err := i.state.KVPut(registryListKey, list); err != nil {
			return p.Ilk, err
		}
		i.pending.Emit(events.CollateralRegistered{Token: p.Token, Ilk: p.Ilk})
		return p.Ilk, nil
	})
	if err != nil {
		if bound {
			i.dog.Attach(ct.Ilk, nil)
		}
		return err
	}
	i.mu.Lock()
	i.collaterals[ct.Token] = ct
	i.mu.Unlock()
	return nil
}

func (i *Interaction) configure(p CollateralParams, ct *CollateralType) error {
	self := i.address
	ilk := p.Ilk
	if err := i.vat.Init(self, ilk); err != nil {
		return err
	}
	if err := fileAll(func(what string, v *big.Int) error { return i.vat.FileIlk(self, ilk, what, v) },
		param{"line", p.Line}, param{"dust", p.Dust}); err != nil {
		return err
	}
	if err := i.jug.Init(self, ilk); err != nil {
		return err
	}
	if err := i.jug.FileIlk(self, ilk, "duty", p.Duty); err != nil {
		return err
	}
	if err := i.spot.FileIlk(self, ilk, "mat", p.Mat); err != nil {
		return err
	}
	if p.Feed != nil {
		if err := i.spot.SetFeed(self, ilk, p.Feed); err != nil {
			return err
		}
	}
	if err := fileAll(func(what string, v *big.Int) error { return i.dog.FileIlk(self, ilk, what, v) },
		param{"chop", p.Chop}, param{"hole", p.Hole}); err != nil {
		return err
	}

	grants := []grant{
		{ct.Clip.Auth(), self},
		{ct.Clip.Auth(), i.dog.Address()},
		{i.dog.Auth(), ct.Clip.Address()},
		{i.vat.Auth(), ct.Clip.Address()},
		{i.vat.Auth(), ct.Escrow.Address()},
		{i.tokens.Auth(), ct.Escrow.Address()},
		{ct.Escrow.Auth(), self},
	}
	if !i.admin.IsZero() {
		grants = append(grants, grant{ct.Clip.Auth(), i.admin})
	}
	if err := applyGrants(grants); err != nil {
		return err
	}

	if err := fileAll(func(what string, v *big.Int) error { return ct.Clip.File(self, what, v) },
		param{"buf", p.Buf}, param{"tail", new(big.Int).SetUint64(p.Tail)}, param{"cusp", p.Cusp},
		param{"chip", p.Chip}, param{"tip", p.Tip}); err != nil {
		return err
	}
	if err := ct.Clip.FileAddress(self, "vow", i.vow); err != nil {
		return err
	}
	if err := ct.Clip.FileCalc(self, p.Calc); err != nil {
		return err
	}
	return i.vat.Hope(self, ct.Clip.Address())
}

// grant is a ward relation the facade installs during wiring.
type grant struct {
	auth nativecommon.Auth
	usr  crypto.Address
}

func applyGrants(grants []grant) error {
	for _, g := range grants {
		if err := g.auth.Bootstrap(g.usr); err != nil {
			return err
		}
	}
	return nil
}

type param struct {
	what  string
	value *big.Int
}

// fileAll applies params in order, skipping nil values.
func fileAll(file func(string, *big.Int) error, params ...param) error {
	for _, p := range params {
		if p.value == nil {
			continue
		}
		if err := file(p.what, p.value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveCollateralType stops new deposits and borrows against token.
// Paybacks, withdrawals and auctions keep working.
func (i *Interaction) RemoveCollateralType(ctx context.Context, caller crypto.Address, tok string) error {
	tok = normalizeToken(tok)
	err := i.run(ctx, "remove_collateral_type", tok, func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		rec, err := i.requireRecord(tok)
		if err != nil {
			return "", err
		}
		if !rec.Live {
			return rec.Ilk, ErrCollateralInactive
		}
		rec.Live = false
		if err := i.putRecord(rec); err != nil {
			return rec.Ilk, err
		}
		i.pending.Emit(events.CollateralRemoved{Token: rec.Token, Ilk: rec.Ilk})
		return rec.Ilk, nil
	})
	if err != nil {
		return err
	}
	i.mu.Lock()
	if ct, ok := i.collaterals[tok]; ok {
		ct.Live = false
	}
	i.mu.Unlock()
	return nil
}

// Cage shuts the system down in one transaction. The ledger, the spotter
// and the liquidator stop, no stable tokens are minted and no collateral is
// accepted afterwards. Burning stable tokens and withdrawing unlocked
// collateral stay open. The caller must be a ward of the facade.
func (i *Interaction) Cage(ctx context.Context, caller crypto.Address) error {
	return i.run(ctx, "cage", "", func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		if err := i.requireUncaged(); err != nil {
			return "", err
		}
		self := i.address
		for _, stop := range []func(crypto.Address) error{i.vat.Cage, i.spot.Cage, i.dog.Cage, i.stable.Cage} {
			if err := stop(self); err != nil {
				return "", err
			}
		}
		tokens, err := i.registryList()
		if err != nil {
			return "", err
		}
		for _, tok := range tokens {
			ct, err := i.binding(tok)
			if err != nil {
				return "", err
			}
			if err := ct.Escrow.Cage(self); err != nil {
				return ct.Ilk, err
			}
		}
		i.pending.Emit(events.SystemCaged{Caller: caller, Tokens: tokens})
		return "", nil
	})
}

// Caged reports whether Cage has run.
func (i *Interaction) Caged(ctx context.Context) (bool, error) {
	var caged bool
	err := i.view(ctx, "caged", "", func() error {
		g, err := i.vat.Globals()
		if err != nil {
			return err
		}
		caged = !g.Live
		return nil
	})
	return caged, err
}

func (i *Interaction) requireUncaged() error {
	g, err := i.vat.Globals()
	if err != nil {
		return err
	}
	if !g.Live {
		return ErrCaged
	}
	return nil
}

// SetPriceFeed binds the price source of token. Feeds live in memory and are
// rebound on every start.
func (i *Interaction) SetPriceFeed(ctx context.Context, caller crypto.Address, tok string, feed spot.PriceFeed) error {
	tok = normalizeToken(tok)
	return i.run(ctx, "set_price_feed", tok, func() (string, error) {
		ct, err := i.binding(tok)
		if err != nil {
			return "", err
		}
		return ct.Ilk, i.spot.SetFeed(caller, ct.Ilk, feed)
	})
}

// HealSurplus cancels rad of the sink's unbacked debt against its surplus.
func (i *Interaction) HealSurplus(ctx context.Context, caller crypto.Address, rad *big.Int) error {
	return i.run(ctx, "heal_surplus", "", func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		return "", i.vat.Heal(i.vow, rad)
	})
}

// Collateral returns the binding of token with its persisted liveness.
func (i *Interaction) Collateral(tok string) (*CollateralType, error) {
	ct, err := i.binding(normalizeToken(tok))
	if err != nil {
		return nil, err
	}
	out := *ct
	return &out, nil
}

// Collaterals lists the registered tokens in sorted order.
func (i *Interaction) Collaterals() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.collaterals))
	for tok := range i.collaterals {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Record returns the persisted registry entry of token.
func (i *Interaction) Record(ctx context.Context, tok string) (*Record, error) {
	tok = normalizeToken(tok)
	var out *Record
	err := i.view(ctx, "record", tok, func() error {
		rec, err := i.requireRecord(tok)
		out = rec
		return err
	})
	return out, err
}

func (i *Interaction) binding(tok string) (*CollateralType, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ct, ok := i.collaterals[tok]
	if !ok {
		return nil, ErrUnknownCollateral
	}
	return ct, nil
}

func registryKey(tok string) []byte {
	return []byte(registryPrefix + tok)
}

func (i *Interaction) registryList() ([]string, error) {
	var list []string
	if err := i.state.KVGetList(registryListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (i *Interaction) record(tok string) (*Record, error) {
	var stored storedRecord
	ok, err := i.state.KVGet(registryKey(tok), &stored)
	if err != nil || !ok {
		return nil, err
	}
	deposits := stored.Deposits
	if deposits == nil {
		deposits = fixed.Zero()
	}
	return &Record{Token: stored.Token, Ilk: stored.Ilk, Live: stored.Live, Deposits: deposits}, nil
}

func (i *Interaction) requireRecord(tok string) (*Record, error) {
	rec, err := i.record(tok)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUnknownCollateral
	}
	return rec, nil
}

func (i *Interaction) putRecord(rec *Record) error {
	return i.state.KVPut(registryKey(rec.Token), storedRecord{
		Token:    rec.Token,
		Ilk:      rec.Ilk,
		Live:     rec.Live,
		Deposits: fixed.Clone(rec.Deposits),
	})
}

// live resolves token to its binding and record, failing when the
// collateral was removed.
func (i *Interaction) live(tok string) (*CollateralType, *Record, error) {
	ct, err := i.binding(tok)
	if err != nil {
		return nil, nil, err
	}
	rec, err := i.requireRecord(tok)
	if err != nil {
		return nil, nil, err
	}
	if !rec.Live {
		return ct, rec, ErrCollateralInactive
	}
	return ct, rec, nil
}

func (i *Interaction) EnableWhitelist(ctx context.Context, caller crypto.Address) error {
	return i.setWhitelistEnabled(ctx, caller, true)
}

func (i *Interaction) DisableWhitelist(ctx context.Context, caller crypto.Address) error {
	return i.setWhitelistEnabled(ctx, caller, false)
}

func (i *Interaction) setWhitelistEnabled(ctx context.Context, caller crypto.Address, enabled bool) error {
	op := "disable_whitelist"
	if enabled {
		op = "enable_whitelist"
	}
	return i.run(ctx, op, "", func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		if !enabled {
			return "", i.state.KVDelete(whitelistEnabledKey)
		}
		return "", i.state.KVPut(whitelistEnabledKey, true)
	})
}

func (i *Interaction) SetWhitelistOperator(ctx context.Context, caller, operator crypto.Address) error {
	return i.run(ctx, "set_whitelist_operator", "", func() (string, error) {
		if err := i.auth.Require(caller); err != nil {
			return "", err
		}
		return "", i.state.KVPut(whitelistOperatorKey, encodeAddress(operator))
	})
}

func (i *Interaction) AddToWhitelist(ctx context.Context, caller crypto.Address, users ...crypto.Address) error {
	return i.updateWhitelist(ctx, "add_to_whitelist", caller, users, true)
}

func (i *Interaction) RemoveFromWhitelist(ctx context.Context, caller crypto.Address, users ...crypto.Address) error {
	return i.updateWhitelist(ctx, "remove_from_whitelist", caller, users, false)
}

func (i *Interaction) updateWhitelist(ctx context.Context, op string, caller crypto.Address, users []crypto.Address, listed bool) error {
	return i.run(ctx, op, "", func() (string, error) {
		var stored storedAddress
		ok, err := i.state.KVGet(whitelistOperatorKey, &stored)
		if err != nil {
			return "", err
		}
		if !ok || !stored.decode().Equal(caller) {
			return "", ErrNotOperator
		}
		for _, usr := range users {
			key := whitelistKey(usr)
			if listed {
				err = i.state.KVPut(key, true)
			} else {
				err = i.state.KVDelete(key)
			}
			if err != nil {
				return "", err
			}
		}
		return "", nil
	})
}

// Whitelisted reports whether usr may use the position operations. Every
// caller passes while the whitelist is disabled.
func (i *Interaction) Whitelisted(ctx context.Context, usr crypto.Address) (bool, error) {
	var ok bool
	err := i.view(ctx, "whitelisted", "", func() error {
		var err error
		ok, err = i.whitelisted(usr)
		return err
	})
	return ok, err
}

func (i *Interaction) whitelisted(usr crypto.Address) (bool, error) {
	var enabled bool
	ok, err := i.state.KVGet(whitelistEnabledKey, &enabled)
	if err != nil {
		return false, err
	}
	if !ok || !enabled {
		return true, nil
	}
	var listed bool
	ok, err = i.state.KVGet(whitelistKey(usr), &listed)
	if err != nil {
		return false, err
	}
	return ok && listed, nil
}

func (i *Interaction) requireWhitelisted(usr crypto.Address) error {
	ok, err := i.whitelisted(usr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotWhitelisted
	}
	return nil
}

func whitelistKey(usr crypto.Address) []byte {
	return []byte(whitelistPrefix + hex.EncodeToString(usr.Bytes()))
}
