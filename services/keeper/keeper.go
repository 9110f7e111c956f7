package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"nhbcdp/crypto"
	"nhbcdp/native/cdp"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/observability"
	"nhbcdp/observability/metrics"
)

// Ledger is the slice of the facade the keeper drives.
type Ledger interface {
	Collaterals() []string
	Drip(ctx context.Context, tok string) (*big.Int, error)
	Poke(ctx context.Context, tok string) (*big.Int, error)
	ActiveAuctions(ctx context.Context, tok string) ([]*cdp.Auction, error)
	ResetAuction(ctx context.Context, caller crypto.Address, tok string, id uint64, kpr crypto.Address) error
	TotalDebt(ctx context.Context, tok string) (*big.Int, error)
	DepositTVL(ctx context.Context, tok string) (*big.Int, error)
}

// Keeper periodically accrues stability fees, refreshes spot prices and
// restarts stale auctions for every registered collateral.
type Keeper struct {
	ledger   Ledger
	address  crypto.Address
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	once     sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// New constructs a keeper acting as address, which also collects the
// incentives of the auctions it resets.
func New(ledger Ledger, address crypto.Address, interval time.Duration, opts ...Option) (*Keeper, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if address.IsZero() {
		return nil, fmt.Errorf("keeper address required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	k := &Keeper{
		ledger:   ledger,
		address:  address,
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Run blocks, ticking until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("keeper started", "interval", k.interval.String(), "address", k.address.String())
	})
	for {
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("keeper tick incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one maintenance pass. A failing collateral does not stop
// the others; all failures are returned together.
func (k *Keeper) Tick(ctx context.Context) error {
	started := k.now()
	var errs []error
	for _, tok := range k.ledger.Collaterals() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := k.maintain(ctx, tok); err != nil {
			errs = append(errs, err)
		}
	}
	observability.Keeper().ObserveTick("cdp", started, k.now().Sub(started))
	return errors.Join(errs...)
}

func (k *Keeper) maintain(ctx context.Context, tok string) error {
	var errs []error

	_, err := k.ledger.Drip(ctx, tok)
	observability.Keeper().RecordTask("drip", tok, err)
	if err != nil {
		errs = append(errs, err)
	}

	// A feed outage leaves the previous spot in place.
	_, err = k.ledger.Poke(ctx, tok)
	observability.Keeper().RecordTask("poke", tok, err)
	if err != nil {
		if errors.Is(err, nativecommon.ErrPrice) {
			k.logger.Warn("price unavailable, spot kept", "token", tok, "error", err)
		} else {
			errs = append(errs, err)
		}
	}

	active, err := k.resetStale(ctx, tok)
	if err != nil {
		errs = append(errs, err)
	}
	metrics.CDP().SetActiveAuctions(tok, active)

	if debt, err := k.ledger.TotalDebt(ctx, tok); err == nil {
		metrics.CDP().SetDebt(tok, debt)
	} else {
		errs = append(errs, err)
	}
	if locked, err := k.ledger.DepositTVL(ctx, tok); err == nil {
		metrics.CDP().SetLocked(tok, locked)
	} else {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// resetStale restarts every auction whose price decayed too far or whose
// duration ran out and returns the number of running auctions.
func (k *Keeper) resetStale(ctx context.Context, tok string) (int, error) {
	auctions, err := k.ledger.ActiveAuctions(ctx, tok)
	observability.Keeper().RecordTask("auctions", tok, err)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, a := range auctions {
		if !a.NeedsRedo {
			continue
		}
		err := k.ledger.ResetAuction(ctx, k.address, tok, a.ID, k.address)
		observability.Keeper().RecordTask("reset", tok, err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		k.logger.Info("auction reset", "token", tok, "id", a.ID)
	}
	return len(auctions), errors.Join(errs...)
}
