package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nhbcdp/config"
	"nhbcdp/crypto"
	"nhbcdp/native/cdp"
	nativecommon "nhbcdp/native/common"
	"nhbcdp/native/spot"
	"nhbcdp/native/token"
)

// bootstrap brings the ledger in line with the configuration. It is safe to
// run on every start: registered collateral keeps its stored parameters and
// only gets its feed rebound.
func bootstrap(ctx context.Context, ix *cdp.Interaction, cfg config.Config, logger *slog.Logger) (map[string]*spot.StaticFeed, error) {
	feeds := make(map[string]*spot.StaticFeed, len(cfg.Collaterals))
	admin, err := cfg.System.AdminAddress()
	if err != nil {
		return nil, err
	}
	if admin.IsZero() {
		if len(cfg.Collaterals) > 0 {
			return nil, fmt.Errorf("system.admin required to configure collateral")
		}
		logger.Warn("no administrator configured, ledger left unconfigured")
		return feeds, nil
	}

	params, err := cfg.System.SystemParams()
	if err != nil {
		return nil, err
	}
	if err := ix.SetSystem(ctx, admin, params); err != nil {
		return nil, fmt.Errorf("apply system parameters: %w", err)
	}

	for _, c := range cfg.Collaterals {
		feed, err := configureCollateral(ctx, ix, admin, c, logger)
		if err != nil {
			return nil, err
		}
		feeds[c.Token] = feed
	}

	operator, err := cfg.System.OperatorAddress()
	if err != nil {
		return nil, err
	}
	if !operator.IsZero() {
		if err := ix.SetWhitelistOperator(ctx, admin, operator); err != nil {
			return nil, fmt.Errorf("set whitelist operator: %w", err)
		}
	}
	if cfg.System.Whitelist {
		err = ix.EnableWhitelist(ctx, admin)
	} else {
		err = ix.DisableWhitelist(ctx, admin)
	}
	if err != nil {
		return nil, fmt.Errorf("apply whitelist switch: %w", err)
	}
	return feeds, nil
}

func configureCollateral(ctx context.Context, ix *cdp.Interaction, admin crypto.Address, c config.Collateral, logger *slog.Logger) (*spot.StaticFeed, error) {
	params, feed, err := c.CollateralParams()
	if err != nil {
		return nil, err
	}
	if feed == nil {
		feed = spot.NewStaticFeed(nil)
	}
	if err := registerToken(ix, admin, c.Token); err != nil {
		return nil, fmt.Errorf("register token %s: %w", c.Token, err)
	}

	if _, err := ix.Collateral(c.Token); errors.Is(err, cdp.ErrUnknownCollateral) {
		params.Feed = feed
		if err := ix.SetCollateralType(ctx, admin, params); err != nil {
			return nil, fmt.Errorf("list collateral %s: %w", c.Token, err)
		}
		logger.Info("collateral listed", "token", params.Token, "ilk", params.Ilk)
	} else if err != nil {
		return nil, err
	} else if err := ix.SetPriceFeed(ctx, admin, c.Token, feed); err != nil {
		return nil, fmt.Errorf("bind feed of %s: %w", c.Token, err)
	}

	if _, err := ix.Poke(ctx, c.Token); err != nil {
		if !errors.Is(err, nativecommon.ErrPrice) {
			return nil, fmt.Errorf("poke %s: %w", c.Token, err)
		}
		logger.Warn("collateral has no price yet", "token", c.Token)
	}
	return feed, nil
}

// registerToken lists symbol in the token ledger with the administrator as
// mint authority unless it already exists.
func registerToken(ix *cdp.Interaction, admin crypto.Address, symbol string) error {
	return ix.State().Update(func() error {
		tokens := ix.Tokens()
		if _, err := tokens.Token(symbol); err == nil {
			return nil
		} else if !errors.Is(err, token.ErrUnknownToken) {
			return err
		}
		if err := tokens.Register(admin, symbol, symbol, 18); err != nil {
			return err
		}
		return tokens.SetMintAuthority(admin, symbol, admin)
	})
}
