package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nhbcdp/core/events"
	"nhbcdp/crypto"
	"nhbcdp/gateway/middleware"
	"nhbcdp/native/cdp"
	"nhbcdp/native/fixed"
	"nhbcdp/native/spot"
	"nhbcdp/storage/journal"
)

const (
	cdpRequestLimit = 1 << 20 // 1 MiB

	wadDecimals = 18
	rayDecimals = 27
	radDecimals = 45
)

var (
	errBadRequest = errors.New("bad request")
	errNoCaller   = errors.New("caller address required")
	errNoJournal  = errors.New("event journal not configured")
	errNoFeed     = errors.New("collateral has no settable feed")
)

// cdpRoutes exposes the Interaction facade over JSON. Amounts travel as
// decimal strings in stable or collateral units.
type cdpRoutes struct {
	ix      *cdp.Interaction
	journal *journal.Journal
	stream  *events.Stream
	origins []string
	feeds   map[string]*spot.StaticFeed
	timeout time.Duration
}

func newCDPRoutes(cfg Config) *cdpRoutes {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	normalized := make(map[string]*spot.StaticFeed, len(cfg.Feeds))
	for tok, feed := range cfg.Feeds {
		normalized[strings.ToUpper(strings.TrimSpace(tok))] = feed
	}
	return &cdpRoutes{
		ix:      cfg.Interaction,
		journal: cfg.Journal,
		stream:  cfg.Stream,
		origins: cfg.CORS.AllowedOrigins,
		feeds:   normalized,
		timeout: timeout,
	}
}

func (cr *cdpRoutes) mountRead(r chi.Router) {
	r.Get("/collaterals", cr.listCollaterals)
	r.Get("/collaterals/{token}", cr.getCollateral)
	r.Get("/collaterals/{token}/positions/{owner}", cr.getPosition)
	r.Get("/collaterals/{token}/positions/{owner}/estimate", cr.estimate)
	r.Get("/collaterals/{token}/auctions", cr.listAuctions)
	r.Get("/collaterals/{token}/auctions/{id}", cr.getAuction)
	r.Get("/whitelist/{addr}", cr.getWhitelisted)
	r.Get("/events", cr.listEvents)
	r.Get("/events/stream", cr.streamEvents)
	r.Get("/status", cr.status)
}

func (cr *cdpRoutes) mountWrite(r chi.Router) {
	r.Post("/collaterals/{token}/deposit", cr.deposit)
	r.Post("/collaterals/{token}/borrow", cr.borrow)
	r.Post("/collaterals/{token}/payback", cr.payback)
	r.Post("/collaterals/{token}/withdraw", cr.withdraw)
	r.Post("/collaterals/{token}/withdraw-free", cr.withdrawFree)
	r.Post("/collaterals/{token}/drip", cr.drip)
	r.Post("/collaterals/{token}/poke", cr.poke)
	r.Post("/collaterals/{token}/auctions", cr.startAuction)
	r.Post("/collaterals/{token}/auctions/{id}/buy", cr.buy)
	r.Post("/collaterals/{token}/auctions/{id}/reset", cr.reset)
	r.Post("/delegates/{addr}", cr.hope)
	r.Delete("/delegates/{addr}", cr.nope)
}

func (cr *cdpRoutes) mountAdmin(r chi.Router) {
	r.Delete("/collaterals/{token}", cr.removeCollateral)
	r.Post("/collaterals/{token}/price", cr.setPrice)
	r.Post("/collaterals/{token}/auctions/{id}/yank", cr.yank)
	r.Post("/admin/heal", cr.heal)
	r.Post("/admin/cage", cr.cage)
	r.Post("/admin/whitelist", cr.toggleWhitelist)
	r.Post("/admin/whitelist/members", cr.updateWhitelist)
}

func (cr *cdpRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, cr.timeout)
}

type collateralResponse struct {
	Token       string `json:"token"`
	Ilk         string `json:"ilk"`
	Live        bool   `json:"live"`
	Price       string `json:"price,omitempty"`
	Rate        string `json:"collateral_rate"`
	BorrowAPR   string `json:"borrow_apr"`
	Deposits    string `json:"deposit_tvl"`
	ValueLocked string `json:"collateral_tvl,omitempty"`
}

type positionResponse struct {
	Token            string `json:"token"`
	Ilk              string `json:"ilk"`
	Owner            string `json:"owner"`
	Locked           string `json:"locked"`
	Borrowed         string `json:"borrowed"`
	Free             string `json:"free"`
	Available        string `json:"available_to_borrow"`
	LiquidationPrice string `json:"liquidation_price"`
}

type estimateResponse struct {
	WillBorrow       string `json:"will_borrow"`
	LiquidationPrice string `json:"liquidation_price"`
}

type auctionResponse struct {
	ID        uint64 `json:"id"`
	Token     string `json:"token"`
	Ilk       string `json:"ilk"`
	Owner     string `json:"owner"`
	Tic       uint64 `json:"started_at"`
	Top       string `json:"top"`
	Tab       string `json:"tab"`
	Lot       string `json:"lot"`
	Price     string `json:"price"`
	NeedsRedo bool   `json:"needs_redo"`
}

type purchaseResponse struct {
	Owe      string `json:"owe"`
	Slice    string `json:"slice"`
	Refunded string `json:"refunded"`
}

type eventResponse struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Ilk        string            `json:"ilk,omitempty"`
	Token      string            `json:"token,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}

type amountRequest struct {
	Participant string `json:"participant,omitempty"`
	Amount      string `json:"amount"`
}

type auctionRequest struct {
	Owner  string `json:"owner"`
	Keeper string `json:"keeper,omitempty"`
}

type buyRequest struct {
	Amount   string `json:"amount"`
	MaxPrice string `json:"max_price"`
	Receiver string `json:"receiver,omitempty"`
}

type whitelistToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type whitelistMembersRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (cr *cdpRoutes) listCollaterals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tokens := cr.ix.Collaterals()
	out := make([]collateralResponse, 0, len(tokens))
	for _, tok := range tokens {
		resp, err := cr.collateral(ctx, tok)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, *resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (cr *cdpRoutes) getCollateral(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	resp, err := cr.collateral(ctx, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// collateral gathers the registry entry and the pool figures of tok. A
// missing price leaves the price and value fields empty.
func (cr *cdpRoutes) collateral(ctx context.Context, tok string) (*collateralResponse, error) {
	rec, err := cr.ix.Record(ctx, tok)
	if err != nil {
		return nil, err
	}
	rate, err := cr.ix.CollateralRate(ctx, rec.Token)
	if err != nil {
		return nil, err
	}
	apr, err := cr.ix.BorrowAPR(ctx, rec.Token)
	if err != nil {
		return nil, err
	}
	resp := &collateralResponse{
		Token:     rec.Token,
		Ilk:       rec.Ilk,
		Live:      rec.Live,
		Rate:      fixed.Format(rate, wadDecimals),
		BorrowAPR: fixed.Format(apr, wadDecimals),
		Deposits:  fixed.Format(rec.Deposits, wadDecimals),
	}
	if price, err := cr.ix.CollateralPrice(ctx, rec.Token); err == nil {
		resp.Price = fixed.Format(price, wadDecimals)
	}
	if tvl, err := cr.ix.CollateralTVL(ctx, rec.Token); err == nil {
		resp.ValueLocked = fixed.Format(tvl, wadDecimals)
	}
	return resp, nil
}

func (cr *cdpRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	resp, err := cr.position(ctx, chi.URLParam(r, "token"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (cr *cdpRoutes) position(ctx context.Context, tok string, owner crypto.Address) (*positionResponse, error) {
	pos, err := cr.ix.Position(ctx, tok, owner)
	if err != nil {
		return nil, err
	}
	available, err := cr.ix.AvailableToBorrow(ctx, tok, owner)
	if err != nil {
		return nil, err
	}
	return &positionResponse{
		Token:            pos.Token,
		Ilk:              pos.Ilk,
		Owner:            pos.Owner.String(),
		Locked:           fixed.Format(pos.Locked, wadDecimals),
		Borrowed:         fixed.Format(pos.Borrowed, wadDecimals),
		Free:             fixed.Format(pos.Free, wadDecimals),
		Available:        fixed.Format(available, wadDecimals),
		LiquidationPrice: fixed.Format(pos.LiquidationPrice, wadDecimals),
	}, nil
}

// estimate answers what-if queries: ?collateral= and ?debt= are signed
// changes to the position.
func (cr *cdpRoutes) estimate(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	dink, err := queryAmount(r, "collateral")
	if err != nil {
		writeError(w, err)
		return
	}
	dwad, err := queryAmount(r, "debt")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tok := chi.URLParam(r, "token")
	will, err := cr.ix.WillBorrow(ctx, tok, owner, dink)
	if err != nil {
		writeError(w, err)
		return
	}
	liq, err := cr.ix.EstimatedLiquidationPrice(ctx, tok, owner, dink, dwad)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{
		WillBorrow:       fixed.Format(will, wadDecimals),
		LiquidationPrice: fixed.Format(liq, wadDecimals),
	})
}

func (cr *cdpRoutes) listAuctions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	auctions, err := cr.ix.ActiveAuctions(ctx, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]auctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, toAuctionResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (cr *cdpRoutes) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	a, err := cr.ix.AuctionStatus(ctx, chi.URLParam(r, "token"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

func (cr *cdpRoutes) getWhitelisted(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	ok, err := cr.ix.Whitelisted(ctx, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr.String(), "whitelisted": ok})
}

func (cr *cdpRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	if cr.journal == nil {
		writeError(w, errNoJournal)
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{Type: q.Get("type"), Ilk: q.Get("ilk"), Token: q.Get("token")}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
		filter.After = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit: %v", errBadRequest, err))
			return
		}
		filter.Limit = limit
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	entries, err := cr.journal.List(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(entries))
	for i := range entries {
		attrs, err := entries[i].Decode()
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, eventResponse{
			Sequence:   entries[i].Sequence,
			Type:       entries[i].Type,
			Ilk:        entries[i].Ilk,
			Token:      entries[i].Token,
			Attributes: attrs,
			CreatedAt:  entries[i].CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (cr *cdpRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	cr.participantAmount(w, r, cr.ix.Deposit)
}

func (cr *cdpRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	cr.participantAmount(w, r, cr.ix.Withdraw)
}

func (cr *cdpRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	cr.callerAmount(w, r, cr.ix.Borrow)
}

func (cr *cdpRoutes) payback(w http.ResponseWriter, r *http.Request) {
	cr.callerAmount(w, r, cr.ix.Payback)
}

func (cr *cdpRoutes) withdrawFree(w http.ResponseWriter, r *http.Request) {
	cr.callerAmount(w, r, cr.ix.WithdrawFree)
}

type participantOp func(ctx context.Context, caller, participant crypto.Address, tok string, wad *big.Int) error

// participantAmount runs an operation on behalf of the participant named in
// the body, defaulting to the caller.
func (cr *cdpRoutes) participantAmount(w http.ResponseWriter, r *http.Request, op participantOp) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant := caller
	if strings.TrimSpace(req.Participant) != "" {
		if participant, err = parseAddress("participant", req.Participant); err != nil {
			writeError(w, err)
			return
		}
	}
	wad, err := parseAmount("amount", req.Amount, wadDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tok := chi.URLParam(r, "token")
	if err := op(ctx, caller, participant, tok, wad); err != nil {
		writeError(w, err)
		return
	}
	cr.writePosition(ctx, w, tok, participant)
}

type callerOp func(ctx context.Context, caller crypto.Address, tok string, wad *big.Int) error

func (cr *cdpRoutes) callerAmount(w http.ResponseWriter, r *http.Request, op callerOp) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wad, err := parseAmount("amount", req.Amount, wadDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tok := chi.URLParam(r, "token")
	if err := op(ctx, caller, tok, wad); err != nil {
		writeError(w, err)
		return
	}
	cr.writePosition(ctx, w, tok, caller)
}

func (cr *cdpRoutes) writePosition(ctx context.Context, w http.ResponseWriter, tok string, owner crypto.Address) {
	resp, err := cr.position(ctx, tok, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (cr *cdpRoutes) drip(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	rate, err := cr.ix.Drip(ctx, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rate": fixed.Format(rate, rayDecimals)})
}

func (cr *cdpRoutes) poke(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	value, err := cr.ix.Poke(ctx, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"spot": fixed.Format(value, rayDecimals)})
}

func (cr *cdpRoutes) startAuction(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req auctionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	keeper, err := optionalAddress("keeper", req.Keeper, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tok := chi.URLParam(r, "token")
	id, err := cr.ix.StartAuction(ctx, caller, tok, owner, keeper)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := cr.ix.AuctionStatus(ctx, tok, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionResponse(a))
}

func (cr *cdpRoutes) buy(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req buyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount, wadDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	maxPrice, err := parseAmount("max_price", req.MaxPrice, rayDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	receiver, err := optionalAddress("receiver", req.Receiver, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	purchase, err := cr.ix.BuyFromAuction(ctx, caller, chi.URLParam(r, "token"), id, amt, maxPrice, receiver)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{
		Owe:      fixed.Format(purchase.Owe, radDecimals),
		Slice:    fixed.Format(purchase.Slice, wadDecimals),
		Refunded: fixed.Format(purchase.Refunded, wadDecimals),
	})
}

func (cr *cdpRoutes) reset(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req auctionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	keeper, err := optionalAddress("keeper", req.Keeper, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	tok := chi.URLParam(r, "token")
	if err := cr.ix.ResetAuction(ctx, caller, tok, id, keeper); err != nil {
		writeError(w, err)
		return
	}
	a, err := cr.ix.AuctionStatus(ctx, tok, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

func (cr *cdpRoutes) hope(w http.ResponseWriter, r *http.Request) {
	cr.delegate(w, r, cr.ix.Hope)
}

func (cr *cdpRoutes) nope(w http.ResponseWriter, r *http.Request) {
	cr.delegate(w, r, cr.ix.Nope)
}

func (cr *cdpRoutes) delegate(w http.ResponseWriter, r *http.Request, op func(context.Context, crypto.Address, crypto.Address) error) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := pathAddress(r, "addr")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := op(ctx, caller, addr); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cr *cdpRoutes) removeCollateral(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := cr.ix.RemoveCollateralType(ctx, caller, chi.URLParam(r, "token")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setPrice publishes a new feed price and pokes it into the ledger. Rebinding
// the feed first checks that the caller may manage prices.
func (cr *cdpRoutes) setPrice(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tok := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "token")))
	feed, ok := cr.feeds[tok]
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", errNoFeed, tok))
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := parseAmount("amount", req.Amount, wadDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	if price.Sign() <= 0 {
		writeError(w, fmt.Errorf("%w: price must be positive", errBadRequest))
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := cr.ix.SetPriceFeed(ctx, caller, tok, feed); err != nil {
		writeError(w, err)
		return
	}
	feed.Set(price)
	value, err := cr.ix.Poke(ctx, tok)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"price": fixed.Format(price, wadDecimals), "spot": fixed.Format(value, rayDecimals)})
}

func (cr *cdpRoutes) yank(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := cr.ix.YankAuction(ctx, caller, chi.URLParam(r, "token"), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cr *cdpRoutes) heal(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	// Stable units in, internal debt units to the ledger.
	rad, err := parseAmount("amount", req.Amount, radDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := cr.ix.HealSurplus(ctx, caller, rad); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Stable string `json:"stable"`
	Caged  bool   `json:"caged"`
}

func (cr *cdpRoutes) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	caged, err := cr.ix.Caged(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Stable: cr.ix.StableSymbol(), Caged: caged})
}

func (cr *cdpRoutes) cage(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if err := cr.ix.Cage(ctx, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cr *cdpRoutes) toggleWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req whitelistToggleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if req.Enabled {
		err = cr.ix.EnableWhitelist(ctx, caller)
	} else {
		err = cr.ix.DisableWhitelist(ctx, caller)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (cr *cdpRoutes) updateWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, err := requireCaller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req whitelistMembersRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	add, err := parseAddresses("add", req.Add)
	if err != nil {
		writeError(w, err)
		return
	}
	remove, err := parseAddresses("remove", req.Remove)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := cr.context(r.Context())
	defer cancel()

	if len(add) > 0 {
		if err := cr.ix.AddToWhitelist(ctx, caller, add...); err != nil {
			writeError(w, err)
			return
		}
	}
	if len(remove) > 0 {
		if err := cr.ix.RemoveFromWhitelist(ctx, caller, remove...); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func toAuctionResponse(a *cdp.Auction) auctionResponse {
	return auctionResponse{
		ID:        a.ID,
		Token:     a.Token,
		Ilk:       a.Ilk,
		Owner:     a.Usr.String(),
		Tic:       a.Tic,
		Top:       fixed.Format(a.Top, rayDecimals),
		Tab:       fixed.Format(a.Tab, radDecimals),
		Lot:       fixed.Format(a.Lot, wadDecimals),
		Price:     fixed.Format(a.Price, rayDecimals),
		NeedsRedo: a.NeedsRedo,
	}
}

func decodeRequest(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, cdpRequestLimit))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func requireCaller(r *http.Request) (crypto.Address, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok || caller.IsZero() {
		return crypto.Address{}, errNoCaller
	}
	return caller, nil
}

func parseAmount(field, raw string, decimals int) (*big.Int, error) {
	v, err := fixed.Parse(raw, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

// queryAmount reads an optional signed collateral amount; absent means zero.
func queryAmount(r *http.Request, key string) (*big.Int, error) {
	raw := r.URL.Query().Get(key)
	if strings.TrimSpace(raw) == "" {
		return fixed.Zero(), nil
	}
	return parseAmount(key, raw, wadDecimals)
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func optionalAddress(field, raw string, fallback crypto.Address) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseAddress(field, raw)
}

func parseAddresses(field string, raw []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := parseAddress(field, s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func pathAddress(r *http.Request, key string) (crypto.Address, error) {
	return parseAddress(key, chi.URLParam(r, key))
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: auction id: %v", errBadRequest, err)
	}
	return id, nil
}
