package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/exchange"
	"github.com/uhyunpark/marketplace/pkg/history"
	"github.com/uhyunpark/marketplace/pkg/order"
	"github.com/uhyunpark/marketplace/pkg/orderpool"
	"github.com/uhyunpark/marketplace/pkg/storage"
	"github.com/uhyunpark/marketplace/pkg/util"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 100
)

// Publisher relays accepted orders to other nodes.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// CancelAuthenticator recovers the account that signed a cancellation of
// orderHash.
type CancelAuthenticator interface {
	RecoverCancelSigner(orderHash common.Hash, signature []byte) (common.Address, error)
}

// MatchAuthenticator recovers the account that signed a batch over the
// given order sides and deadline, with the batch digest.
type MatchAuthenticator interface {
	RecoverMatchSigner(orders []*order.Order, deadline uint64, signature []byte) (common.Address, common.Hash, error)
}

// BalanceSource exposes account holdings of the settlement backend.
type BalanceSource interface {
	Holdings(owner common.Address) []asset.Asset
}

type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Deps wires the server. Engine and Pool are required; the rest enable
// optional routes or behavior.
type Deps struct {
	Engine    *exchange.Engine
	Pool      *orderpool.Pool
	Validator exchange.SignatureValidator
	Cancels   CancelAuthenticator
	Matches   MatchAuthenticator
	Balances  BalanceSource
	History   history.Archive
	Relay     Publisher
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg       Config
	engine    *exchange.Engine
	pool      *orderpool.Pool
	validator exchange.SignatureValidator
	cancels   CancelAuthenticator
	matches   MatchAuthenticator
	batches   *batchGuard
	balances  BalanceSource
	history   history.Archive
	relay     Publisher
	clock     util.Clock
	log       *zap.SugaredLogger

	router *mux.Router
	hub    *Hub
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("api: order pool is required")
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	log := util.OrNop(deps.Logger)
	s := &Server{
		cfg:       cfg,
		engine:    deps.Engine,
		pool:      deps.Pool,
		validator: deps.Validator,
		cancels:   deps.Cancels,
		matches:   deps.Matches,
		batches:   newBatchGuard(),
		balances:  deps.Balances,
		history:   deps.History,
		relay:     deps.Relay,
		clock:     deps.Clock,
		log:       log,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
	}
	s.engine.OnMatch(s.onMatch)
	s.engine.OnCancel(s.onCancel)
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{hash}/fill", s.handleGetFill).Methods("GET")

	// Matching
	api.HandleFunc("/matches", s.handleMatch).Methods("POST")

	// Accounts and history
	api.HandleFunc("/balances/{address}", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/history", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Infow("api_shutdown", "addr", s.cfg.Addr)
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	so, err := s.admit(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order_pooled", "hash", so.Hash.Hex(), "maker", so.Order.Maker.Hex())
	s.hub.BroadcastToChannel(ChannelOrders, pooledOrderInfo(so))

	if s.relay != nil {
		if data, err := json.Marshal(req); err == nil {
			if err := s.relay.Publish(r.Context(), data); err != nil {
				s.log.Warnw("order_gossip_failed", "hash", so.Hash.Hex(), "err", err)
			}
		}
	}

	respondJSONStatus(w, http.StatusCreated, SubmitOrderResponse{Status: "pooled", Hash: so.Hash.Hex()})
}

// AcceptGossip admits an order received from another node. Orders already
// pooled are ignored.
func (s *Server) AcceptGossip(ctx context.Context, data []byte) error {
	var req SubmitOrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode gossip: %w", err)
	}
	so, err := s.admit(ctx, req)
	if errors.Is(err, orderpool.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Debugw("order_gossip_pooled", "hash", so.Hash.Hex())
	s.hub.BroadcastToChannel(ChannelOrders, pooledOrderInfo(so))
	return nil
}

// admit validates a signed order and adds it to the pool.
func (s *Server) admit(ctx context.Context, req SubmitOrderRequest) (orderpool.SignedOrder, error) {
	o, err := req.Order.toOrder()
	if err != nil {
		return orderpool.SignedOrder{}, badRequest(err)
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return orderpool.SignedOrder{}, badRequest(err)
	}
	if err := o.Validate(); err != nil {
		return orderpool.SignedOrder{}, err
	}
	if o.IsZeroSalt() {
		return orderpool.SignedOrder{}, badRequest(errors.New("pooled orders need a non-zero salt"))
	}
	if o.End != 0 && o.End <= uint64(s.clock.Now().Unix()) {
		return orderpool.SignedOrder{}, order.ErrOrderExpired
	}
	if s.validator != nil {
		if err := s.validator.Verify(ctx, o, sig, common.Address{}); err != nil {
			return orderpool.SignedOrder{}, fmt.Errorf("%w: %w", exchange.ErrInvalidSignature, err)
		}
	}
	fill, err := s.engine.Fill(ctx, o.HashKey())
	if err != nil {
		return orderpool.SignedOrder{}, err
	}
	if _, _, err := o.Remaining(fill); err != nil {
		return orderpool.SignedOrder{}, err
	}
	return s.pool.Add(o, sig, s.clock.Now())
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	maker := r.URL.Query().Get("maker")
	if maker != "" && !common.IsHexAddress(maker) {
		respondError(w, http.StatusBadRequest, "invalid maker", "BadRequest", maker)
		return
	}
	makerAddr := common.HexToAddress(maker)

	out := []PooledOrderInfo{}
	for _, so := range s.pool.List(0) {
		if maker != "" && so.Order.Maker != makerAddr {
			continue
		}
		out = append(out, pooledOrderInfo(so))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	h, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "BadRequest", "")
		return
	}
	so, ok := s.pool.Get(h)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "NotFound", h.Hex())
		return
	}
	respondJSON(w, pooledOrderInfo(so))
}

func (s *Server) handleGetFill(w http.ResponseWriter, r *http.Request) {
	h, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "BadRequest", "")
		return
	}
	fill, err := s.engine.Fill(r.Context(), h)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, FillInfo{Hash: h.Hex(), Fill: fill.String(), Cancelled: storage.IsCancelled(fill)})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondEngineError(w, badRequest(err))
		return
	}
	h, err := parseHash(req.Hash)
	if err != nil {
		respondEngineError(w, badRequest(err))
		return
	}

	var sender common.Address
	if s.cancels != nil {
		sig, err := decodeSignature(req.Signature)
		if err != nil {
			respondEngineError(w, badRequest(err))
			return
		}
		sender, err = s.cancels.RecoverCancelSigner(h, sig)
		if err != nil {
			respondEngineError(w, fmt.Errorf("%w: %w", exchange.ErrInvalidSignature, err))
			return
		}
		if req.Sender != "" && !common.IsHexAddress(req.Sender) {
			respondEngineError(w, badRequest(errBadAddress))
			return
		}
		if req.Sender != "" && common.HexToAddress(req.Sender) != sender {
			respondEngineError(w, fmt.Errorf("%w: signed by %s", exchange.ErrInvalidSignature, sender.Hex()))
			return
		}
	} else {
		if sender, err = parseAddress(req.Sender, false); err != nil {
			respondEngineError(w, badRequest(err))
			return
		}
	}

	if err := s.engine.CancelOrder(r.Context(), sender, o, h); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, CancelOrderResponse{Status: "cancelled", Hash: h.Hex()})
}

// ==============================
// Match Handler
// ==============================

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	matches := make([]exchange.Match, 0, len(req.Matches))
	for i, mp := range req.Matches {
		left, sigLeft, err := s.resolveSide(mp.Left, mp.SigLeft, mp.LeftHash)
		if err != nil {
			respondEngineError(w, fmt.Errorf("match %d left: %w", i, err))
			return
		}
		right, sigRight, err := s.resolveSide(mp.Right, mp.SigRight, mp.RightHash)
		if err != nil {
			respondEngineError(w, fmt.Errorf("match %d right: %w", i, err))
			return
		}
		matches = append(matches, exchange.Match{Left: left, SigLeft: sigLeft, Right: right, SigRight: sigRight})
	}

	sender, digest, err := s.matchSender(req, matches)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if digest != (common.Hash{}) {
		if !s.batches.reserve(digest, req.Deadline, uint64(s.clock.Now().Unix())) {
			respondEngineError(w, conflict(errors.New("batch already submitted")))
			return
		}
	}

	results, err := s.engine.MatchOrders(r.Context(), sender, matches)
	if err != nil {
		if digest != (common.Hash{}) {
			s.batches.release(digest)
		}
		respondEngineError(w, err)
		return
	}
	resp := MatchResponse{Results: make([]MatchResultInfo, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, matchResultInfo(res))
	}
	respondJSON(w, resp)
}

// matchSender authenticates the acting account of a batch. An unsigned batch
// runs as the zero address, which is never a maker.
func (s *Server) matchSender(req MatchRequest, matches []exchange.Match) (common.Address, common.Hash, error) {
	if req.Signature == "" {
		if req.Sender != "" {
			return common.Address{}, common.Hash{}, fmt.Errorf("%w: sender requires a batch signature", exchange.ErrInvalidSignature)
		}
		return common.Address{}, common.Hash{}, nil
	}
	if s.matches == nil {
		return common.Address{}, common.Hash{}, badRequest(errors.New("batch signatures are not accepted"))
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, common.Hash{}, badRequest(err)
	}
	now := uint64(s.clock.Now().Unix())
	if req.Deadline <= now || req.Deadline > now+uint64(maxBatchWindow/time.Second) {
		return common.Address{}, common.Hash{}, badRequest(fmt.Errorf("deadline must be within %s from now", maxBatchWindow))
	}

	sides := make([]*order.Order, 0, 2*len(matches))
	for _, m := range matches {
		sides = append(sides, m.Left, m.Right)
	}
	sender, digest, err := s.matches.RecoverMatchSigner(sides, req.Deadline, sig)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("%w: %w", exchange.ErrInvalidSignature, err)
	}
	if req.Sender != "" && (!common.IsHexAddress(req.Sender) || common.HexToAddress(req.Sender) != sender) {
		return common.Address{}, common.Hash{}, fmt.Errorf("%w: signed by %s", exchange.ErrInvalidSignature, sender.Hex())
	}
	return sender, digest, nil
}

// resolveSide returns an inline order or looks up a pooled one by hash.
// Inline orders may omit the signature when the sender is the maker.
func (s *Server) resolveSide(p *OrderPayload, sigHex, hash string) (*order.Order, []byte, error) {
	if p != nil {
		o, err := p.toOrder()
		if err != nil {
			return nil, nil, badRequest(err)
		}
		var sig []byte
		if sigHex != "" {
			if sig, err = decodeSignature(sigHex); err != nil {
				return nil, nil, badRequest(err)
			}
		}
		return o, sig, nil
	}
	if hash == "" {
		return nil, nil, badRequest(errors.New("order or hash required"))
	}
	h, err := parseHash(hash)
	if err != nil {
		return nil, nil, badRequest(err)
	}
	so, ok := s.pool.Get(h)
	if !ok {
		return nil, nil, notFound(fmt.Errorf("pooled order %s", h.Hex()))
	}
	return so.Order, so.Signature, nil
}

// ==============================
// Account/History Handlers
// ==============================

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		respondError(w, http.StatusNotFound, "balances unavailable", "NotFound", "")
		return
	}
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "BadRequest", addressStr)
		return
	}
	addr := common.HexToAddress(addressStr)

	info := BalanceInfo{Address: addr.Hex(), Holdings: []AssetPayload{}}
	for _, a := range s.balances.Holdings(addr) {
		info.Holdings = append(info.Holdings, assetPayload(a))
	}
	respondJSON(w, info)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history unavailable", "NotFound", "")
		return
	}
	account := r.URL.Query().Get("account")
	if account != "" && !common.IsHexAddress(account) {
		respondError(w, http.StatusBadRequest, "invalid account", "BadRequest", account)
		return
	}
	if account != "" {
		account = common.HexToAddress(account).Hex()
	}
	recs, err := s.history.Recent(r.Context(), account, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		s.log.Errorw("history_query_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "history query failed", "Internal", err.Error())
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fees := s.engine.Fees()
	respondJSON(w, StatusInfo{
		Paused:         s.engine.Paused(),
		PrimaryFeeBP:   fees.PrimaryBP,
		SecondaryFeeBP: fees.SecondaryBP,
		FeeReceiver:    fees.Receiver.Hex(),
		MatchLimit:     s.engine.MatchLimit(),
		PoolSize:       s.pool.Len(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Engine Hooks
// ==============================

func (s *Server) onMatch(ev exchange.MatchEvent) {
	s.dropIfFilled(ev.LeftHash, ev.NewLeftFill)
	s.dropIfFilled(ev.RightHash, ev.NewRightFill)
	s.hub.BroadcastToChannel(ChannelMatches, matchUpdate(ev))
}

func (s *Server) dropIfFilled(h common.Hash, fill *big.Int) {
	so, ok := s.pool.Get(h)
	if !ok {
		return
	}
	if _, _, err := so.Order.Remaining(fill); err != nil {
		s.pool.Remove(h)
		s.log.Debugw("order_unpooled", "hash", h.Hex(), "reason", exchange.Code(err))
	}
}

func (s *Server) onCancel(ev exchange.CancelEvent) {
	s.pool.Remove(ev.Hash)
	s.hub.BroadcastToChannel(ChannelCancels, CancelUpdate{
		Maker:     ev.Maker.Hex(),
		Hash:      ev.Hash.Hex(),
		Timestamp: ev.Timestamp.UnixMilli(),
	})
}

// PruneExpired drops pooled orders whose end time has passed.
func (s *Server) PruneExpired() int {
	now := uint64(s.clock.Now().Unix())
	return s.pool.Prune(func(so orderpool.SignedOrder) bool {
		return so.Order.End != 0 && so.Order.End <= now
	})
}

// ==============================
// Helper Functions
// ==============================

type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{status: http.StatusBadRequest, err: err} }
func notFound(err error) error   { return &requestError{status: http.StatusNotFound, err: err} }
func conflict(err error) error   { return &requestError{status: http.StatusConflict, err: err} }

// statusFor maps an engine failure to an HTTP status.
func statusFor(err error) (int, string) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		code := "BadRequest"
		switch re.status {
		case http.StatusNotFound:
			code = "NotFound"
		case http.StatusConflict:
			code = "Duplicate"
		}
		if c := exchange.Code(err); c != "Internal" {
			code = c
		}
		return re.status, code
	case errors.Is(err, orderpool.ErrDuplicate):
		return http.StatusConflict, "Duplicate"
	}

	code := exchange.Code(err)
	switch code {
	case "InvalidSignature", "NotMaker":
		return http.StatusUnauthorized, code
	case "Paused":
		return http.StatusServiceUnavailable, code
	case "StorageError", "Internal":
		return http.StatusInternalServerError, code
	case "TransferFailed", "InsufficientBalance":
		return http.StatusUnprocessableEntity, code
	}
	return http.StatusBadRequest, code
}

func respondEngineError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	respondError(w, status, err.Error(), code, "")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "BadRequest", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, code string, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   error,
		Code:    code,
		Message: message,
	})
}
