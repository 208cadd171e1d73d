package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/lottery_layer/internal/app/metrics"
	"github.com/R3E-Network/lottery_layer/internal/bank"
	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/internal/events"
	"github.com/R3E-Network/lottery_layer/internal/httputil"
	"github.com/R3E-Network/lottery_layer/internal/middleware"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
	"github.com/R3E-Network/lottery_layer/services/lottery"
)

// Options wires the handler to the running services.
type Options struct {
	Service  *lottery.Service
	Bank     *bank.Bank
	Events   *events.Log
	Contract string // escrow address used as Env.Contract

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Clock       func() time.Time
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the lottery.
type handler struct {
	svc      *lottery.Service
	bank     *bank.Bank
	events   *events.Log
	contract string
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	cors     *middleware.CORSMiddleware
	now      func() time.Time
	log      *logger.Logger
}

// messageRequest is the body of /v1/instantiate and /v1/execute.
type messageRequest struct {
	Sender string          `json:"sender"`
	Funds  []coin.Coin     `json:"funds"`
	Msg    json.RawMessage `json:"msg"`
}

// NewHandler returns a router exposing the lottery REST API.
func NewHandler(opts Options) http.Handler {
	h := &handler{
		svc:      opts.Service,
		bank:     opts.Bank,
		events:   opts.Events,
		contract: opts.Contract,
		auth:     opts.Auth,
		limiter:  opts.RateLimiter,
		cors:     middleware.NewCORSMiddleware(opts.CORSOrigins),
		now:      opts.Clock,
		log:      opts.Log,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.log == nil {
		h.log = logger.NewDefault("httpapi")
	}
	if h.auth == nil {
		h.auth = middleware.NewAuthMiddleware("", h.log)
	}
	if h.limiter == nil {
		h.limiter = middleware.NewRateLimiter(0, 0, h.log)
	}
	if h.events == nil {
		h.events = events.NewLog(0)
	}

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(h.health)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Handle("/instantiate", h.mutating(h.instantiate)).Methods(http.MethodPost)
	api.Handle("/execute", h.mutating(h.execute)).Methods(http.MethodPost)
	api.Handle("/query", h.reading(h.query)).Methods(http.MethodPost)
	api.Handle("/config", h.reading(h.config)).Methods(http.MethodGet)
	api.Handle("/contract", h.reading(h.contractInfo)).Methods(http.MethodGet)
	api.Handle("/rounds", h.reading(h.history)).Methods(http.MethodGet)
	api.Handle("/rounds/current", h.reading(h.currentRound)).Methods(http.MethodGet)
	api.Handle("/rounds/{id:[0-9]+}/winners", h.reading(h.roundWinners)).Methods(http.MethodGet)
	api.Handle("/tickets/{address}", h.reading(h.ticket)).Methods(http.MethodGet)
	api.Handle("/balances/{address}/{denom}", h.reading(h.balance)).Methods(http.MethodGet)
	api.Handle("/events", http.HandlerFunc(h.stream)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	var out http.Handler = r
	out = metrics.InstrumentHandler(out)
	out = h.cors.Handler(out)
	out = middleware.NewRequestID(h.log).Handler(out)
	return out
}

// mutating routes authenticate before rate limiting so buckets are keyed by
// sender rather than by IP.
func (h *handler) mutating(fn http.HandlerFunc) http.Handler {
	return h.auth.Handler(h.limiter.Handler(fn))
}

func (h *handler) reading(fn http.HandlerFunc) http.Handler {
	return h.limiter.Handler(fn)
}

func (h *handler) env() lottery.Env {
	return lottery.Env{Time: uint64(h.now().Unix()), Contract: h.contract}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// messageInfo decodes a message request and resolves its sender. When tokens
// are required the token's address wins and a disagreeing body is rejected.
func (h *handler) messageInfo(w http.ResponseWriter, r *http.Request) (lottery.MessageInfo, json.RawMessage, bool) {
	var req messageRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, lottery.ErrUnknownMessage.Code, err.Error())
		return lottery.MessageInfo{}, nil, false
	}
	if len(req.Msg) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, lottery.ErrUnknownMessage.Code, "msg is required")
		return lottery.MessageInfo{}, nil, false
	}

	sender := req.Sender
	if h.auth.Enabled() {
		authed := middleware.Sender(r.Context())
		if sender != "" && sender != authed {
			httputil.WriteError(w, http.StatusForbidden, lottery.ErrUnauthorized.Code, "sender does not match token")
			return lottery.MessageInfo{}, nil, false
		}
		sender = authed
	}
	return lottery.MessageInfo{Sender: sender, Funds: req.Funds}, req.Msg, true
}

func (h *handler) instantiate(w http.ResponseWriter, r *http.Request) {
	info, msg, ok := h.messageInfo(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.InstantiateRaw(r.Context(), h.env(), info, msg)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	info, msg, ok := h.messageInfo(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Execute(r.Context(), h.env(), info, msg)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := httputil.DecodeJSON(r.Body, &raw); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, lottery.ErrUnknownMessage.Code, err.Error())
		return
	}
	data, err := h.svc.Query(r.Context(), raw)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]json.RawMessage{"data": data})
}

func (h *handler) config(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *handler) contractInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.ContractInfo(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.svc.CurrentRound(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *handler) roundWinners(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "round id must be an unsigned integer")
		return
	}
	winners, err := h.svc.RoundWinners(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lottery.HistoryEntry{RoundID: id, Winners: winners})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var startAfter *uint64
	if raw := q.Get("start_after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "start_after must be an unsigned integer")
			return
		}
		startAfter = &v
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	entries, err := h.svc.History(r.Context(), startAfter, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []lottery.HistoryEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handler) ticket(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	n, err := h.svc.TicketNumber(r.Context(), addr)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"address": addr, "ticket_number": n})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	if h.bank == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "bank queries are not enabled")
		return
	}
	vars := mux.Vars(r)
	bal, err := h.bank.Balance(r.Context(), vars["address"], vars["denom"])
	if err != nil {
		if errors.Is(err, bank.ErrInvalidAccount) {
			httputil.WriteError(w, http.StatusBadRequest, lottery.ErrInvalidAddress.Code, err.Error())
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bal)
}

// writeServiceError flattens err into the error envelope. This is the only
// place typed errors become strings.
func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := lottery.ErrorCode(err)
	status := statusFor(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		message = "internal error"
	}
	httputil.WriteError(w, status, code, message)
}

func statusFor(code string) int {
	switch code {
	case lottery.ErrUnauthorized.Code:
		return http.StatusForbidden
	case lottery.ErrInvalidFunds.Code, lottery.ErrInvalidAddress.Code,
		lottery.ErrInvalidConfig.Code, lottery.ErrUnknownMessage.Code:
		return http.StatusBadRequest
	case lottery.ErrPaused.Code, lottery.ErrRoundNotEnded.Code, lottery.ErrNoParticipants.Code,
		lottery.ErrInsufficientParticipants.Code, lottery.ErrAlreadyInitialized.Code,
		lottery.ErrHistoryExists.Code, lottery.CodeConflict:
		return http.StatusConflict
	case lottery.ErrParticipantNotFound.Code, lottery.ErrRoundNotFound.Code, lottery.ErrNotInitialized.Code:
		return http.StatusNotFound
	case lottery.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
