package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"reseller/internal/middleware"
	"reseller/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Withdrawals  *WithdrawalHandler
	Wallets      *WalletHandler
	Contributors *ContributorHandler
	RevenueShare *RevenueShareHandler
	System       *SystemHandler
}

// RouterOptions carries the middleware that depends on infrastructure.
// Idempotency and CallbackLimiter are optional.
type RouterOptions struct {
	Auth            *middleware.AuthMiddleware
	Idempotency     *middleware.IdempotencyMiddleware
	CallbackLimiter *middleware.RateLimiter
	AllowedOrigins  []string
	Logger          logger.Logger
}

func NewRouter(h Handlers, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(opts.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(opts.Logger).Log)

	r.HandleFunc("/health", h.System.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.System.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// The provider authenticates with the payload signature, not a JWT.
	var callback http.Handler = http.HandlerFunc(h.Withdrawals.Callback)
	if opts.CallbackLimiter != nil {
		callback = opts.CallbackLimiter.Limit(callback)
	}
	api.Handle("/gateway/callback", callback).Methods(http.MethodPost)

	admin := api.NewRoute().Subrouter()
	admin.Use(opts.Auth.Authenticate)
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))

	create := http.Handler(http.HandlerFunc(h.Withdrawals.Create))
	if opts.Idempotency != nil {
		create = opts.Idempotency.Require(create)
	}
	admin.Handle("/withdrawals", create).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals", h.Withdrawals.List).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/sweep", h.Withdrawals.Sweep).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals/{id}", h.Withdrawals.Get).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/{id}/submit", h.Withdrawals.Submit).Methods(http.MethodPost)

	admin.HandleFunc("/wallets", h.Wallets.CreateWallet).Methods(http.MethodPost)
	admin.HandleFunc("/wallets/transfer", h.Wallets.Transfer).Methods(http.MethodPost)
	admin.HandleFunc("/wallets/{id}", h.Wallets.GetWallet).Methods(http.MethodGet)
	admin.HandleFunc("/wallets/{id}/balance", h.Wallets.GetBalance).Methods(http.MethodGet)
	admin.HandleFunc("/wallets/{id}/transactions", h.Wallets.GetTransactionHistory).Methods(http.MethodGet)
	admin.HandleFunc("/wallets/{id}/credit", h.Wallets.Credit).Methods(http.MethodPost)

	admin.HandleFunc("/contributors/settings", h.Contributors.GetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/contributors/settings", h.Contributors.UpdateSettings).Methods(http.MethodPut)
	admin.HandleFunc("/contributors/configs", h.Contributors.ListConfigs).Methods(http.MethodGet)
	admin.HandleFunc("/contributors/configs", h.Contributors.CreateConfig).Methods(http.MethodPost)
	admin.HandleFunc("/contributors/configs/{id}", h.Contributors.GetConfig).Methods(http.MethodGet)
	admin.HandleFunc("/contributors/configs/{id}", h.Contributors.UpdateConfig).Methods(http.MethodPut)
	admin.HandleFunc("/contributors/configs/{id}/active", h.Contributors.SetActive).Methods(http.MethodPatch)

	admin.HandleFunc("/revenue-share/preview", h.RevenueShare.Preview).Methods(http.MethodGet)
	admin.HandleFunc("/revenue-share/run", h.RevenueShare.Run).Methods(http.MethodPost)
	admin.HandleFunc("/revenue-share/sync", h.RevenueShare.Sync).Methods(http.MethodPost)
	admin.HandleFunc("/revenue-share/payments", h.RevenueShare.Payments).Methods(http.MethodGet)
	admin.HandleFunc("/revenue-share/payments/{id}/retry", h.RevenueShare.Retry).Methods(http.MethodPost)

	return r
}
