package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store           store.Store
	ProtocolService *service.ProtocolService
	RegistryService *service.RegistryService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerDeviceAuth()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerDeviceAuth() {
	// POST /challenge - moderate limit (one per login attempt by the relying party)
	challengeHandler := &ChallengeHandler{ProtocolService: r.ProtocolService}
	r.Mux.Handle("POST /v1/device-auth/challenge",
		httpx.Chain(challengeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /verify - strict limit (authentication attempts)
	verifyHandler := &VerifyHandler{ProtocolService: r.ProtocolService}
	r.Mux.Handle("POST /v1/device-auth/verify",
		httpx.Chain(verifyHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /enroll - strict limit (key registration is an attack surface)
	enrollHandler := &EnrollHandler{RegistryService: r.RegistryService}
	r.Mux.Handle("POST /v1/device-auth/enroll",
		httpx.Chain(enrollHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	devicesHandler := &DevicesHandler{RegistryService: r.RegistryService}
	r.Mux.Handle("GET /v1/device-auth/devices",
		httpx.Chain(http.HandlerFunc(devicesHandler.HandleList),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("DELETE /v1/device-auth/devices/{id}",
		httpx.Chain(http.HandlerFunc(devicesHandler.HandleRevoke),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.store))
}
