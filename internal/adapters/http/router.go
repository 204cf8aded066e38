package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/adapters/keyagree"
	"github.com/dkeye/securecall/internal/adapters/signal"
	"github.com/dkeye/securecall/internal/app/orch"
	"github.com/dkeye/securecall/internal/config"
)

// SetupRouter wires the REST API and the signaling websocket.
// keys may be nil, which disables the development secret upload route.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, hub *signal.Hub, keys *keyagree.Memory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &Handlers{
		ctx:     ctx,
		orch:    o,
		hub:     hub,
		keys:    keys,
		limiter: NewCallRateLimiter(cfg.Calls.RateLimit, cfg.Calls.RateWindow),
	}

	go h.pruneLimiter(ctx, cfg.Calls.RateWindow)

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})

	api := r.Group("/api")
	api.Use(sessions.Sessions("SecureCallSessions", store))
	api.Use(IdentityMiddleware())

	api.POST("/calls", h.createCall)
	api.GET("/calls", h.listCalls)
	api.GET("/calls/:id", h.getCall)
	api.POST("/calls/:id/answer", h.answerCall)
	api.POST("/calls/:id/decline", h.endFunc(o.DeclineCall))
	api.POST("/calls/:id/cancel", h.endFunc(o.CancelCall))
	api.POST("/calls/:id/end", h.endFunc(o.EndCall))
	api.POST("/calls/:id/participants", h.addParticipant)
	api.DELETE("/calls/:id/participants/:uid", h.removeParticipant)
	api.POST("/calls/:id/keys/rotate", h.rotateKeys)
	api.GET("/calls/:id/encryption", h.encryptionStats)
	api.GET("/calls/:id/security", h.securityInfo)
	api.POST("/calls/:id/encryption/verify", h.verifyEncryption)
	api.GET("/turn", h.turnCredentials)
	if keys != nil {
		api.PUT("/keyagreement/:peer", h.putSecret)
	}
	if hub != nil {
		api.GET("/ws/signal", h.wsSignal)
	}

	log.Info().Str("module", "adapters.http").Bool("keyagreement", keys != nil).Msg("router setup")
	return r
}

func (h *Handlers) pruneLimiter(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.limiter.Prune()
		}
	}
}
