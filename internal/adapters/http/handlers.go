package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/adapters/keyagree"
	"github.com/dkeye/securecall/internal/adapters/signal"
	"github.com/dkeye/securecall/internal/app/orch"
	"github.com/dkeye/securecall/internal/domain"
)

const defaultHistoryLimit = 20

type Handlers struct {
	ctx     context.Context
	orch    *orch.Orchestrator
	hub     *signal.Hub
	keys    *keyagree.Memory
	limiter *CallRateLimiter
}

type createCallRequest struct {
	CalleeIDs []domain.UserID `json:"callee_ids"`
	CallType  string          `json:"call_type"`
}

type participantRequest struct {
	UserID domain.UserID `json:"user_id"`
}

type rotateRequest struct {
	Secrets map[domain.UserID][]byte `json:"secrets"`
}

type secretRequest struct {
	Secret []byte `json:"secret"`
}

func callID(c *gin.Context) domain.CallID { return domain.CallID(c.Param("id")) }

func (h *Handlers) createCall(c *gin.Context) {
	id := identity(c)
	if !h.limiter.Allow(id.User) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RATE_LIMITED", "message": "too many calls, try again later"})
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	ct, err := domain.ParseCallType(req.CallType)
	if err != nil {
		respondError(c, err)
		return
	}
	desc, err := h.orch.CreateCall(c.Request.Context(), id, req.CalleeIDs, ct)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, desc)
}

func (h *Handlers) listCalls(c *gin.Context) {
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	calls, err := h.orch.History(c.Request.Context(), identity(c).User, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *Handlers) getCall(c *gin.Context) {
	rec, err := h.orch.GetCall(c.Request.Context(), callID(c), identity(c).User)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) answerCall(c *gin.Context) {
	res, err := h.orch.AnswerCall(c.Request.Context(), callID(c), identity(c))
	if errors.Is(err, domain.ErrCallEnded) && res != nil {
		c.JSON(http.StatusGone, gin.H{"error": "CALL_ENDED", "message": err.Error(), "call": res.Call})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) endFunc(fn func(context.Context, domain.CallID, domain.UserID) (*orch.EndResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := fn(c.Request.Context(), callID(c), identity(c).User)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handlers) addParticipant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		badRequest(c, "user_id required")
		return
	}
	res, err := h.orch.AddParticipant(c.Request.Context(), callID(c), identity(c).User, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) removeParticipant(c *gin.Context) {
	res, err := h.orch.RemoveParticipant(c.Request.Context(), callID(c), identity(c).User, domain.UserID(c.Param("uid")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) rotateKeys(c *gin.Context) {
	var req rotateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body")
			return
		}
	}
	res, err := h.orch.RotateKeys(c.Request.Context(), callID(c), identity(c).User, req.Secrets)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) encryptionStats(c *gin.Context) {
	res, err := h.orch.EncryptionStats(c.Request.Context(), callID(c), identity(c).User)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) securityInfo(c *gin.Context) {
	res, err := h.orch.SecurityInfo(c.Request.Context(), callID(c), identity(c).User)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) verifyEncryption(c *gin.Context) {
	res, err := h.orch.VerifyEncryption(c.Request.Context(), callID(c), identity(c).User)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) turnCredentials(c *gin.Context) {
	id := identity(c)
	cred, err := h.orch.Issuer.Issue(id.User, id.Device, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"username":    cred.Username,
		"password":    cred.Password,
		"ttl":         cred.TTLSecs,
		"uris":        cred.URIs,
		"expires_at":  cred.Expires,
		"ice_servers": h.orch.ICEServers(id),
	})
}

func (h *Handlers) putSecret(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Secret) == 0 {
		badRequest(c, "secret required")
		return
	}
	peer := domain.UserID(c.Param("peer"))
	h.keys.Put(identity(c).User, peer, req.Secret)
	clear(req.Secret)
	log.Debug().Str("module", "adapters.http").Str("user", string(identity(c).User)).Str("peer", string(peer)).Msg("session secret stored")
	c.Status(http.StatusNoContent)
}

func (h *Handlers) wsSignal(c *gin.Context) {
	id := identity(c)
	log.Info().Str("module", "adapters.http").Str("user", string(id.User)).Msg("ws signal endpoint hit")
	h.hub.HandleSignal(h.ctx, c.Writer, c.Request, id)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.orch.Registry.Len(),
		"pending_calls":   h.orch.PendingTimers(),
	})
}
