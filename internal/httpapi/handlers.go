package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/auth"
	"voip-callkit/internal/callkit"
	"voip-callkit/internal/calls"
	"voip-callkit/internal/callui"

	"github.com/gin-gonic/gin"
)

const defaultPresentTimeout = 10 * time.Second

// errStillPresenting means the call-UI did not answer within the wait window.
// The session change is already committed.
var errStillPresenting = errors.New("call-ui has not answered yet")

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the controller, return JSON.
type Handlers struct {
	Calls *callkit.Controller
	Audit *audit.Service
	Auth  *auth.Manager

	// PresentTimeout bounds how long a request waits for the call-UI outcome.
	PresentTimeout time.Duration
}

// await starts a call-UI backed operation and waits for its completion.
func (h Handlers) await(ctx context.Context, start func(done callui.Completion) error) error {
	ch := make(chan error, 1)
	err := start(func(err error) {
		select {
		case ch <- err:
		default:
		}
	})
	if err != nil {
		return err
	}

	timeout := h.PresentTimeout
	if timeout <= 0 {
		timeout = defaultPresentTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-ch:
		return err
	case <-t.C:
		return errStillPresenting
	case <-ctx.Done():
		return ctx.Err()
	}
}

// respondAwaited writes the session after a call-UI backed operation.
func (h Handlers) respondAwaited(c *gin.Context, id string, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, errStillPresenting):
		status = http.StatusAccepted
	default:
		abortWithError(c, err)
		return
	}
	s, ok := h.Calls.GetCallData(c.Request.Context(), id)
	if !ok {
		c.Status(status)
		return
	}
	c.JSON(status, s)
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh trades a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Push relay ---

type pushTokenRequest struct {
	Token string `json:"token"`
}

func (h Handlers) DeliverToken(c *gin.Context) {
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Calls.DeliverToken(c.Request.Context(), req.Token); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// incomingCallRequest is the push payload of a call invitation. call_type may
// be a name or a numeric code; call_opponents is a comma-separated id list.
// Every field except user_info is required; an empty string still counts as present.
type incomingCallRequest struct {
	SessionID     string          `json:"session_id"`
	CallType      json.RawMessage `json:"call_type"`
	CallerID      *int64          `json:"caller_id"`
	CallerName    *string         `json:"caller_name"`
	CallOpponents *string         `json:"call_opponents"`
	UserInfo      string          `json:"user_info"`
}

func (r incomingCallRequest) toRequest() (callkit.IncomingCallRequest, error) {
	var missing []string
	if r.CallerID == nil {
		missing = append(missing, "caller_id")
	}
	if r.CallerName == nil {
		missing = append(missing, "caller_name")
	}
	if r.CallOpponents == nil {
		missing = append(missing, "call_opponents")
	}
	if len(missing) > 0 {
		return callkit.IncomingCallRequest{}, fmt.Errorf("%w: %s required", calls.ErrInvalidArgument, strings.Join(missing, ", "))
	}

	ct, err := calls.ParseCallType(strings.Trim(string(r.CallType), `"`))
	if err != nil {
		return callkit.IncomingCallRequest{}, err
	}
	opponents, err := calls.ParseOpponents(*r.CallOpponents)
	if err != nil {
		return callkit.IncomingCallRequest{}, err
	}
	return callkit.IncomingCallRequest{
		CallID:     r.SessionID,
		CallType:   ct,
		CallerID:   *r.CallerID,
		CallerName: *r.CallerName,
		Opponents:  opponents,
		UserInfo:   r.UserInfo,
	}, nil
}

// ReportIncomingCall registers the call and waits for the call-UI to present it.
// 202 means the session is stored but the call-UI has not answered in time.
func (h Handlers) ReportIncomingCall(c *gin.Context) {
	var body incomingCallRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, err := body.toRequest()
	if err != nil {
		abortWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	err = h.await(ctx, func(done callui.Completion) error {
		return h.Calls.ReportIncomingCall(ctx, req, done)
	})
	h.respondAwaited(c, calls.NormalizeID(req.CallID), err)
}

// --- OS call-UI ---

type callUIActionRequest struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Args      map[string]any `json:"args"`
}

// HandleAction applies an action raised on the OS call screen. Names outside
// the built-in set are forwarded as custom events.
func (h Handlers) HandleAction(c *gin.Context) {
	var req callUIActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var ev calls.Event
	action, err := calls.ParseAction(req.Event)
	switch {
	case err == nil:
		ev = calls.Event{Action: action, CallID: req.SessionID, Args: req.Args}
	case calls.IsUnknownAction(err):
		ev = calls.NewCustomEvent(strings.TrimSpace(req.Event), req.SessionID, req.Args)
	default:
		abortWithError(c, err)
		return
	}
	if err := h.Calls.HandleAction(c.Request.Context(), ev); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Application ---

func (h Handlers) AnswerCall(c *gin.Context) {
	id := c.Param("session_id")
	ctx := c.Request.Context()
	err := h.await(ctx, func(done callui.Completion) error {
		return h.Calls.AnswerCall(ctx, id, done)
	})
	h.respondAwaited(c, calls.NormalizeID(id), err)
}

type endCallRequest struct {
	Reason string `json:"reason"`
}

// EndCall ends the call. Without a reason the default end reason is recorded.
func (h Handlers) EndCall(c *gin.Context) {
	id := c.Param("session_id")
	var req endCallRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	var reason calls.EndedReason
	if strings.TrimSpace(req.Reason) != "" {
		r, err := calls.ParseEndedReason(req.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		reason = r
	}

	ctx := c.Request.Context()
	err := h.await(ctx, func(done callui.Completion) error {
		if reason == "" {
			return h.Calls.End(ctx, id, done)
		}
		return h.Calls.ReportCallEnded(ctx, id, reason, done)
	})
	h.respondAwaited(c, calls.NormalizeID(id), err)
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (h Handlers) SetMute(c *gin.Context) {
	id := c.Param("session_id")
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "muted required"})
		return
	}
	ctx := c.Request.Context()
	err := h.await(ctx, func(done callui.Completion) error {
		return h.Calls.SetMute(ctx, id, *req.Muted, done)
	})
	h.respondAwaited(c, calls.NormalizeID(id), err)
}

// GetCallState always answers 200; unknown ids report "unknown".
func (h Handlers) GetCallState(c *gin.Context) {
	id := calls.NormalizeID(c.Param("session_id"))
	state := h.Calls.GetCallState(c.Request.Context(), id)
	resp := gin.H{"session_id": id, "state": state}
	if s, ok := h.Calls.GetCallData(c.Request.Context(), id); ok && s.AppState != "" {
		resp["call_state"] = s.AppState
	}
	c.JSON(http.StatusOK, resp)
}

type setCallStateRequest struct {
	CallState string `json:"call_state"`
}

func (h Handlers) SetCallState(c *gin.Context) {
	var req setCallStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := c.Param("session_id")
	if err := h.Calls.SetCallState(c.Request.Context(), id, req.CallState); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetCallData(c *gin.Context) {
	id := c.Param("session_id")
	s, ok := h.Calls.GetCallData(c.Request.Context(), id)
	if !ok {
		abortWithError(c, fmt.Errorf("%w: %s", calls.ErrNotFound, calls.NormalizeID(id)))
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ClearCallData(c *gin.Context) {
	if err := h.Calls.ClearCallData(c.Request.Context(), c.Param("session_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CallHistory lists the audit trail of one call.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "call history not configured"})
		return
	}
	id := calls.NormalizeID(c.Param("session_id"))
	events, err := h.Audit.History(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "events": events})
}

func (h Handlers) LastCallID(c *gin.Context) {
	id, ok := h.Calls.LastCallID(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no call reported"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (h Handlers) VoIPToken(c *gin.Context) {
	tok, ok := h.Calls.VoIPToken(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no voip token yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

func (h Handlers) UpdateConfig(c *gin.Context) {
	var req callui.DisplayConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	c.JSON(http.StatusOK, h.Calls.UpdateConfig(req))
}

func (h Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calls.DisplayConfig())
}

// Capabilities answers the full-screen intent probes; the server side has no
// permission to request, so both are always granted.
func (h Handlers) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"can_use_full_screen_intent":      true,
		"full_screen_intent_access_given": true,
	})
}
