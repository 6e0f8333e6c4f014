package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/auth"
	"voip-callkit/internal/callkit"
	"voip-callkit/internal/calls"
	"voip-callkit/internal/callui"
	"voip-callkit/internal/config"
	"voip-callkit/internal/metastore"

	"github.com/gin-gonic/gin"
)

// stubPresenter answers every request with err, or never when hang is set.
type stubPresenter struct {
	callui.NopPresenter
	err  error
	hang bool
}

func (p *stubPresenter) ReportIncomingCall(_ context.Context, _ callui.IncomingCall, done callui.Completion) {
	if p.hang {
		return
	}
	if done != nil {
		done(p.err)
	}
}

type harness struct {
	router *gin.Engine
	calls  *callkit.Controller
	events *audit.MemoryRepo
	auth   *auth.Manager
}

func newHarness(t *testing.T, p callui.Presenter) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := audit.NewMemoryRepo()
	ctrl, err := callkit.New(callkit.Options{
		Store:     metastore.NewMemoryStore(),
		Presenter: p,
		Audit:     audit.NewService(repo),
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	h := Handlers{Calls: ctrl, Audit: audit.NewService(repo), Auth: m, PresentTimeout: 200 * time.Millisecond}
	r := gin.New()
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/push/token", h.DeliverToken)
	r.POST("/push/incoming", h.ReportIncomingCall)
	r.POST("/callui/actions", h.HandleAction)
	r.POST("/calls/:session_id/accept", h.AnswerCall)
	r.POST("/calls/:session_id/end", h.EndCall)
	r.POST("/calls/:session_id/mute", h.SetMute)
	r.GET("/calls/:session_id/state", h.GetCallState)
	r.PUT("/calls/:session_id/state", h.SetCallState)
	r.GET("/calls/:session_id", h.GetCallData)
	r.DELETE("/calls/:session_id", h.ClearCallData)
	r.GET("/calls/:session_id/history", h.CallHistory)
	r.GET("/last-call", h.LastCallID)
	r.GET("/voip-token", h.VoIPToken)
	r.PUT("/config", h.UpdateConfig)
	r.GET("/capabilities", h.Capabilities)

	return &harness{router: r, calls: ctrl, events: repo, auth: m}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

const (
	incomingBody = `{"session_id":"abc","call_type":1,"caller_id":42,"caller_name":"Alice","call_opponents":"7, 9"}`
	audioBody    = `{"session_id":"abc","call_type":"audio","caller_id":42,"caller_name":"Alice","call_opponents":""}`
)

func TestReportIncomingCall(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())

	w := h.do(t, http.MethodPost, "/push/incoming", incomingBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	s := decode[calls.CallSession](t, w)
	if s.ID != "abc" || s.CallType != calls.CallTypeVideo || s.State != calls.CallStatePending {
		t.Fatalf("unexpected session %+v", s)
	}
	if len(s.OpponentIDs) != 2 || s.OpponentIDs[0] != 7 || s.OpponentIDs[1] != 9 {
		t.Fatalf("unexpected opponents %v", s.OpponentIDs)
	}

	w = h.do(t, http.MethodGet, "/last-call", "")
	if w.Code != http.StatusOK || decode[map[string]string](t, w)["session_id"] != "abc" {
		t.Fatalf("unexpected last call %d %s", w.Code, w.Body.String())
	}
}

func TestReportIncomingCall_BadPayload(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())

	cases := []string{
		`{"session_id":"abc","call_type":"fax","caller_id":1,"caller_name":"A","call_opponents":""}`,
		`{"session_id":"","call_type":"audio","caller_id":1,"caller_name":"A","call_opponents":""}`,
		`{"session_id":"abc","call_type":"audio","caller_id":1,"caller_name":"A","call_opponents":"1,x"}`,
		`{"session_id":"abc","call_type":"audio"}`,
		`{"session_id":"abc","call_type":"audio","caller_name":"A","call_opponents":"2"}`,
		`{"session_id":"abc","call_type":"audio","caller_id":1,"call_opponents":"2"}`,
		`{"session_id":"abc","call_type":"audio","caller_id":1,"caller_name":"A"}`,
		`{"session_id":"abc","call_type":"audio","caller_id":null,"caller_name":"A","call_opponents":"2"}`,
		`not json`,
	}
	for _, body := range cases {
		if w := h.do(t, http.MethodPost, "/push/incoming", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, w.Code)
		}
	}
	if got := h.calls.GetCallState(context.Background(), "abc"); got != calls.CallStateUnknown {
		t.Fatalf("nothing should be stored, got %s", got)
	}
}

func TestReportIncomingCall_PresentationFailure(t *testing.T) {
	h := newHarness(t, &stubPresenter{err: errors.New("denied")})

	w := h.do(t, http.MethodPost, "/push/incoming", audioBody)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if got := h.calls.GetCallState(context.Background(), "abc"); got != calls.CallStatePending {
		t.Fatalf("session should stay pending, got %s", got)
	}
}

func TestReportIncomingCall_SlowCallUI(t *testing.T) {
	h := newHarness(t, &stubPresenter{hang: true})

	w := h.do(t, http.MethodPost, "/push/incoming", audioBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestAppCommands(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())
	h.do(t, http.MethodPost, "/push/incoming", incomingBody)

	w := h.do(t, http.MethodPost, "/calls/abc/accept", "")
	if w.Code != http.StatusOK || decode[calls.CallSession](t, w).State != calls.CallStateAccepted {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}

	w = h.do(t, http.MethodPost, "/calls/abc/mute", `{"muted":true}`)
	if w.Code != http.StatusOK || !decode[calls.CallSession](t, w).Muted {
		t.Fatalf("mute: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodPost, "/calls/abc/mute", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("mute without flag: expected 400, got %d", w.Code)
	}

	if w := h.do(t, http.MethodPut, "/calls/abc/state", `{"call_state":"on_hold"}`); w.Code != http.StatusNoContent {
		t.Fatalf("set state: %d", w.Code)
	}
	st := decode[map[string]string](t, h.do(t, http.MethodGet, "/calls/abc/state", ""))
	if st["state"] != string(calls.CallStateAccepted) || st["call_state"] != "on_hold" {
		t.Fatalf("unexpected state %+v", st)
	}

	w = h.do(t, http.MethodPost, "/calls/abc/end", `{"reason":"ended_by_user"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}
	s := decode[calls.CallSession](t, w)
	if s.State != calls.CallStateEnded || s.EndedReason != calls.EndedByUser {
		t.Fatalf("unexpected ended session %+v", s)
	}

	hist := decode[struct {
		Events []audit.Event `json:"events"`
	}](t, h.do(t, http.MethodGet, "/calls/abc/history", ""))
	if len(hist.Events) < 4 {
		t.Fatalf("expected history entries, got %+v", hist.Events)
	}

	if w := h.do(t, http.MethodDelete, "/calls/abc", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/calls/abc", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after clear: expected 404, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/last-call", ""); w.Code != http.StatusNotFound {
		t.Fatalf("pointer should be cleared, got %d", w.Code)
	}
}

func TestEndWithoutBodyUsesDefaultReason(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())
	h.do(t, http.MethodPost, "/push/incoming", incomingBody)

	w := h.do(t, http.MethodPost, "/calls/abc/end", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}
	if s := decode[calls.CallSession](t, w); s.EndedReason != calls.DefaultEndedReason {
		t.Fatalf("expected default reason, got %q", s.EndedReason)
	}
	if w := h.do(t, http.MethodPost, "/calls/abc/end", `{"reason":"bogus"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus reason: expected 400, got %d", w.Code)
	}
}

func TestUnknownCall(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())

	for _, path := range []string{"/calls/nope/accept", "/calls/nope/end"} {
		if w := h.do(t, http.MethodPost, path, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
	if w := h.do(t, http.MethodDelete, "/calls/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("clear: expected 404, got %d", w.Code)
	}
	w := h.do(t, http.MethodGet, "/calls/nope/state", "")
	if w.Code != http.StatusOK || decode[map[string]string](t, w)["state"] != string(calls.CallStateUnknown) {
		t.Fatalf("state of unknown call: %d %s", w.Code, w.Body.String())
	}
}

func TestCallUIActions(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())
	h.do(t, http.MethodPost, "/push/incoming", incomingBody)

	var got []calls.Event
	_ = h.calls.Subscribe(func(ev calls.Event) { got = append(got, ev) }, nil)

	if w := h.do(t, http.MethodPost, "/callui/actions", `{"event":"accept","session_id":"abc"}`); w.Code != http.StatusNoContent {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodPost, "/callui/actions", `{"event":"hold","session_id":"abc","args":{"on":true}}`); w.Code != http.StatusNoContent {
		t.Fatalf("custom: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodPost, "/callui/actions", `{"event":"mute","session_id":"abc","args":{"muted":"yes"}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mute args: expected 400, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/callui/actions", `{"event":"end","session_id":"nope"}`); w.Code != http.StatusNotFound {
		t.Fatalf("end unknown: expected 404, got %d", w.Code)
	}

	if len(got) != 2 || got[0].Action != calls.ActionAccept || got[1].Action != calls.ActionCustom || got[1].Name != "hold" {
		t.Fatalf("unexpected delivered events %+v", got)
	}
}

func TestTokenAndConfig(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())

	if w := h.do(t, http.MethodGet, "/voip-token", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any token, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/push/token", `{"token":"  "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("blank token: expected 400, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/push/token", `{"token":"tok-1"}`); w.Code != http.StatusNoContent {
		t.Fatalf("token: %d", w.Code)
	}
	if tok := decode[map[string]string](t, h.do(t, http.MethodGet, "/voip-token", ""))["token"]; tok != "tok-1" {
		t.Fatalf("unexpected token %q", tok)
	}

	cfg := decode[callui.DisplayConfig](t, h.do(t, http.MethodPut, "/config", `{"ringtone":"bell.caf"}`))
	if cfg.Ringtone != "bell.caf" || cfg.Icon != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	cfg = decode[callui.DisplayConfig](t, h.do(t, http.MethodPut, "/config", `{"icon":"logo"}`))
	if cfg.Ringtone != "bell.caf" || cfg.Icon != "logo" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	caps := decode[map[string]bool](t, h.do(t, http.MethodGet, "/capabilities", ""))
	if !caps["can_use_full_screen_intent"] {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())
	pair, err := h.auth.IssuePair(time.Now(), "phone-1", "app")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := h.do(t, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+pair.RefreshToken+`"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("refresh: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+pair.AccessToken+`"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token refresh: expected 401, got %d", w.Code)
	}
}

func TestClosedControllerIsUnavailable(t *testing.T) {
	h := newHarness(t, callui.NewNopPresenter())
	_ = h.calls.Close()
	if w := h.do(t, http.MethodPost, "/push/incoming", incomingBody); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
