package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"

	"github.com/gorilla/websocket"
	"github.com/starfederation/datastar-go/datastar"
	"golang.org/x/time/rate"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header and browser requests
// whose origin host, port included, is the host they were sent to.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, strings.TrimSpace(r.Host))
}

const (
	relayWriteWait = 10 * time.Second
	relayMaxFrame  = 1 << 20
	sseKeepAlive   = 25 * time.Second
)

// handleRelayWS joins the connection to the survey's relay hub. Frames from
// this connection go to every other tab on the survey and never come back.
func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	// Join the hub before the handshake completes so a tab never misses
	// changes published right after it connected.
	ch, err := s.relay.Open(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer ch.Close()
	sub, unsubscribe := ch.Subscribe()
	defer unsubscribe()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("web: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(relayMaxFrame)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readOnly := false
	if c, ok := claimsFrom(r.Context()); ok && c.Scope != ScopeEdit {
		readOnly = true
	}

	tabs := s.metrics.tabs.WithLabelValues("ws")
	tabs.Inc()
	defer tabs.Dec()
	s.log.Info("web: tab joined", "survey", id, "transport", "ws", "remote", r.RemoteAddr)
	defer s.log.Info("web: tab left", "survey", id, "transport", "ws", "remote", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		// Unblocks the reader when the writer fails first.
		defer conn.Close()
		s.pumpRelayToWS(ctx, sub, conn)
	}()

	s.pumpWSToRelay(ctx, conn, ch, id, readOnly)
	cancel()
	unsubscribe()
	wg.Wait()
}

func (s *Server) pumpRelayToWS(ctx context.Context, sub <-chan broadcast.Change, conn *websocket.Conn) {
	out := s.metrics.relayMessages.WithLabelValues("out")
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
			out.Inc()
		}
	}
}

func (s *Server) pumpWSToRelay(ctx context.Context, conn *websocket.Conn, ch broadcast.Channel, surveyID model.ID, readOnly bool) {
	in := s.metrics.relayMessages.WithLabelValues("in")
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RelayRate), s.cfg.RelayBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("web: relay read stopped", "survey", surveyID, "err", err)
			}
			return
		}
		if readOnly {
			continue
		}
		var c broadcast.Change
		if err := json.Unmarshal(data, &c); err != nil {
			s.metrics.relayDropped.Inc()
			s.log.Debug("web: undecodable relay frame", "survey", surveyID, "err", err)
			continue
		}
		// Excess frames wait for the limiter; none are dropped.
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		c.SurveyID = surveyID
		if err := ch.Publish(ctx, c); err != nil {
			s.log.Warn("web: relay publish failed", "survey", surveyID, "err", err)
			return
		}
		in.Inc()
	}
}

// handleRelaySSE streams the survey's relayed changes as Datastar signal
// patches for tabs that only need to follow along.
func (s *Server) handleRelaySSE(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	sv, err := s.backend.GetSurvey(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ch, err := s.relay.Open(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer ch.Close()
	sub, unsubscribe := ch.Subscribe()
	defer unsubscribe()

	tabs := s.metrics.tabs.WithLabelValues("sse")
	tabs.Inc()
	defer tabs.Dec()

	sse := datastar.NewSSE(w, r)
	_ = sse.MarshalAndPatchSignals(map[string]any{
		"surveyId": sv.ID,
		"title":    sv.Title,
		"version":  sv.Version,
		"changes":  0,
	})

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	n := 0
	out := s.metrics.relayMessages.WithLabelValues("out")
	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case c, ok := <-sub:
			if !ok {
				return
			}
			n++
			if err := sse.MarshalAndPatchSignals(map[string]any{"lastChange": c, "changes": n}); err != nil {
				return
			}
			out.Inc()
		}
	}
}
