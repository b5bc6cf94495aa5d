package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcquic"
	"github.com/gorilla/websocket"
)

// linkJSON is the JSON form of a [gpchost.LinkChange].
type linkJSON struct {
	Kind   string             `json:"kind"`
	Addr   uint16             `json:"addr"`
	NetIdx uint8              `json:"net_idx"`
	Conn   gpchost.ConnHandle `json:"conn,omitempty"`
}

func toLinkJSON(lc gpchost.LinkChange) linkJSON {
	return linkJSON{
		Kind:   lc.Kind.String(),
		Addr:   lc.Addr,
		NetIdx: lc.NetIdx,
		Conn:   lc.Conn,
	}
}

type api struct {
	log *slog.Logger

	srv *gpc.Server
	ep  *gpcquic.Endpoint

	upgrader websocket.Upgrader
}

func newRouter(log *slog.Logger, srv *gpc.Server, ep *gpcquic.Endpoint) http.Handler {
	a := &api{
		log: log,
		srv: srv,
		ep:  ep,

		// Debug endpoint; no browser origin restrictions.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(5*time.Second)).Get("/connections", a.getConnections)
		r.Get("/links", a.getLinks)
		r.Get("/peers", a.getPeers)
		r.Get("/events", a.streamLinkEvents)
	})

	return r
}

func (a *api) getConnections(w http.ResponseWriter, r *http.Request) {
	snap, err := a.srv.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) getLinks(w http.ResponseWriter, _ *http.Request) {
	links := a.ep.Linker().Links()
	out := make([]linkJSON, len(links))
	for i, lc := range links {
		out[i] = toLinkJSON(lc)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getPeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ep.Bearer().Peers())
}

// streamLinkEvents writes every later link change to a websocket
// until either side goes away.
func (a *api) streamLinkEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before upgrading so the client sees every change after its request.
	s := a.ep.Linker().Changes()

	c, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing; reading detects when it closes.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		lc, next, err := s.Await(ctx)
		if err != nil {
			return
		}
		s = next

		if err := c.WriteJSON(toLinkJSON(lc)); err != nil {
			a.log.Debug("Websocket write failed", "err", err)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
