package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/PrunesLand/pingwheel-server/internal/ping"
	"github.com/PrunesLand/pingwheel-server/internal/settings"
)

// Sender delivers encoded ping packets to other nodes.
type Sender interface {
	Send(payload []byte) error
}

// Server serves the settings and ping endpoints.
type Server struct {
	// Username is stamped on pings marked through the API.
	Username string

	settings *settings.Settings
	tracker  *ping.Tracker
	sender   Sender
	hub      *Hub
}

// New creates a Server which sends marked pings through sender and streams them to hub.
func New(s *settings.Settings, t *ping.Tracker, sender Sender, hub *Hub) *Server {
	return &Server{
		Username: "server",
		settings: s,
		tracker:  t,
		sender:   sender,
		hub:      hub,
	}
}

// Handler returns the HTTP handler for all API routes.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// GET/POST /api/settings
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			srv.handleGetSettings(w, r)
		case http.MethodPost:
			srv.handleSetSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET/POST /api/pings
	mux.HandleFunc("/api/pings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			srv.handleListPings(w, r)
		case http.MethodPost:
			srv.handleMarkPing(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET /api/pings/stream
	mux.HandleFunc("/api/pings/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		srv.hub.ServeWS(w, r)
	})
	return mux
}

// StartServer serves h on addr until ctx is canceled.
func StartServer(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown", "error", err)
		}
	}()
	slog.Info("API server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// settingsBody is the JSON form of the settings.
// Nil fields are left unchanged on updates.
type settingsBody struct {
	PingVolume      *int    `json:"pingVolume,omitempty"`
	PingDistance    *int    `json:"pingDistance,omitempty"`
	ItemIconVisible *bool   `json:"itemIconVisible,omitempty"`
	PingDuration    *int    `json:"pingDuration,omitempty"`
	PingMaxCount    *int    `json:"pingMaxCount,omitempty"`
	Channel         *string `json:"channel,omitempty"`
}

func newSettingsBody(c settings.Config) settingsBody {
	return settingsBody{
		PingVolume:      ptr(c.PingVolume()),
		PingDistance:    ptr(c.PingDistance()),
		ItemIconVisible: ptr(c.ItemIconVisible()),
		PingDuration:    ptr(c.PingDuration()),
		PingMaxCount:    ptr(c.PingMaxCount()),
		Channel:         ptr(c.Channel()),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func (b settingsBody) apply(c settings.Config) settings.Config {
	if b.PingVolume != nil {
		c = c.WithPingVolume(*b.PingVolume)
	}
	if b.PingDistance != nil {
		c = c.WithPingDistance(*b.PingDistance)
	}
	if b.ItemIconVisible != nil {
		c = c.WithItemIconVisible(*b.ItemIconVisible)
	}
	if b.PingDuration != nil {
		c = c.WithPingDuration(*b.PingDuration)
	}
	if b.PingMaxCount != nil {
		c = c.WithPingMaxCount(*b.PingMaxCount)
	}
	if b.Channel != nil {
		c = c.WithChannel(*b.Channel)
	}
	return c
}

func (srv *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSettingsBody(srv.settings.Snapshot()))
}

func (srv *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := decodeJSON(r.Body, &body, true); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg := srv.settings.Update(body.apply)
	slog.Info("Settings updated", "settings", cfg)

	response := map[string]any{
		"status":   "success",
		"settings": newSettingsBody(cfg),
	}
	writeJSON(w, http.StatusOK, response)
}

func (srv *Server) handleListPings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.tracker.Active())
}

func (srv *Server) handleMarkPing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		X      *float64   `json:"x"`
		Y      *float64   `json:"y"`
		Z      *float64   `json:"z"`
		Entity *uuid.UUID `json:"entity"`
	}
	if err := decodeJSON(r.Body, &body, false); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.X == nil || body.Y == nil || body.Z == nil {
		http.Error(w, "Position requires x, y and z", http.StatusBadRequest)
		return
	}

	pos := ping.Vec3{X: *body.X, Y: *body.Y, Z: *body.Z}
	pkt, err := srv.tracker.Mark(pos, srv.Username, body.Entity)
	if errors.Is(err, ping.ErrOutOfReach) {
		http.Error(w, "Target out of reach", http.StatusUnprocessableEntity)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := pkt.MarshalBinary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := srv.sender.Send(payload); err != nil {
		slog.Error("Failed to send ping", "error", err)
		http.Error(w, "Failed to send ping", http.StatusBadGateway)
		return
	}
	slog.Info("Ping sent", "channel", pkt.Channel, "pos", pkt.Pos)

	response := map[string]any{
		"status":  "success",
		"channel": pkt.Channel,
		"pos":     pkt.Pos,
	}
	writeJSON(w, http.StatusAccepted, response)
}

// decodeJSON decodes exactly one JSON value from body into v.
func decodeJSON(body io.Reader, v any, disallowUnknownFields bool) error {
	dec := json.NewDecoder(body)
	if disallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
