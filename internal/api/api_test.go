package api_test

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrunesLand/pingwheel-server/internal/api"
	"github.com/PrunesLand/pingwheel-server/internal/ping"
	"github.com/PrunesLand/pingwheel-server/internal/settings"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (s *fakeSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

type fixture struct {
	settings *settings.Settings
	tracker  *ping.Tracker
	sender   *fakeSender
	hub      *api.Hub
	handler  http.Handler
}

func newFixture() fixture {
	s := settings.New()
	tr := ping.NewTracker(s, ping.Vec3{})
	sender := &fakeSender{}
	hub := api.NewHub()
	srv := api.New(s, tr, sender, hub)
	srv.Username = "Steve"
	return fixture{
		settings: s,
		tracker:  tr,
		sender:   sender,
		hub:      hub,
		handler:  srv.Handler(),
	}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestSettingsEndpoint(t *testing.T) {
	t.Run("should return defaults", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodGet, "/api/settings", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{
			"pingVolume": 100,
			"pingDistance": 150,
			"itemIconVisible": true,
			"pingDuration": 7,
			"pingMaxCount": 8,
			"channel": ""
		}`, rec.Body.String())
	})
	t.Run("should update only given fields", func(t *testing.T) {
		// given
		f := newFixture()
		// when
		rec := f.do(http.MethodPost, "/api/settings", `{"channel": "guild", "pingVolume": 0}`)
		// then
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "guild", f.settings.GetChannel())
		assert.Equal(t, 0, f.settings.GetPingVolume())
		assert.Equal(t, 150, f.settings.GetPingDistance())
		var resp struct {
			Status   string         `json:"status"`
			Settings map[string]any `json:"settings"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "guild", resp.Settings["channel"])
		assert.EqualValues(t, 0, resp.Settings["pingVolume"])
	})
	t.Run("should accept any value", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/settings", `{"pingDuration": -1, "pingMaxCount": -2, "itemIconVisible": false}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, -1, f.settings.GetPingDuration())
		assert.Equal(t, -2, f.settings.GetPingMaxCount())
		assert.False(t, f.settings.IsItemIconVisible())
	})
	t.Run("should reject invalid body", func(t *testing.T) {
		cases := []struct {
			name, body string
		}{
			{"no json", "volume"},
			{"unknown field", `{"volume": 5}`},
			{"wrong type", `{"pingVolume": "loud"}`},
			{"trailing data", `{"pingVolume": 1} junk`},
			{"second value", `{"pingVolume": 1} {}`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				f := newFixture()
				rec := f.do(http.MethodPost, "/api/settings", tc.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, settings.Default(), f.settings.Snapshot())
			})
		}
	})
	t.Run("should reject other methods", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodDelete, "/api/settings", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestPingsEndpoint(t *testing.T) {
	t.Run("should list active pings", func(t *testing.T) {
		// given
		f := newFixture()
		f.tracker.Receive(ping.Packet{Pos: ping.Vec3{X: 3, Z: 4}, Username: "Alex"})
		// when
		rec := f.do(http.MethodGet, "/api/pings", "")
		// then
		assert.Equal(t, http.StatusOK, rec.Code)
		var views []ping.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 1)
		assert.Equal(t, "Alex", views[0].Username)
		assert.Equal(t, "5.0m", views[0].Label)
	})
	t.Run("should keep listing after frame with invalid position", func(t *testing.T) {
		// given
		f := newFixture()
		f.settings.SetPingDistance(ping.UnlimitedDistance)
		_, ok := f.tracker.Receive(ping.Packet{Pos: ping.Vec3{X: 1}, Username: "Alex"})
		require.True(t, ok)
		for _, pos := range []ping.Vec3{{X: math.NaN()}, {Y: math.Inf(1)}} {
			data, err := ping.Packet{Pos: pos, Username: "Eve"}.MarshalBinary()
			require.NoError(t, err)
			_, err = ping.Decode(data)
			assert.ErrorIs(t, err, ping.ErrInvalidPosition)
			_, ok := f.tracker.Receive(ping.Packet{Pos: pos, Username: "Eve"})
			assert.False(t, ok)
		}
		// when
		rec := f.do(http.MethodGet, "/api/pings", "")
		// then
		assert.Equal(t, http.StatusOK, rec.Code)
		var views []ping.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 1)
		assert.Equal(t, "Alex", views[0].Username)
	})
	t.Run("should return empty list", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodGet, "/api/pings", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
	t.Run("should send marked ping on current channel", func(t *testing.T) {
		// given
		f := newFixture()
		f.settings.SetChannel("guild")
		// when
		rec := f.do(http.MethodPost, "/api/pings", `{"x": 10, "y": 64, "z": -5, "entity": "6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`)
		// then
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, f.sender.sent, 1)
		pkt, err := ping.Decode(f.sender.sent[0])
		require.NoError(t, err)
		assert.Equal(t, "guild", pkt.Channel)
		assert.Equal(t, "Steve", pkt.Username)
		assert.Equal(t, ping.Vec3{X: 10, Y: 64, Z: -5}, pkt.Pos)
		require.NotNil(t, pkt.Entity)
		assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", pkt.Entity.String())
	})
	t.Run("should reject target out of reach", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/pings", `{"x": 500, "y": 0, "z": 0}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Empty(t, f.sender.sent)
	})
	t.Run("should reject trailing data", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/pings", `{"x": 1, "y": 2, "z": 3} junk`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.sender.sent)
	})
	t.Run("should reject incomplete position", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/pings", `{"x": 1, "y": 2}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("should report send failure", func(t *testing.T) {
		f := newFixture()
		f.sender.err = errors.New("link down")
		rec := f.do(http.MethodPost, "/api/pings", `{"x": 1, "y": 2, "z": 3}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
	t.Run("should reject other methods", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPut, "/api/pings", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStream(t *testing.T) {
	t.Run("should push broadcasts to clients", func(t *testing.T) {
		// given
		f := newFixture()
		server := httptest.NewServer(f.handler)
		defer server.Close()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/pings/stream"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.Eventually(t, func() bool {
			return f.hub.Len() == 1
		}, time.Second, 10*time.Millisecond)
		// when
		p, ok := f.tracker.Receive(ping.Packet{Username: "Alex"})
		require.True(t, ok)
		f.hub.Broadcast(f.tracker.View(p))
		// then
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var got ping.View
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "Alex", got.Username)
	})
	t.Run("should unregister closed clients", func(t *testing.T) {
		f := newFixture()
		server := httptest.NewServer(f.handler)
		defer server.Close()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/pings/stream"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return f.hub.Len() == 1
		}, time.Second, 10*time.Millisecond)
		conn.Close()
		assert.Eventually(t, func() bool {
			return f.hub.Len() == 0
		}, time.Second, 10*time.Millisecond)
	})
	t.Run("should reject plain requests", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodGet, "/api/pings/stream", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
