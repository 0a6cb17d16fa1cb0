package ping

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/PrunesLand/pingwheel-server/internal/settings"
)

const (
	// TPS is the game tick rate. The tracker prunes once per tick.
	TPS = 20
	// ReachDistance is the farthest a ping can be placed.
	ReachDistance = 1024.0
	// UnlimitedDistance disables distance filtering when the ping distance reaches it.
	UnlimitedDistance = 2048
)

// ErrOutOfReach is returned by Mark for targets beyond the reach.
var ErrOutOfReach = errors.New("target out of reach")

// Ping is an active ping.
type Ping struct {
	Packet
	SpawnedAt time.Time
}

// View is a ping as presented to clients.
type View struct {
	Channel  string     `json:"channel"`
	Pos      Vec3       `json:"pos"`
	Username string     `json:"username"`
	Entity   *uuid.UUID `json:"entity,omitempty"`
	Age      float64    `json:"age"`
	Distance float64    `json:"distance"`
	Label    string     `json:"label"`
	Volume   float32    `json:"volume"`
	Icon     bool       `json:"icon"`
}

// Tracker keeps the active pings seen by an observer.
// The live settings are consulted on every call.
type Tracker struct {
	Observer Vec3

	settings *settings.Settings
	now      func() time.Time

	mu    sync.Mutex
	pings []Ping
}

// NewTracker returns a tracker for an observer at pos.
func NewTracker(s *settings.Settings, pos Vec3) *Tracker {
	t := &Tracker{
		Observer: pos,
		settings: s,
		now:      time.Now,
	}
	return t
}

// Receive stores an incoming ping when it passes the channel and distance filters.
// Pings at positions without a finite distance to the observer are ignored.
func (t *Tracker) Receive(pkt Packet) (Ping, bool) {
	d := t.Observer.DistanceTo(pkt.Pos)
	if !pkt.Pos.IsFinite() || math.IsNaN(d) || math.IsInf(d, 0) {
		slog.Warn("Ignoring ping with invalid position", "pos", pkt.Pos, "username", pkt.Username)
		return Ping{}, false
	}
	cfg := t.settings.Snapshot()
	if pkt.Channel != cfg.Channel() {
		slog.Debug("Ignoring ping from other channel", "channel", pkt.Channel, "username", pkt.Username)
		return Ping{}, false
	}
	if cfg.PingDistance() < UnlimitedDistance && d > float64(cfg.PingDistance()) {
		slog.Debug("Ignoring ping out of range", "distance", d, "username", pkt.Username)
		return Ping{}, false
	}
	now := t.now()
	p := Ping{Packet: pkt, SpawnedAt: now}
	t.mu.Lock()
	t.pings = append(t.pings, p)
	t.mu.Unlock()
	t.Prune(now)
	return p, true
}

// Prune removes pings exceeding the max count, keeping the youngest,
// and then all pings older than the ping duration.
func (t *Tracker) Prune(now time.Time) {
	cfg := t.settings.Snapshot()
	maxCount := max(cfg.PingMaxCount(), 0)
	lifetime := time.Duration(cfg.PingDuration()) * time.Second

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pings) > maxCount {
		slices.SortStableFunc(t.pings, func(a, b Ping) int {
			return b.SpawnedAt.Compare(a.SpawnedAt)
		})
		t.pings = t.pings[:maxCount]
	}
	t.pings = slices.DeleteFunc(t.pings, func(p Ping) bool {
		return now.Sub(p.SpawnedAt) > lifetime
	})
}

// Active returns views of all active pings, youngest first.
func (t *Tracker) Active() []View {
	cfg := t.settings.Snapshot()
	now := t.now()
	t.mu.Lock()
	pings := slices.Clone(t.pings)
	t.mu.Unlock()
	slices.SortStableFunc(pings, func(a, b Ping) int {
		return b.SpawnedAt.Compare(a.SpawnedAt)
	})
	views := make([]View, 0, len(pings))
	for _, p := range pings {
		views = append(views, t.view(cfg, p, now))
	}
	return views
}

// View returns how p is presented with the current settings.
func (t *Tracker) View(p Ping) View {
	return t.view(t.settings.Snapshot(), p, t.now())
}

func (t *Tracker) view(cfg settings.Config, p Ping, now time.Time) View {
	d := t.Observer.DistanceTo(p.Pos)
	return View{
		Channel:  p.Channel,
		Pos:      p.Pos,
		Username: p.Username,
		Entity:   p.Entity,
		Age:      now.Sub(p.SpawnedAt).Seconds(),
		Distance: d,
		Label:    humanize.FormatFloat("#,###.#", d) + "m",
		Volume:   float32(cfg.PingVolume()) / 100,
		Icon:     p.Entity != nil && cfg.ItemIconVisible(),
	}
}

// Mark creates an outgoing ping on the current channel.
// It returns ErrOutOfReach when the target is farther than the reach.
func (t *Tracker) Mark(pos Vec3, username string, entity *uuid.UUID) (Packet, error) {
	cfg := t.settings.Snapshot()
	reach := math.Min(ReachDistance, float64(cfg.PingDistance()))
	if t.Observer.DistanceTo(pos) > reach {
		return Packet{}, ErrOutOfReach
	}
	return Packet{
		Channel:  cfg.Channel(),
		Pos:      pos,
		Username: username,
		Entity:   entity,
	}, nil
}

// Run prunes the active pings once per tick until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / TPS)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping ping tracker")
			return
		case <-ticker.C:
			t.Prune(t.now())
		}
	}
}
