// Package settings holds the user adjustable ping settings.
package settings

import (
	"fmt"
	"sync"
)

// Defaults
const (
	DefaultPingVolume      = 100
	DefaultPingDistance    = 150
	DefaultItemIconVisible = true
	DefaultPingDuration    = 7
	DefaultPingMaxCount    = 8
	DefaultChannel         = ""
)

// Config is an immutable snapshot of the ping settings.
// Values are never validated. Two configs are equal when all fields are equal.
type Config struct {
	pingVolume      int
	pingDistance    int
	itemIconVisible bool
	pingDuration    int
	pingMaxCount    int
	channel         string
}

// Default returns a config with the default values.
func Default() Config {
	return Config{
		pingVolume:      DefaultPingVolume,
		pingDistance:    DefaultPingDistance,
		itemIconVisible: DefaultItemIconVisible,
		pingDuration:    DefaultPingDuration,
		pingMaxCount:    DefaultPingMaxCount,
		channel:         DefaultChannel,
	}
}

// PingVolume returns the playback volume in percent.
func (c Config) PingVolume() int { return c.pingVolume }

// PingDistance returns the maximum distance at which pings are accepted.
func (c Config) PingDistance() int { return c.pingDistance }

// ItemIconVisible reports whether item icons are shown for pings on items.
func (c Config) ItemIconVisible() bool { return c.itemIconVisible }

// PingDuration returns how long a ping stays active, in seconds.
func (c Config) PingDuration() int { return c.pingDuration }

// PingMaxCount returns the maximum number of concurrently active pings.
func (c Config) PingMaxCount() int { return c.pingMaxCount }

// Channel returns the ping channel. It may be empty.
func (c Config) Channel() string { return c.channel }

// WithPingVolume returns a copy with the ping volume set to v.
func (c Config) WithPingVolume(v int) Config {
	c.pingVolume = v
	return c
}

// WithPingDistance returns a copy with the ping distance set to v.
func (c Config) WithPingDistance(v int) Config {
	c.pingDistance = v
	return c
}

// WithItemIconVisible returns a copy with item icon visibility set to v.
func (c Config) WithItemIconVisible(v bool) Config {
	c.itemIconVisible = v
	return c
}

// WithPingDuration returns a copy with the ping duration set to v.
func (c Config) WithPingDuration(v int) Config {
	c.pingDuration = v
	return c
}

// WithPingMaxCount returns a copy with the max ping count set to v.
func (c Config) WithPingMaxCount(v int) Config {
	c.pingMaxCount = v
	return c
}

// WithChannel returns a copy with the channel set to v.
func (c Config) WithChannel(v string) Config {
	c.channel = v
	return c
}

// Equal reports whether both configs hold the same values.
func (c Config) Equal(other Config) bool {
	return c == other
}

// String returns all field names with their values.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config(pingVolume=%d, pingDistance=%d, itemIconVisible=%t, pingDuration=%d, pingMaxCount=%d, channel=%q)",
		c.pingVolume,
		c.pingDistance,
		c.itemIconVisible,
		c.pingDuration,
		c.pingMaxCount,
		c.channel,
	)
}

// Settings holds the live ping settings of the server.
// It is safe for concurrent use.
type Settings struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a new Settings instance with defaults.
func New() *Settings {
	return &Settings{cfg: Default()}
}

// Snapshot returns the current values.
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the current values with the result of f in one step.
func (s *Settings) Update(f func(Config) Config) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = f(s.cfg)
	return s.cfg
}

// Equal reports whether both instances currently hold the same values.
func (s *Settings) Equal(other *Settings) bool {
	return s.Snapshot() == other.Snapshot()
}

// String returns all current field names with their values.
func (s *Settings) String() string {
	return s.Snapshot().String()
}

// GetPingVolume safely returns the current ping volume.
func (s *Settings) GetPingVolume() int {
	return s.Snapshot().pingVolume
}

// SetPingVolume safely updates the ping volume.
func (s *Settings) SetPingVolume(v int) {
	s.Update(func(c Config) Config { return c.WithPingVolume(v) })
}

// GetPingDistance safely returns the current ping distance.
func (s *Settings) GetPingDistance() int {
	return s.Snapshot().pingDistance
}

// SetPingDistance safely updates the ping distance.
func (s *Settings) SetPingDistance(v int) {
	s.Update(func(c Config) Config { return c.WithPingDistance(v) })
}

// IsItemIconVisible safely reports whether item icons are shown.
func (s *Settings) IsItemIconVisible() bool {
	return s.Snapshot().itemIconVisible
}

// SetItemIconVisible safely updates the item icon visibility.
func (s *Settings) SetItemIconVisible(v bool) {
	s.Update(func(c Config) Config { return c.WithItemIconVisible(v) })
}

// GetPingDuration safely returns the current ping duration in seconds.
func (s *Settings) GetPingDuration() int {
	return s.Snapshot().pingDuration
}

// SetPingDuration safely updates the ping duration.
func (s *Settings) SetPingDuration(v int) {
	s.Update(func(c Config) Config { return c.WithPingDuration(v) })
}

// GetPingMaxCount safely returns the current max ping count.
func (s *Settings) GetPingMaxCount() int {
	return s.Snapshot().pingMaxCount
}

// SetPingMaxCount safely updates the max ping count.
func (s *Settings) SetPingMaxCount(v int) {
	s.Update(func(c Config) Config { return c.WithPingMaxCount(v) })
}

// GetChannel safely returns the current channel.
func (s *Settings) GetChannel() string {
	return s.Snapshot().channel
}

// SetChannel safely updates the channel.
func (s *Settings) SetChannel(v string) {
	s.Update(func(c Config) Config { return c.WithChannel(v) })
}
