package realtime

import "time"

const (
	defaultSendQueue    = 64
	minSendQueue        = 8
	defaultHeartbeat    = 15 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultPingTimeout  = 5 * time.Second

	// Inbound WebSocket frames are never processed; anything larger than a
	// control frame is a protocol violation.
	maxFrameBytes = 1 << 10

	maxPingFailures = 3
)

// Config tunes the broadcaster and its transports.
type Config struct {
	SendQueue      int           `koanf:"send_queue"`
	MaxSubscribers int           `koanf:"max_subscribers"`
	Heartbeat      time.Duration `koanf:"heartbeat"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	// AllowedOrigins applies to WebSocket upgrades only. "*" allows any.
	AllowedOrigins []string `koanf:"allowed_origins"`
	OriginRequired bool     `koanf:"origin_required"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		SendQueue:      defaultSendQueue,
		MaxSubscribers: 10_000,
		Heartbeat:      defaultHeartbeat,
		WriteTimeout:   defaultWriteTimeout,
		AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired: false,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.SendQueue < minSendQueue {
		c.SendQueue = minSendQueue
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}
