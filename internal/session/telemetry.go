package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	telemetryLabel    = "telemetry"
	telemetryInterval = 5 * time.Second

	telemetryPing = "ping"
	telemetryPong = "pong"
)

type telemetryMessage struct {
	Type   string `msgpack:"type"`
	Seq    uint64 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"`
}

// telemetry measures round-trip time over a dedicated data channel that
// rides the same ICE transport as the media, so the number reflects what
// the call actually experiences.
type telemetry struct {
	mu   sync.Mutex
	dc   *webrtc.DataChannel
	rtt  time.Duration
	seq  uint64
	onRT func(time.Duration)
	done chan struct{}
	once sync.Once
}

func newTelemetry(onRTT func(time.Duration)) *telemetry {
	return &telemetry{onRT: onRTT, done: make(chan struct{})}
}

// attach binds the data channel and starts pinging once it opens.
func (t *telemetry) attach(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		go t.pingLoop(dc)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.handle(dc, msg.Data)
	})
}

func (t *telemetry) handle(dc *webrtc.DataChannel, data []byte) {
	var msg telemetryMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		slog.Debug("bad telemetry frame", "error", err)
		return
	}

	switch msg.Type {
	case telemetryPing:
		reply, err := msgpack.Marshal(telemetryMessage{
			Type:   telemetryPong,
			Seq:    msg.Seq,
			SentAt: msg.SentAt,
		})
		if err != nil {
			return
		}
		dc.Send(reply)

	case telemetryPong:
		rtt := time.Duration(time.Now().UnixNano() - msg.SentAt)
		t.mu.Lock()
		t.rtt = rtt
		fn := t.onRT
		t.mu.Unlock()
		if fn != nil {
			fn(rtt)
		}
	}
}

func (t *telemetry) pingLoop(dc *webrtc.DataChannel) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.seq++
			seq := t.seq
			t.mu.Unlock()

			data, err := msgpack.Marshal(telemetryMessage{
				Type:   telemetryPing,
				Seq:    seq,
				SentAt: time.Now().UnixNano(),
			})
			if err != nil {
				continue
			}
			if err := dc.Send(data); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// RTT returns the last measured round-trip time, zero before the first
// pong arrives.
func (t *telemetry) RTT() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rtt
}

func (t *telemetry) close() {
	t.once.Do(func() { close(t.done) })
}
