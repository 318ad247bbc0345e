package sensor

import (
	"io"
	"sync"
	"time"

	"github.com/inkley/sensorctl/internal/can"
	"github.com/inkley/sensorctl/pkg/logger"
)

// Bus is the CAN-over-serial transport the controller drives. Implemented
// by slcan.Adapter. Recv reports ok=false on a quiet interval so stop
// requests are observed with bounded latency.
type Bus interface {
	Send(can.Frame) error
	Recv() (f can.Frame, ok bool, err error)
	Close() error
}

// OpenFunc opens the transport on a serial channel at the given bitrate.
type OpenFunc func(channel string, bitrate int) (Bus, error)

// ReadingSink consumes decoded readings. A non-nil error from Append ends
// the active run; sinks that must never end a run handle their own failures
// and return nil.
type ReadingSink interface {
	Append(Reading) error
}

// State of the session controller.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// StreamMode tags how a run acquired its samples.
type StreamMode int

const (
	Realtime StreamMode = iota
	Buffered
)

func (m StreamMode) String() string {
	if m == Buffered {
		return "buffered"
	}
	return "realtime"
}

// Config carries the connection parameters for one connect attempt.
type Config struct {
	Channel string
	Bitrate int
}

// DefaultBitrate is the bus speed the sensor module runs at.
const DefaultBitrate = 1000000

const (
	versionTimeout      = 5 * time.Second
	versionPollInterval = 50 * time.Millisecond

	// How long a buffered drain waits for the first frame before deciding
	// the module queue is empty.
	drainGrace = 500 * time.Millisecond
)

// StreamStats summarizes one finished run.
type StreamStats struct {
	Mode         StreamMode
	Samples      int64
	DecodeErrors int64
	StartedAt    time.Time
	EndedAt      time.Time
}

// StreamOptions configures one realtime run. Sinks listed here live for the
// duration of the run; any that implement io.Closer are closed when the run
// ends. OnEnd, if set, fires after the run winds down, with a nil error on a
// clean stop.
type StreamOptions struct {
	Sinks []ReadingSink
	OnEnd func(StreamStats, error)
}

// Controller owns the single CAN connection and the session state machine
// over it. The CLI drives it from one goroutine; while streaming, exactly
// one extra goroutine reads the bus.
type Controller struct {
	open        OpenFunc
	versionWait time.Duration

	mu         sync.Mutex
	state      State
	channel    string
	bus        Bus
	closeOnce  *sync.Once // one transport close per connection
	version    Version
	haveVer    bool
	versionSeq uint64

	streaming bool
	stopCh    chan struct{}
	stopOnce  *sync.Once
	doneCh    chan struct{}
	lastStats StreamStats

	latestMu sync.Mutex
	latest   map[Channel]Reading

	sinks []ReadingSink // static sinks, attached to every run
}

func NewController(open OpenFunc) *Controller {
	return &Controller{
		open:        open,
		versionWait: versionTimeout,
		latest:      make(map[Channel]Reading),
	}
}

// AddSink attaches a sink to every future run. Call before any stream
// starts; not safe to call concurrently with streaming.
func (c *Controller) AddSink(s ReadingSink) {
	c.sinks = append(c.sinks, s)
}

// Connect opens the transport on the configured channel. Fails with
// ErrNoChannel when no channel is set and with ErrConnected when a
// connection is already up.
func (c *Controller) Connect(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected {
		return ErrConnected
	}
	if cfg.Channel == "" {
		return ErrNoChannel
	}
	bitrate := cfg.Bitrate
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	bus, err := c.open(cfg.Channel, bitrate)
	if err != nil {
		return &TransportError{Op: "open", Err: err}
	}
	c.bus = bus
	c.channel = cfg.Channel
	c.closeOnce = new(sync.Once)
	c.state = Connected
	logger.Log.Debugf("Session connected on %s at %d bit/s", cfg.Channel, bitrate)
	return nil
}

// Disconnect stops any active stream and releases the transport.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	streaming := c.streaming
	bus, stopOnce, stopCh, done := c.bus, c.stopOnce, c.stopCh, c.doneCh
	c.mu.Unlock()

	if streaming {
		if bus != nil {
			if err := bus.Send(encodeCommand(CmdStopStream, 0)); err != nil {
				logger.Log.Debugf("Stop command on disconnect: %v", err)
			}
		}
		stopOnce.Do(func() { close(stopCh) })
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked()
}

// releaseLocked closes the transport exactly once and lands in
// Disconnected. Safe on every exit path; callers hold c.mu.
func (c *Controller) releaseLocked() error {
	if c.bus == nil {
		c.state = Disconnected
		return nil
	}
	var err error
	c.closeOnce.Do(func() { err = c.bus.Close() })
	c.bus = nil
	c.state = Disconnected
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// transportFailed releases the connection after a bus failure and returns
// the wrapped error.
func (c *Controller) transportFailed(op string, err error) *TransportError {
	terr := &TransportError{Op: op, Err: err}
	c.mu.Lock()
	channel := c.channel
	c.releaseLocked()
	c.mu.Unlock()
	logger.Log.Errorf("CAN transport failure on %s: %v; connection released", channel, err)
	return terr
}

// Version asks the module for its firmware version and waits up to five
// seconds for the response. While a stream is active the response is picked
// up by the stream goroutine, so this polls the cached copy instead of
// touching the receive side.
func (c *Controller) Version() (Version, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return Version{}, ErrNotConnected
	}
	bus := c.bus
	streaming := c.streaming
	seq := c.versionSeq
	c.mu.Unlock()

	if err := bus.Send(encodeCommand(CmdVersion, 0)); err != nil {
		return Version{}, c.transportFailed("send", err)
	}

	deadline := time.Now().Add(c.versionWait)
	if streaming {
		for time.Now().Before(deadline) {
			time.Sleep(versionPollInterval)
			c.mu.Lock()
			if c.versionSeq != seq {
				v := c.version
				c.mu.Unlock()
				return v, nil
			}
			c.mu.Unlock()
		}
		return Version{}, ErrVersionTimeout
	}

	for time.Now().Before(deadline) {
		f, ok, err := bus.Recv()
		if err != nil {
			return Version{}, c.transportFailed("receive", err)
		}
		if !ok {
			continue
		}
		if f.ID != ResponseID {
			// Stale broadcast traffic; not what we are waiting for.
			continue
		}
		resp, err := decodeResponse(f)
		if err != nil {
			logger.Log.Warnf("%v", err)
			continue
		}
		if resp.Cmd != CmdVersion {
			logger.Log.Debugf("ACK cmd=0x%02X value=%d", resp.Cmd, resp.Value)
			continue
		}
		c.mu.Lock()
		c.version = resp.Version
		c.haveVer = true
		c.versionSeq++
		c.mu.Unlock()
		return resp.Version, nil
	}
	return Version{}, ErrVersionTimeout
}

// CachedVersion returns the last version the module reported, if any.
func (c *Controller) CachedVersion() (Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, c.haveVer
}

// StartStream asks the module for realtime broadcasts and spawns the single
// receive goroutine. Rejected with ErrStreaming while a run is active.
func (c *Controller) StartStream(opts StreamOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return ErrNotConnected
	}
	if c.streaming {
		return ErrStreaming
	}
	if err := c.bus.Send(encodeCommand(CmdStartStream, 0)); err != nil {
		channel := c.channel
		c.releaseLocked()
		logger.Log.Errorf("CAN transport failure on %s: %v; connection released", channel, err)
		return &TransportError{Op: "send", Err: err}
	}

	all := make([]ReadingSink, 0, len(c.sinks)+len(opts.Sinks))
	all = append(all, c.sinks...)
	all = append(all, opts.Sinks...)

	c.streaming = true
	c.stopCh = make(chan struct{})
	c.stopOnce = new(sync.Once)
	c.doneCh = make(chan struct{})
	go c.streamLoop(c.bus, opts, all, c.stopCh, c.doneCh)
	return nil
}

// StopStream tells the module to stop broadcasting, then joins the receive
// goroutine. A failed stop command still halts local reception.
func (c *Controller) StopStream() error {
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return ErrNotStreaming
	}
	bus, stopOnce, stopCh, done := c.bus, c.stopOnce, c.stopCh, c.doneCh
	c.mu.Unlock()

	if bus != nil {
		if err := bus.Send(encodeCommand(CmdStopStream, 0)); err != nil {
			logger.Log.Warnf("Failed to send stop streaming command: %v", err)
		}
	}
	stopOnce.Do(func() { close(stopCh) })
	<-done
	return nil
}

// streamLoop is the one reader of the bus while streaming. It exits on stop,
// sink failure or transport failure; per-run sinks are closed and OnEnd
// fires on every exit path.
func (c *Controller) streamLoop(bus Bus, opts StreamOptions, sinks []ReadingSink, stop <-chan struct{}, done chan<- struct{}) {
	stats := StreamStats{Mode: Realtime, StartedAt: time.Now()}
	var runErr error
	defer func() {
		for _, s := range opts.Sinks {
			if cl, ok := s.(io.Closer); ok {
				if err := cl.Close(); err != nil {
					logger.Log.Warnf("Closing sink: %v", err)
				}
			}
		}
		stats.EndedAt = time.Now()
		c.mu.Lock()
		c.streaming = false
		c.lastStats = stats
		c.mu.Unlock()
		if opts.OnEnd != nil {
			opts.OnEnd(stats, runErr)
		}
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}
		f, ok, err := bus.Recv()
		if err != nil {
			select {
			case <-stop:
				// Stop raced a port teardown; treat as a clean stop.
				return
			default:
			}
			runErr = c.transportFailed("receive", err)
			return
		}
		if !ok {
			continue
		}
		if err := c.handleFrame(f, &stats, sinks); err != nil {
			logger.Log.Errorf("Run aborted: %v", err)
			runErr = err
			return
		}
	}
}

// handleFrame routes one received frame. Decode failures are counted and
// skipped; only sink failures propagate.
func (c *Controller) handleFrame(f can.Frame, stats *StreamStats, sinks []ReadingSink) error {
	switch f.ID {
	case ResponseID:
		resp, err := decodeResponse(f)
		if err != nil {
			stats.DecodeErrors++
			logger.Log.Warnf("%v", err)
			return nil
		}
		if resp.Cmd == CmdVersion {
			c.mu.Lock()
			c.version = resp.Version
			c.haveVer = true
			c.versionSeq++
			c.mu.Unlock()
			logger.Log.Infof("Received firmware version: %s", resp.Version)
		} else {
			logger.Log.Debugf("ACK cmd=0x%02X value=%d", resp.Cmd, resp.Value)
		}
		return nil

	case BroadcastID:
		readings, err := decodeSample(f, time.Now())
		if err != nil {
			stats.DecodeErrors++
			logger.Log.Warnf("%v", err)
			return nil
		}
		return c.deliver(readings, stats, sinks)

	default:
		// Unrelated traffic on the bus.
		return nil
	}
}

func (c *Controller) deliver(readings []Reading, stats *StreamStats, sinks []ReadingSink) error {
	c.latestMu.Lock()
	for _, r := range readings {
		c.latest[r.Channel] = r
	}
	c.latestMu.Unlock()

	for _, s := range sinks {
		for _, r := range readings {
			if err := s.Append(r); err != nil {
				return err
			}
		}
	}

	before := stats.Samples
	stats.Samples += int64(len(readings))
	if before/1000 != stats.Samples/1000 {
		logger.Log.Infof("Logged %d samples", stats.Samples)
	}
	return nil
}

// DrainBuffered asks the module to flush its buffered backlog and decodes
// frames until the bus goes quiet. Runs synchronously on the caller's
// goroutine; the caller owns the sinks.
func (c *Controller) DrainBuffered(sinks ...ReadingSink) (int, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	if c.streaming {
		c.mu.Unlock()
		return 0, ErrStreaming
	}
	bus := c.bus
	c.mu.Unlock()

	if err := bus.Send(encodeCommand(CmdStreamBuffer, 0)); err != nil {
		return 0, c.transportFailed("send", err)
	}

	all := make([]ReadingSink, 0, len(c.sinks)+len(sinks))
	all = append(all, c.sinks...)
	all = append(all, sinks...)

	stats := StreamStats{Mode: Buffered, StartedAt: time.Now()}
	deadline := time.Now().Add(drainGrace)
	for {
		f, ok, err := bus.Recv()
		if err != nil {
			return int(stats.Samples), c.transportFailed("receive", err)
		}
		if !ok {
			if stats.Samples == 0 && time.Now().Before(deadline) {
				// Give the module a moment to start flushing.
				continue
			}
			break
		}
		if err := c.handleFrame(f, &stats, all); err != nil {
			return int(stats.Samples), err
		}
	}

	stats.EndedAt = time.Now()
	c.mu.Lock()
	c.lastStats = stats
	c.mu.Unlock()
	return int(stats.Samples), nil
}

// Readings nudges the module for fresh values and reports the most recent
// decoded value per channel.
func (c *Controller) Readings() (map[Channel]Reading, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	bus := c.bus
	c.mu.Unlock()

	if err := bus.Send(encodeCommand(CmdGetReadings, 0)); err != nil {
		return nil, c.transportFailed("send", err)
	}
	return c.Latest(), nil
}

// Latest returns a snapshot of the most recent reading per channel. Usable
// in any state; channels with no data yet are absent.
func (c *Controller) Latest() map[Channel]Reading {
	c.latestMu.Lock()
	defer c.latestMu.Unlock()
	snapshot := make(map[Channel]Reading, len(c.latest))
	for ch, r := range c.latest {
		snapshot[ch] = r
	}
	return snapshot
}

// State reports the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Streaming reports whether a realtime run is active.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Device returns the serial channel of the current connection, or the last
// one used.
func (c *Controller) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// LastStats reports the stats of the most recently finished run.
func (c *Controller) LastStats() StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStats
}
