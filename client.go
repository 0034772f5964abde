package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// CloseNormal is the close code of a deliberate shutdown. It never triggers
// a reconnect.
const CloseNormal = websocket.CloseNormalClosure

const refreshTimeout = 30 * time.Second

// Client maintains one authenticated connection to the event stream and
// dispatches domain events to registered handlers.
type Client struct {
	cfg      Config
	url      string
	tokens   TokenSource
	registry *handlerRegistry
	logger   logrus.FieldLogger
	policy   ReconnectPolicy
	dial     dialFunc
	schedule scheduleFunc
	onError  ErrorHandler
	onState  func(ConnectionState)

	mu           sync.Mutex
	state        ConnectionState
	err          error
	attempts     int
	conn         transport
	gen          uint64 // bumped on every connect/disconnect; stale callbacks compare against it
	timer        timer
	timerSeq     uint64
	reconnecting bool // the current connection is an automatic recovery
	refreshed    bool // a token refresh ran since the last auth-ack
	pending      []ConnectionState
	delivering   bool // a goroutine is draining pending

	disconnectFn func(error)
	reconnectFn  func()
}

// session identifies one transport for its callbacks.
type session struct {
	gen uint64
	id  uuid.UUID
	log logrus.FieldLogger
}

// NewClient creates a client for the event stream of the API described by
// cfg. The client is not connected until Connect is called.
func NewClient(cfg Config, tokens TokenSource, opts ...Option) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, errors.New("TokenSource must not be nil")
	}
	eventsURL, err := EventsURL(resolved.APIURL, resolved.Origin)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      resolved,
		url:      eventsURL,
		tokens:   tokens,
		registry: newHandlerRegistry(),
		logger:   logrus.StandardLogger(),
		policy:   DefaultReconnectPolicy(),
		dial:     websocketDialer(newDialer(resolved.HandshakeTimeout)),
		schedule: afterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "realtime")
	return c, nil
}

// URL returns the event stream endpoint.
func (c *Client) URL() string {
	return c.url
}

// On registers fn for eventType, or for every event when eventType is
// Wildcard. Handlers for one type run in registration order, followed by the
// wildcard handlers.
func (c *Client) On(eventType string, fn HandlerFunc) Subscription {
	return c.registry.add(eventType, fn)
}

// Off removes the registration identified by sub. Removing an unknown or
// already removed subscription is a no-op.
func (c *Client) Off(sub Subscription) {
	c.registry.remove(sub)
}

// OnDisconnect registers a callback invoked when the connection drops
// unexpectedly.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.disconnectFn = fn
	c.mu.Unlock()
}

// OnReconnect registers a callback invoked when an automatic reconnect has
// been authenticated.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.reconnectFn = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnecting reports whether a dial or auth handshake is in progress.
func (c *Client) IsConnecting() bool {
	s := c.State()
	return s == StateConnecting || s == StateTransportOpen
}

// IsConnected reports whether the connection is open and authenticated.
func (c *Client) IsConnected() bool {
	return c.State() == StateAuthenticated
}

// IsAuthenticated reports whether the server acknowledged the auth message
// on the current connection.
func (c *Client) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

// Err returns the last recorded error, or nil. Successful authentication
// and Connect clear it; Disconnect leaves it in place.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Attempts returns the number of reconnects scheduled since the last
// successful authentication.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the event stream and sends the auth message. Any existing
// connection is torn down first. Without a token Connect records and returns
// ErrMissingCredentials. A failed dial is recorded and returned, and a
// reconnect is scheduled for it.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

func (c *Client) connect(ctx context.Context, auto bool) error {
	token := c.tokens.Token()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if token == "" {
		cerr := newClientError(KindMissingCredentials, ErrMissingCredentials)
		c.err = cerr
		c.mu.Unlock()
		c.logger.Warn("no access token, not connecting")
		c.report(cerr)
		return cerr
	}

	var stale transport
	if c.conn != nil {
		stale = c.disconnectLocked()
	}
	c.stopTimerLocked()
	if !auto {
		c.attempts = 0
		c.reconnecting = false
		c.refreshed = false
	}
	c.gen++
	s := session{gen: c.gen, id: uuid.New()}
	s.log = c.logger.WithField("conn", s.id.String())
	c.err = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if stale != nil {
		stale.close(CloseNormal, "")
	}
	c.flushState()

	s.log.WithField("url", c.url).Debug("connecting")
	tr, dialErr := c.dial(ctx, c.url, transportHandlers{
		onMessage: func(data []byte) { c.handleMessage(s, data) },
		onClose:   func(code int, err error) { c.handleClose(s, code, err) },
	})

	c.mu.Lock()
	if c.gen != s.gen || c.state == StateClosed {
		// Disconnect, Close or a newer Connect won the race.
		c.mu.Unlock()
		if tr != nil {
			tr.close(CloseNormal, "")
		}
		return dialErr
	}
	if dialErr != nil {
		cerr := newClientError(KindTransport, dialErr)
		c.err = cerr
		c.setStateLocked(StateDisconnected)
		terminal := c.scheduleReconnectLocked(s)
		c.mu.Unlock()

		s.log.WithError(dialErr).Warn("dial failed")
		c.flushState()
		c.report(cerr)
		if terminal != nil {
			c.report(terminal)
		}
		return cerr
	}
	c.conn = tr
	c.setStateLocked(StateTransportOpen)
	c.mu.Unlock()

	c.flushState()
	tr.start()
	if err := tr.send(newAuthMessage(token)); err != nil {
		// The reader sees the broken connection and drives the reconnect.
		s.log.WithError(err).Warn("send auth message")
	}
	return nil
}

// Disconnect cancels any pending reconnect, closes the connection normally
// and resets the reconnect counter. It is safe to call at any time.
func (c *Client) Disconnect() {
	c.mu.Lock()
	tr := c.disconnectLocked()
	c.refreshed = false
	c.mu.Unlock()

	if tr != nil {
		tr.close(CloseNormal, "")
	}
	c.flushState()
}

// Close disconnects and drops every handler. The client cannot be
// reconnected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	tr := c.disconnectLocked()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	var err error
	if tr != nil {
		err = tr.close(CloseNormal, "")
	}
	c.registry.clear()
	c.flushState()
	return err
}

// disconnectLocked neutralizes the timer and the transport. The returned
// transport must be closed after c.mu is released.
func (c *Client) disconnectLocked() transport {
	c.stopTimerLocked()
	c.gen++
	tr := c.conn
	c.conn = nil
	c.attempts = 0
	c.reconnecting = false
	if c.state != StateClosed {
		c.setStateLocked(StateDisconnected)
	}
	return tr
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// scheduleReconnectLocked arms the reconnect timer, or records the terminal
// error once the attempt ceiling is reached.
func (c *Client) scheduleReconnectLocked(s session) *ClientError {
	c.stopTimerLocked()

	if c.policy.Exhausted(c.attempts) {
		cerr := newClientError(KindMaxAttempts, ErrMaxAttempts)
		c.err = cerr
		s.log.WithField("attempts", c.attempts).Warn("max reconnect attempts reached")
		return cerr
	}

	delay := c.policy.Delay(c.attempts)
	c.attempts++
	c.reconnecting = true
	seq := c.timerSeq
	gen := c.gen
	s.log.WithFields(logrus.Fields{
		"attempt": c.attempts,
		"delay":   delay,
	}).Info("scheduling reconnect")

	c.timer = c.schedule(delay, func() {
		c.mu.Lock()
		if c.timerSeq != seq || c.gen != gen || c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		c.connect(context.Background(), true)
	})
	return nil
}

func (c *Client) handleMessage(s session, data []byte) {
	if !c.current(s) {
		return
	}

	frame, err := parseFrame(data)
	if err != nil {
		s.log.WithError(err).Warn("dropping malformed frame")
		c.malformed(s, err, data)
		return
	}

	switch frame.kind() {
	case kindAuthAck:
		c.handleAuthenticated(s)
	case kindError:
		c.handleServerError(s, frame.serverError())
	case kindEvent:
		c.handleEvent(s, frame, data)
	case kindHeartbeat:
	default:
		s.log.WithField("type", frame.Type).Info("ignoring unknown frame")
	}
}

func (c *Client) handleAuthenticated(s session) {
	c.mu.Lock()
	if c.gen != s.gen {
		c.mu.Unlock()
		return
	}
	restored := c.reconnecting
	c.reconnecting = false
	c.refreshed = false
	c.attempts = 0
	c.err = nil
	c.setStateLocked(StateAuthenticated)
	fn := c.reconnectFn
	c.mu.Unlock()

	s.log.Info("authenticated")
	c.flushState()
	if restored && fn != nil {
		fn()
	}
}

func (c *Client) handleServerError(s session, se *ServerError) {
	c.mu.Lock()
	if c.gen != s.gen {
		c.mu.Unlock()
		return
	}

	if isTokenError(se) && c.refreshed {
		// The refreshed token was rejected as well.
		cerr := newClientError(KindSessionExpired, fmt.Errorf("%w: %v", ErrSessionExpired, se))
		c.err = cerr
		tr := c.disconnectLocked()
		c.mu.Unlock()

		s.log.WithField("error", se.Message).Error("refreshed token rejected")
		if tr != nil {
			tr.close(CloseNormal, "")
		}
		c.flushState()
		c.report(cerr)
		return
	}

	if isTokenError(se) {
		cerr := newClientError(KindTokenRejected, se)
		c.err = cerr
		tr := c.disconnectLocked()
		c.refreshed = true
		gen := c.gen
		c.mu.Unlock()

		s.log.WithField("error", se.Message).Warn("token rejected, refreshing")
		if tr != nil {
			tr.close(CloseNormal, "")
		}
		c.flushState()
		c.report(cerr)
		go c.refreshAndReconnect(gen)
		return
	}

	cerr := newClientError(KindServerError, se)
	c.err = cerr
	var tr transport
	if c.state == StateTransportOpen {
		// Rejected before the handshake completed: retrying with the same
		// credentials cannot succeed.
		tr = c.disconnectLocked()
	}
	c.mu.Unlock()

	s.log.WithField("error", se.Message).Error("server error")
	if tr != nil {
		tr.close(CloseNormal, "")
	}
	c.flushState()
	c.report(cerr)
}

// refreshAndReconnect owns recovery after a token error until the refresh
// resolves. A Connect or Disconnect in the meantime supersedes it.
func (c *Client) refreshAndReconnect(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	err := c.tokens.Refresh(ctx)
	cancel()

	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		cerr := newClientError(KindSessionExpired, fmt.Errorf("%w: %v", ErrSessionExpired, err))
		c.err = cerr
		c.mu.Unlock()

		c.logger.WithError(err).Error("token refresh failed")
		c.report(cerr)
		return
	}
	c.attempts = 0
	c.reconnecting = true
	c.mu.Unlock()

	c.logger.Info("token refreshed, reconnecting")
	c.connect(context.Background(), true)
}

func (c *Client) handleEvent(s session, frame inboundFrame, raw []byte) {
	ev, err := decodeEvent(frame.Data)
	if err != nil {
		s.log.WithError(err).Warn("dropping undecodable event")
		c.malformed(s, err, raw)
		return
	}
	if ev.Type == "" {
		s.log.WithField("payload", string(ev.Raw)).Warn("event has no type")
		return
	}
	if ev.Type == EventConnected {
		s.log.Debug("connection confirmed")
		return
	}

	for _, herr := range c.registry.dispatch(ev) {
		s.log.WithError(herr).WithField("type", ev.Type).Error("event handler failed")
		c.report(&ClientError{
			Kind:      KindHandlerFailure,
			EventType: ev.Type,
			Cause:     herr,
			Timestamp: time.Now(),
		})
	}
}

func (c *Client) handleClose(s session, code int, err error) {
	c.mu.Lock()
	if c.gen != s.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(StateDisconnected)

	if code == CloseNormal {
		c.mu.Unlock()
		s.log.Info("server closed the connection")
		c.flushState()
		return
	}

	reason := fmt.Sprintf("unexpected close (code %d)", code)
	if err != nil {
		reason = err.Error()
	}
	connErr := &ConnectionError{URL: c.url, Reason: reason, Code: code}
	cerr := newClientError(KindTransport, connErr)
	c.err = cerr

	var terminal *ClientError
	if c.tokens.Token() != "" {
		terminal = c.scheduleReconnectLocked(s)
	}
	fn := c.disconnectFn
	c.mu.Unlock()

	s.log.WithField("code", code).Warn("connection lost")
	c.flushState()
	c.report(cerr)
	if terminal != nil {
		c.report(terminal)
	}
	if fn != nil {
		fn(connErr)
	}
}

// malformed records a dropped frame. The connection is unaffected.
func (c *Client) malformed(s session, err error, raw []byte) {
	cerr := &ClientError{Kind: KindMalformedFrame, Cause: err, Raw: raw, Timestamp: time.Now()}
	c.mu.Lock()
	if c.gen == s.gen {
		c.err = cerr
	}
	c.mu.Unlock()
	c.report(cerr)
}

func (c *Client) current(s session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == s.gen
}

func (c *Client) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.pending = append(c.pending, s)
	}
}

// flushState delivers queued transitions to the state handler outside the
// lock. One goroutine delivers at a time, in queue order; a concurrent caller
// leaves its transitions to the one already delivering.
func (c *Client) flushState() {
	if c.onState == nil {
		return
	}
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, s := range pending {
			c.onState(s)
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Client) report(cerr *ClientError) {
	if c.onError != nil && cerr != nil {
		c.onError(*cerr)
	}
}
