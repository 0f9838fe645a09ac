package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/model"
)

// UpdateHandler receives push updates for one job
type UpdateHandler func(model.JobUpdate)

// StateListener observes lifecycle transitions. err is set when a transition was caused by a failure.
type StateListener func(State, error)

// Options configures a Channel
type Options struct {
	URL string
	// Retries after the first failed dial, both on Connect and after a dropped connection
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	Dialer            *websocket.Dialer
	Logger            zerolog.Logger
}

type attempt struct {
	done chan struct{}
	err  error
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Channel is a single shared push connection with per-job subscriptions on top of it.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu         sync.Mutex
	state      State
	credential string
	gen        uint64
	runCtx     context.Context
	cancel     context.CancelFunc
	sess       *session
	attempt    *attempt
	handlers   map[string]map[uint64]UpdateHandler
	pending    []string
	nextID     uint64
	listeners  []StateListener
}

// New creates a channel in the uninitialized state
func New(opts Options) *Channel {
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	return &Channel{
		opts:     opts,
		dialer:   dialer,
		log:      opts.Logger.With().Str("component", "realtime").Logger(),
		state:    StateUninitialized,
		handlers: make(map[string]map[uint64]UpdateHandler),
	}
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a listener. Listeners run on the channel's goroutines
// and must not block.
func (c *Channel) OnStateChange(fn StateListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Connect opens the shared connection. A call made while a connection for the
// same credential is open or being opened waits for that attempt instead of
// starting another one. A different credential replaces the current connection.
func (c *Channel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.credential == credential {
		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil
		case StateConnecting, StateReconnecting:
			a := c.attempt
			c.mu.Unlock()
			return wait(ctx, a)
		}
	}

	c.resetLocked()
	c.credential = credential
	gen, runCtx := c.nextGenLocked()
	a := newAttempt()
	c.attempt = a
	c.state = StateConnecting
	c.mu.Unlock()

	c.notify(StateConnecting, nil)
	go c.run(runCtx, gen, credential, a)

	return wait(ctx, a)
}

func wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for updates of jobID and asks the server for them.
// While offline the request is buffered and sent on the next successful connect.
func (c *Channel) Subscribe(jobID string, fn UpdateHandler) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[jobID] == nil {
		c.handlers[jobID] = make(map[uint64]UpdateHandler)
	}
	c.handlers[jobID][id] = fn
	sess := c.sess
	if sess == nil && !contains(c.pending, jobID) {
		c.pending = append(c.pending, jobID)
	}
	c.mu.Unlock()

	if sess != nil {
		c.sendSubscribe(sess, jobID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(jobID, id) })
	}
}

func (c *Channel) unsubscribe(jobID string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hs, ok := c.handlers[jobID]
	if !ok {
		return
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(c.handlers, jobID)
		c.pending = remove(c.pending, jobID)
	}
}

// Subscriptions returns the job ids that currently have at least one handler.
func (c *Channel) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Disconnect closes the connection, abandons any connect in progress and clears
// all subscription bookkeeping. Safe to call in any state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	prev := c.state
	c.resetLocked()
	c.gen++
	c.runCtx, c.cancel = nil, nil
	c.attempt = nil
	c.credential = ""
	c.handlers = make(map[string]map[uint64]UpdateHandler)
	c.pending = nil
	c.state = StateClosed
	c.mu.Unlock()

	if prev != StateClosed && prev != StateUninitialized {
		c.log.Info().Msg("realtime disconnected")
		c.notify(StateClosed, nil)
	}
}

func (c *Channel) resetLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
}

func (c *Channel) nextGenLocked() (uint64, context.Context) {
	c.gen++
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	return c.gen, c.runCtx
}

// run dials until it succeeds or gives up, then settles a.
func (c *Channel) run(ctx context.Context, gen uint64, credential string, a *attempt) {
	conn, err := c.dial(ctx, credential)
	if err != nil {
		c.mu.Lock()
		current := c.gen == gen
		if current {
			c.attempt = nil
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		if !current {
			a.finish(ErrClosed)
			return
		}
		c.log.Error().Err(err).Msg("realtime connection failed")
		c.notify(StateDisconnected, err)
		a.finish(err)
		return
	}

	sess := newSession(conn, c.opts.PingInterval, c.log)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		a.finish(ErrClosed)
		return
	}
	c.sess = sess
	c.attempt = nil
	c.state = StateConnected
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	sess.start(c.messageHandler(sess), func(err error) {
		c.handleDrop(gen, sess, err)
	})
	for _, jobID := range pending {
		c.sendSubscribe(sess, jobID)
	}

	c.log.Info().Str("url", c.opts.URL).Int("flushed", len(pending)).Msg("realtime connected")
	c.notify(StateConnected, nil)
	a.finish(nil)
}

func (c *Channel) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	target, err := withToken(c.opts.URL, credential)
	if err != nil {
		return nil, &ConnectionError{URL: c.opts.URL, Attempts: 0, Err: err}
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	total := 1 + c.opts.ReconnectAttempts
	var last *ConnectionError
	for i := 1; i <= total; i++ {
		if i > 1 {
			timer := time.NewTimer(c.opts.ReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ErrClosed
			case <-timer.C:
			}
		}

		conn, resp, err := c.dialer.DialContext(ctx, target, header)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ErrClosed
		}

		last = &ConnectionError{URL: c.opts.URL, Attempts: i, Err: err}
		if resp != nil {
			last.StatusCode = resp.StatusCode
		}
		if last.Rejected() {
			return nil, last
		}
		c.log.Warn().Err(err).Int("attempt", i).Int("max", total).Msg("realtime dial failed")
	}
	return nil, last
}

// handleDrop runs on the reader goroutine after the connection ends.
func (c *Channel) handleDrop(gen uint64, sess *session, err error) {
	c.mu.Lock()
	if c.gen != gen || c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("realtime connection lost")
	c.notify(StateDisconnected, err)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	a := newAttempt()
	c.attempt = a
	c.state = StateReconnecting
	ctx := c.runCtx
	credential := c.credential
	c.mu.Unlock()

	c.notify(StateReconnecting, nil)
	c.run(ctx, gen, credential, a)
}

func (c *Channel) messageHandler(sess *session) func([]byte) {
	return func(data []byte) {
		var env model.WSEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug().Err(err).Msg("malformed realtime frame")
			return
		}

		switch env.Event {
		case model.WSEventJobUpdate:
			var update model.JobUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				c.log.Warn().Err(err).Msg("malformed job update")
				return
			}
			c.dispatch(update)

		case model.WSEventPing:
			if pong, err := model.NewEnvelope(model.WSEventPong, nil); err == nil {
				sess.enqueue(pong)
			}

		case model.WSEventError:
			var wsErr model.WSError
			_ = json.Unmarshal(env.Data, &wsErr)
			c.log.Warn().Str("code", wsErr.Code).Msg(wsErr.Message)
		}
	}
}

// dispatch runs every handler registered for the update's job, in registration order.
func (c *Channel) dispatch(update model.JobUpdate) {
	c.mu.Lock()
	hs := c.handlers[update.JobID]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]UpdateHandler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, hs[id])
	}
	c.mu.Unlock()

	if len(fns) == 0 {
		c.log.Debug().Str("job_id", update.JobID).Msg("update for unsubscribed job dropped")
		return
	}
	for _, fn := range fns {
		fn(update)
	}
}

func (c *Channel) sendSubscribe(sess *session, jobID string) {
	data, err := model.NewEnvelope(model.WSEventSubscribeJob, jobID)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to marshal subscribe request")
		return
	}
	if !sess.enqueue(data) {
		c.log.Debug().Str("job_id", jobID).Msg("subscribe request lost, connection closing")
	}
}

func (c *Channel) notify(state State, err error) {
	c.mu.Lock()
	listeners := make([]StateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state, err)
	}
}

func withToken(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
