package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/realtime"
)

// ErrClosed is returned by operations started on, or interrupted by, a torn down controller.
var ErrClosed = errors.New("controller torn down")

// Gateway submits a batch of files to the server
type Gateway interface {
	Upload(ctx context.Context, files []model.UploadFile) (*model.UploadResponse, error)
}

// Channel is the push connection the controller drives
type Channel interface {
	Connect(ctx context.Context, credential string) error
	Subscribe(jobID string, fn realtime.UpdateHandler) func()
	Disconnect()
	OnStateChange(fn realtime.StateListener)
}

// AuthProvider supplies the bearer credential
type AuthProvider interface {
	Token() (string, error)
}

// Validator splits a selection into accepted files and per-file rejections.
// A non-nil error rejects the whole batch.
type Validator interface {
	Validate(files []model.UploadFile) ([]model.UploadFile, []model.FileRejection, error)
}

// Options wires a Controller
type Options struct {
	Registry    *Registry
	Channel     Channel
	Gateway     Gateway
	Auth        AuthProvider
	Validator   Validator
	IDGenerator func() string
	Logger      zerolog.Logger
}

// SubmitResult describes what one Submit call did
type SubmitResult struct {
	LocalIDs    []string
	Rejected    []model.FileRejection
	Correlation CorrelationResult
}

// Controller ties the registry, the push channel and the upload gateway together.
type Controller struct {
	reg       *Registry
	ch        Channel
	gw        Gateway
	auth      AuthProvider
	validator Validator
	newID     func() string
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]func()
	closed bool

	listenersMu    sync.Mutex
	listeners      []func([]model.TrackedJob)
	stateListeners []realtime.StateListener

	// held while a snapshot is taken and delivered
	notifyMu sync.Mutex

	teardownOnce sync.Once
}

// NewController creates a controller and attaches it to the channel's lifecycle events.
func NewController(opts Options) *Controller {
	if opts.Registry == nil {
		opts.Registry = NewRegistry(opts.Logger)
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		reg:       opts.Registry,
		ch:        opts.Channel,
		gw:        opts.Gateway,
		auth:      opts.Auth,
		validator: opts.Validator,
		newID:     opts.IDGenerator,
		log:       opts.Logger.With().Str("component", "controller").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string]func()),
	}
	c.ch.OnStateChange(c.onChannelState)
	return c
}

// Connect opens the push channel with the current credential.
func (c *Controller) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.auth == nil {
		return fmt.Errorf("failed to connect: no credential provider")
	}
	token, err := c.auth.Token()
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}

	cctx, cancel := c.scoped(ctx)
	defer cancel()

	err = c.ch.Connect(cctx, token)
	if c.isClosed() {
		return ErrClosed
	}
	return err
}

// Submit validates files, tracks every accepted one and uploads them as one batch.
// Upload failure marks the whole batch failed and is returned wrapped.
func (c *Controller) Submit(ctx context.Context, files []model.UploadFile) (*SubmitResult, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	res := &SubmitResult{}
	accepted := files
	if c.validator != nil {
		var err error
		accepted, res.Rejected, err = c.validator.Validate(files)
		if err != nil {
			return res, err
		}
	}
	if len(accepted) == 0 {
		return res, nil
	}

	entries := make([]model.TrackedJob, len(accepted))
	for i, f := range accepted {
		kind, _ := model.KindFromContentType(f.ContentType)
		entries[i] = model.TrackedJob{
			LocalID:   c.newID(),
			FileName:  f.Name,
			Size:      f.Size,
			MediaKind: kind,
			Status:    model.JobStatusPending,
		}
		res.LocalIDs = append(res.LocalIDs, entries[i].LocalID)
	}
	if err := c.reg.InsertBatch(entries); err != nil {
		c.log.Error().Err(err).Msg("failed to track batch")
		return res, err
	}
	c.changed()

	cctx, cancel := c.scoped(ctx)
	defer cancel()

	resp, err := c.gw.Upload(cctx, accepted)
	if c.isClosed() {
		return res, ErrClosed
	}
	if err != nil {
		n := c.reg.MarkBatchFailed(res.LocalIDs, "upload failed")
		c.log.Error().Err(err).Int("files", len(accepted)).Int("failed", n).Msg("batch upload failed")
		c.changed()
		return res, fmt.Errorf("failed to upload batch: %w", err)
	}

	var descriptors []model.JobDescriptor
	if resp != nil {
		descriptors = resp.Jobs
	}
	res.Correlation = c.reg.Correlate(res.LocalIDs, descriptors)
	if len(res.Correlation.Unmatched) > 0 {
		c.log.Warn().Strs("local_ids", res.Correlation.Unmatched).Msg("files got no job in upload response, left pending")
	}
	c.log.Info().Int("files", len(accepted)).Int("matched", len(res.Correlation.Matched)).Msg("batch uploaded")

	c.changed()
	c.resync(false)
	return res, nil
}

// Resync brings the channel subscriptions in line with the non-terminal jobs.
func (c *Controller) Resync() {
	c.resync(false)
}

// resync subscribes to newly active jobs and drops handles for jobs that are no
// longer active. force drops every handle first, for use after a reconnect.
func (c *Controller) resync(force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	desired := c.reg.ActiveServerIDs()
	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}

	for id, unsubscribe := range c.subs {
		if force || !want[id] {
			unsubscribe()
			delete(c.subs, id)
		}
	}
	for _, id := range desired {
		if _, ok := c.subs[id]; !ok {
			c.subs[id] = c.ch.Subscribe(id, c.onPushEvent)
		}
	}
}

func (c *Controller) onPushEvent(update model.JobUpdate) {
	if c.isClosed() {
		return
	}
	job, changed := c.reg.Merge(update)
	if !changed {
		return
	}
	c.log.Debug().Str("job_id", update.JobID).Str("status", string(job.Status)).Msg("job updated")
	c.changed()
	if job.Status.IsTerminal() {
		c.resync(false)
	}
}

func (c *Controller) onChannelState(state realtime.State, err error) {
	if c.isClosed() {
		return
	}
	switch state {
	case realtime.StateConnected:
		c.resync(true)
	case realtime.StateDisconnected:
		if err != nil {
			c.log.Warn().Err(err).Msg("live updates unavailable")
		}
	}

	c.listenersMu.Lock()
	listeners := make([]realtime.StateListener, len(c.stateListeners))
	copy(listeners, c.stateListeners)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(state, err)
	}
}

// Remove stops tracking the job stored under key. Unknown keys are ignored.
func (c *Controller) Remove(key string) bool {
	if !c.reg.Remove(key) {
		return false
	}
	c.changed()
	c.resync(false)
	return true
}

// Snapshot returns the tracked jobs in insertion order.
func (c *Controller) Snapshot() []model.TrackedJob {
	return c.reg.Snapshot()
}

// Subscriptions lists the job ids the controller currently holds handles for.
func (c *Controller) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

// OnChange registers fn to receive a fresh snapshot after every registry change.
// Snapshots are delivered one at a time in the order they were taken, so the
// last one a listener saw is always current. fn must not call back into the
// controller.
func (c *Controller) OnChange(fn func([]model.TrackedJob)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// OnConnectionChange registers fn for push channel state transitions.
func (c *Controller) OnConnectionChange(fn realtime.StateListener) {
	c.listenersMu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.listenersMu.Unlock()
}

func (c *Controller) changed() {
	c.listenersMu.Lock()
	listeners := make([]func([]model.TrackedJob), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	if len(listeners) == 0 {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	snap := c.reg.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Teardown unsubscribes everything, disconnects the channel and abandons any
// in-flight submit or connect. Only the first call has an effect.
func (c *Controller) Teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = make(map[string]func())
		c.mu.Unlock()

		for _, unsubscribe := range subs {
			unsubscribe()
		}
		c.cancel()
		c.ch.Disconnect()
		c.log.Info().Int("subscriptions", len(subs)).Msg("controller torn down")
	})
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scoped derives a context that also ends when the controller is torn down.
func (c *Controller) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}
