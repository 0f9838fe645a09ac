package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/realtime"
	"github.com/thumbgen/tracker/internal/tracker"
	"github.com/thumbgen/tracker/internal/validation"
)

var errSessionRejected = errors.New("session rejected by server (run: thumbtrack login)")

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	plain := fs.Bool("plain", false, "print status lines instead of the dashboard")
	mirrorBucket := fs.Bool("mirror", false, "copy completed thumbnails to the configured R2 bucket")
	outDir := fs.String("out", ".", "directory for downloaded thumbnails")
	timeout := fs.Duration("timeout", 0, "give up waiting after this long in plain mode (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: thumbtrack upload [--plain] [--mirror] [--out dir] <file>...")
	}

	files, err := localFiles(fs.Args())
	if err != nil {
		return err
	}

	interactive := !*plain && stdinIsTTY()
	e, err := loadEnv(!interactive)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.requireSession(); err != nil {
		return err
	}

	channel := realtime.New(realtime.Options{
		URL:               e.cfg.Realtime.URL,
		ReconnectAttempts: e.cfg.Realtime.ReconnectAttempts,
		ReconnectDelay:    e.cfg.Realtime.ReconnectDelay(),
		HandshakeTimeout:  time.Duration(e.cfg.Realtime.HandshakeTimeout) * time.Second,
		Logger:            e.log,
	})
	ctrl := tracker.NewController(tracker.Options{
		Channel:   channel,
		Gateway:   e.api,
		Auth:      e.store,
		Validator: validation.New(),
		Logger:    e.log,
	})

	var m *mirror
	if *mirrorBucket {
		if !e.cfg.R2.Enabled() {
			return errors.New("--mirror needs R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME")
		}
		r2, err := client.NewR2Client(&e.cfg.R2)
		if err != nil {
			return fmt.Errorf("failed to create R2 client: %w", err)
		}
		m = newMirror(e.api, r2, e.log)
		ctrl.OnChange(m.OnChange)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dl := &downloader{api: e.api, dir: *outDir}
	if interactive {
		err = runDashboard(ctx, ctrl, dl, files)
	} else {
		err = runPlain(ctx, ctrl, os.Stdout, files, *timeout)
	}

	ctrl.Teardown()
	if m != nil {
		m.Wait()
	}
	return err
}

// connect opens the push channel. Only a refused credential is fatal; any
// other failure leaves the jobs tracked without live updates.
func connect(ctx context.Context, ctrl *tracker.Controller) error {
	err := ctrl.Connect(ctx)
	var connErr *realtime.ConnectionError
	if errors.As(err, &connErr) && connErr.Rejected() {
		return errSessionRejected
	}
	return err
}

func runPlain(ctx context.Context, ctrl *tracker.Controller, out io.Writer, files []model.UploadFile, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rep := newPlainReporter(out)
	dirty := make(chan struct{}, 1)
	ctrl.OnChange(func(jobs []model.TrackedJob) {
		rep.OnChange(jobs)
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	ctrl.OnConnectionChange(rep.OnConnection)

	if err := connect(ctx, ctrl); err != nil {
		if errors.Is(err, errSessionRejected) {
			return err
		}
		fmt.Fprintf(out, "-- live updates unavailable: %v\n", err)
	}

	res, err := ctrl.Submit(ctx, files)
	if res != nil {
		for _, r := range res.Rejected {
			fmt.Fprintf(out, "rejected %s: %s\n", r.Name, r.Reason)
		}
	}
	if err != nil {
		return err
	}
	if len(res.LocalIDs) == 0 {
		return nil
	}

	for !allTerminal(ctrl.Snapshot()) {
		select {
		case <-dirty:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("gave up waiting after %s", timeout)
			}
			return nil
		}
	}

	for _, job := range ctrl.Snapshot() {
		if job.Status == model.JobStatusFailed {
			return errors.New("one or more thumbnails failed")
		}
	}
	return nil
}

func runDashboard(ctx context.Context, ctrl *tracker.Controller, dl *downloader, files []model.UploadFile) error {
	actions := &engineActions{ctx: ctx, ctrl: ctrl, dl: dl}
	p := tea.NewProgram(newDashboardModel(actions), tea.WithAltScreen(), tea.WithContext(ctx))

	bridge := newUIBridge(p, ctrl)
	ctrl.OnChange(func([]model.TrackedJob) { bridge.markDirty() })
	ctrl.OnConnectionChange(bridge.connection)
	go bridge.run()
	defer bridge.stop()

	go func() {
		if err := connect(ctx, ctrl); err != nil {
			bridge.connection(realtime.StateDisconnected, err)
		}
		res, err := ctrl.Submit(ctx, files)
		p.Send(submitMsg{result: res, err: err})
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// engineActions adapts the controller and downloader to the dashboard.
type engineActions struct {
	ctx  context.Context
	ctrl *tracker.Controller
	dl   *downloader
}

func (a *engineActions) Remove(key string) bool {
	return a.ctrl.Remove(key)
}

func (a *engineActions) Download(job model.TrackedJob) (string, error) {
	return a.dl.Download(a.ctx, job)
}

func (a *engineActions) Teardown() {
	a.ctrl.Teardown()
}

// uiBridge forwards engine notifications to the program from its own
// goroutine. Notifications can fire while the program is inside Update, where
// a direct Send would block.
type uiBridge struct {
	p    *tea.Program
	ctrl *tracker.Controller

	dirty chan struct{}
	conn  chan connectionMsg
	done  chan struct{}
}

func newUIBridge(p *tea.Program, ctrl *tracker.Controller) *uiBridge {
	return &uiBridge{
		p:     p,
		ctrl:  ctrl,
		dirty: make(chan struct{}, 1),
		conn:  make(chan connectionMsg, 32),
		done:  make(chan struct{}),
	}
}

func (b *uiBridge) markDirty() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

func (b *uiBridge) connection(state realtime.State, err error) {
	select {
	case b.conn <- connectionMsg{state: state, err: err}:
	case <-b.done:
	default:
	}
}

func (b *uiBridge) run() {
	for {
		select {
		case <-b.dirty:
			b.p.Send(snapshotMsg(b.ctrl.Snapshot()))
		case msg := <-b.conn:
			b.p.Send(msg)
		case <-b.done:
			return
		}
	}
}

func (b *uiBridge) stop() {
	close(b.done)
}
