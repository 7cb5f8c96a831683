package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gwillem/lerobot-remote/pkg/input"
	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/relay"
)

var errNoRelay = errors.New("not connected to relay")

type RemoteCommand struct {
	URL string `long:"url" description:"Relay websocket URL (default from settings)"`
}

func (c *RemoteCommand) Execute(args []string) error {
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	url := rt.cfg.Remote.URL
	if c.URL != "" {
		url = c.URL
	}
	link := newRemoteLink(url, rt.cfg.ReconnectInterval(), rt.log.Named("remote"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		link.run(ctx)
	}()

	p := tea.NewProgram(newTeleopModel(tuiConfig{
		title: "LeRobot Remote " + url,
		arm:   rt.cfg.Control.Arm,
		views: link.views,
		logs:  link.logs,
		keys:  link,
		hold:  input.NewKeyHold(rt.cfg.ReleaseAfter(), 0),
		help:  "wasd/qe/rf/zx/cv move, +/- speed, * reset, esc emergency stop, ctrl+c quit",
	}), tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	<-done
	return runErr
}

// remoteLink keeps one relay connection alive, redialing after failures, and
// forwards keys to whichever connection is current.
type remoteLink struct {
	url   string
	retry time.Duration
	log   *logger.Logger

	mu     sync.Mutex
	client *relay.Client

	views chan view
	logs  chan string
}

func newRemoteLink(url string, retry time.Duration, log *logger.Logger) *remoteLink {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &remoteLink{
		url:   url,
		retry: retry,
		log:   log,
		views: make(chan view, 1),
		logs:  make(chan string, 10),
	}
}

func (l *remoteLink) Press(key string) error {
	c := l.current()
	if c == nil {
		return errNoRelay
	}
	return c.Press(key)
}

func (l *remoteLink) Release(key string) error {
	c := l.current()
	if c == nil {
		return errNoRelay
	}
	return c.Release(key)
}

func (l *remoteLink) current() *relay.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func (l *remoteLink) set(c *relay.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = c
}

// run dials until ctx is cancelled.
func (l *remoteLink) run(ctx context.Context) {
	for attempt := 1; ctx.Err() == nil; attempt++ {
		c, welcome, err := relay.Dial(ctx, l.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logf("Connect failed (attempt %d): %v", attempt, err)
			l.log.Warnw("relay connect failed", "url", l.url, "attempt", attempt, "err", err)
			l.push(view{Err: "relay unreachable"})
			if !pause(ctx, l.retry) {
				return
			}
			continue
		}

		attempt = 0
		l.logf("%s", welcome.Message)
		l.log.Infow("relay connected", "url", l.url)
		l.push(view{StatusData: welcome.Status})
		l.set(c)

		err = l.read(ctx, c)
		l.set(nil)
		_ = c.Close()
		if ctx.Err() != nil {
			return
		}
		l.logf("Disconnected: %v", err)
		l.log.Warnw("relay connection lost", "err", err)
		l.push(view{Err: "relay disconnected"})
		if !pause(ctx, l.retry) {
			return
		}
	}
}

// read consumes server messages until the connection fails or ctx ends.
func (l *remoteLink) read(ctx context.Context, c *relay.Client) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	for {
		m, err := c.Next()
		if err != nil {
			return err
		}
		if s, ok := m.Snapshot(); ok {
			l.push(view{StatusData: s})
		}
	}
}

// push replaces any view the TUI has not taken yet.
func (l *remoteLink) push(v view) {
	select {
	case l.views <- v:
	default:
		select {
		case <-l.views:
		default:
		}
		select {
		case l.views <- v:
		default:
		}
	}
}

func (l *remoteLink) logf(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case l.logs <- msg:
	default:
	}
}

// pause waits for d or until ctx is done, reporting whether the full wait elapsed.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
