// Package relay lets remote operators drive the teleop engine over WebSocket
// and HTTP. Commands from every client go to one shared dispatcher queue; each
// client receives periodic status snapshots on its own schedule.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/lerobot-remote/pkg/journal"
	"github.com/gwillem/lerobot-remote/pkg/logger"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

// DefaultWelcome is the welcome message text.
const DefaultWelcome = "Connected to SO-100 Remote Server"

const (
	writeWait   = 5 * time.Second
	maxMsgSize  = 1 << 12 // 4 KB
	replyWait   = 2 * time.Second
	defaultPing = 20 * time.Second
)

// Submitter accepts events for the engine. *teleop.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, ev teleop.Event) error
}

// EventLister reads the journal. *journal.Journal satisfies it.
type EventLister interface {
	List(ctx context.Context, limit int, kind string) ([]journal.Event, error)
}

// Options configures a Relay. Zero values select defaults.
type Options struct {
	StatusInterval time.Duration
	PingInterval   time.Duration
	Welcome        string
	Journal        EventLister
	Recorder       teleop.Recorder
	Logger         *logger.Logger
}

// Relay serves the remote-control endpoints.
type Relay struct {
	submit   Submitter
	status   func() teleop.Status
	opts     Options
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]context.CancelFunc
}

// New returns a relay submitting to sub and reporting status().
func New(sub Submitter, status func() teleop.Status, opts Options) *Relay {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 100 * time.Millisecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPing
	}
	if opts.Welcome == "" {
		opts.Welcome = DefaultWelcome
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Relay{
		submit: sub,
		status: status,
		opts:   opts,
		log:    opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]context.CancelFunc),
	}
}

// Router returns the gin engine with every route registered.
func (r *Relay) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", r.handleIndex)
	router.GET("/healthz", r.handleHealth)
	router.GET("/ws", r.handleWS)

	api := router.Group("/api")
	api.GET("/status", r.handleStatus)
	api.POST("/command", r.handleCommand)
	api.GET("/events", r.handleEvents)
	return router
}

// Serve listens on addr until ctx is cancelled, then closes every client and
// shuts the server down.
func (r *Relay) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Infow("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	r.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Clients returns the ids of connected clients, sorted.
func (r *Relay) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Disconnect ends one client's session.
func (r *Relay) Disconnect(id string) bool {
	r.mu.Lock()
	cancel, ok := r.clients[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CloseAll ends every client session.
func (r *Relay) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.clients {
		cancel()
	}
}

func (r *Relay) add(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = cancel
}

func (r *Relay) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *Relay) record(kind, msg string, meta map[string]any) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.Record(kind, msg, meta)
	}
}

func (r *Relay) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": r.opts.Welcome,
		"clients": len(r.Clients()),
	})
}

func (r *Relay) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Relay) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusUpdate(r.status()))
}

func (r *Relay) handleCommand(c *gin.Context) {
	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	ev, err := cmd.Event("http:" + c.ClientIP())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var reply chan teleop.Status
	if ev.Kind == teleop.EventStatus {
		reply = make(chan teleop.Status, 1)
		ev.Reply = func(s teleop.Status) { reply <- s }
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), replyWait)
	defer cancel()
	if err := r.submit.Submit(ctx, ev); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if reply == nil {
		c.JSON(http.StatusAccepted, newAck(cmd.Type))
		return
	}
	select {
	case s := <-reply:
		c.JSON(http.StatusOK, newStatusUpdate(s))
	case <-ctx.Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "status not available"})
	}
}

func (r *Relay) handleEvents(c *gin.Context) {
	if r.opts.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	events, err := r.opts.Journal.List(c.Request.Context(), limit, c.Query("kind"))
	if err != nil {
		r.log.Errorw("list events failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Relay) handleWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	r.serveClient(c.Request.Context(), conn)
}

// session is one connected websocket client. Writes from its two activities
// are serialized by mu.
type session struct {
	id      string
	conn    *websocket.Conn
	mu      sync.Mutex
	replies chan teleop.Status
}

func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// reply hands a status to the writer activity without blocking the dispatcher.
func (s *session) reply(st teleop.Status) {
	select {
	case s.replies <- st:
	default:
	}
}

func (r *Relay) serveClient(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s := &session{id: uuid.NewString(), conn: conn, replies: make(chan teleop.Status, 4)}
	remote := conn.RemoteAddr().String()

	r.add(s.id, cancel)
	defer r.remove(s.id)
	defer conn.Close()

	log := r.log.With("client_id", s.id, "remote", remote)
	log.Infow("client connected")
	r.record("client", "connected", map[string]any{"client_id": s.id, "remote": remote})
	defer func() {
		log.Infow("client disconnected")
		r.record("client", "disconnected", map[string]any{"client_id": s.id, "remote": remote})
	}()

	pongWait := 3 * r.opts.PingInterval
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	welcome := Welcome{Type: TypeWelcome, Message: r.opts.Welcome, Status: NewStatusData(r.status())}
	if err := s.writeJSON(welcome); err != nil {
		log.Warnw("welcome failed", "err", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.readCommands(gctx, s, pongWait, log) })
	g.Go(func() error { return r.sendStatus(gctx, s) })
	g.Go(func() error {
		// unblocks ReadMessage once either activity ends
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !isClosed(err) {
		log.Debugw("client session ended", "err", err)
	}
}

// readCommands decodes inbound messages, acks each well-formed one and queues
// its event. It never touches the engine directly.
func (r *Relay) readCommands(ctx context.Context, s *session, pongWait time.Duration, log *logger.Logger) error {
	source := "ws:" + s.id
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warnw("invalid JSON dropped", "err", err, "message", string(data))
			continue
		}
		if err := s.writeJSON(newAck(cmd.Type)); err != nil {
			return err
		}

		ev, err := cmd.Event(source)
		if err != nil {
			log.Warnw("command ignored", "err", err)
			continue
		}
		if ev.Kind == teleop.EventStatus {
			ev.Reply = s.reply
		}
		if err := r.submit.Submit(ctx, ev); err != nil {
			return err
		}
	}
}

// sendStatus writes a status_update every interval, any requested status
// replies, and keepalive pings.
func (r *Relay) sendStatus(ctx context.Context, s *session) error {
	ticker := time.NewTicker(r.opts.StatusInterval)
	ping := time.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-s.replies:
			if err := s.writeJSON(newStatusUpdate(st)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.writeJSON(newStatusUpdate(r.status())); err != nil {
				return err
			}
		case <-ping.C:
			if err := s.ping(); err != nil {
				return err
			}
		}
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
