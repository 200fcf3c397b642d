// Package plebbit implements the content-access client used to resolve
// communities and posts. It speaks JSON-RPC 2.0 over a websocket connection
// to a plebbit RPC endpoint.
package plebbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"plebfeed/models"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_rpc_connection_attempts_total",
		Help: "The total number of connection attempts to the plebbit RPC websocket",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plebfeed_rpc_connection_errors_total",
		Help: "The total number of connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plebfeed_rpc_current_connections",
		Help: "The current number of active plebbit RPC websocket connections",
	})

	rpcCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plebfeed_rpc_calls_total",
		Help: "The total number of RPC calls by method and outcome",
	}, []string{"method", "outcome"})

	rpcCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plebfeed_rpc_call_duration_seconds",
		Help:    "Duration of plebbit RPC calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

const (
	wsReadBufferSize  = 1024 * 1024 // 1MB
	wsWriteBufferSize = 64 * 1024
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
	wsReadTimeout     = 90 * time.Second
)

// API is the content-access surface the pipeline depends on. The transport
// behind it is an implementation detail of this package.
type API interface {
	// ResolveSubplebbit resolves a community address to its current handle.
	ResolveSubplebbit(ctx context.Context, address string) (*models.Subplebbit, error)

	// GetPage fetches one page of a community's posts index.
	GetPage(ctx context.Context, address string, pageCid string) (*models.Page, error)

	// GetComment fetches a single post by cid.
	GetComment(ctx context.Context, cid string) (*models.Post, error)

	// AwaitCommentUpdate opens a live update subscription for cid and waits
	// up to wait for the first update carrying a resolved timestamp. The
	// second return value reports whether an update resolved in time; a
	// timeout is not an error.
	AwaitCommentUpdate(ctx context.Context, cid string, wait time.Duration) (*models.CommentUpdate, bool, error)
}

// ClientConfig holds connection settings for the RPC client.
type ClientConfig struct {
	// Hosts is a list of RPC endpoints tried in order,
	// e.g. ["ws://localhost:9138"].
	Hosts     []string
	UserAgent string
}

// Client is a websocket JSON-RPC 2.0 client with redial and host failover.
type Client struct {
	config ClientConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID  uint64
	pending map[uint64]chan *rpcResponse
	subs    map[uint64]chan json.RawMessage

	closed chan struct{}
}

func NewClient(config ClientConfig) *Client {
	return &Client{
		config:  config,
		pending: make(map[uint64]chan *rpcResponse),
		subs:    make(map[uint64]chan json.RawMessage),
		closed:  make(chan struct{}),
	}
}

// Connect dials the first reachable RPC host, retrying with exponential
// backoff and failing over between hosts until the context is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	if len(c.config.Hosts) == 0 {
		return fmt.Errorf("no RPC hosts configured")
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
		NetDialContext: (&net.Dialer{
			Timeout:   45 * time.Second,
			KeepAlive: 45 * time.Second,
		}).DialContext,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0 // Never stop retrying

	currentHostIdx := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			currentHost := c.config.Hosts[currentHostIdx]
			wsConnectionAttempts.Inc()

			conn, _, err := dialer.DialContext(ctx, currentHost, nil)
			if err != nil {
				wsConnectionErrors.Inc()
				log.Errorf("Error connecting to RPC host %s: %s", currentHost, err)

				nextHostIdx := (currentHostIdx + 1) % len(c.config.Hosts)
				if nextHostIdx != currentHostIdx {
					log.Infof("Switching from RPC host %s to %s", currentHost, c.config.Hosts[nextHostIdx])
					currentHostIdx = nextHostIdx
					bo.Reset()
					continue
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(bo.NextBackOff()):
				}
				continue
			}

			bo.Reset()
			wsCurrentConnections.Inc()

			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			})

			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()

			go c.readLoop(ctx, conn)
			go c.managePing(ctx, conn)

			log.WithFields(log.Fields{
				"host": currentHost,
			}).Info("Connected to plebbit RPC")

			return nil
		}
	}
}

// Close tears down the connection and fails all pending calls.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.failAll(fmt.Errorf("client closed"))
}

func (c *Client) managePing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Warn("Ping failed, closing RPC connection for redial: ", err)
				wsConnectionErrors.Inc()
				conn.Close()
				return
			}
		}
	}
}

// readLoop dispatches responses to pending calls and subscription
// notifications to their channels. On a read error it tears the connection
// down and redials unless the client is closed.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		wsCurrentConnections.Dec()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			default:
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("Unexpected RPC websocket close: %v", err)
			}
			wsConnectionErrors.Inc()

			c.mu.Lock()
			c.conn = nil
			c.failAll(fmt.Errorf("connection lost: %w", err))
			c.mu.Unlock()

			if err := c.Connect(ctx); err != nil {
				log.Errorf("Could not reconnect to plebbit RPC: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		c.dispatch(data)
	}
}

// failAll must be called with c.mu held.
func (c *Client) failAll(err error) {
	for id, ch := range c.pending {
		ch <- &rpcResponse{err: err}
		delete(c.pending, id)
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}
