package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/reelroom/reel/internal/backend/schema"
)

// ClientConfig holds client configuration
type ClientConfig struct {
	// BaseURL of the server, e.g. http://localhost:8080
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	// HandshakeTimeout bounds the dial plus the wait for the acknowledgement
	// (default: 10s)
	HandshakeTimeout time.Duration

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// Client subscribes to a remote Server.
type Client struct {
	endpoint         string
	token            string
	handshakeTimeout time.Duration
	logger           *log.Logger
}

// NewClient creates a realtime client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path += "/realtime"

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}

	return &Client{
		endpoint:         u.String(),
		token:            config.Token,
		handshakeTimeout: config.HandshakeTimeout,
		logger:           config.Logger,
	}, nil
}

// Subscribe dials the server and returns once the server has acknowledged
// the subscription, so that every change committed afterwards reaches
// handler.
func (c *Client) Subscribe(ctx context.Context, key schema.FilterKey, handler Handler) (Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter key: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	conn, resp, err := websocket.Dial(dialCtx, c.endpoint+"?filter="+url.QueryEscape(key.String()), opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %s: %w", key, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}
	conn.SetReadLimit(1 << 20)

	_, data, err := conn.Read(dialCtx)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "")
		return nil, fmt.Errorf("failed to read subscription ack: %w", err)
	}
	ack, err := decodeMessage(data)
	if err != nil || ack.Type != MessageTypeSubscribed {
		_ = conn.Close(websocket.StatusProtocolError, "expected subscribed")
		return nil, fmt.Errorf("unexpected first message from server: %s", data)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	sub := &clientSubscription{
		id:      ack.Subscription,
		key:     key,
		conn:    conn,
		handler: handler,
		cancel:  runCancel,
		done:    make(chan struct{}),
		logger:  c.logger,
	}
	go sub.readLoop(runCtx)

	return sub, nil
}

type clientSubscription struct {
	id      string
	key     schema.FilterKey
	conn    *websocket.Conn
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *log.Logger

	stopped  atomic.Bool
	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// ID returns the server-assigned subscription id.
func (s *clientSubscription) ID() string {
	return s.id
}

// Done is closed when the connection ends.
func (s *clientSubscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the connection ended, or nil while it is open or after a
// clean Unsubscribe.
func (s *clientSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *clientSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (s *clientSubscription) readLoop(ctx context.Context) {
	defer close(s.done)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if !s.stopped.Load() && !errors.Is(err, context.Canceled) {
				s.logger.Printf("Subscription %s to %s lost: %v", s.id, s.key, err)
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			s.logger.Printf("Warning: skipping malformed message: %v", err)
			continue
		}
		change, err := msg.Change()
		if err != nil {
			s.logger.Printf("Warning: skipping message: %v", err)
			continue
		}

		if s.stopped.Load() {
			return
		}
		Dispatch(s.handler, change)
	}
}
