package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/engeditor/session/auth"
	enet "github.com/engeditor/session/internal/net"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client talks to one RPC endpoint on a loopback port.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL string
	wsURL   string
	token   string

	retryMax     int
	waitInterval time.Duration
}

type ClientOption func(c *Client)

// WithRetryMax retries requests that fail to connect. Requests that reach the server are never
// retried, so a spawn request cannot launch two front ends.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		c.retryMax = n
	}
}

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("rpc_client").Sugar()
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(log *zap.SugaredLogger, port uint16, token string, opts ...ClientOption) *Client {
	addr := enet.LoopbackAddr(port)
	c := &Client{
		Logger:       log.Named("rpc_client"),
		baseURL:      "http://" + addr,
		wsURL:        "ws://" + addr,
		token:        token,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	retryClient.RetryMax = c.retryMax
	retryClient.CheckRetry = retryConnErrors
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 50 * time.Millisecond
	}
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

func retryConnErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

func (c *Client) prepReq(r *http.Request) {
	r.Header.Add("Content-Type", "application/json")
	auth.SetHeader(r.Header, c.token)
	r.Close = true
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.prepReq(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return auth.ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		var respBody string
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			respBody = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			respBody = string(bytes.TrimSpace(b))
		}
		return fmt.Errorf("non-200 HTTP status code %d: %s", resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) Heartbeat(ctx context.Context) (HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var resp HeartbeatResponse
	err := c.do(ctx, http.MethodGet, pathHeartbeat, nil, &resp)
	return resp, err
}

// SpawnFrontEnd asks a broker to launch one more front end.
func (c *Client) SpawnFrontEnd(ctx context.Context) error {
	var resp SpawnFrontEndResponse
	if err := c.do(ctx, http.MethodPost, pathFrontEnds, SpawnFrontEndRequest{}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("broker reported front end spawn failure")
	}
	return nil
}

// WaitForServer polls the heartbeat until it succeeds or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		_, err := c.Heartbeat(ctx)
		if err == nil {
			c.Logger.Debug("heartbeat succeeded, done waiting for server")
			return nil
		}
		if errors.Is(err, auth.ErrUnauthenticated) {
			return err
		}
		c.Logger.Debugf("got heartbeat error: %s", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// OpenHandshake starts a handshake stream. The caller must Close it.
func (c *Client) OpenHandshake(ctx context.Context) (*HandshakeStream, error) {
	header := http.Header{}
	auth.SetHeader(header, c.token)

	c.Logger.Debugw("dialing WebSocket for handshake", "URL", c.wsURL+pathHandshake)
	conn, resp, err := websocket.Dial(ctx, c.wsURL+pathHandshake, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		HTTPHeader:      header,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("establishing WebSocket conn for handshake: %w", err)
	}
	return &HandshakeStream{conn: conn}, nil
}

// Handshake sends msgs over one stream and returns the replies in order.
func (c *Client) Handshake(ctx context.Context, msgs []string) ([]string, error) {
	stream, err := c.OpenHandshake(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	replies := make([]string, 0, len(msgs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for _, msg := range msgs {
			if err := stream.Send(groupCtx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	group.Go(func() error {
		for range msgs {
			reply, err := stream.Recv(groupCtx)
			if err != nil {
				return err
			}
			replies = append(replies, reply)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return replies, err
	}
	return replies, nil
}

// HandshakeStream is the client side of one handshake exchange.
type HandshakeStream struct {
	conn      *websocket.Conn
	mut       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *HandshakeStream) Send(ctx context.Context, msg string) error {
	if err := wsjson.Write(ctx, s.conn, HandshakeRequest{ClientMessage: msg}); err != nil {
		return fmt.Errorf("sending handshake message: %w", err)
	}
	return nil
}

func (s *HandshakeStream) Recv(ctx context.Context) (string, error) {
	var resp HandshakeResponse
	if err := wsjson.Read(ctx, s.conn, &resp); err != nil {
		return "", fmt.Errorf("receiving handshake message: %w", err)
	}
	return resp.ServerMessage, nil
}

// Exchange sends msg and waits for its reply. Concurrent calls are serialized so replies
// are never matched to the wrong request.
func (s *HandshakeStream) Exchange(ctx context.Context, msg string) (string, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if err := s.Send(ctx, msg); err != nil {
		return "", err
	}
	return s.Recv(ctx)
}

// Close ends the exchange normally.
func (s *HandshakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return s.closeErr
}
