package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// statusEnhanceYourCalm is the legacy streaming rate-limit status.
const statusEnhanceYourCalm = 420

var errDisconnected = errors.New("upstream sent disconnect")

// WebsocketUpstream opens filter streams over a websocket endpoint.
type WebsocketUpstream struct {
	log         *zap.Logger
	url         string
	token       string
	readTimeout time.Duration
	dialer      *websocket.Dialer
}

func NewWebsocketUpstream(cfg *config.Config, log *zap.Logger) *WebsocketUpstream {
	return &WebsocketUpstream{
		log:         log,
		url:         cfg.Stream.URL,
		token:       cfg.Stream.Token,
		readTimeout: cfg.Stream.ReadTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (u *WebsocketUpstream) Open(ctx context.Context, follow []string) (Stream, error) {
	headers := http.Header{}
	if u.token != "" {
		headers.Set("Authorization", "Bearer "+u.token)
	}

	conn, resp, err := u.dialer.DialContext(ctx, u.url, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == statusEnhanceYourCalm || resp.StatusCode == http.StatusTooManyRequests) {
			return nil, &RateLimitError{RetryAfter: retryAfterHeader(resp.Header)}
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	if err := conn.WriteJSON(filterRequest{Action: "filter", Follow: follow}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send filter: %w", err)
	}
	u.log.Sugar().Infow("Opened upstream stream", "follow", len(follow))
	return &wsStream{conn: conn, readTimeout: u.readTimeout}, nil
}

type wsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
}

func (s *wsStream) Next(ctx context.Context) (*models.StreamEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}

		switch {
		case f.Type == "rate_limit":
			return nil, &RateLimitError{RetryAfter: time.Duration(f.RetryAfter) * time.Second}
		case f.Type == "disconnect":
			return nil, fmt.Errorf("%w: %s", errDisconnected, f.Reason)
		case f.isStatus():
			return f.event(), nil
		}
		// Keep-alives and unknown control frames.
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func retryAfterHeader(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
