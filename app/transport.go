package app

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewTransport is the round tripper shared by every outbound HTTP client.
func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return &transport{http.DefaultTransport, log}
}

type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := tpt.base.RoundTrip(req)

	args := []any{"method", req.Method, "host", req.URL.Host, "elapsed_msecs", int(time.Since(start).Milliseconds())}
	if err != nil {
		tpt.log.Sugar().Debugw("Outbound request failed", append(args, "err", err)...)
		return res, err
	}
	tpt.log.Sugar().Debugw("Outbound request", append(args, "status", res.StatusCode)...)
	return res, nil
}
