package llm

import (
	"net"
	"net/http"
	"time"

	"legalmind/internal/infra/config"
)

// Provider HTTP defaults. A run talks to one or two provider hosts with a
// handful of concurrent agent calls, so the pool stays small.
const (
	defaultConnTimeout     = 30 * time.Second
	defaultRespTimeout     = 120 * time.Second
	defaultMaxIdleConns    = 20
	defaultMaxIdlePerHost  = 10
	defaultMaxConnsPerHost = 20
	defaultIdleConnTimeout = 120 * time.Second
)

// NewHTTPClient builds the pooled client used by HTTP providers. The client
// timeout covers connect plus response.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	conn := positiveOr(cfg.ConnTimeout, defaultConnTimeout)
	resp := positiveOr(cfg.RespTimeout, defaultRespTimeout)
	return &http.Client{
		Transport: newTransport(conn, resp, cfg.Pool),
		Timeout:   conn + resp,
	}
}

func newTransport(conn, resp time.Duration, pool config.PoolConfig) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   conn,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: resp,
		MaxIdleConns:          positiveOr(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   positiveOr(pool.MaxIdleConnsPerHost, defaultMaxIdlePerHost),
		MaxConnsPerHost:       positiveOr(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       positiveOr(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

func positiveOr[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
