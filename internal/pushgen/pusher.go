package pushgen

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PushResult captures one push attempt.
type PushResult struct {
	Timestamp    time.Time
	Cycle        int
	Job          string
	Instance     string
	StatusCode   int
	LatencyMS    float64
	PayloadBytes int
	Err          string
}

// OK reports whether the push was accepted.
func (r PushResult) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Pusher delivers one payload to the gateway. The cycle driver only knows
// this narrow interface.
type Pusher interface {
	Push(ctx context.Context, cycle int, job, instance string, payload []byte) PushResult
}

// ProbeResult captures one /metrics endpoint probe.
type ProbeResult struct {
	Timestamp      time.Time
	Cycle          int
	ResponseBytes  int
	ResponseTimeMS float64
	StatusCode     int
	Err            string
}

// Prober measures the gateway's aggregate scrape output.
type Prober interface {
	Probe(ctx context.Context, cycle int) ProbeResult
}

// HTTPPusher pushes over HTTP with a pooled client. Ingress endpoints get an
// insecure TLS config, matching the self-signed certificates on the test
// ingress.
type HTTPPusher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPPusher builds a pusher for the given gateway endpoint.
func NewHTTPPusher(endpoint string, maxInflight int) *HTTPPusher {
	transport := &http.Transport{
		MaxIdleConns:        maxInflight,
		MaxIdleConnsPerHost: maxInflight,
		IdleConnTimeout:     30 * time.Second,
	}
	if strings.HasPrefix(endpoint, "https") {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPPusher{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// Push delivers one payload to /metrics/job/{job}/instance/{instance}.
func (p *HTTPPusher) Push(ctx context.Context, cycle int, job, instance string, payload []byte) PushResult {
	url := fmt.Sprintf("%s/metrics/job/%s/instance/%s", p.endpoint, job, instance)
	res := PushResult{
		Timestamp:    time.Now().UTC(),
		Cycle:        cycle,
		Job:          job,
		Instance:     instance,
		PayloadBytes: len(payload),
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		res.Err = truncate(err.Error(), 120)
		return res
	}
	resp, err := p.client.Do(req)
	res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		res.Err = truncate(err.Error(), 120)
		return res
	}
	// Drain the body to release the connection back to the pool.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	res.StatusCode = resp.StatusCode
	return res
}

// Probe fetches /metrics and records size and response time.
func (p *HTTPPusher) Probe(ctx context.Context, cycle int) ProbeResult {
	res := ProbeResult{Timestamp: time.Now().UTC(), Cycle: cycle}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/metrics", nil)
	if err != nil {
		res.Err = truncate(err.Error(), 120)
		return res
	}
	resp, err := p.client.Do(req)
	if err != nil {
		res.ResponseTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		res.Err = truncate(err.Error(), 120)
		return res
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	res.ResponseTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	res.ResponseBytes = len(body)
	res.StatusCode = resp.StatusCode
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
