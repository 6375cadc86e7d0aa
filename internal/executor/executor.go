// Package executor runs a single check against a target and classifies
// the outcome. The teacher has no network-probing component to ground
// this on; the dispatch-over-a-closed-set-of-check-types shape follows
// the design note's guidance ("tagged variant rather than any form of
// v-table") and the original monitoring/validation.rs's check-type
// enumeration.
package executor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/uppe-net/uppe/internal/monitor"
)

// DefaultDegradedThresholdMS is the latency above which a successful
// check is reported Degraded instead of Up.
const DefaultDegradedThresholdMS = 1000

// maxProbeResponseBodyBytes caps how much of an ad-hoc probe's response
// body ExecuteProbe buffers, so an unbounded remote response can't grow
// the probe handler's memory use without limit.
const maxProbeResponseBodyBytes = 1 << 20

// Executor runs checks with a configured degraded-latency threshold.
type Executor struct {
	DegradedThresholdMS uint64
	httpClient          *http.Client
}

// New creates an Executor. degradedThresholdMS of 0 uses the default.
func New(degradedThresholdMS uint64) *Executor {
	if degradedThresholdMS == 0 {
		degradedThresholdMS = DefaultDegradedThresholdMS
	}
	return &Executor{
		DegradedThresholdMS: degradedThresholdMS,
		httpClient:          &http.Client{},
	}
}

// Execute runs a single check against target using checkType, with the
// given timeout, and returns a CheckResult with PeerID left empty (the
// caller signs and stamps identity).
func (e *Executor) Execute(ctx context.Context, monitorUUID [16]byte, target string, checkType monitor.CheckType, timeout time.Duration) monitor.CheckResult {
	switch checkType {
	case monitor.CheckHTTP, monitor.CheckHTTPS:
		return e.executeHTTP(ctx, target, timeout)
	case monitor.CheckTCP:
		return e.executeTCP(ctx, target, timeout)
	case monitor.CheckICMP:
		return e.executeICMP(target)
	default:
		msg := fmt.Sprintf("unsupported check type: %s", checkType)
		return monitor.CheckResult{
			Target:       target,
			Timestamp:    time.Now(),
			Status:       monitor.StatusDown,
			ErrorMessage: &msg,
		}
	}
}

// ProbeResult is the outcome of an ExecuteProbe call: a raw HTTP
// response description rather than a monitor.CheckResult, since an
// on-demand probe (the /peerup/probe/1.0 protocol) carries its own
// method/headers/body instead of a monitor's fixed check type.
type ProbeResult struct {
	Status     int
	DurationMS uint64
	Headers    map[string]string
	Body       *string
	Err        error
}

// ExecuteProbe runs a single ad-hoc HTTP request for the request-response
// probe protocol (§6): arbitrary method, headers, and body, rather than
// the fixed GET a scheduled monitor check always sends.
func (e *Executor) ExecuteProbe(ctx context.Context, method, targetURL string, headers map[string]string, body *string, timeout time.Duration) ProbeResult {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if method == "" {
		method = http.MethodGet
	}
	var bodyReader *strings.Reader
	if body != nil {
		bodyReader = strings.NewReader(*body)
	}

	var req *http.Request
	var err error
	if bodyReader != nil {
		req, err = http.NewRequestWithContext(reqCtx, method, targetURL, bodyReader)
	} else {
		req, err = http.NewRequestWithContext(reqCtx, method, targetURL, nil)
	}
	if err != nil {
		return ProbeResult{DurationMS: uint64(time.Since(start).Milliseconds()), Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	durationMS := uint64(time.Since(start).Milliseconds())
	if err != nil {
		return ProbeResult{DurationMS: durationMS, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeResponseBodyBytes))
	if err != nil {
		return ProbeResult{DurationMS: durationMS, Err: err}
	}
	bodyStr := string(respBody)

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return ProbeResult{
		Status:     resp.StatusCode,
		DurationMS: durationMS,
		Headers:    respHeaders,
		Body:       &bodyStr,
	}
}

func (e *Executor) executeHTTP(ctx context.Context, target string, timeout time.Duration) monitor.CheckResult {
	start := time.Now()
	now := start

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		msg := err.Error()
		return monitor.CheckResult{Target: target, Timestamp: now, Status: monitor.StatusDown, ErrorMessage: &msg}
	}

	resp, err := e.httpClient.Do(req)
	latencyMS := uint64(time.Since(start).Milliseconds())
	if err != nil {
		msg := err.Error()
		return monitor.CheckResult{
			Target: target, Timestamp: now, Status: monitor.StatusDown,
			LatencyMS: &latencyMS, ErrorMessage: &msg,
		}
	}
	defer resp.Body.Close()

	status := monitor.StatusDown
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		status = e.classifyLatency(latencyMS)
	}

	code := resp.StatusCode
	return monitor.CheckResult{
		Target: target, Timestamp: now, Status: status,
		LatencyMS: &latencyMS, StatusCode: &code,
	}
}

func (e *Executor) executeTCP(ctx context.Context, target string, timeout time.Duration) monitor.CheckResult {
	start := time.Now()
	now := start

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	latencyMS := uint64(time.Since(start).Milliseconds())
	if err != nil {
		msg := err.Error()
		return monitor.CheckResult{
			Target: target, Timestamp: now, Status: monitor.StatusDown,
			LatencyMS: &latencyMS, ErrorMessage: &msg,
		}
	}
	conn.Close()

	return monitor.CheckResult{
		Target: target, Timestamp: now, Status: e.classifyLatency(latencyMS),
		LatencyMS: &latencyMS,
	}
}

func (e *Executor) executeICMP(target string) monitor.CheckResult {
	msg := "ICMP not implemented"
	return monitor.CheckResult{
		Target: target, Timestamp: time.Now(), Status: monitor.StatusDown,
		ErrorMessage: &msg,
	}
}

func (e *Executor) classifyLatency(latencyMS uint64) monitor.Status {
	if latencyMS > e.DegradedThresholdMS {
		return monitor.StatusDegraded
	}
	return monitor.StatusUp
}
