// Package check executes health checks against monitored targets and
// schedules them by interval.
package check

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/pkg/metrics"
)

// maxBodyBytes caps how much of a response body is read for keyword
// matching and failure logging.
const maxBodyBytes = 512 * 1024

// Failure messages by error kind.
const (
	msgTimeout    = "Request timed out. Try exceeding the timeout limit."
	msgRedirects  = "Request exceeds the configured number of maximum redirections. Try a different URL."
	msgConnection = "Request couldn't be fulfilled. URL connection refused."
	msgMalformed  = "HTTP response is invalid. Please try with a different URL."
	msgGeneric    = "Request couldn't be fulfilled."
	msgSuccess    = "Request sent successfully."
)

// Executor runs a single check against one monitored target. It is a pure
// function of (target, network state): it never returns an error, only a
// CheckResult.
type Executor struct {
	verifying *http.Transport
	insecure  *http.Transport
}

// NewExecutor creates a check executor.
func NewExecutor() *Executor {
	return &Executor{
		verifying: &http.Transport{
			MaxIdleConnsPerHost: 4,
		},
		insecure: &http.Transport{
			MaxIdleConnsPerHost: 4,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // per-target opt-out
		},
	}
}

// Execute evaluates the target once and returns a normalized result.
func (e *Executor) Execute(ctx context.Context, target *domain.MonitoredTarget) domain.CheckResult {
	start := time.Now()

	var result domain.CheckResult
	switch target.Kind {
	case domain.TargetKindStatus, domain.TargetKindKeyword:
		result = e.executeHTTP(ctx, target)
	case domain.TargetKindTCP:
		result = e.executeTCP(target)
	case domain.TargetKindSSL:
		result = e.executeSSL(target)
	default:
		result = domain.CheckResult{
			Status:  domain.CheckStatusDown,
			Message: fmt.Sprintf("unsupported target kind %q", target.Kind),
		}
	}

	result.TargetID = target.ID
	result.ServiceID = target.ServiceID
	result.CheckedAt = time.Now().UTC()

	metrics.RecordCheck(string(target.Kind), string(result.Status), time.Since(start))
	return result
}

func (e *Executor) executeHTTP(ctx context.Context, target *domain.MonitoredTarget) domain.CheckResult {
	pattern, err := regexp.Compile(target.Regex)
	if err != nil {
		return domain.CheckResult{
			Status:  domain.CheckStatusDown,
			Message: fmt.Sprintf("invalid match pattern %q: %v", target.Regex, err),
		}
	}

	req, err := e.buildRequest(ctx, target)
	if err != nil {
		return domain.CheckResult{
			Status:  domain.CheckStatusDown,
			Message: fmt.Sprintf("build request: %v", err),
		}
	}

	client := &http.Client{
		Timeout:   target.Timeout,
		Transport: e.transportFor(target),
	}
	if target.Request != nil && !target.Request.FollowRedirects {
		client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      classify(err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil && target.Kind == domain.TargetKindKeyword {
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      msgMalformed,
		}
	}

	var matched bool
	if target.Kind == domain.TargetKindStatus {
		matched = pattern.MatchString(strconv.Itoa(resp.StatusCode))
	} else {
		matched = pattern.Match(body)
	}

	result := domain.CheckResult{
		ResponseTime: elapsed,
	}
	if matched {
		result.Status = domain.CheckStatusUp
		result.Message = msgSuccess
		return result
	}

	result.Status = domain.CheckStatusDown
	result.Message = fmt.Sprintf("pattern %q did not match (status %d)", target.Regex, resp.StatusCode)
	if target.Request != nil && target.Request.LogResponse {
		result.ResponseBody = string(body)
	}
	return result
}

func (e *Executor) buildRequest(ctx context.Context, target *domain.MonitoredTarget) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader

	opts := target.Request
	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		if opts.Body != "" {
			body = strings.NewReader(opts.Body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, body)
	if err != nil {
		return nil, err
	}

	if opts != nil {
		for name, value := range opts.Headers {
			req.Header.Set(name, value)
		}
		switch {
		case opts.BearerToken != "":
			req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
		case opts.AuthUsername != "" && opts.AuthPassword != "":
			req.SetBasicAuth(opts.AuthUsername, opts.AuthPassword)
		}
	}

	return req, nil
}

func (e *Executor) transportFor(target *domain.MonitoredTarget) *http.Transport {
	if target.Request != nil && !target.Request.VerifySSL {
		return e.insecure
	}
	return e.verifying
}

func (e *Executor) executeTCP(target *domain.MonitoredTarget) domain.CheckResult {
	addr := net.JoinHostPort(target.Hostname, strconv.Itoa(target.Port))

	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, target.Timeout)
	elapsed := time.Since(start)
	if err != nil {
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("port %d is closed on %s", target.Port, target.Hostname),
		}
	}
	_ = conn.Close()

	return domain.CheckResult{
		Status:       domain.CheckStatusUp,
		ResponseTime: elapsed,
		Message:      fmt.Sprintf("port %d is open on %s", target.Port, target.Hostname),
	}
}

func (e *Executor) executeSSL(target *domain.MonitoredTarget) domain.CheckResult {
	port := target.Port
	if port == 0 {
		port = 443
	}
	addr := net.JoinHostPort(target.Hostname, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: target.Timeout}
	start := time.Now()
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		ServerName: target.Hostname,
		MinVersion: tls.VersionTLS12,
	})
	elapsed := time.Since(start)
	if err != nil {
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("failed to establish SSL connection to %s: %v", target.Hostname, err),
		}
	}
	defer func() { _ = conn.Close() }()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("no certificate presented by %s", target.Hostname),
		}
	}

	expiry := certs[0].NotAfter
	now := time.Now()
	threshold := time.Duration(target.SSLExpiryDays) * 24 * time.Hour

	switch {
	case expiry.Before(now):
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("the SSL certificate for %s has expired", target.Hostname),
		}
	case target.SSLExpiryDays > 0 && expiry.Before(now.Add(threshold)):
		return domain.CheckResult{
			Status:       domain.CheckStatusDown,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("the SSL certificate for %s expires %s", target.Hostname, expiry.Format(time.RFC3339)),
		}
	default:
		return domain.CheckResult{
			Status:       domain.CheckStatusUp,
			ResponseTime: elapsed,
			Message:      fmt.Sprintf("the SSL certificate for %s is valid until %s", target.Hostname, expiry.Format(time.RFC3339)),
		}
	}
}

// classify maps a transport error to a human-readable failure message.
func classify(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return msgTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}
	if strings.Contains(err.Error(), "stopped after") && strings.Contains(err.Error(), "redirects") {
		return msgRedirects
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return msgConnection
	}
	if strings.Contains(err.Error(), "malformed") || strings.Contains(err.Error(), "invalid") {
		return msgMalformed
	}
	return msgGeneric
}
