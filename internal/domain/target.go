package domain

import "time"

// TargetKind represents the kind of check performed against a target.
type TargetKind string

// Target kinds.
const (
	TargetKindStatus    TargetKind = "status"    // match regex against HTTP status code
	TargetKindKeyword   TargetKind = "keyword"   // match regex against response body
	TargetKindTCP       TargetKind = "tcp"       // port open probe
	TargetKindSSL       TargetKind = "ssl"       // certificate expiry check
	TargetKindHeartbeat TargetKind = "heartbeat" // inbound cron-style pulse
)

// IsValid checks if the target kind is valid.
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetKindStatus, TargetKindKeyword, TargetKindTCP, TargetKindSSL, TargetKindHeartbeat:
		return true
	}
	return false
}

// CheckIntervals is the fixed set of supported check intervals in seconds.
var CheckIntervals = []int{30, 60, 300, 1800, 3600, 21600}

// RequestOptions describes how the outbound HTTP request is built.
type RequestOptions struct {
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	AuthUsername    string            `json:"auth_username,omitempty"`
	AuthPassword    string            `json:"auth_password,omitempty"`
	BearerToken     string            `json:"bearer_token,omitempty"`
	FollowRedirects bool              `json:"follow_redirects"`
	VerifySSL       bool              `json:"verify_ssl"`
	LogResponse     bool              `json:"log_response"`
}

// MonitoredTarget is a single monitored endpoint or heartbeat source.
// Read-only to the engine at check time; configured externally.
type MonitoredTarget struct {
	ID        string     `json:"id"`
	ServiceID string     `json:"service_id"`
	Name      string     `json:"name"`
	Kind      TargetKind `json:"kind"`
	URL       string     `json:"url"`
	Hostname  string     `json:"hostname,omitempty"`
	Port      int        `json:"port,omitempty"`

	// Regex matched against the status code (status kind) or the
	// response body (keyword kind).
	Regex string `json:"regex"`

	IntervalSeconds int           `json:"interval_seconds"`
	Timeout         time.Duration `json:"timeout"`

	// ConfirmationPeriod is how long a failure must persist before an
	// incident opens. Carried for configuration compatibility; the engine
	// opens immediately and debounces recovery instead.
	ConfirmationPeriod time.Duration `json:"confirmation_period"`

	// RecoveryPeriod is how long a target must stay up before the related
	// incident is auto-resolved.
	RecoveryPeriod time.Duration `json:"recovery_period"`

	// SSLExpiryDays is the alert threshold for ssl targets: a certificate
	// expiring within this many days counts as DOWN.
	SSLExpiryDays int `json:"ssl_expiry_days,omitempty"`

	// HeartbeatPeriod is the expected pulse period for heartbeat targets.
	HeartbeatPeriod time.Duration `json:"heartbeat_period,omitempty"`
	// HeartbeatToken identifies inbound pulses for heartbeat targets.
	HeartbeatToken string `json:"-"`

	Request  *RequestOptions `json:"request,omitempty"`
	IsActive bool            `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecoveryThreshold returns how many consecutive UP samples are required
// before an incident resolves. Never less than one.
func (t *MonitoredTarget) RecoveryThreshold() int {
	if t.IntervalSeconds <= 0 || t.RecoveryPeriod <= 0 {
		return 1
	}
	n := int(t.RecoveryPeriod.Seconds()) / t.IntervalSeconds
	if n < 1 {
		return 1
	}
	return n
}
