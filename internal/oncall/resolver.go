// Package oncall answers "who is on call right now" from an ICS calendar
// feed. Each calendar event names one on-call identity in its SUMMARY.
package oncall

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxCalendarBytes bounds how much of a calendar feed is read.
const maxCalendarBytes = 4 << 20

// ICSResolver fetches an ICS feed over HTTP and scans it for events
// covering a point in time.
type ICSResolver struct {
	client *http.Client
}

// NewICSResolver creates a resolver with the given timeout.
func NewICSResolver(timeout time.Duration) *ICSResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ICSResolver{
		client: &http.Client{Timeout: timeout},
	}
}

// Resolve returns the SUMMARY of every event active at the given instant.
// An empty calendar or an instant outside all events yields an empty list,
// not an error.
func (r *ICSResolver) Resolve(ctx context.Context, calendarURL string, at time.Time) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, calendarURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build calendar request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch calendar: unexpected status %d", resp.StatusCode)
	}

	events, err := parseEvents(io.LimitReader(resp.Body, maxCalendarBytes))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var identities []string
	for _, ev := range events {
		if ev.covers(at) {
			identities = append(identities, ev.summary)
		}
	}
	return identities, nil
}

type event struct {
	summary string
	start   time.Time
	end     time.Time
	allDay  bool
}

// covers reports whether the event is active at t. Interval semantics are
// half-open: [start, end).
func (e event) covers(t time.Time) bool {
	if e.start.IsZero() {
		return false
	}
	end := e.end
	if end.IsZero() {
		if !e.allDay {
			return false
		}
		end = e.start.Add(24 * time.Hour)
	}
	return !t.Before(e.start) && t.Before(end)
}

// parseEvents scans an ICS stream for VEVENT blocks, reading only the
// SUMMARY, DTSTART and DTEND properties. Folded lines (RFC 5545 §3.1,
// continuation lines starting with whitespace) are unfolded first.
func parseEvents(r io.Reader) ([]event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}

	var (
		events  []event
		current *event
	)
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = &event{}
		case line == "END:VEVENT":
			if current != nil {
				events = append(events, *current)
				current = nil
			}
		case current != nil:
			name, params, value, ok := splitProperty(line)
			if !ok {
				continue
			}
			switch name {
			case "SUMMARY":
				current.summary = strings.TrimSpace(value)
			case "DTSTART":
				t, allDay, err := parseICSTime(value, params)
				if err == nil {
					current.start = t
					current.allDay = allDay
				}
			case "DTEND":
				t, _, err := parseICSTime(value, params)
				if err == nil {
					current.end = t
				}
			}
		}
	}
	return events, nil
}

// splitProperty breaks "NAME;PARAM=V;PARAM=V:value" into its parts.
func splitProperty(line string) (name string, params map[string]string, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return "", nil, "", false
	}
	head, value := line[:colon], line[colon+1:]

	parts := strings.Split(head, ";")
	name = strings.ToUpper(parts[0])
	params = make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		if eq := strings.Index(p, "="); eq > 0 {
			params[strings.ToUpper(p[:eq])] = p[eq+1:]
		}
	}
	return name, params, value, true
}

// parseICSTime parses the forms that appear in on-call feeds: UTC
// timestamps (20240101T090000Z), local or TZID-qualified timestamps, and
// all-day dates (20240101). TZID values that the host cannot resolve fall
// back to UTC.
func parseICSTime(value string, params map[string]string) (t time.Time, allDay bool, err error) {
	loc := time.UTC
	if tzid, ok := params["TZID"]; ok {
		if parsed, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = parsed
		}
	}

	switch {
	case strings.HasSuffix(value, "Z"):
		t, err = time.Parse("20060102T150405Z", value)
		return t, false, err
	case len(value) == 8 || params["VALUE"] == "DATE":
		t, err = time.ParseInLocation("20060102", value, loc)
		return t, true, err
	default:
		t, err = time.ParseInLocation("20060102T150405", value, loc)
		return t, false, err
	}
}
