package capture

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DeviceType selects the viewport profile and output subfolder.
type DeviceType string

// Supported device types.
const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
)

// ParseDevice converts raw input into a DeviceType.
func ParseDevice(raw string) (DeviceType, error) {
	switch DeviceType(strings.TrimSpace(raw)) {
	case DeviceDesktop:
		return DeviceDesktop, nil
	case DeviceMobile:
		return DeviceMobile, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDevice, raw)
	}
}

// JobState represents the lifecycle state of a capture job.
type JobState string

// Job states persisted in the job store. UNKNOWN and ERROR are read-side
// sentinels and are never written by a job.
const (
	StatePending    JobState = "PENDING"
	StateStarted    JobState = "STARTED"
	StateProcessing JobState = "PROCESSING"
	StateSuccess    JobState = "SUCCESS"
	StateFailure    JobState = "FAILURE"
	StateCanceled   JobState = "CANCELED"
	StateUnknown    JobState = "UNKNOWN"
	StateError      JobState = "ERROR"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateCanceled, StateUnknown, StateError:
		return true
	default:
		return false
	}
}

// Info keys used in JobRecord.Info.
const (
	InfoStatus = "status"
	InfoDomain = "domain"
	InfoDevice = "device_type"
	InfoError  = "error"
)

// JobRecord is the persisted view of one job. Every write replaces it whole.
type JobRecord struct {
	ID        string            `json:"id"`
	State     JobState          `json:"state"`
	UpdatedAt time.Time         `json:"updated_at"`
	Info      map[string]string `json:"info"`
}

// Clone returns a deep copy of the record.
func (r JobRecord) Clone() JobRecord {
	out := r
	if r.Info != nil {
		out.Info = make(map[string]string, len(r.Info))
		for k, v := range r.Info {
			out.Info[k] = v
		}
	}
	return out
}

// UnknownRecord is returned for identifiers that were never persisted.
func UnknownRecord(id string, now time.Time) JobRecord {
	return JobRecord{
		ID:        id,
		State:     StateUnknown,
		UpdatedAt: now,
		Info:      map[string]string{InfoError: "Task not found"},
	}
}

// ErrorRecord is returned when a persisted record cannot be read back.
func ErrorRecord(id string, now time.Time, err error) JobRecord {
	return JobRecord{
		ID:        id,
		State:     StateError,
		UpdatedAt: now,
		Info:      map[string]string{InfoError: err.Error()},
	}
}

// Target is the resolved address plus derived folder key for one job.
type Target struct {
	URL        string
	DomainName string
	Device     DeviceType
}

// NewTarget validates rawURL and derives the folder key.
func NewTarget(rawURL string, device DeviceType) (Target, error) {
	normalized, err := ValidateURL(rawURL)
	if err != nil {
		return Target{}, err
	}
	if _, err := ParseDevice(string(device)); err != nil {
		return Target{}, err
	}
	return Target{
		URL:        normalized,
		DomainName: DomainName(normalized),
		Device:     device,
	}, nil
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// CancelToken is a per-job cooperative stop signal.
type CancelToken struct {
	canceled atomic.Bool
}

// NewCancelToken returns an untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel trips the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.canceled.Store(true)
	}
}

// Canceled reports whether Cancel was called. A nil token is never canceled.
func (t *CancelToken) Canceled() bool {
	return t != nil && t.canceled.Load()
}
