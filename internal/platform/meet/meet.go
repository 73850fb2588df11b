// Package meet issues video-consultation join links.
package meet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is the calendar slot reserved for an instant consult.
const DefaultDuration = 30 * time.Minute

type Request struct {
	Summary   string
	Start     time.Time
	Attendees []string
}

type Provisioner interface {
	CreateMeetingLink(ctx context.Context, req Request) (string, error)
}

// RoomLink mints a unique room on a self-hosted or public video bridge.
// It performs no I/O and never fails.
type RoomLink struct {
	BaseURL string
}

func (r RoomLink) CreateMeetingLink(_ context.Context, _ Request) (string, error) {
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		return "", errors.New("meet: room base URL not configured")
	}
	return fmt.Sprintf("%s/aarogya-%s", base, uuid.NewString()), nil
}

// Fallback tries each provisioner in order and returns the first link.
type Fallback []Provisioner

func (f Fallback) CreateMeetingLink(ctx context.Context, req Request) (string, error) {
	var errs []error
	for _, p := range f {
		link, err := p.CreateMeetingLink(ctx, req)
		if err == nil && link != "" {
			return link, nil
		}
		if err == nil {
			err = errors.New("meet: provisioner returned empty link")
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errors.New("meet: no provisioners configured")
	}
	return "", errors.Join(errs...)
}
