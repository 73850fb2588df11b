package meet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendar books a short calendar event with a Google Meet conference
// and returns its join URI.
type GoogleCalendar struct {
	events     *calendar.EventsService
	calendarID string
	duration   time.Duration
}

// NewGoogleCalendar builds the Calendar client. opts usually carries
// option.WithCredentialsFile; tests pass option.WithEndpoint.
func NewGoogleCalendar(ctx context.Context, calendarID string, opts ...option.ClientOption) (*GoogleCalendar, error) {
	opts = append([]option.ClientOption{option.WithScopes(calendar.CalendarEventsScope)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{events: svc.Events, calendarID: calendarID, duration: DefaultDuration}, nil
}

func (g *GoogleCalendar) CreateMeetingLink(ctx context.Context, req Request) (string, error) {
	attendees := make([]*calendar.EventAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		if email != "" {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: "Instant video consultation",
		Start:       &calendar.EventDateTime{DateTime: req.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: req.Start.Add(g.duration).UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Attendees:   attendees,
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	created, err := g.events.Insert(g.calendarID, event).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	return joinURI(created)
}

func joinURI(ev *calendar.Event) (string, error) {
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri, nil
			}
		}
		if len(ev.ConferenceData.EntryPoints) > 0 && ev.ConferenceData.EntryPoints[0].Uri != "" {
			return ev.ConferenceData.EntryPoints[0].Uri, nil
		}
	}
	if ev.HangoutLink != "" {
		return ev.HangoutLink, nil
	}
	return "", errors.New("calendar event has no conference entry point")
}
