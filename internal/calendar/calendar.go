// Package calendar mirrors appointments into an external Google Calendar.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"apptdesk/pkg/models"
)

type Config struct {
	CredentialsPath string
	TokenPath       string
	CalendarID      string
}

type Calendar struct {
	log        *logrus.Entry
	srv        *calendar.Service
	calendarID string
}

func New(ctx context.Context, log *logrus.Logger, cfg Config) (*Calendar, error) {
	b, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("err reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("err parsing client secret file: %w", err)
	}
	tok, err := tokenFromFile(cfg.TokenPath)
	if err != nil {
		if tok, err = tokenFromWeb(ctx, config); err != nil {
			return nil, err
		}
		if err = SaveToken(cfg.TokenPath, tok); err != nil {
			return nil, err
		}
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("err building calendar client: %w", err)
	}
	return &Calendar{
		log:        log.WithField("component", "calendar"),
		srv:        srv,
		calendarID: cfg.CalendarID,
	}, nil
}

// CreateEvent inserts the appointment as a calendar event and returns the
// event id for the appointment record.
func (c *Calendar) CreateEvent(ctx context.Context, appt models.Appointment) (string, error) {
	start, err := appt.StartsAt()
	if err != nil {
		return "", err
	}
	end, ok, err := appt.EndsAt()
	if err != nil {
		return "", err
	}
	if !ok {
		end = start.Add(time.Hour)
		if appt.Duration != nil {
			end = start.Add(time.Duration(*appt.Duration * float64(time.Hour)))
		}
	}
	event := &calendar.Event{
		Summary:     fmt.Sprintf("%s appointment: %s", appt.CallType, appt.Provider),
		Description: text(appt.Notes),
		Location:    location(appt),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("err inserting calendar event: %w", err)
	}
	return created.Id, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("err deleting calendar event %s: %w", eventID, err)
	}
	return nil
}

// Events lists the next upcoming events, for the schedule view.
func (c *Calendar) Events(ctx context.Context, max int64) ([]models.Event, error) {
	t := time.Now().Format(time.RFC3339)
	events, err := c.srv.Events.List(c.calendarID).ShowDeleted(false).
		SingleEvents(true).TimeMin(t).MaxResults(max).OrderBy("startTime").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("err listing calendar events: %w", err)
	}
	result := make([]models.Event, 0, len(events.Items))
	for _, item := range events.Items {
		result = append(result, models.Event{
			ID:          item.Id,
			Title:       item.Summary,
			Description: item.Description,
			Location:    item.Location,
			Start:       item.Start.DateTime,
			End:         item.End.DateTime,
			Created:     item.Created,
			Updated:     item.Updated,
			Status:      item.Status,
		})
	}
	return result, nil
}

// tokenFromWeb walks the operator through the authorization flow: visit the
// consent URL, paste the code back on stdin.
func tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("err reading authorization code: %w", err)
	}
	tok, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("err exchanging authorization code: %w", err)
	}
	return tok, nil
}

// SaveToken caches an OAuth token obtained from the auth flow.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("err caching oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func location(appt models.Appointment) string {
	if appt.CallType != models.CallTypeOut {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, p := range []*string{appt.Street, appt.Line2, appt.City, appt.State, appt.Zip} {
		if p != nil {
			parts = append(parts, *p)
		}
	}
	loc := ""
	for i, p := range parts {
		if i > 0 {
			loc += ", "
		}
		loc += p
	}
	return loc
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Noop satisfies the service's calendar dependency when no Google
// credentials are configured.
type Noop struct{}

func (Noop) CreateEvent(context.Context, models.Appointment) (string, error) { return "", nil }
func (Noop) DeleteEvent(context.Context, string) error                       { return nil }
func (Noop) Events(context.Context, int64) ([]models.Event, error)           { return nil, nil }
