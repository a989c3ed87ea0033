package models

import (
	"fmt"
	"math"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type CallType string

const (
	CallTypeIn  CallType = "in-call"
	CallTypeOut CallType = "out-call"
)

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallTypeIn, CallTypeOut:
		return CallType(s), nil
	}
	return "", fmt.Errorf("unknown call type %q", s)
}

// Disposition is the terminal outcome of an appointment. The zero value
// means the appointment is still scheduled.
type Disposition string

const (
	DispositionScheduled  Disposition = ""
	DispositionComplete   Disposition = "Complete"
	DispositionReschedule Disposition = "Reschedule"
	DispositionCancel     Disposition = "Cancel"
)

func ParseDisposition(s string) (Disposition, error) {
	switch Disposition(s) {
	case DispositionScheduled, DispositionComplete, DispositionReschedule, DispositionCancel:
		return Disposition(s), nil
	}
	return "", fmt.Errorf("unknown disposition %q", s)
}

type Appointment struct {
	ID               int      `json:"id" db:"id"`
	SetBy            string   `json:"setBy" db:"set_by"`
	Provider         string   `json:"provider" db:"provider"`
	MarketingChannel string   `json:"marketingChannel" db:"marketing_channel"`
	CallType         CallType `json:"callType" db:"call_type"`
	StartDate        string   `json:"startDate" db:"start_date"`
	StartTime        string   `json:"startTime" db:"start_time"`

	ClientName  *string `json:"clientName" db:"client_name"`
	ClientPhone *string `json:"clientPhone" db:"client_phone"`
	ClientEmail *string `json:"clientEmail" db:"client_email"`
	UsesEmail   bool    `json:"usesEmail" db:"uses_email"`

	Street *string `json:"street" db:"street"`
	Line2  *string `json:"line2" db:"line2"`
	City   *string `json:"city" db:"city"`
	State  *string `json:"state" db:"state"`
	Zip    *string `json:"zip" db:"zip"`

	EndDate  *string  `json:"endDate" db:"end_date"`
	EndTime  *string  `json:"endTime" db:"end_time"`
	Duration *float64 `json:"duration" db:"duration"`
	Notes    *string  `json:"notes" db:"notes"`

	UpdatedStartDate *string `json:"updatedStartDate" db:"updated_start_date"`
	UpdatedStartTime *string `json:"updatedStartTime" db:"updated_start_time"`
	UpdatedEndDate   *string `json:"updatedEndDate" db:"updated_end_date"`
	UpdatedEndTime   *string `json:"updatedEndTime" db:"updated_end_time"`

	CanceledBy    *string `json:"canceledBy" db:"canceled_by"`
	CancelDetails *string `json:"cancelDetails" db:"cancel_details"`

	GrossRevenue          float64 `json:"grossRevenue" db:"gross_revenue"`
	TravelExpense         float64 `json:"travelExpense" db:"travel_expense"`
	HostingExpense        float64 `json:"hostingExpense" db:"hosting_expense"`
	TotalCollectedCash    float64 `json:"totalCollectedCash" db:"total_collected_cash"`
	TotalCollectedDigital float64 `json:"totalCollectedDigital" db:"total_collected_digital"`
	InOutGoesTo           string  `json:"inOutGoesTo" db:"in_out_goes_to"`

	// Server-computed, never accepted from client input.
	TotalExpenses  float64 `json:"totalExpenses" db:"total_expenses"`
	DueToProvider  float64 `json:"dueToProvider" db:"due_to_provider"`
	TotalCollected float64 `json:"totalCollected" db:"total_collected"`

	Disposition     Disposition `json:"dispositionStatus" db:"disposition_status"`
	CalendarEventID *string     `json:"calendarEventId" db:"calendar_event_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// AppointmentRequest is the insertable shape. The derived financial fields
// (totalExpenses, dueToProvider, totalCollected) are deliberately absent.
type AppointmentRequest struct {
	SetBy            *string `json:"setBy" db:"set_by"`
	Provider         *string `json:"provider" db:"provider"`
	MarketingChannel *string `json:"marketingChannel" db:"marketing_channel"`
	CallType         *string `json:"callType" db:"call_type"`
	StartDate        *string `json:"startDate" db:"start_date"`
	StartTime        *string `json:"startTime" db:"start_time"`

	ClientName  *string `json:"clientName" db:"client_name"`
	ClientPhone *string `json:"clientPhone" db:"client_phone"`
	ClientEmail *string `json:"clientEmail" db:"client_email"`
	UsesEmail   *bool   `json:"usesEmail" db:"uses_email"`

	Street *string `json:"street" db:"street"`
	Line2  *string `json:"line2" db:"line2"`
	City   *string `json:"city" db:"city"`
	State  *string `json:"state" db:"state"`
	Zip    *string `json:"zip" db:"zip"`

	EndDate  *string  `json:"endDate" db:"end_date"`
	EndTime  *string  `json:"endTime" db:"end_time"`
	Duration *float64 `json:"duration" db:"duration"`
	Notes    *string  `json:"notes" db:"notes"`

	GrossRevenue   *float64 `json:"grossRevenue" db:"gross_revenue"`
	TravelExpense  *float64 `json:"travelExpense" db:"travel_expense"`
	HostingExpense *float64 `json:"hostingExpense" db:"hosting_expense"`
	InOutGoesTo    *string  `json:"inOutGoesTo" db:"in_out_goes_to"`
}

type RescheduleRequest struct {
	UpdatedStartDate string  `json:"updatedStartDate"`
	UpdatedStartTime string  `json:"updatedStartTime"`
	UpdatedEndDate   *string `json:"updatedEndDate"`
	UpdatedEndTime   *string `json:"updatedEndTime"`
}

type CancelRequest struct {
	CanceledBy    string  `json:"canceledBy"`
	CancelDetails *string `json:"cancelDetails"`
}

// CompleteRequest carries the settlement amounts. Fields are pointers so an
// explicit zero (nothing collected, no revenue) is distinct from omission.
type CompleteRequest struct {
	TotalCollectedCash    *float64 `json:"totalCollectedCash"`
	TotalCollectedDigital *float64 `json:"totalCollectedDigital"`
	GrossRevenue          *float64 `json:"grossRevenue"`
}

// SplitPolicy computes the provider's share of revenue. The exact formula is
// business policy; DefaultSplitPolicy is a stand-in until the real split is
// confirmed with stakeholders.
type SplitPolicy func(grossRevenue, totalExpenses float64, inOutGoesTo string) float64

const providerShare = 0.5

func DefaultSplitPolicy(grossRevenue, totalExpenses float64, inOutGoesTo string) float64 {
	net := grossRevenue - totalExpenses
	if net < 0 {
		net = 0
	}
	due := net * providerShare
	if inOutGoesTo == "provider" {
		due += totalExpenses
	}
	return due
}

// ComputeDerived fills the three server-computed financial fields.
func (a *Appointment) ComputeDerived(policy SplitPolicy) {
	if policy == nil {
		policy = DefaultSplitPolicy
	}
	a.TotalExpenses = a.TravelExpense + a.HostingExpense
	a.TotalCollected = a.TotalCollectedCash + a.TotalCollectedDigital
	a.DueToProvider = policy(a.GrossRevenue, a.TotalExpenses, a.InOutGoesTo)
}

// ValidDuration reports whether d is a non-negative multiple of half an hour.
func ValidDuration(d float64) bool {
	if d < 0 {
		return false
	}
	scaled := d * 2
	return math.Abs(scaled-math.Round(scaled)) < 1e-9
}

// StartsAt combines the start date and time-of-day fields.
func (a *Appointment) StartsAt() (time.Time, error) {
	return combineDateTime(a.StartDate, a.StartTime)
}

// EndsAt combines the end date and time-of-day fields. The end date falls
// back to the start date when only an end time is given.
func (a *Appointment) EndsAt() (time.Time, bool, error) {
	if a.EndTime == nil {
		return time.Time{}, false, nil
	}
	endDate := a.StartDate
	if a.EndDate != nil {
		endDate = *a.EndDate
	}
	t, err := combineDateTime(endDate, *a.EndTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func combineDateTime(date, clock string) (time.Time, error) {
	t, err := time.Parse(DateLayout+" "+TimeLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("err parsing date/time %q %q: %w", date, clock, err)
	}
	return t, nil
}
