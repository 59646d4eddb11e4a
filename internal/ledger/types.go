package ledger

import (
	"time"

	"github.com/boekwerk/hoursync/internal/domain"
)

// eventsResponse is the hours overview envelope.
type eventsResponse struct {
	Events []eventRecord `json:"events"`
}

// eventRecord is one hour registration on the wire. The ledger reports
// dates without a time component; the JSON value is a plain date string.
type eventRecord struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Description  string    `json:"description"`
	Date         apiDate   `json:"date"`
	Hours        float64   `json:"hours"`
	EmployeeID   string    `json:"employee_id"`
	ProjectID    string    `json:"project_id"`
	ActivityID   string    `json:"activity_id"`
	Invoiced     bool      `json:"invoiced"`
	LastModified time.Time `json:"last_modified"`
}

func (r eventRecord) toDomain() domain.RawLedgerEvent {
	return domain.RawLedgerEvent{
		LedgerID:     r.ID,
		Subject:      r.Subject,
		Description:  r.Description,
		Date:         time.Time(r.Date),
		Hours:        r.Hours,
		EmployeeID:   r.EmployeeID,
		ProjectID:    r.ProjectID,
		ActivityID:   r.ActivityID,
		Invoiced:     r.Invoiced,
		LastModified: r.LastModified,
	}
}

// eventPayload is the body for insert and update calls.
type eventPayload struct {
	Subject     string  `json:"subject"`
	Description string  `json:"description"`
	Date        apiDate `json:"date"`
	Hours       float64 `json:"hours"`
	EmployeeID  string  `json:"employee_id"`
	ProjectID   string  `json:"project_id"`
	ActivityID  string  `json:"activity_id"`
}

func newEventPayload(ev domain.CanonicalEvent) eventPayload {
	return eventPayload{
		Subject:     ev.Subject,
		Description: ev.Description,
		Date:        apiDate(ev.Start),
		Hours:       ev.Hours,
		EmployeeID:  ev.Employee,
		ProjectID:   ev.Project,
		ActivityID:  ev.Activity,
	}
}

type insertResponse struct {
	ID string `json:"id"`
}

type dropdownResponse struct {
	Values []dropdownValue `json:"values"`
}

type dropdownValue struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// apiDate marshals as yyyy-mm-dd, the only date form the ledger accepts.
type apiDate time.Time

const apiDateLayout = "2006-01-02"

func (d apiDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(apiDateLayout) + `"`), nil
}

func (d *apiDate) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = apiDate{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := time.Parse(apiDateLayout, s)
	if err != nil {
		// Some exports carry a full timestamp.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	*d = apiDate(t)
	return nil
}
