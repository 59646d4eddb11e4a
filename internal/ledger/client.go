// Package ledger implements the HTTP client for the external accounting
// system's hour-registration API. It is the thin transport behind the
// engine's collaborator contracts: fetch a year's events, fetch dropdown
// contents, insert, update. It never exposes a delete.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boekwerk/hoursync/internal/config"
	"github.com/boekwerk/hoursync/internal/domain"
	"github.com/boekwerk/hoursync/internal/pkg/httpretry"
)

// ErrWrite marks a failed insert or update call. The engine logs the
// affected record and continues the run.
var ErrWrite = fmt.Errorf("ledger: write failed")

// ErrInvoicedLocked is returned when the ledger refuses a mutation because
// the target record is invoiced. The engine checks this itself before
// writing; the server-side rejection is defense in depth.
var ErrInvoicedLocked = fmt.Errorf("%w: record is invoiced", ErrWrite)

// Client is a ledger API client.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a ledger API client with retry-wrapped transport.
func NewClient(cfg config.LedgerConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: httpretry.New(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// FetchEvents returns the full hour-registration snapshot for a year.
func (c *Client) FetchEvents(ctx context.Context, year int) ([]domain.RawLedgerEvent, error) {
	params := url.Values{}
	params.Set("year", fmt.Sprintf("%d", year))

	body, err := c.doRequest(ctx, http.MethodGet, "/hours", params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching hours for %d: %w", year, err)
	}

	var resp eventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing hours response: %w", err)
	}
	events := make([]domain.RawLedgerEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		events = append(events, e.toDomain())
	}
	return events, nil
}

// FetchDropdownValues returns the base-data dropdown contents for one kind,
// keyed by raw display value.
func (c *Client) FetchDropdownValues(ctx context.Context, kind domain.BaseDataKind) (map[string]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/dropdowns/"+string(kind), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s dropdown: %w", kind, err)
	}

	var resp dropdownResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing %s dropdown: %w", kind, err)
	}
	values := make(map[string]string, len(resp.Values))
	for _, v := range resp.Values {
		values[v.Label] = v.ID
	}
	return values, nil
}

// InsertEvent creates a new hour registration and returns its ledger ID.
// The event's description is expected to already carry the identity marker.
func (c *Client) InsertEvent(ctx context.Context, ev domain.CanonicalEvent) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/hours", nil, newEventPayload(ev))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	var resp insertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: parsing insert response: %v", ErrWrite, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: insert response carried no id", ErrWrite)
	}
	return resp.ID, nil
}

// UpdateEvent overwrites an existing registration with database values.
// A conflict response means the target is invoiced and must not change.
func (c *Client) UpdateEvent(ctx context.Context, ledgerID string, ev domain.CanonicalEvent) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/hours/"+url.PathEscape(ledgerID), nil, newEventPayload(ev))
	if err != nil {
		var aerr *apiError
		if errors.As(err, &aerr) && aerr.status == http.StatusConflict {
			return fmt.Errorf("%w (record %s)", ErrInvoicedLocked, ledgerID)
		}
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// apiError carries the HTTP status so callers can distinguish rejection
// kinds.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("ledger API error (status %d): %s", e.status, e.body)
}

// doRequest makes one HTTP request to the ledger API and returns the
// response body for 2xx responses.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload interface{}) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}
