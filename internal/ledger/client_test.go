package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boekwerk/hoursync/internal/config"
	"github.com/boekwerk/hoursync/internal/domain"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		baseURL:    srv.URL,
		apiToken:   "test-token",
		httpClient: srv.Client(),
	}
}

func TestFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/hours", r.URL.Path)
		assert.Equal(t, "2026", r.URL.Query().Get("year"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		io.WriteString(w, `{
			"events": [
				{
					"id": "L100",
					"subject": "Sprint review",
					"description": "Notes\n[event_id: a3bb189e-8bf9-3888-9912-ace4e6543002]",
					"date": "2026-03-17",
					"hours": 2.5,
					"employee_id": "E1",
					"project_id": "P1",
					"activity_id": "A1",
					"invoiced": true
				}
			]
		}`)
	}))
	defer srv.Close()

	events, err := newTestClient(srv).FetchEvents(context.Background(), 2026)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "L100", ev.LedgerID)
	assert.Equal(t, "Sprint review", ev.Subject)
	assert.Equal(t, 2.5, ev.Hours)
	assert.Equal(t, time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), ev.Date)
	assert.True(t, ev.Invoiced)
}

func TestFetchEvents_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchEvents(context.Background(), 2026)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestFetchDropdownValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dropdowns/project", r.URL.Path)
		io.WriteString(w, `{"values": [
			{"id": "P1", "label": "Platform"},
			{"id": "P2", "label": "Mobile"}
		]}`)
	}))
	defer srv.Close()

	values, err := newTestClient(srv).FetchDropdownValues(context.Background(), domain.KindProject)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Platform": "P1", "Mobile": "P2"}, values)
}

func TestInsertEvent(t *testing.T) {
	var got eventPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hours", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"id": "L201"}`)
	}))
	defer srv.Close()

	ev := domain.CanonicalEvent{
		Subject:     "Standup",
		Description: "Daily\n[event_id: a3bb189e-8bf9-3888-9912-ace4e6543002]",
		Start:       time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC),
		Hours:       0.25,
		Employee:    "E1",
		Project:     "P1",
		Activity:    "A1",
	}

	id, err := newTestClient(srv).InsertEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "L201", id)

	assert.Equal(t, "Standup", got.Subject)
	assert.Equal(t, "2026-03-17", time.Time(got.Date).Format("2006-01-02"))
	assert.Equal(t, 0.25, got.Hours)
	assert.Contains(t, got.Description, "[event_id: a3bb189e-8bf9-3888-9912-ace4e6543002]")
}

func TestInsertEvent_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).InsertEvent(context.Background(), domain.CanonicalEvent{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))
}

func TestUpdateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/hours/L100", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).UpdateEvent(context.Background(), "L100", domain.CanonicalEvent{Subject: "x"})
	require.NoError(t, err)
}

func TestUpdateEvent_InvoicedRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "record is invoiced", http.StatusConflict)
	}))
	defer srv.Close()

	err := newTestClient(srv).UpdateEvent(context.Background(), "L100", domain.CanonicalEvent{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvoicedLocked))
	assert.True(t, errors.Is(err, ErrWrite))
}

func TestNewClient(t *testing.T) {
	c := NewClient(config.LedgerConfig{
		BaseURL:        "https://ledger.example.com/api/v1",
		APIToken:       "tok",
		TimeoutSeconds: 10,
		MaxRetries:     2,
	})
	assert.Equal(t, "https://ledger.example.com/api/v1", c.baseURL)
	assert.NotNil(t, c.httpClient)
}
