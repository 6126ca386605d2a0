package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talwar/internal/booking"
	"talwar/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(config.SupabaseConfig{URL: server.URL, AnonKey: "anon-key", Table: "FuneralServiceBookings"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	cases := map[string]config.SupabaseConfig{
		"missing url":     {AnonKey: "k", Table: "t"},
		"missing key":     {URL: "https://abcd.supabase.co", Table: "t"},
		"relative url":    {URL: "abcd.supabase.co", AnonKey: "k", Table: "t"},
		"unsupported url": {URL: "ftp://abcd.supabase.co", AnonKey: "k", Table: "t"},
		"missing table":   {URL: "https://abcd.supabase.co", AnonKey: "k"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			assert.ErrorIs(t, err, booking.ErrNotConfigured)
		})
	}

	c, err := New(config.SupabaseConfig{URL: "https://abcd.supabase.co/", AnonKey: "k", Table: "bookings", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "bookings", c.Table())
}

func TestInsert(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/FuneralServiceBookings", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("X-Client-Info"), "postgrest-go/"))

		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &gotBody))

		w.Header().Set("Content-Type", "application/vnd.pgrst.object+json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42}`))
	})

	req := booking.Request{Name: "Jane Doe", Email: "jane@example.com", Phone: "5551234567", Date: "2025-06-01", Time: "morning"}
	id, err := c.Insert(context.Background(), req.Payload(time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, booking.RecordID("42"), id)

	assert.Equal(t, "Jane Doe", gotBody["name"])
	assert.Equal(t, "2025-06-01", gotBody["date"])
	assert.Equal(t, "2025-05-20T12:00:00Z", gotBody["created_at"])
	msg, present := gotBody["message"]
	assert.True(t, present)
	assert.Nil(t, msg)
}

func TestInsertStringID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "2b7e6c1a-91f3-4f0e-8a53-0c1d8c7b9e44"}`))
	})

	id, err := c.Insert(context.Background(), booking.Payload{Name: "A", Email: "a@b.c", Phone: "1"})
	require.NoError(t, err)
	assert.Equal(t, booking.RecordID("2b7e6c1a-91f3-4f0e-8a53-0c1d8c7b9e44"), id)
}

func TestInsertErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"42501","details":null,"hint":null,"message":"new row violates row-level security policy for table \"FuneralServiceBookings\""}`))
	})

	_, err := c.Insert(context.Background(), booking.Payload{Name: "A", Email: "a@b.c", Phone: "1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "42501", apiErr.Code)
	assert.Equal(t, `new row violates row-level security policy for table "FuneralServiceBookings"`, booking.DisplayMessage(err))
}

func TestInsertNonJSONError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	})

	_, err := c.Insert(context.Background(), booking.Payload{Name: "A", Email: "a@b.c", Phone: "1"})
	require.Error(t, err)
	msg := booking.DisplayMessage(err)
	assert.Equal(t, maxMessageLen+1, len([]rune(msg)))

	empty := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = empty.Insert(context.Background(), booking.Payload{})
	assert.Equal(t, "Service Unavailable", booking.DisplayMessage(err))
}

func TestInsertUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New(config.SupabaseConfig{URL: url, AnonKey: "k", Table: "t"})
	require.NoError(t, err)
	_, err = c.Insert(context.Background(), booking.Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase request failed")
}

func TestListAndPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			q := r.URL.Query()
			assert.Equal(t, "created_at.desc.nullslast", q.Get("order"))
			assert.Equal(t, "20", q.Get("offset"))
			assert.Equal(t, "10", q.Get("limit"))
			_, _ = w.Write([]byte(`[{"id": 7, "name": "Jane Doe", "email": "jane@example.com", "phone": "5551234567", "date": null, "time": "evening", "message": null, "created_at": "2025-06-01T04:00:00+00:00"}]`))
		}
	})

	require.NoError(t, c.Ping(context.Background()))

	records, err := c.List(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, booking.RecordID("7"), records[0].ID)
	require.NotNil(t, records[0].Time)
	assert.Equal(t, "evening", *records[0].Time)
	assert.Nil(t, records[0].Date)
}

func TestPingFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	var apiErr *APIError
	require.True(t, errors.As(c.Ping(context.Background()), &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRequestsFollowContext(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Insert(ctx, booking.Payload{Name: "A", Email: "a@b.c", Phone: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase request failed")

	c.timeout = 50 * time.Millisecond
	start := time.Now()
	_, err = c.List(context.Background(), 0, 10)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
