package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-backend/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.Email{
		BaseURL:            url,
		Sender:             "news@example.com",
		AuthorizationToken: "token-123",
		Timeout:            200 * time.Millisecond,
	})
}

func TestSendPostsEmail(t *testing.T) {
	var got sendEmailRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/email", r.URL.Path)
		token = r.Header.Get("X-Postmark-Server-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), "reader@example.com", "Issue 1", "<p>hi</p>", "hi")
	require.NoError(t, err)

	assert.Equal(t, "token-123", token)
	assert.Equal(t, sendEmailRequest{
		From:     "news@example.com",
		To:       "reader@example.com",
		Subject:  "Issue 1",
		HtmlBody: "<p>hi</p>",
		TextBody: "hi",
	}, got)
}

func TestSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FailureKind
	}{
		{name: "invalid recipient", status: http.StatusUnprocessableEntity, body: `{"ErrorCode":300,"Message":"Invalid 'To' address"}`, want: Permanent},
		{name: "inactive recipient", status: http.StatusUnprocessableEntity, body: `{"ErrorCode":406,"Message":"Inactive recipient"}`, want: Permanent},
		{name: "bad request with recipient code", status: http.StatusBadRequest, body: `{"ErrorCode":300}`, want: Permanent},
		{name: "sender signature not confirmed", status: http.StatusUnprocessableEntity, body: `{"ErrorCode":400,"Message":"Sender signature not confirmed"}`, want: Transient},
		{name: "bad server token", status: http.StatusUnprocessableEntity, body: `{"ErrorCode":10,"Message":"Bad or missing API token"}`, want: Transient},
		{name: "unprocessable without body", status: http.StatusUnprocessableEntity, want: Transient},
		{name: "server error", status: http.StatusInternalServerError, want: Transient},
		{name: "rate limited", status: http.StatusTooManyRequests, want: Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Send(context.Background(), "reader@example.com", "s", "h", "t")
			var sendErr *SendError
			require.ErrorAs(t, err, &sendErr)
			assert.Equal(t, tt.want, sendErr.Kind)
			assert.Equal(t, tt.status, sendErr.StatusCode)
			assert.Equal(t, tt.want == Permanent, IsPermanent(err))
		})
	}
}

func TestSendTimesOutAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Send(context.Background(), "reader@example.com", "s", "h", "t")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestSendStopsAtContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	client := NewClient(config.Email{BaseURL: srv.URL, Sender: "news@example.com", Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Send(ctx, "reader@example.com", "s", "h", "t")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	client := NewClient(config.Email{Timeout: time.Second})

	timeout, ok := client.requestTimeout(context.Background())
	assert.True(t, ok)
	assert.Equal(t, time.Second, timeout)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	timeout, ok = client.requestTimeout(short)
	assert.True(t, ok)
	assert.LessOrEqual(t, timeout, 50*time.Millisecond)

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, ok = client.requestTimeout(expired)
	assert.False(t, ok)
}

func TestBreakerOpensOnTransientFailuresOnly(t *testing.T) {
	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid 'To' address"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.True(t, IsPermanent(client.Send(ctx, "a@example.com", "s", "h", "t")))
	}
	assert.Equal(t, int32(6), calls.Load())

	status.Store(http.StatusBadGateway)
	for i := 0; i < 5; i++ {
		require.Error(t, client.Send(ctx, "a@example.com", "s", "h", "t"))
	}
	assert.Equal(t, int32(11), calls.Load())

	// open: rejected without reaching the server
	err := client.Send(ctx, "a@example.com", "s", "h", "t")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, int32(11), calls.Load())
}
