// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/pkg/secrets"
)

func sample() Notification {
	return Notification{
		Subject:    "Contract Analysis Complete: lease.pdf",
		Message:    "Your contract analysis is complete!",
		Attributes: map[string]string{"contract_id": "c-1", "user_id": "u-1"},
	}
}

func TestWebhookPublisher(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hook-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, secrets.New("hook", []byte("hook-token")), 0)
	require.NoError(t, p.Publish(context.Background(), sample()))
	assert.Equal(t, sample(), got)
}

func TestWebhookPublisher_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookPublisher(srv.URL, nil, 0).Publish(context.Background(), sample())
	assert.ErrorContains(t, err, "502")
}

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := NewRedisPublisher(fake, "")
	require.NoError(t, p.Publish(context.Background(), sample()))
	assert.Equal(t, DefaultChannel, fake.channel)

	var got Notification
	require.NoError(t, json.Unmarshal(fake.message, &got))
	assert.Equal(t, "c-1", got.Attributes["contract_id"])

	fake.err = errors.New("connection refused")
	assert.ErrorContains(t, p.Publish(context.Background(), sample()), "connection refused")
}

type failing struct{}

func (failing) Publish(context.Context, Notification) error { return errors.New("down") }
func (failing) Name() string                                { return "failing" }

type recording struct{ got []Notification }

func (r *recording) Publish(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return nil
}
func (r *recording) Name() string { return "recording" }

func TestMulti_ContinuesPastFailures(t *testing.T) {
	rec := &recording{}
	err := NewMulti(failing{}, rec, LogPublisher{}).Publish(context.Background(), sample())
	assert.ErrorContains(t, err, "failing: down")
	assert.Len(t, rec.got, 1)
}

// flaky fails its first n publishes.
type flaky struct {
	n     int
	calls int
}

func (f *flaky) Publish(context.Context, Notification) error {
	f.calls++
	if f.calls <= f.n {
		return errors.New("timeout")
	}
	return nil
}
func (f *flaky) Name() string { return "flaky" }

func TestMulti_RetryOnlyReachesFailedSinks(t *testing.T) {
	ctx := context.Background()
	ws, hook := &recording{}, &flaky{n: 1}
	m := NewMulti(ws, hook)

	require.ErrorContains(t, m.Publish(ctx, sample()), "flaky: timeout")
	require.NoError(t, m.Publish(ctx, sample()))
	assert.Len(t, ws.got, 1, "the websocket sink already had it")
	assert.Equal(t, 2, hook.calls)

	// Fully delivered notifications are forgotten, so a later one goes out again.
	require.NoError(t, m.Publish(ctx, sample()))
	assert.Len(t, ws.got, 2)
	assert.Equal(t, 3, hook.calls)

	other := sample()
	other.Attributes = map[string]string{"contract_id": "c-2", "user_id": "u-1"}
	hook.n = hook.calls + 1
	require.Error(t, m.Publish(ctx, other))
	assert.Len(t, ws.got, 3)
}

func TestMulti_ForgetsStalePartialDeliveries(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ws, hook := &recording{}, &flaky{n: 1}
	m := NewMulti(ws, hook)
	m.now = func() time.Time { return clock }

	require.Error(t, m.Publish(ctx, sample()))
	clock = clock.Add(pendingTTL + time.Minute)
	require.NoError(t, m.Publish(ctx, sample()))
	assert.Len(t, ws.got, 2)
	assert.Empty(t, m.pending)
}

func TestHub_DeliversToMatchingSubscribers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", hub.Handler(nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	mine, _, err := websocket.DefaultDialer.Dial(base+"?user_id=u-1", nil)
	require.NoError(t, err)
	defer mine.Close()
	other, _, err := websocket.DefaultDialer.Dial(base+"?user_id=u-2", nil)
	require.NoError(t, err)
	defer other.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), sample()))

	_ = mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Notification
	require.NoError(t, mine.ReadJSON(&got))
	assert.Equal(t, sample().Subject, got.Subject)

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	assert.Error(t, other.ReadJSON(&got), "other user must not receive the notification")

	_ = mine.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// headerIdentity stands in for the auth middleware: the caller is whoever the
// X-User header names, anonymous otherwise.
func headerIdentity(c *gin.Context) string {
	if u := c.GetHeader("X-User"); u != "" {
		return u
	}
	return extensions.AnonymousUser
}

func TestHub_AuthenticatedCallerIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", hub.Handler(headerIdentity))
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("MismatchedQueryRejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?user_id=u-1", http.Header{"X-User": {"u-2"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, 0, hub.Subscribers())
	})

	t.Run("StreamScopedToCaller", func(t *testing.T) {
		// No query parameter: the caller still only sees its own stream.
		other, _, err := websocket.DefaultDialer.Dial(base, http.Header{"X-User": {"u-2"}})
		require.NoError(t, err)
		defer other.Close()
		mine, _, err := websocket.DefaultDialer.Dial(base+"?user_id=u-1", http.Header{"X-User": {"u-1"}})
		require.NoError(t, err)
		defer mine.Close()

		require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, hub.Publish(context.Background(), sample()))

		var got Notification
		_ = mine.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, mine.ReadJSON(&got))
		assert.Equal(t, "u-1", got.Attributes["user_id"])

		_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		assert.Error(t, other.ReadJSON(&got), "u-2 must not receive u-1's notification")
	})
}

func TestSubscriberID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name     string
		identity func(*gin.Context) string
		header   string
		query    string
		want     string
		ok       bool
	}{
		{"NoIdentityUsesQuery", nil, "", "u-1", "u-1", true},
		{"AnonymousUsesQuery", headerIdentity, "", "u-1", "u-1", true},
		{"AnonymousWithoutQuery", headerIdentity, "", "", "", true},
		{"AuthenticatedWithoutQuery", headerIdentity, "u-1", "", "u-1", true},
		{"AuthenticatedMatchingQuery", headerIdentity, "u-1", "u-1", "u-1", true},
		{"AuthenticatedOtherQuery", headerIdentity, "u-1", "u-2", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/ws?user_id="+tt.query, nil)
			if tt.header != "" {
				c.Request.Header.Set("X-User", tt.header)
			}
			got, ok := subscriberID(c, tt.identity)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
