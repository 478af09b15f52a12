package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsProcessedEvent(t *testing.T) {
	var (
		gotSig, gotTS, gotEvt, gotDelivery string
		gotBody                            []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	requested := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	rec := domain.ImageRecord{ID: "rec-1", OwnerID: "alice", Status: domain.StatusProcessed, FileName: "a-alice-1-rec1.png"}
	require.NoError(t, testClient(1).Send(context.Background(), srv.URL, Processed(rec, requested)))

	assert.Equal(t, EventImageProcessed, gotEvt)
	assert.NotEmpty(t, gotDelivery)
	require.NotEmpty(t, gotTS)
	assert.Equal(t, Sign("test-secret", gotTS, gotBody), gotSig)

	var ev Event
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, "rec-1", ev.RecordID)
	assert.Equal(t, domain.StatusProcessed, ev.Status)
	assert.True(t, ev.RequestedAt.Equal(requested))
	require.NotNil(t, ev.Image)
	assert.Equal(t, "a-alice-1-rec1.png", ev.Image.FileName)
}

func TestFailedEventCarriesCause(t *testing.T) {
	ev := Failed("rec-2", "bob", time.Time{}, errors.New("decode image"))
	assert.Equal(t, EventImageFailed, ev.Type)
	assert.Equal(t, domain.StatusFailed, ev.Status)
	assert.Equal(t, "decode image", ev.Error)
	assert.Nil(t, ev.Image)
}

func TestSendRetriesServerErrorsWithOneDeliveryID(t *testing.T) {
	var (
		calls      atomic.Int32
		mu         sync.Mutex
		deliveries = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries[r.Header.Get(HeaderDelivery)] = true
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, testClient(3).Send(context.Background(), srv.URL, Failed("rec-1", "alice", time.Now(), nil)))
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, deliveries, 1)
}

func TestSendRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	started := time.Now()
	require.NoError(t, testClient(2).Send(context.Background(), srv.URL, Failed("rec-1", "alice", time.Now(), nil)))
	assert.EqualValues(t, 2, calls.Load())
	assert.Less(t, time.Since(started), time.Second, "Retry-After is capped by the max backoff")
}

func TestSendStopsOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := testClient(3).Send(context.Background(), srv.URL, Failed("rec-1", "alice", time.Now(), nil))
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendValidation(t *testing.T) {
	assert.NoError(t, testClient(1).Send(context.Background(), "  ", Event{}))
	assert.Error(t, testClient(1).Send(context.Background(), "http://127.0.0.1:1", Event{}))
}
