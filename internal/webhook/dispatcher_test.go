package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/models"
)

func testDispatcherConfig() config.WebhookConfig {
	return config.WebhookConfig{DrainInterval: 10 * time.Millisecond, BatchSize: 50, TimeoutMs: 2000, PreflightTimeout: time.Second}
}

func noopZoneLookup(ctx context.Context, zoneID string) (*models.Zone, error) {
	return &models.Zone{ID: zoneID, Name: "Zone"}, nil
}

func TestRegisterWebhookRunsPreflight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(noopZoneLookup, testDispatcherConfig(), zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	cfg, err := d.RegisterWebhook(context.Background(), models.WebhookConfig{
		Name: "test", URL: srv.URL, Enabled: true,
		EventTypes: map[models.GeofenceEventType]struct{}{models.EventEnter: {}},
		Retry:      models.DefaultRetryConfig(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)
}

func TestRegisterWebhookRejectsFailingPreflight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(noopZoneLookup, testDispatcherConfig(), zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	_, err := d.RegisterWebhook(context.Background(), models.WebhookConfig{Name: "bad", URL: srv.URL, Enabled: true})
	require.Error(t, err)
}

func TestDeliveryIncludesValidHMACSignature(t *testing.T) {
	secret := "shared-secret"
	var mu sync.Mutex
	var receivedBody []byte
	var receivedSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		var payload models.WebhookPayload
		json.Unmarshal(body, &payload)

		mu.Lock()
		receivedSig = payload.Signature
		eventJSON, _ := json.Marshal(payload.Event)
		receivedBody = eventJSON
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(noopZoneLookup, testDispatcherConfig(), zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	cfg, err := d.RegisterWebhook(context.Background(), models.WebhookConfig{
		Name: "hmac-test", URL: srv.URL, Enabled: true, Secret: secret,
		EventTypes: map[models.GeofenceEventType]struct{}{models.EventEnter: {}},
		Retry:      models.DefaultRetryConfig(),
	})
	require.NoError(t, err)

	event := &models.GeofenceEvent{ID: "e1", UserID: "u1", ZoneID: "z1", EventType: models.EventEnter, Timestamp: time.Now()}
	d.Enqueue(context.Background(), event)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedSig != ""
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(receivedBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, receivedSig)
	assert.True(t, cfg.Enabled)
}

func TestDeliverySkipsNonMatchingEventType(t *testing.T) {
	var hit int32
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hit++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(noopZoneLookup, testDispatcherConfig(), zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	_, err := d.RegisterWebhook(context.Background(), models.WebhookConfig{
		Name: "enter-only", URL: srv.URL, Enabled: true,
		EventTypes: map[models.GeofenceEventType]struct{}{models.EventEnter: {}},
		Retry:      models.DefaultRetryConfig(),
	})
	require.NoError(t, err)

	d.Enqueue(context.Background(), &models.GeofenceEvent{ID: "e2", UserID: "u1", ZoneID: "z1", EventType: models.EventExit, Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(0), hit)
}

func TestGetWebhookStatisticsReflectsDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(noopZoneLookup, testDispatcherConfig(), zaptest.NewLogger(t), nil, nil)
	defer d.Shutdown()

	_, err := d.RegisterWebhook(context.Background(), models.WebhookConfig{
		Name: "stats", URL: srv.URL, Enabled: true,
		EventTypes: map[models.GeofenceEventType]struct{}{models.EventEnter: {}},
		Retry:      models.DefaultRetryConfig(),
	})
	require.NoError(t, err)

	d.Enqueue(context.Background(), &models.GeofenceEvent{ID: "e3", UserID: "u1", ZoneID: "z1", EventType: models.EventEnter, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		return d.GetWebhookStatistics().TotalDelivered >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
