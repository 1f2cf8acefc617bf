package features

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/state"
)

type published struct {
	topic string
	key   string
	value interface{}
}

type fakePublisher struct {
	records []published
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, published{topic: topic, key: key, value: value})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakePublisher, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	pub := &fakePublisher{}
	return NewEngine(state.NewClientFromRedis(rdb, time.Second), pub), pub, srv
}

func sampleTransaction() *models.TransactionEvent {
	return &models.TransactionEvent{
		EventID:           "evt-1",
		EntityID:          "acct-100",
		EventType:         models.EventTypeTransaction,
		Timestamp:         time.Now().UTC(),
		Amount:            250.00,
		Currency:          "USD",
		Channel:           models.ChannelWeb,
		MerchantID:        "merch-9",
		MerchantCategory:  "5411",
		IPAddress:         "203.0.113.7",
		DeviceFingerprint: "fp-1",
		SessionID:         "sess-1",
		UserAgent:         "Mozilla/5.0",
	}
}

func TestFirstTransactionUsesLazyDefaults(t *testing.T) {
	engine, pub, _ := newTestEngine(t)

	vector, err := engine.ProcessTransaction(context.Background(), sampleTransaction())
	require.NoError(t, err)

	assert.Equal(t, 0, vector.Velocity1h)
	assert.Equal(t, 0, vector.Velocity24h)
	assert.Equal(t, 0, vector.Velocity7d)
	assert.GreaterOrEqual(t, vector.IPRisk, 0.0)
	assert.Less(t, vector.IPRisk, 0.3)
	require.NotNil(t, vector.IPGeolocation)
	assert.Equal(t, "US", vector.IPGeolocation.Country)
	assert.Equal(t, "San Francisco", vector.IPGeolocation.City)
	assert.Equal(t, 0.0, vector.GeoDistanceKm)
	assert.Equal(t, defaultMerchantRisk, vector.MerchantRisk)
	assert.Equal(t, defaultAccountAge, vector.AgeDays)
	assert.Equal(t, FeaturesVersion, vector.FeaturesVersion)
	assert.NotEmpty(t, vector.UserAgentHash)
	assert.False(t, vector.FeatureMetadata.CacheHit, "first event seeds the cache")

	require.Len(t, pub.records, 1)
	assert.Equal(t, eventlog.TopicFeatures, pub.records[0].topic)
	assert.Equal(t, "acct-100", pub.records[0].key)
}

func TestVelocityExcludesCurrentEvent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		vector, err := engine.ProcessTransaction(ctx, sampleTransaction())
		require.NoError(t, err)
		assert.Equal(t, want, vector.Velocity1h)
		assert.Equal(t, want, vector.Velocity24h)
		assert.Equal(t, want, vector.Velocity7d)
	}
}

func TestSecondEventHitsCache(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.ProcessTransaction(ctx, sampleTransaction())
	require.NoError(t, err)
	second, err := engine.ProcessTransaction(ctx, sampleTransaction())
	require.NoError(t, err)

	assert.Equal(t, first.IPRisk, second.IPRisk, "pseudo score is cached and stable")
	assert.True(t, second.FeatureMetadata.CacheHit)
}

func TestGeoDistanceFromUsualLocation(t *testing.T) {
	engine, _, srv := newTestEngine(t)
	ctx := context.Background()

	// Usual location pinned to San Francisco, current IP resolving to
	// Los Angeles, roughly 559 km apart.
	srv.Set(state.UsualLocationKey("acct-100"), `{"lat":37.7749,"lon":-122.4194}`)
	srv.Set(state.GeoKey("203.0.113.7"), `{"country":"US","region":"CA","city":"Los Angeles","latitude":34.0522,"longitude":-118.2437}`)

	vector, err := engine.ProcessTransaction(ctx, sampleTransaction())
	require.NoError(t, err)

	assert.InDelta(t, 559, vector.GeoDistanceKm, 10)
}

func TestUsualLocationPinnedOnFirstSight(t *testing.T) {
	engine, _, srv := newTestEngine(t)
	ctx := context.Background()

	vector, err := engine.ProcessTransaction(ctx, sampleTransaction())
	require.NoError(t, err)
	assert.Equal(t, 0.0, vector.GeoDistanceKm)

	stored, err := srv.Get(state.UsualLocationKey("acct-100"))
	require.NoError(t, err)
	assert.Contains(t, stored, "37.7749")
}

func TestTransactionWithoutIPSkipsNetworkFeatures(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	event := sampleTransaction()
	event.IPAddress = ""
	vector, err := engine.ProcessTransaction(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 0.0, vector.IPRisk)
	assert.Nil(t, vector.IPGeolocation)
	assert.Equal(t, 0.0, vector.GeoDistanceKm)
}

func TestClaimVectorDefaults(t *testing.T) {
	engine, pub, _ := newTestEngine(t)

	claim := &models.ClaimEvent{
		EventID:     "evt-claim-1",
		EntityID:    "policy-7",
		EventType:   models.EventTypeClaim,
		Timestamp:   time.Now().UTC(),
		ClaimAmount: 5400,
		ClaimType:   models.ClaimTypeAuto,
	}
	vector, err := engine.ProcessClaim(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, 5400.0, vector.Amount)
	assert.Equal(t, "USD", vector.Currency)
	assert.Empty(t, vector.Channel)
	assert.Equal(t, 0.0, vector.IPRisk)
	assert.Nil(t, vector.IPGeolocation)
	assert.Equal(t, 0.0, vector.MerchantRisk)
	assert.Equal(t, defaultAccountAge, vector.AgeDays)

	require.Len(t, pub.records, 1)
	assert.Equal(t, eventlog.TopicFeatures, pub.records[0].topic)
	assert.Equal(t, "policy-7", pub.records[0].key)
}

func TestPublishFailurePropagates(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	pub := &fakePublisher{err: errors.New("no brokers")}
	engine := NewEngine(state.NewClientFromRedis(rdb, time.Second), pub)

	_, err := engine.ProcessTransaction(context.Background(), sampleTransaction())
	require.Error(t, err)
}

func TestHaversine(t *testing.T) {
	assert.Equal(t, 0.0, haversineKm(37.7749, -122.4194, 37.7749, -122.4194))

	sfToLA := haversineKm(37.7749, -122.4194, 34.0522, -118.2437)
	laToSF := haversineKm(34.0522, -118.2437, 37.7749, -122.4194)
	assert.InDelta(t, 559, sfToLA, 10)
	assert.InDelta(t, sfToLA, laToSF, 1e-9)
}

func TestPseudoIPRiskStableAndBounded(t *testing.T) {
	a := pseudoIPRisk("198.51.100.23")
	b := pseudoIPRisk("198.51.100.23")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 0.3)
}

func TestConsumerHandlerRoutesByTopic(t *testing.T) {
	engine, pub, _ := newTestEngine(t)
	handler := engine.Handler()

	txn, err := json.Marshal(sampleTransaction())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), &sarama.ConsumerMessage{
		Topic: eventlog.TopicTransactions,
		Value: txn,
	}))

	claim, err := json.Marshal(&models.ClaimEvent{
		EventID:     "evt-claim-2",
		EntityID:    "policy-8",
		Timestamp:   time.Now().UTC(),
		ClaimAmount: 100,
		ClaimType:   models.ClaimTypeHome,
	})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), &sarama.ConsumerMessage{
		Topic: eventlog.TopicClaims,
		Value: claim,
	}))

	require.Len(t, pub.records, 2)
	assert.Equal(t, "acct-100", pub.records[0].key)
	assert.Equal(t, "policy-8", pub.records[1].key)
}

func TestConsumerHandlerRejectsGarbage(t *testing.T) {
	engine, pub, _ := newTestEngine(t)
	handler := engine.Handler()

	err := handler(context.Background(), &sarama.ConsumerMessage{
		Topic: eventlog.TopicTransactions,
		Value: []byte("{not json"),
	})
	require.Error(t, err)
	assert.Empty(t, pub.records)
}

func TestProcessEndpointReturnsVector(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, engine)

	body, err := json.Marshal(sampleTransaction())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"features_version":"v1"`)
}
