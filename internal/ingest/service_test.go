package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
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

func validTransaction() *models.TransactionEvent {
	return &models.TransactionEvent{
		EntityID:  "acct-100",
		Timestamp: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC),
		Amount:    129.90,
		Currency:  "USD",
		Channel:   models.ChannelWeb,
	}
}

func TestIngestTransactionAssignsEventID(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	event := validTransaction()
	require.NoError(t, svc.IngestTransaction(context.Background(), event))

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, models.EventTypeTransaction, event.EventType)
	require.Len(t, pub.records, 1)
	assert.Equal(t, eventlog.TopicTransactions, pub.records[0].topic)
	assert.Equal(t, "acct-100", pub.records[0].key)
}

func TestIngestTransactionKeepsProvidedEventID(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	event := validTransaction()
	event.EventID = "evt-keep"
	require.NoError(t, svc.IngestTransaction(context.Background(), event))

	assert.Equal(t, "evt-keep", event.EventID)
}

func TestIngestTransactionStampsTimestamp(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	event := validTransaction()
	event.Timestamp = time.Time{}
	before := time.Now().UTC()
	require.NoError(t, svc.IngestTransaction(context.Background(), event))

	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, before, event.Timestamp, 5*time.Second)
}

func TestIngestTransactionRejectsBadCurrency(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	event := validTransaction()
	event.Currency = "usd"
	err := svc.IngestTransaction(context.Background(), event)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, pub.records, "rejected event must not be published")
}

func TestIngestTransactionRejectsNegativeAmount(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	event := validTransaction()
	event.Amount = -5
	err := svc.IngestTransaction(context.Background(), event)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestIngestTransactionPropagatesTransportError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("brokers unreachable")}
	svc := NewService(pub)

	err := svc.IngestTransaction(context.Background(), validTransaction())

	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestIngestClaimRoutesToClaimTopic(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	claim := &models.ClaimEvent{
		EntityID:    "policy-7",
		Timestamp:   time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC),
		ClaimAmount: 5400,
		ClaimType:   models.ClaimTypeAuto,
	}
	require.NoError(t, svc.IngestClaim(context.Background(), claim))

	require.Len(t, pub.records, 1)
	assert.Equal(t, eventlog.TopicClaims, pub.records[0].topic)
	assert.Equal(t, "policy-7", pub.records[0].key)
	assert.Equal(t, models.EventTypeClaim, claim.EventType)
}

func TestIngestClaimRejectsUnknownType(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(pub)

	claim := &models.ClaimEvent{
		EntityID:    "policy-7",
		Timestamp:   time.Now().UTC(),
		ClaimAmount: 10,
		ClaimType:   "boat",
	}
	err := svc.IngestClaim(context.Background(), claim)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, pub.records)
}

func setupIngestRouter(pub eventlog.Publisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, NewService(pub))
	return router
}

func TestHandlerAcceptsValidTransaction(t *testing.T) {
	pub := &fakePublisher{}
	router := setupIngestRouter(pub)

	body := []byte(`{
		"entity_id": "acct-1",
		"timestamp": "2025-10-06T12:00:00Z",
		"amount": 42.5,
		"currency": "EUR",
		"channel": "mobile"
	}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"event_id"`)
	assert.Contains(t, w.Body.String(), `"success"`)
}

func TestHandlerRejectsSchemaViolationWith422(t *testing.T) {
	pub := &fakePublisher{}
	router := setupIngestRouter(pub)

	body := []byte(`{
		"entity_id": "acct-1",
		"timestamp": "2025-10-06T12:00:00Z",
		"amount": 42.5,
		"currency": "EURO",
		"channel": "mobile"
	}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, pub.records)
}

func TestHandlerRejectionsAreDeterministic(t *testing.T) {
	router := setupIngestRouter(&fakePublisher{})

	body := `{"entity_id":"","amount":1,"currency":"USD","channel":"web","timestamp":"2025-10-06T12:00:00Z"}`

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader([]byte(body)))
	req1.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(first, req1)

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader([]byte(body)))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(second, req2)

	assert.Equal(t, http.StatusUnprocessableEntity, first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestHandlerRejectsMalformedJSON(t *testing.T) {
	router := setupIngestRouter(&fakePublisher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader([]byte(`{"entity_id":`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerReturns503WhenEventLogDown(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no brokers")}
	router := setupIngestRouter(pub)

	body := []byte(`{
		"entity_id": "acct-1",
		"timestamp": "2025-10-06T12:00:00Z",
		"amount": 42.5,
		"currency": "EUR",
		"channel": "mobile"
	}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/txn", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
