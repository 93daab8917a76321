// ABOUTME: Tests for the ingest service and its HTTP handler
// ABOUTME: Runs end to end against a real tenant router over SQLite plus failure fakes

package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-webhook/internal/dedupe"
	"github.com/2389/coven-webhook/internal/kv"
	"github.com/2389/coven-webhook/internal/tenant"
)

const samplePayload = `{"update_id":1,"message":{"message_id":2,"chat":{"id":3},"text":"message"}}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(t *testing.T) *tenant.Router {
	t.Helper()
	r := tenant.New(t.TempDir(), kv.OpenSQLite, testLogger())
	t.Cleanup(func() { r.Close() })
	return r
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func storedValue(t *testing.T, r *tenant.Router, tenantID, key string) string {
	t.Helper()
	engine, ok := r.Lookup(tenantID)
	require.True(t, ok, "tenant %s should be known", tenantID)
	value, found, err := engine.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "key %s should be stored", key)
	return value
}

// countingResolver fails the test if storage is reached.
type countingResolver struct {
	calls atomic.Int32
	err   error
	inner Resolver
}

func (c *countingResolver) Resolve(ctx context.Context, id string) (kv.Engine, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Resolve(ctx, id)
}

type failingEngine struct{ kv.MemoryEngine }

func (*failingEngine) Set(context.Context, string, string) error {
	return kv.ErrWrite
}

type staticResolver struct{ engine kv.Engine }

func (s staticResolver) Resolve(context.Context, string) (kv.Engine, error) {
	return s.engine, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []int64
	texts []string
	err   error
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestServeHTTP_EndToEnd(t *testing.T) {
	router := newRouter(t)
	svc := New(Config{Router: router, Logger: testLogger()})

	rec := post(t, svc, samplePayload)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
	assert.Equal(t, []string{"3"}, router.Known())
	assert.Equal(t, "message", storedValue(t, router, "3", "1"))
}

func TestServeHTTP_MissingTextStoresPlaceholder(t *testing.T) {
	router := newRouter(t)
	svc := New(Config{Router: router, Logger: testLogger()})

	rec := post(t, svc, `{"update_id":1,"message":{"message_id":2,"chat":{"id":3}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, EmptyMessage, storedValue(t, router, "3", "1"))
	assert.Equal(t, "empty message", EmptyMessage)
}

func TestServeHTTP_RedeliveryOverwrites(t *testing.T) {
	router := newRouter(t)
	svc := New(Config{Router: router, Logger: testLogger()})

	require.Equal(t, http.StatusOK, post(t, svc, samplePayload).Code)
	require.Equal(t, http.StatusOK, post(t, svc,
		`{"update_id":1,"message":{"message_id":2,"chat":{"id":3},"text":"edited"}}`).Code)

	assert.Equal(t, "edited", storedValue(t, router, "3", "1"))
}

func TestServeHTTP_SeparateTenants(t *testing.T) {
	router := newRouter(t)
	svc := New(Config{Router: router, Logger: testLogger()})

	post(t, svc, `{"update_id":1,"message":{"message_id":1,"chat":{"id":20},"text":"b"}}`)
	post(t, svc, `{"update_id":2,"message":{"message_id":1,"chat":{"id":10},"text":"a"}}`)

	assert.Equal(t, []string{"10", "20"}, router.Known())

	engine, _ := router.Lookup("10")
	_, found, err := engine.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, found, "update 1 belongs to tenant 20 only")
}

func TestServeHTTP_MalformedPayload(t *testing.T) {
	bodies := map[string]string{
		"empty":          "",
		"not json":       "not json at all",
		"wrapped update": `{"update":` + samplePayload + `}`,
		"missing chat":   `{"update_id":1,"message":{"message_id":2}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			resolver := &countingResolver{inner: newRouter(t)}
			svc := New(Config{Router: resolver, Logger: testLogger()})

			rec := post(t, svc, body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Failed to parse input", rec.Body.String())
			assert.Equal(t, int32(0), resolver.calls.Load(), "storage must not be touched")
		})
	}
}

func TestServeHTTP_ResolveFailure(t *testing.T) {
	resolver := &countingResolver{err: kv.ErrOpen}
	svc := New(Config{Router: resolver, Logger: testLogger()})

	rec := post(t, svc, samplePayload)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", rec.Body.String())
}

func TestServeHTTP_WriteFailure(t *testing.T) {
	svc := New(Config{Router: staticResolver{engine: &failingEngine{}}, Logger: testLogger()})

	rec := post(t, svc, samplePayload)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", rec.Body.String())
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	resolver := &countingResolver{inner: newRouter(t)}
	svc := New(Config{Router: resolver, Logger: testLogger(), MaxBodyBytes: 16})

	rec := post(t, svc, samplePayload)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int32(0), resolver.calls.Load())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestServeHTTP_BodyReadFailure(t *testing.T) {
	svc := New(Config{Router: newRouter(t), Logger: testLogger()})

	req := httptest.NewRequest(http.MethodPost, "/", errReader{})
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal error", rec.Body.String())
}

func TestIngest_ConcurrentFirstRequests(t *testing.T) {
	router := newRouter(t)
	svc := New(Config{Router: router, Logger: testLogger()})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, OutcomeDone, svc.Ingest(context.Background(), []byte(samplePayload)))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"3"}, router.Known())
	assert.Equal(t, "message", storedValue(t, router, "3", "1"))
}

func TestIngest_AcknowledgesOncePerUpdate(t *testing.T) {
	notifier := &fakeNotifier{}
	cache := dedupe.New(time.Minute, 100, time.Hour)
	defer cache.Close()

	svc := New(Config{
		Router:   newRouter(t),
		Logger:   testLogger(),
		Notifier: notifier,
		AckText:  "ack",
		Dedupe:   cache,
	})

	assert.Equal(t, OutcomeDone, svc.Ingest(context.Background(), []byte(samplePayload)))
	assert.Equal(t, OutcomeDone, svc.Ingest(context.Background(), []byte(samplePayload)))
	svc.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []int64{3}, notifier.sent)
	assert.Equal(t, []string{"ack"}, notifier.texts)
}

func TestIngest_FailedAckDoesNotFailRequest(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	cache := dedupe.New(time.Minute, 100, time.Hour)
	defer cache.Close()

	svc := New(Config{
		Router:   newRouter(t),
		Logger:   testLogger(),
		Notifier: notifier,
		AckText:  "ack",
		Dedupe:   cache,
	})

	assert.Equal(t, OutcomeDone, svc.Ingest(context.Background(), []byte(samplePayload)))
	svc.Wait()
	assert.Equal(t, OutcomeDone, svc.Ingest(context.Background(), []byte(samplePayload)))
	svc.Wait()

	assert.Equal(t, 2, notifier.count(), "a failed ack is retried on redelivery")
}

func TestIngest_NoAckOnStorageFailure(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := New(Config{
		Router:   staticResolver{engine: &failingEngine{}},
		Logger:   testLogger(),
		Notifier: notifier,
		AckText:  "ack",
	})

	assert.Equal(t, OutcomeInternal, svc.Ingest(context.Background(), []byte(samplePayload)))
	svc.Wait()
	assert.Equal(t, 0, notifier.count())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "write", classify(kv.ErrWrite))
	assert.Equal(t, "encoding", classify(kv.ErrEncoding))
	assert.Equal(t, "unknown", classify(errors.New("boom")))
}
