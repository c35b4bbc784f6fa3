package approvalflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPContextResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/task/9":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"done": true, "score": 87.5}`))
		case "/task/404":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	resolver := NewHTTPContextResolver(server.URL, nil)
	ctx := context.Background()

	entityCtx, err := resolver.Resolve(ctx, "task", 9)
	require.NoError(t, err)
	assert.Equal(t, true, entityCtx["done"])
	assert.Equal(t, 87.5, entityCtx["score"])

	_, err = resolver.Resolve(ctx, "task", 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = resolver.Resolve(ctx, "task", 500)
	assert.ErrorIs(t, err, ErrDependency)
}

func TestHTTPContextResolverFeedsScanner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"done": true}`))
	}))
	defer server.Close()

	ctx := context.Background()
	engine, _, clock, _ := newTestEngine(t)
	_, ruled := registerScanDefinitions(t, engine)

	instanceID, err := engine.Start(ctx, ruled.ID, "task", 9, "carol")
	require.NoError(t, err)

	scanner := NewEscalationScanner(engine, NewHTTPContextResolver(server.URL, nil), time.Minute, nil)

	clock.Advance(25 * time.Hour)

	report, err := scanner.RunScan(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutoProgressed)

	instance, err := engine.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, instance.Status)
}
