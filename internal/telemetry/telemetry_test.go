package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceFields(t *testing.T) {
	assert.Nil(t, TraceFields(context.Background()))

	traceID, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	spanID, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := TraceFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, traceID.String(), fields[0].String)
	assert.Equal(t, spanID.String(), fields[1].String)
}

func TestMetricsHelpersBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveReconcile("gateway_webhook", "applied", time.Millisecond)
		IncReconcileConflict()
		IncGatewayState("")
		IncDispatchFailure("push")
		ObserveHTTP("", http.StatusOK, time.Millisecond)
	})
}

func TestMetricsRegisterOnce(t *testing.T) {
	assert.NotPanics(t, func() {
		InitMetrics()
		InitMetrics()
	})
	ObserveReconcile("gateway_webhook", "applied", time.Millisecond)
}

func TestTracingMiddlewareLogsRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	orig := Logger
	Logger = zap.New(core)
	defer func() { Logger = orig }()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TracingMiddleware())
	r.GET("/bills/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/bills/42", nil))

	assert.Equal(t, http.StatusNoContent, resp.Code)
	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/bills/42", fields["path"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}
