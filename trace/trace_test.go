package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/idgend/xerrors"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{name: "default", cfg: DefaultConfig("idgend"), ok: true},
		{name: "nil", cfg: nil},
		{name: "no service", cfg: &Config{Endpoint: "localhost:4317"}},
		{name: "no endpoint", cfg: &Config{ServiceName: "idgend"}},
		{name: "bad sampler", cfg: &Config{ServiceName: "idgend", Endpoint: "x", Sampler: 1.5}},
		{name: "bad batcher", cfg: &Config{ServiceName: "idgend", Endpoint: "x", Batcher: "async"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
		})
	}
}

func TestSetupDisabledGeneratesTraceIDs(t *testing.T) {
	shutdown, err := Setup(&Config{ServiceName: "idgend"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestGinMiddlewarePropagatesContext(t *testing.T) {
	shutdown, err := Discard("idgend")
	require.NoError(t, err)
	defer shutdown(context.Background())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware("idgend"))

	var got oteltrace.SpanContext
	r.GET("/ping", func(c *gin.Context) {
		got = oteltrace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	// 上游 traceparent
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	parent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	req.Header.Set("traceparent", parent)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, got.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
}
