package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestEndpointHost(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318":   "collector:4318",
		"https://collector:4318/": "collector:4318",
		"collector:4318":          "collector:4318",
	}
	for in, want := range cases {
		assert.Equal(t, want, endpointHost(in), in)
	}
}

func TestStartEndWithoutExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	ctx, span := Start(context.Background(), "turn.execute", attribute.String("session.id", "s1"))
	assert.NotNil(t, ctx)
	End(span, errors.New("boom"))
	assert.NoError(t, Shutdown(context.Background()))
}
