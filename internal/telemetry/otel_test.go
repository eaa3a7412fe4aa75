package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer("tariff-engine", &config.Config{OTELExporterType: ExporterNone}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestNewExporter_UnknownType(t *testing.T) {
	_, err := newExporter(context.Background(), &config.Config{OTELExporterType: "zipkin"})
	assert.Error(t, err)
}

func TestNewResource_CarriesDeployment(t *testing.T) {
	res, err := newResource("tariff-engine", &config.Config{Env: "release", ServiceVersion: "1.2.3"})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "tariff-engine", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "release", attrs["deployment.environment"])
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.1).Description(), "TraceIDRatioBased")
}
