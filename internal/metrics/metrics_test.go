package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/sandgrain/gatemediator/internal/cloud"
	"github.com/sandgrain/gatemediator/internal/transport"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func TestInstrumentTransportCountsSuccessAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	mock := transport.NewMockTransport()
	mock.Enqueue("/dev/ttyACM0", transport.Reply{Decoded: []byte{0x01}})
	mock.Enqueue("/dev/ttyACM0", transport.Reply{Err: transport.ErrNoData})

	wrapped := InstrumentTransport(mock, c)

	_, err := wrapped.Exchange(context.Background(), "/dev/ttyACM0", transport.Frame{})
	require.NoError(t, err)
	_, err = wrapped.Exchange(context.Background(), "/dev/ttyACM0", transport.Frame{})
	require.Error(t, err)

	require.Equal(t, float64(1), counterValue(t, c.deviceExchanges, "success"))
	require.Equal(t, float64(1), counterValue(t, c.deviceExchanges, "error"))
}

func TestInstrumentCloudClientLabelsByMethod(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	mock := &cloud.Mock{
		LoginFunc: func(ctx context.Context, u, p string) (cloud.LoginResult, error) {
			return cloud.LoginResult{AccessToken: "tok"}, nil
		},
	}
	wrapped := InstrumentCloudClient(mock, c)

	_, err := wrapped.IoTLogin(context.Background(), "u", "p")
	require.NoError(t, err)
	require.Equal(t, float64(1), counterValue(t, c.cloudCalls, "iotLogin", "success"))
}

func TestSetJobQueueDepthAndRecordJobProcessed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	require.NotPanics(t, func() {
		c.SetJobQueueDepth(3)
		c.RecordJobProcessed()
	})
}
