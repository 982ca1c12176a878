package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCounters(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordOrderCreated("EURUSD")
	m.RecordOrderCreated("EURUSD")
	m.RecordOrderFilled("EURUSD")
	m.RecordOrderRejected()
	m.RecordOrderClosed(CloseTakeProfit)
	m.RecordOrderClosed(CloseEndOfRun)
	m.RecordOrderCanceled()
	m.RecordDrillDown("EURUSD")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated.WithLabelValues("EURUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersFilled.WithLabelValues("EURUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersClosed.WithLabelValues(CloseTakeProfit)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ordersClosed.WithLabelValues(CloseStopLoss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersCanceled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drillDowns.WithLabelValues("EURUSD")))
}

func TestAccountGauges(t *testing.T) {
	m := New(DefaultConfig())
	m.UpdateAccount(100489, 100388.5, 489)
	vt := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	m.UpdateVirtualTime(vt)

	assert.Equal(t, 100489.0, testutil.ToFloat64(m.balance))
	assert.Equal(t, 100388.5, testutil.ToFloat64(m.equity))
	assert.Equal(t, 489.0, testutil.ToFloat64(m.realizedPnL))
	assert.Equal(t, float64(vt.Unix()), testutil.ToFloat64(m.virtualTime))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(Config{Namespace: "t", Subsystem: "bt"})
	m.RecordBar("EURUSD", "H4")
	m.RecordTick("EURUSD")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `t_bt_bars_processed_total{symbol="EURUSD",timeframe="H4"} 1`))
	assert.True(t, strings.Contains(string(body), `t_bt_ticks_processed_total{symbol="EURUSD"} 1`))
}
