package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	m := New(nil)
	assert.Nil(t, m)

	assert.NotPanics(t, func() {
		m.RecordAttempt("ses", true, time.Second)
		m.RecordResult(OutcomeSent)
		m.SetQueueSize(3)
		m.RecordRetryExhausted()
		m.RecordOpen()
	})
}

func TestRecorders(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RecordAttempt("sendgrid", false, 10*time.Millisecond)
	m.RecordAttempt("ses", true, 20*time.Millisecond)
	m.RecordAttempt("ses", true, 20*time.Millisecond)
	m.RecordResult(OutcomeSent)
	m.RecordResult(OutcomeQueued)
	m.SetQueueSize(4)
	m.RecordRetryExhausted()
	m.RecordOpen()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("sendgrid", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("ses", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues(OutcomeQueued)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opens))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)
	m.RecordOpen()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mailrelay_email_opens_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
