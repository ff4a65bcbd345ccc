package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRecorder(t *testing.T) {
	r := New().ForRun("a")
	r.ObserveStep(2*time.Millisecond, 0.5)
	r.ObserveStep(3*time.Millisecond, 1.0)
	r.AddDivisions(3)
	r.AddDeaths(2, 1)
	r.SetCellCounts(map[string]int{"wild_type": 10, "apoptotic": 2})
	r.RunFinished("complete")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.simTime.WithLabelValues("a")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.divisions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.deaths.WithLabelValues("apoptosis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deaths.WithLabelValues("killed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.cells.WithLabelValues("a", "wild_type")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("complete")))

	r.SetCellCounts(map[string]int{"wild_type": 4})
	assert.Equal(t, 1, testutil.CollectAndCount(r.cells), "stale mutation labels are dropped")
}

func TestRunsKeepSeparateGauges(t *testing.T) {
	root := New()
	a, b := root.ForRun("a"), root.ForRun("b")

	a.SetCellCounts(map[string]int{"wild_type": 10, "apoptotic": 2})
	b.SetCellCounts(map[string]int{"wild_type": 3})
	a.ObserveStep(time.Millisecond, 2)
	b.ObserveStep(time.Millisecond, 0.5)
	a.AddDivisions(1)
	b.AddDivisions(2)

	assert.Equal(t, 10.0, testutil.ToFloat64(root.cells.WithLabelValues("a", "wild_type")))
	assert.Equal(t, 2.0, testutil.ToFloat64(root.cells.WithLabelValues("a", "apoptotic")))
	assert.Equal(t, 3.0, testutil.ToFloat64(root.cells.WithLabelValues("b", "wild_type")))
	assert.Equal(t, 2.0, testutil.ToFloat64(root.simTime.WithLabelValues("a")))
	assert.Equal(t, 0.5, testutil.ToFloat64(root.simTime.WithLabelValues("b")))
	assert.Equal(t, 3.0, testutil.ToFloat64(root.divisions), "counters are shared")

	b.SetCellCounts(map[string]int{"wild_type": 1})
	assert.Equal(t, 3, testutil.CollectAndCount(root.cells), "resetting one run leaves the other")

	var nilRec *Recorder
	assert.Nil(t, nilRec.ForRun("x"))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveStep(time.Millisecond, 1)
	r.AddDivisions(1)
	r.AddDeaths(1, 1)
	r.SetCellCounts(map[string]int{"wild_type": 1})
	r.RunFinished("failed")
	assert.Nil(t, r.Registry())
}

func TestHandler(t *testing.T) {
	r := New()
	r.AddDivisions(5)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cellsim_divisions_total 5")
}

func TestServeStopsWithContext(t *testing.T) {
	r := New()
	r.AddDivisions(1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, ln) }()

	tr := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	tr.CloseIdleConnections()
	assert.True(t, strings.Contains(string(body), "cellsim_divisions_total 1"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
