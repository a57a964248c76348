package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveStage(t *testing.T) {
	rec := New(prometheus.NewRegistry())

	rec.ObserveStage("exact_id", 10*time.Millisecond, "accepted")
	rec.ObserveStage("exact_id", 5*time.Millisecond, "accepted")
	rec.ObserveStage("subject_keywords", time.Second, "error")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.stageResults.WithLabelValues("exact_id", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stageResults.WithLabelValues("subject_keywords", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.stageDuration))
}

func TestRecorder_ObserveGit(t *testing.T) {
	rec := New(prometheus.NewRegistry())

	rec.ObserveGit("log", time.Millisecond, nil)
	rec.ObserveGit("log", time.Millisecond, errors.New("exit status 128"))
	rec.ObserveGit("show", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.gitCalls.WithLabelValues("log", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.gitCalls.WithLabelValues("log", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.gitCalls.WithLabelValues("show", OutcomeSuccess)))
}

func TestRecorder_SearchAndCache(t *testing.T) {
	rec := New(prometheus.NewRegistry())

	rec.ObserveSearch("found", 2*time.Second)
	rec.ObserveCache("diff", true)
	rec.ObserveCache("diff", false)
	rec.ObserveCache("diff", false)
	rec.AddUnknown(3)
	rec.AddUnknown(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.searches.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.cacheLookups.WithLabelValues("diff", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.cacheLookups.WithLabelValues("diff", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.unknown))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.ObserveStage("exact_id", time.Millisecond, "accepted")
		rec.ObserveSearch("found", time.Millisecond)
		rec.ObserveGit("log", time.Millisecond, nil)
		rec.ObserveCache("outcome", true)
		rec.AddUnknown(1)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)
	rec.ObserveSearch("not_found", time.Second)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := new(strings.Builder)
	_, err = io.Copy(body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `backport_search_total{status="not_found"} 1`)
}
