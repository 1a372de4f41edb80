package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

func testNode() *node {
	return &node{
		logger:  log.Nop(),
		metrics: metrics.NewCollector("stream", "edge-01", "tcp", ""),
	}
}

func get(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestBuildStatsServer_StatsOnly(t *testing.T) {
	srv, preview, err := buildStatsServer(testNode(), false)
	if err != nil {
		t.Fatalf("buildStatsServer: %v", err)
	}
	if preview != nil {
		t.Error("preview sink built without --debug")
	}
	if code := get(t, srv.Handler(), "/stats"); code != http.StatusOK {
		t.Errorf("/stats = %d, want 200", code)
	}
	if code := get(t, srv.Handler(), "/"); code != http.StatusNotFound {
		t.Errorf("/ = %d, want 404 without --debug", code)
	}
}

func TestBuildStatsServer_DebugPreview(t *testing.T) {
	srv, preview, err := buildStatsServer(testNode(), true)
	if err != nil {
		t.Fatalf("buildStatsServer: %v", err)
	}
	if preview == nil {
		t.Fatal("no preview sink with --debug")
	}
	env := &types.Envelope{Frame: types.NewFrame(8, 8, 3), Metadata: types.Metadata{Tags: types.TagSet{}}}
	if err := preview.Observe(t.Context(), env); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	ring := preview.(ringSink).ring
	if ring.Len() != 1 {
		t.Errorf("ring len = %d, want 1", ring.Len())
	}
	for _, path := range []string{"/", "/stats", "/healthz"} {
		if code := get(t, srv.Handler(), path); code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, code)
		}
	}
}
