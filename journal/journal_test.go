package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func detection(seq uint64, tags types.TagSet) *types.Envelope {
	return &types.Envelope{Metadata: types.Metadata{
		Hostname: "edge-01",
		Datetime: "20240115100000.500000",
		FrameID:  "frame",
		Seq:      seq,
		Tags:     tags,
	}}
}

var square = types.Polygon{{10, 10}, {60, 10}, {60, 60}, {10, 60}}

// memStore records batches and can be told to fail.
type memStore struct {
	mu      sync.Mutex
	batches [][]Record
	fail    error
	closed  bool
}

func (s *memStore) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, append([]Record(nil), records...))
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestRecordsFor(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	env := detection(7, types.TagSet{
		types.TagQRCode: {square},
		types.TagFace:   {},
		types.TagPlate:  {square, square},
	})

	recs := RecordsFor(env, now)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (empty detector skipped)", len(recs))
	}
	if recs[0].Detector != types.TagPlate || recs[1].Detector != types.TagQRCode {
		t.Errorf("detectors = %s, %s; want sorted plate, qrcode", recs[0].Detector, recs[1].Detector)
	}
	if len(recs[0].Polygons) != 2 || recs[0].Seq != 7 || recs[0].Hostname != "edge-01" {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].Day == "" {
		t.Error("day partition empty")
	}

	if got := RecordsFor(detection(1, types.TagSet{types.TagFace: {}}), now); len(got) != 0 {
		t.Errorf("frame without detections produced %d records", len(got))
	}
}

func TestDeriveDay_Fallback(t *testing.T) {
	fallback := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	if got := DeriveDay("garbage", fallback); got != "2025-03-09" {
		t.Errorf("DeriveDay = %q, want fallback day", got)
	}
}

func TestWriter_FlushOnCount(t *testing.T) {
	store := &memStore{}
	m := metrics.NewCollector("serve", "h", "tcp", "")
	w, err := NewWriter(store, WriterConfig{FlushCount: 2, FlushInterval: time.Hour, Metrics: m})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	ctx := t.Context()
	_ = w.Observe(ctx, detection(1, types.TagSet{types.TagQRCode: {square}}))
	if store.total() != 0 {
		t.Fatal("flushed before reaching count")
	}
	_ = w.Observe(ctx, detection(2, types.TagSet{types.TagQRCode: {square}}))
	if store.total() != 2 {
		t.Fatalf("persisted %d, want 2 after count trigger", store.total())
	}
	st := w.Stats()
	if st.Flushes[FlushTriggerCount] != 1 || st.Persisted != 2 || st.Buffered != 0 {
		t.Errorf("stats = %+v", st)
	}
	if m.Snapshot().JournalWriteSuccess != 1 {
		t.Errorf("JournalWriteSuccess = %d", m.Snapshot().JournalWriteSuccess)
	}
}

func TestWriter_FlushOnInterval(t *testing.T) {
	store := &memStore{}
	w, err := NewWriter(store, WriterConfig{FlushCount: 100, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	_ = w.Observe(t.Context(), detection(1, types.TagSet{types.TagFace: {square}}))

	deadline := time.Now().Add(2 * time.Second)
	for store.total() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_FailedFlushRetainedAndBounded(t *testing.T) {
	store := &memStore{fail: errors.New("dial tcp 10.0.0.1:9000: connection refused")}
	m := metrics.NewCollector("serve", "h", "tcp", "")
	w, err := NewWriter(store, WriterConfig{FlushCount: 2, MaxBuffered: 3, FlushInterval: time.Hour, Metrics: m})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ctx := t.Context()
	for seq := uint64(1); seq <= 4; seq++ {
		_ = w.Observe(ctx, detection(seq, types.TagSet{types.TagQRCode: {square}}))
	}
	st := w.Stats()
	if st.Buffered != 3 || st.Dropped != 1 {
		t.Fatalf("buffered=%d dropped=%d, want 3 and 1", st.Buffered, st.Dropped)
	}
	if st.Errors == 0 {
		t.Error("no flush errors recorded")
	}

	store.setFail(nil)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !store.closed {
		t.Error("store not closed")
	}
	if store.total() != 3 {
		t.Fatalf("persisted %d, want 3 retained records", store.total())
	}
	if first := store.batches[0][0].Seq; first != 2 {
		t.Errorf("oldest persisted seq = %d, want 2 (seq 1 dropped)", first)
	}
	if s := m.Snapshot(); s.JournalRecordsDropped != 1 || s.JournalWriteFailure == 0 {
		t.Errorf("metrics = %+v", s)
	}
	if err := w.Observe(ctx, detection(9, types.TagSet{types.TagQRCode: {square}})); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Observe after Close = %v, want ErrWriterClosed", err)
	}
}

func TestLodeStore_WriteAndQuery(t *testing.T) {
	mem := lode.NewMemory()
	factory := sharedFactory(mem)

	store, err := NewLodeStore("tagstream", factory)
	if err != nil {
		t.Fatalf("NewLodeStore failed: %v", err)
	}
	now := time.Date(2024, 1, 15, 10, 0, 1, 0, time.UTC)
	recs := RecordsFor(detection(3, types.TagSet{
		types.TagQRCode: {square},
		types.TagPlate:  {square},
	}), now)
	if err := store.Write(t.Context(), recs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(t.Context(), nil); err != nil {
		t.Fatalf("empty Write failed: %v", err)
	}

	ds, err := NewDataset("tagstream", factory)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	all, err := Query(t.Context(), ds, "", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Query returned %d records, want 2", len(all))
	}

	qr, err := Query(t.Context(), ds, "edge-01", types.TagQRCode)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(qr) != 1 || qr[0]["detector"] != types.TagQRCode || qr[0]["datetime"] != "20240115100000.500000" {
		t.Errorf("filtered = %v", qr)
	}

	none, _ := Query(t.Context(), ds, "other-host", "")
	if len(none) != 0 {
		t.Errorf("other host returned %d records", len(none))
	}
}

func TestNewFSStore(t *testing.T) {
	if _, err := NewFSStore("", ""); err == nil {
		t.Error("NewFSStore without directory succeeded")
	}
	if _, err := NewFSStore("", t.TempDir()); err != nil {
		t.Errorf("NewFSStore failed: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
		{"s3://bucket/journal", "bucket", "journal"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("open /j: permission denied"), ErrPermissionDenied},
		{errors.New("NoSuchBucket: missing"), ErrNotFound},
		{errors.New("write: no space left on device"), ErrDiskFull},
		{errors.New("SlowDown: reduce request rate"), ErrThrottled},
		{errors.New("dial tcp: connection refused"), ErrNetwork},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("something odd"), ErrUnclassified},
	}
	for _, tt := range tests {
		err := wrap("write", "tagstream", tt.err)
		if !errors.Is(err, tt.want) {
			t.Errorf("wrap(%v) = %v, want kind %v", tt.err, err, tt.want)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("wrap(%v) lost the cause", tt.err)
		}
	}
	if wrap("write", "", nil) != nil {
		t.Error("wrap(nil) != nil")
	}
}
