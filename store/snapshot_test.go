package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"maison/api/models"
)

type captureWriter struct {
	data [][]byte
	err  error
}

func (w *captureWriter) Write(_ context.Context, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.data = append(w.data, data)
	return nil
}

func TestSnapshotExporter_ExportOnce(t *testing.T) {
	s := NewMemoryEventStore(Options{Clock: func() time.Time { return testNow.Add(-time.Minute) }})
	mustRecord(t, s, visit("abc123", models.EventNewVisitor, map[string]any{"isNewVisitor": true}))

	w := &captureWriter{}
	e := &SnapshotExporter{Store: s, Dest: w, Clock: func() time.Time { return testNow }}
	if err := e.ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce: %v", err)
	}
	if len(w.data) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(w.data))
	}

	var snap models.DashboardSnapshot
	if err := json.Unmarshal(w.data[0], &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.GeneratedAt.Equal(testNow) {
		t.Errorf("expected generatedAt %v, got %v", testNow, snap.GeneratedAt)
	}
	if snap.Stats.TotalVisitors != 1 || snap.Stats.NewVisitors != 1 {
		t.Errorf("unexpected stats %+v", snap.Stats)
	}
	if len(snap.ActiveVisitors) != 1 || snap.ActiveVisitors[0].VisitorID != "abc123" {
		t.Errorf("unexpected active visitors %+v", snap.ActiveVisitors)
	}
	if !snap.ActiveVisitors[0].LastSeen.Equal(testNow.Add(-time.Minute)) {
		t.Errorf("lastSeen did not survive the round trip: %v", snap.ActiveVisitors[0].LastSeen)
	}
	if len(snap.Notifications) != 1 || snap.Notifications[0].Type != models.EventNewVisitor {
		t.Errorf("unexpected notifications %+v", snap.Notifications)
	}
}

func TestSnapshotExporter_WriteError(t *testing.T) {
	e := &SnapshotExporter{Store: NewMemoryEventStore(Options{}), Dest: &captureWriter{err: errors.New("bucket gone")}}
	if err := e.ExportOnce(context.Background()); err == nil {
		t.Fatal("expected write error")
	}
}

func TestSnapshotExporter_RunStopsOnCancel(t *testing.T) {
	w := &captureWriter{}
	e := &SnapshotExporter{Store: NewMemoryEventStore(Options{}), Dest: w, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
