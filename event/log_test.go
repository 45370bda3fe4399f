package event_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordPersists(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	log := event.NewLog(st, quietLogger())

	evt := log.Record(ctx, event.TypeManualResolve, "batch resolved", map[string]string{"session_id": "BATCH_0001"})
	if evt.ID.IsNil() {
		t.Fatal("event has no id")
	}
	if string(evt.Details) != `{"session_id":"BATCH_0001"}` {
		t.Errorf("Details = %s", evt.Details)
	}

	got, err := st.ListEvents(ctx, event.ListOpts{Type: event.TypeManualResolve})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "batch resolved" {
		t.Errorf("events = %+v", got)
	}
}

func TestRecordUnencodableDetails(t *testing.T) {
	log := event.NewLog(memory.New(), quietLogger())
	evt := log.Record(context.Background(), event.TypeSweep, "sweep", map[string]any{"bad": make(chan int)})
	if evt.Details != nil {
		t.Errorf("Details = %s, want nil", evt.Details)
	}
}

type failingStore struct{ event.Store }

func (failingStore) AppendEvent(context.Context, *event.Event) error {
	return errors.New("disk full")
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	log := event.NewLog(failingStore{}, quietLogger())
	if evt := log.Record(context.Background(), event.TypeStartup, "started", nil); evt == nil {
		t.Fatal("Record returned nil")
	}
}
