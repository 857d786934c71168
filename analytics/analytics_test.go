package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/cascadewatch/metrics"
	"github.com/justapithecus/cascadewatch/types"
)

func TestDeriveDay(t *testing.T) {
	ts := time.Date(2026, 7, 30, 23, 5, 0, 0, time.UTC)
	if got := DeriveDay(ts); got != "2026-07-30" {
		t.Fatalf("expected 2026-07-30, got %s", got)
	}
}

func TestSinkWriteRunDelegatesAllThree(t *testing.T) {
	stub := NewStubClient()
	sink := NewSink(Config{Source: "cam-1", Category: "intersection", Day: "2026-07-30", RunID: "run_1"}, stub)

	candidates := []types.Candidate{{PacketID: "pkt_1", EventType: types.EventRedLightJump}}
	decisions := []types.Decision{{PacketID: "pkt_1", Model: "flash", Status: types.DecisionOK}}
	events := []types.FinalEvent{{EventID: "evt_001", PacketID: "pkt_1"}}

	if err := sink.WriteRun(context.Background(), candidates, decisions, events); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if len(stub.Candidates) != 1 || len(stub.Candidates[0]) != 1 {
		t.Fatalf("expected 1 candidate batch written, got %v", stub.Candidates)
	}
	if len(stub.Decisions) != 1 || len(stub.Decisions[0]) != 1 {
		t.Fatalf("expected 1 decision batch written, got %v", stub.Decisions)
	}
	if len(stub.Events) != 1 || len(stub.Events[0]) != 1 {
		t.Fatalf("expected 1 event batch written, got %v", stub.Events)
	}
}

func TestInstrumentedSinkRecordsSuccessAndFailure(t *testing.T) {
	collector := metrics.NewCollector("run_1", 6, 3)

	ok := NewInstrumentedSink(NewSink(Config{RunID: "run_1"}, NewStubClient()), collector)
	if err := ok.WriteRun(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}

	failing := NewStubClient()
	failing.FailWrites = errors.New("AccessDenied: no write permission")
	bad := NewInstrumentedSink(NewSink(Config{RunID: "run_1"}, failing), collector)
	if err := bad.WriteRun(context.Background(), []types.Candidate{{PacketID: "pkt_1"}}, nil, nil); err == nil {
		t.Fatal("expected error from failing client")
	}

	snap := collector.Snapshot()
	if snap.AnalyticsWriteSuccess != 1 {
		t.Fatalf("expected 1 success, got %d", snap.AnalyticsWriteSuccess)
	}
	if snap.AnalyticsWriteFailure != 1 {
		t.Fatalf("expected 1 failure, got %d", snap.AnalyticsWriteFailure)
	}
}

func TestWrapWriteErrorClassifiesAccessDenied(t *testing.T) {
	err := WrapWriteError(errors.New("AccessDenied: no write permission"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestWrapWriteErrorNilIsNil(t *testing.T) {
	if WrapWriteError(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
}

func TestToCandidateRecordMapIncludesPartitionKeys(t *testing.T) {
	cfg := Config{Source: "cam-1", Category: "intersection", Day: "2026-07-30", RunID: "run_1"}
	c := types.Candidate{PacketID: "pkt_1", EventType: types.EventNoHelmet, Score: 0.7}
	m := toCandidateRecordMap(c, cfg)

	if m["packet_id"] != "pkt_1" || m["source"] != "cam-1" || m["run_id"] != "run_1" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["record_kind"] != RecordKindCandidate {
		t.Fatalf("expected record_kind=%s, got %v", RecordKindCandidate, m["record_kind"])
	}
}
