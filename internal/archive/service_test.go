package archive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
)

type testArchiveConfig struct {
	after    time.Duration
	interval time.Duration
}

func (c testArchiveConfig) GetArchiveAfter() time.Duration         { return c.after }
func (c testArchiveConfig) GetArchiveSweepInterval() time.Duration { return c.interval }

type fakeLedger struct {
	archivable []repository.Lead
	listErr    error

	gotCutoff time.Time
	gotLimit  int

	marked   []uuid.UUID
	timeline map[uuid.UUID]string
}

func (l *fakeLedger) ListArchivable(_ context.Context, cutoff time.Time, limit int) ([]repository.Lead, error) {
	l.gotCutoff = cutoff
	l.gotLimit = limit
	if l.listErr != nil {
		return nil, l.listErr
	}
	return l.archivable, nil
}

func (l *fakeLedger) GetForArchive(_ context.Context, id uuid.UUID) (repository.Lead, []repository.TimelineEvent, error) {
	for _, lead := range l.archivable {
		if lead.ID == id {
			timeline := []repository.TimelineEvent{
				{LeadID: id, Kind: repository.TimelineStateChanged, Detail: "RECEIVED -> NORMALIZING"},
			}
			return lead, timeline, nil
		}
	}
	return repository.Lead{}, nil, errors.New("lead not found")
}

func (l *fakeLedger) MarkArchived(_ context.Context, id uuid.UUID) error {
	l.marked = append(l.marked, id)
	return nil
}

func (l *fakeLedger) AppendTimeline(_ context.Context, leadID uuid.UUID, kind, detail string) error {
	if l.timeline == nil {
		l.timeline = map[uuid.UUID]string{}
	}
	l.timeline[leadID] = kind + ": " + detail
	return nil
}

type fakeSnapshotter struct {
	uploads map[string]any
	failKey string
}

func (s *fakeSnapshotter) Upload(_ context.Context, key string, doc any) error {
	if s.failKey != "" && key == s.failKey {
		return errors.New("object store unavailable")
	}
	if s.uploads == nil {
		s.uploads = map[string]any{}
	}
	s.uploads[key] = doc
	return nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) archivedEvents() []events.LeadArchived {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.LeadArchived
	for _, e := range b.published {
		if archived, ok := e.(events.LeadArchived); ok {
			out = append(out, archived)
		}
	}
	return out
}

func terminalLead(state string, updatedAt time.Time) repository.Lead {
	return repository.Lead{
		ID:          uuid.New(),
		IdentityKey: "lead@example.com",
		State:       state,
		Decision:    "disqualified",
		ReceivedAt:  updatedAt.Add(-time.Hour),
		UpdatedAt:   updatedAt,
	}
}

func newTestService(ledger *fakeLedger, exporter Snapshotter, bus *recordingBus) *Service {
	return New(ledger, exporter, bus, testArchiveConfig{after: 72 * time.Hour}, logger.New("development"))
}

func TestSweepExportsSnapshotThenFlags(t *testing.T) {
	old := time.Now().Add(-100 * time.Hour)
	lead := terminalLead("DONE", old)

	ledger := &fakeLedger{archivable: []repository.Lead{lead}}
	exporter := &fakeSnapshotter{}
	bus := &recordingBus{}
	svc := newTestService(ledger, exporter, bus)

	archived, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	wantKey := "leads/" + lead.ID.String() + ".json"
	doc, ok := exporter.uploads[wantKey]
	if !ok {
		t.Fatalf("no snapshot uploaded under %q, uploads: %v", wantKey, exporter.uploads)
	}
	snap, ok := doc.(snapshot)
	if !ok {
		t.Fatalf("uploaded doc has type %T", doc)
	}
	if snap.Lead.ID != lead.ID || snap.Lead.State != "DONE" {
		t.Errorf("snapshot lead = %+v", snap.Lead)
	}
	if len(snap.Timeline) != 1 {
		t.Errorf("snapshot timeline has %d entries, want 1", len(snap.Timeline))
	}

	if len(ledger.marked) != 1 || ledger.marked[0] != lead.ID {
		t.Errorf("marked = %v, want [%s]", ledger.marked, lead.ID)
	}
	if detail := ledger.timeline[lead.ID]; !strings.Contains(detail, wantKey) {
		t.Errorf("timeline detail %q does not name the snapshot key", detail)
	}

	archivedEvents := bus.archivedEvents()
	if len(archivedEvents) != 1 {
		t.Fatalf("got %d archived events, want 1", len(archivedEvents))
	}
	if archivedEvents[0].LeadID != lead.ID || archivedEvents[0].ObjectKey != wantKey {
		t.Errorf("archived event = %+v", archivedEvents[0])
	}
}

func TestSweepExportFailureLeavesLeadUnflagged(t *testing.T) {
	old := time.Now().Add(-100 * time.Hour)
	broken := terminalLead("ERRORED", old)
	healthy := terminalLead("DONE", old)

	ledger := &fakeLedger{archivable: []repository.Lead{broken, healthy}}
	exporter := &fakeSnapshotter{failKey: "leads/" + broken.ID.String() + ".json"}
	bus := &recordingBus{}
	svc := newTestService(ledger, exporter, bus)

	archived, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	if len(ledger.marked) != 1 || ledger.marked[0] != healthy.ID {
		t.Errorf("marked = %v, want only %s", ledger.marked, healthy.ID)
	}
	if _, ok := ledger.timeline[broken.ID]; ok {
		t.Error("timeline written for lead whose export failed")
	}

	archivedEvents := bus.archivedEvents()
	if len(archivedEvents) != 1 || archivedEvents[0].LeadID != healthy.ID {
		t.Errorf("archived events = %+v, want one for %s", archivedEvents, healthy.ID)
	}
}

func TestSweepWithoutExporterFlagsOnly(t *testing.T) {
	old := time.Now().Add(-100 * time.Hour)
	lead := terminalLead("NEEDS_FOLLOWUP", old)

	ledger := &fakeLedger{archivable: []repository.Lead{lead}}
	bus := &recordingBus{}
	svc := newTestService(ledger, nil, bus)

	archived, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	if len(ledger.marked) != 1 || ledger.marked[0] != lead.ID {
		t.Errorf("marked = %v, want [%s]", ledger.marked, lead.ID)
	}

	archivedEvents := bus.archivedEvents()
	if len(archivedEvents) != 1 {
		t.Fatalf("got %d archived events, want 1", len(archivedEvents))
	}
	if archivedEvents[0].ObjectKey != "" {
		t.Errorf("ObjectKey = %q, want empty without an exporter", archivedEvents[0].ObjectKey)
	}
	if detail := ledger.timeline[lead.ID]; strings.Contains(detail, "snapshot") {
		t.Errorf("timeline detail %q mentions a snapshot that was never written", detail)
	}
}

func TestSweepCutoffHonorsRetentionWindow(t *testing.T) {
	ledger := &fakeLedger{}
	bus := &recordingBus{}
	svc := newTestService(ledger, nil, bus)

	fixed := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	wantCutoff := fixed.Add(-72 * time.Hour)
	if !ledger.gotCutoff.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", ledger.gotCutoff, wantCutoff)
	}
	if ledger.gotLimit != defaultBatchSize {
		t.Errorf("limit = %d, want %d", ledger.gotLimit, defaultBatchSize)
	}
}

func TestSweepListFailure(t *testing.T) {
	ledger := &fakeLedger{listErr: errors.New("db down")}
	bus := &recordingBus{}
	svc := newTestService(ledger, nil, bus)

	archived, err := svc.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error when listing fails")
	}
	if archived != 0 {
		t.Errorf("archived = %d, want 0", archived)
	}
}

func TestNewDefaultsRetentionWindow(t *testing.T) {
	svc := New(&fakeLedger{}, nil, &recordingBus{}, testArchiveConfig{}, logger.New("development"))
	if svc.after != 72*time.Hour {
		t.Errorf("after = %v, want 72h default", svc.after)
	}
}
