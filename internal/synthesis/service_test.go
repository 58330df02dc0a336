package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kestrel-noc/kestrel/internal/bus"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
	"github.com/kestrel-noc/kestrel/internal/repository"
)

func newTestService(t *testing.T, eventBus domain.EventBus) (*Service, domain.Repository) {
	t.Helper()

	catalog, err := kpi.NewCatalog(kpi.DefaultCatalog())
	if err != nil {
		t.Fatalf("failed to compile catalog: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "synthesis.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(catalog, NewProcessor(), repo, eventBus, 4), repo
}

func TestServiceRun(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	svc, repo := newTestService(t, eventBus)
	ctx := context.Background()

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	topics := make(map[string]*domain.Synthesis)
	record := func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		var s domain.Synthesis
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		mu.Lock()
		topics[msg.Topic] = &s
		mu.Unlock()
		return nil
	}
	eventBus.Subscribe(ctx, "Casablanca", domain.TopicSynthesisCompleted, record)
	eventBus.Subscribe(ctx, "Casablanca", domain.TopicSynthesisAlert, record)

	req := &Request{
		City:    "Casablanca",
		Date:    "2024-03-01",
		TraceID: "trace-1",
		Records: []domain.MetricRecord{
			{"DL PRB Utilization": 80.0},
			{"DLPRBUtilization": 60.0},
			{"DLPRBUtilization": 71.0},
		},
	}

	syn, err := svc.Run(ctx, "http", req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if syn.Counts["Nbr_WCL_DLPRB"] != 2 {
		t.Errorf("expected 2 PRB alarms, got %d", syn.Counts["Nbr_WCL_DLPRB"])
	}
	if syn.Status != domain.StatusAlert {
		t.Errorf("expected ALRT, got %s", syn.Status)
	}
	if syn.Metadata.TraceID != "trace-1" || syn.Metadata.Records != 3 {
		t.Errorf("unexpected metadata: %+v", syn.Metadata)
	}

	stored, err := repo.GetSynthesis(ctx, syn.ID)
	if err != nil {
		t.Fatalf("synthesis was not persisted: %v", err)
	}
	if stored.TotalAlarms != syn.TotalAlarms {
		t.Errorf("stored total %d, returned %d", stored.TotalAlarms, syn.TotalAlarms)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for synthesis events")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, topic := range []string{domain.TopicSynthesisCompleted, domain.TopicSynthesisAlert} {
		if got, ok := topics[topic]; !ok || got.ID != syn.ID {
			t.Errorf("expected %s event for %s", topic, syn.ID)
		}
	}
}

func TestServiceRunNoRecords(t *testing.T) {
	svc, _ := newTestService(t, nil)

	for _, req := range []*Request{nil, {City: "Rabat"}} {
		if _, err := svc.Run(context.Background(), "http", req); !errors.Is(err, ErrNoRecords) {
			t.Errorf("expected ErrNoRecords, got %v", err)
		}
	}
}

func TestServiceRunCancelled(t *testing.T) {
	svc, _ := newTestService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := &Request{City: "Rabat", Records: []domain.MetricRecord{{"CSSR": 90.0}, {"CSSR": 99.0}}}
	if _, err := svc.Run(ctx, "http", req); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestServiceSetCatalog(t *testing.T) {
	svc, _ := newTestService(t, nil)

	narrow, err := kpi.NewCatalog([]*domain.RuleDefinition{
		{Name: "prb", Expression: "DLPRBUtilization > 50.0", Enabled: true},
	})
	if err != nil {
		t.Fatalf("failed to compile catalog: %v", err)
	}
	svc.SetCatalog(narrow)

	syn, err := svc.Run(context.Background(), "http", &Request{
		City:    "Rabat",
		Records: []domain.MetricRecord{{"DLPRBUtilization": 60.0}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(syn.Counts) != 1 || syn.Counts["prb"] != 1 {
		t.Errorf("expected only the swapped catalog to run, got %v", syn.Counts)
	}
}
