package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
)

type countingProcessor struct {
	mu      sync.Mutex
	seen    []string
	running atomic.Int64
	peak    atomic.Int64
	hold    time.Duration
}

func (p *countingProcessor) Process(ctx context.Context, jobID string) orchestrator.Result {
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(p.hold)
	p.running.Add(-1)
	p.mu.Lock()
	p.seen = append(p.seen, jobID)
	p.mu.Unlock()
	return orchestrator.Result{JobID: jobID, Status: domain.JobStatusSucceeded}
}

func (p *countingProcessor) jobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type queueClaimer struct {
	mu    sync.Mutex
	ids   []string
	calls int
	fail  bool
}

func (q *queueClaimer) ClaimPendingJob(context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.fail && q.calls == 1 {
		return "", errors.New("db down")
	}
	if len(q.ids) == 0 {
		return "", domain.ErrNoJobAvailable
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, nil
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	proc := &countingProcessor{hold: 20 * time.Millisecond}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("job-%d", i)
		pool.Go(context.Background(), func(ctx context.Context) { proc.Process(ctx, id) })
	}
	pool.Wait()
	if got := len(proc.jobs()); got != 6 {
		t.Fatalf("processed %d jobs", got)
	}
	if peak := proc.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds pool size", peak)
	}
}

func TestPoolGoStopsWhenContextDone(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	pool.Go(context.Background(), func(context.Context) { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if pool.Go(ctx, func(context.Context) { t.Error("should not run") }) {
		t.Fatal("expected Go to refuse after cancellation")
	}
	close(block)
	pool.Wait()
}

func TestClaimLoopProcessesQueuedJobs(t *testing.T) {
	claimer := &queueClaimer{ids: []string{"a", "b", "c"}, fail: true}
	proc := &countingProcessor{}
	loop := &ClaimLoop{Claimer: claimer, Processor: proc, Pool: NewPool(2), Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(proc.jobs()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only processed %v", proc.jobs())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}

func TestParseJobMessage(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `{"job_id":"job-1","trace_id":"t"}`, want: "job-1"},
		{in: "  job-2 ", want: "job-2"},
		{in: `{"trace_id":"t"}`, wantErr: true},
		{in: `{bad`, wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		msg, err := ParseJobMessage([]byte(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || msg.JobID != tc.want {
			t.Errorf("%q: got %+v, %v", tc.in, msg, err)
		}
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeClaimProcessesAndMarks(t *testing.T) {
	proc := &countingProcessor{}
	h := &groupHandler{processor: proc, pool: NewPool(1), logger: loggerForTest()}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"job_id":"job-1"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"oops":true}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 3, Value: []byte("job-3")}
	close(claim.msgs)

	session := &fakeSession{ctx: context.Background()}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := proc.jobs(); len(got) != 2 || got[0] != "job-1" || got[1] != "job-3" {
		t.Fatalf("processed %v", got)
	}
	if len(session.marked) != 3 {
		t.Fatalf("marked offsets %v", session.marked)
	}
}

func TestProducerEnqueuesJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg JobMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.JobID != "job-9" {
			return fmt.Errorf("job id %q", msg.JobID)
		}
		return nil
	})
	p := NewProducerFrom(sp, "image_jobs")
	if err := p.Enqueue(context.Background(), JobMessage{JobID: "job-9"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
