package kafka

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeFetcher struct {
	messages []kafka.Message
	pos      int
	commits  []int64
}

func (f *fakeFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	if f.pos >= len(f.messages) {
		// A real reader blocks when the topic is drained.
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.messages[f.pos]
	f.pos++
	return msg, nil
}

func (f *fakeFetcher) Commit(_ context.Context, msg kafka.Message) error {
	f.commits = append(f.commits, msg.Offset)
	return nil
}

func TestConsumeLoop_RetryReprocessesSameMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeFetcher{messages: []kafka.Message{
		{Offset: 7, Value: []byte("first")},
		{Offset: 8, Value: []byte("second")},
	}}

	failures := 2
	var handled []string
	loop := ConsumeLoop{
		Reader:     reader,
		RetryDelay: time.Millisecond,
		Handle: func(_ context.Context, body []byte) Disposition {
			handled = append(handled, string(body))
			if string(body) == "first" && failures > 0 {
				failures--
				return Retry
			}
			if string(body) == "second" {
				cancel()
			}
			return Ack
		},
	}

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The first message resolves through in-place reprocessing before the
	// second is ever fetched; nothing is skipped over.
	want := []string{"first", "first", "first", "second"}
	if !reflect.DeepEqual(handled, want) {
		t.Errorf("handled = %v, want %v", handled, want)
	}
	if !reflect.DeepEqual(reader.commits, []int64{7, 8}) {
		t.Errorf("commits = %v, want [7 8]", reader.commits)
	}
}

func TestConsumeLoop_RejectCommitsWithoutReprocessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeFetcher{messages: []kafka.Message{{Offset: 3, Value: []byte("bad")}}}

	calls := 0
	loop := ConsumeLoop{
		Reader:     reader,
		RetryDelay: time.Millisecond,
		Handle: func(_ context.Context, _ []byte) Disposition {
			calls++
			cancel()
			return RejectNoRequeue
		},
	}

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if !reflect.DeepEqual(reader.commits, []int64{3}) {
		t.Errorf("commits = %v, want [3]", reader.commits)
	}
}

type failingFetcher struct {
	calls int
}

func (f *failingFetcher) Fetch(_ context.Context) (kafka.Message, error) {
	f.calls++
	return kafka.Message{}, errors.New("broker unreachable")
}

func (f *failingFetcher) Commit(_ context.Context, _ kafka.Message) error { return nil }

func TestConsumeLoop_FetchErrorsArePaced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reader := &failingFetcher{}
	loop := ConsumeLoop{
		Reader:          reader,
		FetchErrorDelay: 10 * time.Millisecond,
		Handle: func(_ context.Context, _ []byte) Disposition {
			t.Fatal("handler should not run")
			return Ack
		},
	}

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 50ms of outage at a 10ms cadence: a handful of attempts, not a spin.
	if reader.calls > 8 {
		t.Errorf("fetch attempts = %d, want a paced retry loop", reader.calls)
	}
}
