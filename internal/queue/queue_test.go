package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/pipeline"
)

type fakeExtractor struct {
	run  func(ctx context.Context) (*idcard.Result, error)
	opts pipeline.RunOptions
	data []byte
}

func (f *fakeExtractor) Run(ctx context.Context, raw imgutil.RawImage, opts pipeline.RunOptions) (*idcard.Result, error) {
	f.opts = opts
	f.data = raw.Data
	return f.run(ctx)
}

func task(t *testing.T, p Payload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(TypeExtract, data)
}

func TestProcessTask(t *testing.T) {
	ok := func(context.Context) (*idcard.Result, error) {
		res := idcard.NewResult("run-1")
		res.Status = idcard.StatusPartial
		return res, nil
	}

	tests := []struct {
		name      string
		payload   []byte
		run       func(ctx context.Context) (*idcard.Result, error)
		skipRetry bool
		target    error
	}{
		{
			name: "success",
			run:  ok,
		},
		{
			name:      "malformed payload",
			payload:   []byte("{"),
			run:       ok,
			skipRetry: true,
		},
		{
			name:      "missing image",
			payload:   []byte(`{"job_id":"j1"}`),
			run:       ok,
			skipRetry: true,
		},
		{
			name: "undecodable image",
			run: func(context.Context) (*idcard.Result, error) {
				return nil, ocrerrors.NewImageDecodeError("unknown", fmt.Errorf("bad header"))
			},
			skipRetry: true,
			target:    ocrerrors.ErrImageDecode,
		},
		{
			name: "ocr unavailable is retried",
			run: func(context.Context) (*idcard.Result, error) {
				return nil, ocrerrors.NewOCRUnavailableError([]string{"local"}, fmt.Errorf("down"))
			},
			target: ocrerrors.ErrOCRUnavailable,
		},
		{
			name: "timeout",
			run: func(ctx context.Context) (*idcard.Result, error) {
				<-ctx.Done()
				return idcard.NewResult("run-2"), ctx.Err()
			},
			target: ocrerrors.ErrProcessingTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{run: tt.run}
			h := NewHandler(ex, 20*time.Millisecond, zerolog.Nop())

			tk := asynq.NewTask(TypeExtract, tt.payload)
			if tt.payload == nil {
				tk = task(t, Payload{JobID: "job-7", Filename: "card.jpg", Image: []byte{1, 2, 3}, Connector: "gemini", ExpectedID: "001099012345"})
			}

			err := h.ProcessTask(context.Background(), tk)
			if tt.target == nil && !tt.skipRetry {
				if err != nil {
					t.Fatalf("ProcessTask() error = %v", err)
				}
				if ex.opts.JobID != "job-7" || ex.opts.Connector != "gemini" || ex.opts.ExpectedID != "001099012345" {
					t.Errorf("run options = %+v", ex.opts)
				}
				if len(ex.data) != 3 {
					t.Errorf("image bytes = %v", ex.data)
				}
				return
			}
			if err == nil {
				t.Fatal("ProcessTask() succeeded, want error")
			}
			if got := stderrors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Errorf("SkipRetry = %v, want %v (err %v)", got, tt.skipRetry, err)
			}
			if tt.target != nil && !stderrors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second},
		{30, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("retry %d", tt.n), func(t *testing.T) {
			if got := RetryDelay(tt.n, nil, nil); got != tt.want {
				t.Errorf("RetryDelay(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestNewExtractTask(t *testing.T) {
	if _, err := NewExtractTask(Payload{Image: []byte{1}}, "idcard"); err == nil {
		t.Error("task without a job id accepted")
	}

	tk, err := NewExtractTask(Payload{JobID: "job-1", Image: []byte{0xff, 0xd8}}, "idcard")
	if err != nil {
		t.Fatalf("NewExtractTask() error = %v", err)
	}
	if tk.Type() != TypeExtract {
		t.Errorf("Type() = %q", tk.Type())
	}
	var p Payload
	if err := json.Unmarshal(tk.Payload(), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.JobID != "job-1" || len(p.Image) != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestNewConsumerValidates(t *testing.T) {
	h := NewHandler(&fakeExtractor{}, time.Second, zerolog.Nop())
	tests := []struct {
		name string
		cfg  ConsumerConfig
	}{
		{"no redis", ConsumerConfig{QueueName: "idcard", Handler: h}},
		{"no queue", ConsumerConfig{RedisURL: "redis://localhost:6379/0", Handler: h}},
		{"no handler", ConsumerConfig{RedisURL: "redis://localhost:6379/0", QueueName: "idcard"}},
		{"bad url", ConsumerConfig{RedisURL: "://nope", QueueName: "idcard", Handler: h}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConsumer(tt.cfg, zerolog.Nop()); err == nil {
				t.Error("NewConsumer() succeeded, want error")
			}
		})
	}
}
