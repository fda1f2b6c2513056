package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
	imgutil "idcard-ocr/internal/image"
	"idcard-ocr/internal/pipeline"
)

// Extractor runs one extraction. *pipeline.Pipeline implements it.
type Extractor interface {
	Run(ctx context.Context, raw imgutil.RawImage, opts pipeline.RunOptions) (*idcard.Result, error)
}

// Handler processes extraction tasks.
type Handler struct {
	extractor Extractor
	timeout   time.Duration
	log       zerolog.Logger
}

// NewHandler creates a handler. A non-positive timeout selects five
// minutes.
func NewHandler(extractor Extractor, timeout time.Duration, log zerolog.Logger) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Handler{extractor: extractor, timeout: timeout, log: log}
}

// ProcessTask runs the pipeline on the task image. Jobs that can never
// succeed (bad payload, undecodable image, invalid settings) are not
// retried; OCR unavailability and timeouts are.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid job data: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.With().Str("job_id", p.JobID).Str("filename", p.Filename).Logger()
	log.Info().Int("bytes", len(p.Image)).Str("connector", p.Connector).Dur("timeout", h.timeout).Msg("processing job")

	jobCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.extractor.Run(jobCtx, imgutil.NewRawImage(p.Image), pipeline.RunOptions{
		Connector:  p.Connector,
		ExpectedID: p.ExpectedID,
		JobID:      p.JobID,
		Filename:   p.Filename,
	})
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			log.Warn().Dur("duration", duration).Msg("job timed out")
			return fmt.Errorf("processing timeout: %w", ocrerrors.NewProcessingTimeoutError(p.JobID, h.timeout, err))
		case errors.Is(err, ocrerrors.ErrImageDecode), errors.Is(err, ocrerrors.ErrConfigInvalid):
			log.Error().Err(err).Msg("job failed permanently")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		default:
			log.Error().Err(err).Dur("duration", duration).Msg("job failed")
			return fmt.Errorf("extraction failed: %w", err)
		}
	}

	if w := task.ResultWriter(); w != nil {
		data, merr := json.Marshal(res)
		if merr != nil {
			return fmt.Errorf("failed to encode result: %w", merr)
		}
		if _, werr := w.Write(data); werr != nil {
			log.Warn().Err(werr).Msg("failed to store task result")
		}
	}

	log.Info().
		Str("status", string(res.Status)).
		Str("connector", res.Connector).
		Float64("confidence", res.MeanConfidence()).
		Dur("duration", duration).
		Msg("job completed")
	return nil
}

// RetryDelay backs off exponentially from 5s, capped at one minute.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Handler     *Handler
}

// Consumer runs the asynq server.
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config ConsumerConfig
	log    zerolog.Logger
}

// NewConsumer creates a consumer for the configured queue.
func NewConsumer(cfg ConsumerConfig, log zerolog.Logger) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc: RetryDelay,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Error().Err(err).
				Str("type", task.Type()).
				Str("error_code", string(ocrerrors.CodeOf(err))).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task processing error")
		}),
		Logger:   asynqLogger{log: log.With().Str("subsystem", "asynq").Logger()},
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeExtract, cfg.Handler)

	return &Consumer{server: server, mux: mux, config: cfg, log: log}, nil
}

// Start starts processing in the background.
func (c *Consumer) Start() error {
	c.log.Info().Int("concurrency", c.config.Concurrency).Str("queue", c.config.QueueName).Msg("starting queue consumer")
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	return nil
}

// Stop waits for active tasks and shuts the server down.
func (c *Consumer) Stop() {
	c.log.Info().Msg("stopping queue consumer")
	c.server.Shutdown()
	c.log.Info().Msg("queue consumer stopped")
}

// asynqLogger routes asynq's internal logs through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
