// Package outbox 实现候选人事件的发件箱模式：事件先落库，再由后台中继发布到消息队列。
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ai-ats-go/internal/storage/models"
	"ai-ats-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollingInterval = 5 * time.Second // 默认轮询间隔
	defaultBatchSize       = 10              // 每次轮询处理的消息数
	maxRetryCount          = 5               // 发布失败的最大重试次数
)

// Store 发件箱存储，由 storage.MySQL 实现
type Store interface {
	EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error
	ProcessOutbox(ctx context.Context, limit int, fn func(msg *models.OutboxMessage)) (int, error)
}

// Publisher 消息发布器，由 storage.RabbitMQ 实现
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Writer 把候选人事件写入发件箱，实现 processor.EventPublisher
type Writer struct {
	store      Store
	exchange   string
	routingKey func(eventType string) string
}

// NewWriter 创建发件箱写入器，routingKey 为空时使用事件类型作为路由键
func NewWriter(store Store, exchange string, routingKey func(eventType string) string) *Writer {
	if routingKey == nil {
		routingKey = func(eventType string) string { return eventType }
	}
	return &Writer{store: store, exchange: exchange, routingKey: routingKey}
}

// PublishCandidateEvent 事件序列化后写入发件箱
func (w *Writer) PublishCandidateEvent(ctx context.Context, event types.CandidateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	return w.store.EnqueueOutbox(ctx, &models.OutboxMessage{
		AggregateID:      event.CandidateID,
		EventType:        event.Type,
		Payload:          string(payload),
		TargetExchange:   w.exchange,
		TargetRoutingKey: w.routingKey(event.Type),
		Status:           models.OutboxStatusPending,
	})
}

// Relay 轮询发件箱并发布到消息队列
type Relay struct {
	store           Store
	publisher       Publisher
	pollingInterval time.Duration
	batchSize       int
	now             func() time.Time
	logger          zerolog.Logger
	tracer          trace.Tracer

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// RelayOption 配置 Relay
type RelayOption func(*Relay)

// WithPollingInterval 设置轮询间隔
func WithPollingInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 设置每批处理数量
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRelayLogger 设置日志
func WithRelayLogger(logger zerolog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// NewRelay 创建消息中继
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:           store,
		publisher:       publisher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		now:             time.Now,
		logger:          zerolog.Nop(),
		tracer:          otel.Tracer("ai-ats-go/outbox"),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 在后台开始轮询，Stop 或 ctx 取消后退出
func (r *Relay) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch", r.batchSize).Msg("消息中继已启动")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer close(r.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				r.logger.Info().Msg("消息中继已停止")
				return
			case <-ctx.Done():
				r.logger.Info().Msg("消息中继已停止")
				return
			case <-ticker.C:
				if _, err := r.ProcessPending(ctx); err != nil {
					r.logger.Error().Err(err).Msg("处理待发布消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	if r.started.Load() {
		<-r.stopped
	}
}

// ProcessPending 处理一批待发布消息，返回本批处理的条数
func (r *Relay) ProcessPending(ctx context.Context) (int, error) {
	var span trace.Span
	var sent, failed int
	n, err := r.store.ProcessOutbox(ctx, r.batchSize, func(msg *models.OutboxMessage) {
		// 空轮询不产生 span
		if span == nil {
			ctx, span = r.tracer.Start(ctx, "outbox.ProcessBatch")
		}
		pubErr := r.publisher.Publish(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload))
		msg.MarkResult(pubErr, r.now(), maxRetryCount)
		if pubErr != nil {
			failed++
			r.logger.Warn().
				Err(pubErr).
				Uint64("id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount).
				Msg("发布发件箱消息失败")
			return
		}
		sent++
	})
	if span != nil {
		span.SetAttributes(
			attribute.Int("messaging.batch.message_count", n),
			attribute.Int("outbox.sent", sent),
			attribute.Int("outbox.failed", failed),
		)
		span.End()
	}
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Debug().Int("count", n).Int("sent", sent).Msg("发件箱批次处理完成")
	}
	return n, nil
}
