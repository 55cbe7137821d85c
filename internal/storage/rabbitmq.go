package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var rabbitTracer = otel.Tracer("ai-ats-go/storage/rabbitmq")

// RabbitMQ 发布候选人事件到 topic exchange
type RabbitMQ struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
	logger       zerolog.Logger
}

// NewRabbitMQ 连接RabbitMQ并声明候选人事件 exchange
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger zerolog.Logger) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}
	if cfg.CandidateEventsExchange == "" {
		return nil, fmt.Errorf("exchange名称不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道: %w", err)
	}

	r := &RabbitMQ{conn: conn, ch: ch, cfg: cfg, logger: logger}
	if err := r.declareTopology(); err != nil {
		_ = r.Close()
		return nil, err
	}

	logger.Info().Str("exchange", cfg.CandidateEventsExchange).Msg("成功连接到RabbitMQ服务器")
	return r, nil
}

// declareTopology 声明 exchange，配置了审计队列时一并绑定全部候选人事件
func (r *RabbitMQ) declareTopology() error {
	if err := r.ch.ExchangeDeclare(
		r.cfg.CandidateEventsExchange,
		"topic",
		true,  // 持久化
		false, // 自动删除
		false, // 内部
		false, // 非阻塞
		nil,
	); err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	if r.cfg.AuditQueue == "" {
		return nil
	}
	if _, err := r.ch.QueueDeclare(r.cfg.AuditQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}
	if err := r.ch.QueueBind(r.cfg.AuditQueue, "candidate.#", r.cfg.CandidateEventsExchange, false, nil); err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}
	r.logger.Info().
		Str("queue", r.cfg.AuditQueue).
		Str("exchange", r.cfg.CandidateEventsExchange).
		Msg("已绑定审计队列")
	return nil
}

// Close 关闭通道和连接
func (r *RabbitMQ) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// RoutingKey 事件类型对应的路由键
func (r *RabbitMQ) RoutingKey(eventType string) string {
	switch eventType {
	case types.EventCandidateCreated:
		if r.cfg.CreatedRoutingKey != "" {
			return r.cfg.CreatedRoutingKey
		}
	case types.EventCandidateDeleted:
		if r.cfg.DeletedRoutingKey != "" {
			return r.cfg.DeletedRoutingKey
		}
	}
	return eventType
}

// PublishJSON 以JSON格式发布到候选人事件 exchange
func (r *RabbitMQ) PublishJSON(ctx context.Context, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.Publish(ctx, r.cfg.CandidateEventsExchange, routingKey, body)
}

// Exchange 候选人事件 exchange 名称
func (r *RabbitMQ) Exchange() string {
	return r.cfg.CandidateEventsExchange
}

// Publish 发布持久化的JSON消息
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ctx, span := rabbitTracer.Start(ctx, "RabbitMQ.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", exchange),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		))
	defer span.End()

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()
	err := r.ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // 强制
		false, // 立即
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
		return fmt.Errorf("发布消息失败: %w", err)
	}
	return nil
}

// PublishCandidateEvent 发布候选人事件
func (r *RabbitMQ) PublishCandidateEvent(ctx context.Context, event types.CandidateEvent) error {
	return r.PublishJSON(ctx, r.RoutingKey(event.Type), event)
}
