// Package extraction 把简历原文转换为结构化的候选人档案。
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-ats-go/internal/llm"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var extractionTracer = otel.Tracer("ai-ats-go/extraction")

// DefaultMaxInputChars 送入模型的默认最大字符数
const DefaultMaxInputChars = 3000

var errEmptyResult = errors.New("模型未返回可解析的 JSON")

// Resolver 模型目标解析，由 llm.Registry 实现
type Resolver interface {
	Resolve(hint string) (llm.Target, error)
	Default() (llm.Target, bool)
	Alternates(exclude string) []llm.Target
}

// Strategy 一种抽取方式，返回未规范化的字段
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string) (map[string]interface{}, error)
}

// Attempt 单个策略的执行情况
type Attempt struct {
	Strategy string
	Err      error
}

// Trace 抽取过程记录
type Trace struct {
	Strategy string // 最终生效的策略，例如 openai:gpt-4o 或 regex
	Attempts []Attempt
}

// UsedFallback 是否落到了正则兜底
func (t Trace) UsedFallback() bool {
	return t.Strategy == RegexStrategyName
}

type providerStrategy struct {
	target llm.Target
}

func (s providerStrategy) Name() string { return s.target.String() }

func (s providerStrategy) Extract(ctx context.Context, text string) (map[string]interface{}, error) {
	out, err := s.target.Call(ctx, BuildPrompt(text))
	if err != nil {
		return nil, err
	}
	parsed := ParseJSONObject(out)
	if len(parsed) == 0 {
		return nil, errEmptyResult
	}
	return parsed, nil
}

// Engine 按策略链依次尝试，直到得到非空结果
type Engine struct {
	resolver      Resolver
	maxInputChars int
	logger        zerolog.Logger
}

// Option 配置 Engine
type Option func(*Engine)

// WithMaxInputChars 设置截断长度
func WithMaxInputChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInputChars = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine 创建抽取引擎，resolver 可以为 nil，此时只使用正则兜底
func NewEngine(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver:      resolver,
		maxInputChars: DefaultMaxInputChars,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 抽取候选人档案，不会返回错误
func (e *Engine) Extract(ctx context.Context, rawText, hint string) (types.CandidateProfile, Trace) {
	ctx, span := extractionTracer.Start(ctx, "Engine.Extract")
	defer span.End()

	truncated := Truncate(rawText, e.maxInputChars)
	trace := Trace{}

	for _, s := range e.plan(hint) {
		if ctx.Err() != nil {
			trace.Attempts = append(trace.Attempts, Attempt{Strategy: s.Name(), Err: ctx.Err()})
			continue
		}
		start := time.Now()
		data, err := s.Extract(ctx, truncated)
		if err == nil {
			profile := types.ProfileFromMap(data)
			if !profile.IsEmpty() {
				trace.Strategy = s.Name()
				trace.Attempts = append(trace.Attempts, Attempt{Strategy: s.Name()})
				e.logger.Info().Str("strategy", s.Name()).Dur("elapsed", time.Since(start)).Msg("简历信息抽取完成")
				span.SetAttributes(attribute.String("extraction.strategy", s.Name()))
				return profile, trace
			}
			err = errEmptyResult
		}
		trace.Attempts = append(trace.Attempts, Attempt{Strategy: s.Name(), Err: err})
		e.logger.Warn().Err(err).Str("strategy", s.Name()).Msg("抽取策略失败，尝试下一个")
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeLLM, attribute.String("extraction.strategy", s.Name()))
	}

	// 兜底策略本身不会失败，这里对原文而不是截断文本做匹配
	profile := types.ProfileFromMap(RegexExtract(rawText))
	trace.Strategy = RegexStrategyName
	trace.Attempts = append(trace.Attempts, Attempt{Strategy: RegexStrategyName})
	span.SetAttributes(attribute.String("extraction.strategy", RegexStrategyName))
	e.logger.Warn().Int("attempts", len(trace.Attempts)-1).Msg("所有模型均失败，使用正则兜底抽取")
	return profile, trace
}

// plan 生成模型策略链：指定模型、其它已加载提供方
func (e *Engine) plan(hint string) []Strategy {
	if e.resolver == nil {
		return nil
	}
	var strategies []Strategy

	primary, err := e.resolver.Resolve(hint)
	if err != nil {
		e.logger.Warn().Err(err).Str("hint", hint).Msg("无法解析模型提示，改用默认模型")
		def, ok := e.resolver.Default()
		if !ok {
			return nil
		}
		primary = def
	}
	strategies = append(strategies, providerStrategy{target: primary})

	for _, alt := range e.resolver.Alternates(primary.Provider.Name()) {
		strategies = append(strategies, providerStrategy{target: alt})
	}
	return strategies
}

// String 便于日志输出
func (a Attempt) String() string {
	if a.Err == nil {
		return a.Strategy + ": ok"
	}
	return fmt.Sprintf("%s: %v", a.Strategy, a.Err)
}
