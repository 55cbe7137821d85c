package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"ai-ats-go/internal/config"

	"github.com/rs/zerolog"
)

// defaultMaxTokens 模型未配置 max_tokens 时使用
const defaultMaxTokens = 1000

// Factory 根据配置构造提供方
type Factory func(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (Provider, error)

// DefaultFactories 内置提供方的构造函数
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		config.ProviderOpenAI: func(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (Provider, error) {
			return NewOpenAIProvider(cfg, logger)
		},
		config.ProviderGPT4All: func(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (Provider, error) {
			return NewLocalProvider(ctx, cfg, logger)
		},
		config.ProviderGemini: func(ctx context.Context, cfg config.ProviderConfig, logger zerolog.Logger) (Provider, error) {
			return NewGeminiProvider(ctx, cfg, logger)
		},
	}
}

// 各提供方的推断关键字，按检查顺序排列
var inferenceRules = []struct {
	provider string
	keywords []string
}{
	{config.ProviderGPT4All, []string{"gpt4all", "gguf", "llama", "mistral", "ollama", "local"}},
	{config.ProviderGemini, []string{"gemini"}},
	{config.ProviderOpenAI, []string{"gpt", "openai", "o1", "o3", "o4"}},
}

// ProviderInfo 模型目录中的一项
type ProviderInfo struct {
	Name      string   `json:"name"`
	Models    []string `json:"models"`
	IsDefault bool     `json:"is_default"`
}

// Registry 已加载提供方的只读集合，启动后不再变化
type Registry struct {
	providers []Provider
	byName    map[string]Provider
	maxTokens map[string]map[string]int
	logger    zerolog.Logger
}

// NewRegistry 按配置顺序构造所有启用的提供方，构造失败的提供方记录日志后跳过
func NewRegistry(ctx context.Context, cfgs []config.ProviderConfig, logger zerolog.Logger, factories map[string]Factory) *Registry {
	if factories == nil {
		factories = DefaultFactories()
	}
	r := newRegistry(logger)
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			logger.Debug().Str("provider", cfg.Name).Msg("提供方未启用，跳过")
			continue
		}
		factory, ok := factories[cfg.Name]
		if !ok {
			logger.Warn().Str("provider", cfg.Name).Msg("没有对应的提供方实现，跳过")
			continue
		}
		p, err := factory(ctx, cfg, logger.With().Str("provider", cfg.Name).Logger())
		if err != nil {
			logger.Error().Err(err).Str("provider", cfg.Name).Msg("加载模型提供方失败")
			continue
		}
		r.add(p)
		for _, m := range cfg.Models {
			r.maxTokens[cfg.Name][m.ID] = m.MaxTokens
		}
		logger.Info().Str("provider", cfg.Name).Strs("models", p.ListModels()).Msg("模型提供方已加载")
	}
	if len(r.providers) == 0 {
		logger.Warn().Msg("没有可用的模型提供方，抽取将只使用正则兜底")
	}
	return r
}

// NewStaticRegistry 直接使用给定的提供方，按参数顺序决定默认值
func NewStaticRegistry(logger zerolog.Logger, providers ...Provider) *Registry {
	r := newRegistry(logger)
	for _, p := range providers {
		r.add(p)
	}
	return r
}

func newRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName:    make(map[string]Provider),
		maxTokens: make(map[string]map[string]int),
		logger:    logger,
	}
}

func (r *Registry) add(p Provider) {
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
	if _, ok := r.maxTokens[p.Name()]; !ok {
		r.maxTokens[p.Name()] = make(map[string]int)
	}
}

// Len 已加载的提供方数量
func (r *Registry) Len() int {
	return len(r.providers)
}

// Close 关闭持有底层连接的提供方
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.providers {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			r.logger.Warn().Err(err).Str("provider", p.Name()).Msg("关闭模型提供方失败")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Default 第一个可用提供方的第一个模型
func (r *Registry) Default() (Target, bool) {
	for _, p := range r.providers {
		if !p.IsAvailable() {
			continue
		}
		models := p.ListModels()
		if len(models) == 0 {
			continue
		}
		return r.target(p, models[0]), true
	}
	return Target{}, false
}

// Resolve 将模型提示解析为调用目标
//
// 支持 ""/"default"、"provider:model" 以及按关键字推断提供方的裸模型名。
func (r *Registry) Resolve(hint string) (Target, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.EqualFold(hint, "default") {
		t, ok := r.Default()
		if !ok {
			return Target{}, ErrNoProviderConfigured
		}
		return t, nil
	}

	if idx := strings.Index(hint, ":"); idx >= 0 {
		return r.lookup(hint[:idx], hint[idx+1:])
	}

	name := inferProvider(hint)
	if name == "" {
		t, ok := r.Default()
		if !ok {
			return Target{}, ErrNoProviderConfigured
		}
		name = t.Provider.Name()
	}
	return r.lookup(name, hint)
}

// IsAvailable 判断模型提示是否可用，不会 panic 也不返回错误
func (r *Registry) IsAvailable(hint string) (ok bool, message string) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, message = false, "检查模型可用性时发生异常"
		}
	}()
	if _, err := r.Resolve(hint); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Alternates 除 exclude 外所有可用提供方的第一个模型，保持注册顺序
func (r *Registry) Alternates(exclude string) []Target {
	var out []Target
	for _, p := range r.providers {
		if p.Name() == exclude || !p.IsAvailable() {
			continue
		}
		models := p.ListModels()
		if len(models) == 0 {
			continue
		}
		out = append(out, r.target(p, models[0]))
	}
	return out
}

// Providers 返回模型目录
func (r *Registry) Providers() []ProviderInfo {
	def, hasDefault := r.Default()
	out := make([]ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		if !p.IsAvailable() {
			continue
		}
		out = append(out, ProviderInfo{
			Name:      p.Name(),
			Models:    p.ListModels(),
			IsDefault: hasDefault && def.Provider.Name() == p.Name(),
		})
	}
	return out
}

func (r *Registry) lookup(name, model string) (Target, error) {
	p, ok := r.byName[name]
	if !ok || !p.IsAvailable() {
		return Target{}, &ModelUnavailableError{Provider: name, Model: model, Reason: "提供方未加载"}
	}
	models := p.ListModels()
	canonical, found := containsModel(models, model)
	if !found {
		return Target{}, &ModelUnavailableError{Provider: name, Model: model, Available: models}
	}
	return r.target(p, canonical), nil
}

func (r *Registry) target(p Provider, model string) Target {
	maxTokens := r.maxTokens[p.Name()][model]
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return Target{Provider: p, Model: model, MaxTokens: maxTokens}
}

func inferProvider(model string) string {
	lower := strings.ToLower(model)
	for _, rule := range inferenceRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.provider
			}
		}
	}
	return ""
}
