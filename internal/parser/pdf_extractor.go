// Package parser 从上传的简历文件中提取纯文本。
package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

// PDFTextExtractor 使用 Eino PDF Parser 提取文本
type PDFTextExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	logger  zerolog.Logger
}

// PDFOption PDF提取器的配置选项
type PDFOption func(*PDFTextExtractor)

// WithLogger 设置日志
func WithLogger(logger zerolog.Logger) PDFOption {
	return func(e *PDFTextExtractor) {
		e.logger = logger
	}
}

// WithTimeout 设置单个文件的解析超时
func WithTimeout(timeout time.Duration) PDFOption {
	return func(e *PDFTextExtractor) {
		e.timeout = timeout
	}
}

// NewPDFTextExtractor 初始化 PDF 文本提取器，整个文档合并为一段文本
func NewPDFTextExtractor(ctx context.Context, options ...PDFOption) (*PDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}
	e := &PDFTextExtractor{
		parser:  p,
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, option := range options {
		option(e)
	}
	return e, nil
}

// ExtractText 从 PDF 字节中提取并清洗文本
func (e *PDFTextExtractor) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, bytes.NewReader(data), einoParser.WithURI(uri))
	if err != nil {
		e.logger.Warn().Err(err).Str("uri", uri).Msg("PDF解析失败")
		return "", fmt.Errorf("读取PDF失败: %w", err)
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(doc.Content)
	}
	text := CleanText(sb.String())

	e.logger.Debug().
		Str("uri", uri).
		Int("documents", len(docs)).
		Int("chars", len([]rune(text))).
		Dur("duration", time.Since(start)).
		Msg("PDF提取完成")
	return text, nil
}

var (
	controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f\u0080-\u009f]")
	whitespace   = regexp.MustCompile(`\s+`)
)

// CleanText 删除控制字符，合并连续空白并去掉首尾空白
func CleanText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
