package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// 定义基础错误类型
var (
	ErrInvalidDocumentType      = errors.New("只接受PDF文件")
	ErrModelUnavailable         = errors.New("请求的模型不可用")
	ErrTextExtractionFailed     = errors.New("读取PDF失败")
	ErrExtractedContentTooShort = errors.New("无法读取PDF内容或内容过短")
	ErrNotAValidResume          = errors.New("文件不是有效的简历")
	ErrProfileFormat            = errors.New("返回数据格式错误")
	ErrEmbeddingFailed          = errors.New("生成向量失败")
	ErrInvalidRequest           = errors.New("请求参数无效")
)

// CandidateProcessError 包含详细错误信息的自定义错误
type CandidateProcessError struct {
	FileName string
	Op       string
	BaseErr  error
	Detail   string
	Reasons  []string
}

func (e *CandidateProcessError) Error() string {
	detail := e.Detail
	if len(e.Reasons) > 0 {
		detail = strings.Join(e.Reasons, "; ")
	}
	switch {
	case detail != "" && e.FileName != "":
		return fmt.Sprintf("%s (操作:%s, 文件:%s): %s", e.BaseErr, e.Op, e.FileName, detail)
	case detail != "":
		return fmt.Sprintf("%s (操作:%s): %s", e.BaseErr, e.Op, detail)
	case e.FileName != "":
		return fmt.Sprintf("%s (操作:%s, 文件:%s)", e.BaseErr, e.Op, e.FileName)
	}
	return fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
}

func (e *CandidateProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *CandidateProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// Message 面向调用方的错误描述，不含操作和文件名
func (e *CandidateProcessError) Message() string {
	if len(e.Reasons) > 0 {
		return fmt.Sprintf("%s: %s", e.BaseErr, strings.Join(e.Reasons, "; "))
	}
	if e.Detail != "" {
		return e.Detail
	}
	return e.BaseErr.Error()
}

// 错误构造函数
func NewInvalidDocumentTypeError(fileName string) error {
	return &CandidateProcessError{
		FileName: fileName,
		Op:       "upload",
		BaseErr:  ErrInvalidDocumentType,
	}
}

func NewModelUnavailableError(hint, message string) error {
	if message == "" {
		message = fmt.Sprintf("模型 '%s' 不可用", hint)
	}
	return &CandidateProcessError{
		Op:      "resolve_model",
		BaseErr: ErrModelUnavailable,
		Detail:  message,
	}
}

func NewTextExtractionError(fileName string, err error) error {
	return &CandidateProcessError{
		FileName: fileName,
		Op:       "extract_text",
		BaseErr:  ErrTextExtractionFailed,
		Detail:   err.Error(),
	}
}

func NewContentTooShortError(fileName string, length int) error {
	return &CandidateProcessError{
		FileName: fileName,
		Op:       "extract_text",
		BaseErr:  ErrExtractedContentTooShort,
		Detail:   fmt.Sprintf("提取到 %d 个字符", length),
	}
}

func NewNotAValidResumeError(fileName string, reasons []string) error {
	return &CandidateProcessError{
		FileName: fileName,
		Op:       "validate",
		BaseErr:  ErrNotAValidResume,
		Reasons:  append([]string(nil), reasons...),
	}
}

func NewProfileFormatError(fileName string, err error) error {
	return &CandidateProcessError{
		FileName: fileName,
		Op:       "format",
		BaseErr:  ErrProfileFormat,
		Detail:   describeValidationError(err),
	}
}

func NewEmbeddingError(op string, err error) error {
	return &CandidateProcessError{
		Op:      op,
		BaseErr: ErrEmbeddingFailed,
		Detail:  err.Error(),
	}
}

func NewInvalidRequestError(op string, err error) error {
	return &CandidateProcessError{
		Op:      op,
		BaseErr: ErrInvalidRequest,
		Detail:  describeValidationError(err),
	}
}

// Reasons 返回简历校验失败的原因列表，其它错误返回 nil
func Reasons(err error) []string {
	var pe *CandidateProcessError
	if errors.As(err, &pe) {
		return pe.Reasons
	}
	return nil
}

// describeValidationError 把 validator 的错误转换为 "字段 - 规则" 列表
func describeValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s - %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s - %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}
