// internal/services/parse_service.go
package services

import (
	"errors"

	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/scriptparse"
	"github.com/Corphon/ScriptHook/internal/utils"
)

// ParseResult 解析结果，Reason 说明为什么被判定为普通对话
type ParseResult struct {
	*scriptparse.Classification
	Reason scriptparse.Reason `json:"reason,omitempty"`
}

// ParseService 不经过上游，直接对文本分类
type ParseService struct {
	extractor *scriptparse.Extractor
	metrics   *utils.APIMetrics
}

func NewParseService(extractor *scriptparse.Extractor) *ParseService {
	if extractor == nil {
		extractor = scriptparse.NewExtractor()
	}
	return &ParseService{
		extractor: extractor,
		metrics:   utils.NewAPIMetrics(),
	}
}

// SetMetrics 替换指标记录器
func (s *ParseService) SetMetrics(m *utils.APIMetrics) {
	s.metrics = m
}

// Parse 对模型输出分类；文本为空时返回验证错误
func (s *ParseService) Parse(text string) (*ParseResult, error) {
	v, err := s.extractor.Extract(text)
	if errors.Is(err, scriptparse.ErrEmptyInput) {
		return nil, apperrors.NewValidationError("text 不能为空", nil)
	}

	result := &ParseResult{}
	var xe *scriptparse.ExtractError
	if errors.As(err, &xe) {
		result.Reason = xe.Reason
	}

	if err == nil && scriptparse.IsValidScriptObject(v) {
		result.Classification = &scriptparse.Classification{
			Kind:     scriptparse.KindScript,
			Segments: scriptparse.ParseScriptJSON(v),
			Script:   v,
		}
	} else {
		result.Classification = &scriptparse.Classification{Kind: scriptparse.KindChat, Markdown: text}
	}

	s.metrics.RecordClassification(string(result.Kind))
	return result, nil
}
