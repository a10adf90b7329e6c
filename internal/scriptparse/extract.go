// internal/scriptparse/extract.go
package scriptparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Corphon/ScriptHook/internal/utils"
)

// Reason tags carried by ExtractError.
type Reason string

const (
	ReasonEmptyInput   Reason = "empty-input"
	ReasonNoDelimiters Reason = "no-delimiters-found"
	ReasonParseFailed  Reason = "parse-failed"
)

var (
	ErrEmptyInput   = errors.New("scriptparse: empty input")
	ErrNoDelimiters = errors.New("scriptparse: no JSON object delimiters found")
	ErrParseFailed  = errors.New("scriptparse: JSON parse failed")
)

// ExtractError is returned by Extractor.Extract. Use errors.Is with the
// sentinels above to branch on it.
type ExtractError struct {
	Reason Reason
	Err    error // sentinel
	Cause  error // strict parse error of the last attempt, if any
}

func (e *ExtractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Logger receives debug lines from failure paths. *utils.Logger satisfies it.
type Logger interface {
	Debug(message string, fields map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}

// Extractor recovers a JSON object from noisy model output.
// It is immutable after NewExtractor and safe for concurrent use.
type Extractor struct {
	stripper MarkupStripper
	repair   RepairMode
	logger   Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStripper sets the markup stripper. nil disables markup stripping.
func WithStripper(s MarkupStripper) Option {
	return func(e *Extractor) {
		if s == nil {
			s = NopStripper{}
		}
		e.stripper = s
	}
}

// WithRepairMode selects the relaxed recovery pass.
func WithRepairMode(m RepairMode) Option {
	return func(e *Extractor) {
		e.repair = m
	}
}

// WithLogger sets the debug logger. nil silences it.
func WithLogger(l Logger) Option {
	return func(e *Extractor) {
		if l == nil {
			l = nopLogger{}
		}
		e.logger = l
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		stripper: HTMLStripper{},
		repair:   RepairTokenized,
		logger:   utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExtractor = NewExtractor()

// ExtractJSON returns the value parsed from raw, or nil when nothing could be recovered.
func ExtractJSON(raw string) any {
	return defaultExtractor.ExtractJSON(raw)
}

// ExtractAny accepts untyped input. Only string, []byte, json.RawMessage and
// fmt.Stringer are treated as text; anything else yields nil.
func ExtractAny(v any) (out any) {
	defer func() {
		// a typed nil Stringer may panic in String()
		if recover() != nil {
			out = nil
		}
	}()
	text, ok := asText(v)
	if !ok {
		return nil
	}
	return defaultExtractor.ExtractJSON(text)
}

func asText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case json.RawMessage:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

// ExtractJSON is Extract without the diagnostics.
func (e *Extractor) ExtractJSON(raw string) any {
	v, err := e.Extract(raw)
	if err != nil {
		return nil
	}
	return v
}

var (
	fencePattern   = regexp.MustCompile("```(?i:json)?((?s:.*?))```")
	invisibleRunes = strings.NewReplacer("\u200b", "", "\ufeff", "")
)

// Extract runs the normalisation chain and returns the parsed value or an *ExtractError.
func (e *Extractor) Extract(raw string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &ExtractError{Reason: ReasonParseFailed, Err: ErrParseFailed, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return nil, &ExtractError{Reason: ReasonEmptyInput, Err: ErrEmptyInput}
	}

	if stripped, serr := e.stripper.StripMarkup(candidate); serr != nil {
		e.logger.Debug("markup strip failed, keeping raw text", map[string]interface{}{
			"error": serr.Error(),
		})
	} else {
		candidate = stripped
	}

	candidate = strings.TrimSpace(invisibleRunes.Replace(candidate))

	if m := fencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	candidate = strings.TrimPrefix(candidate, "`")
	candidate = strings.TrimSuffix(candidate, "`")

	start := strings.IndexByte(candidate, '{')
	end := strings.LastIndexByte(candidate, '}')
	if start < 0 || end < 0 || end < start {
		e.logger.Debug("no JSON object delimiters in model output", map[string]interface{}{
			"length": len(candidate),
		})
		return nil, &ExtractError{Reason: ReasonNoDelimiters, Err: ErrNoDelimiters}
	}
	candidate = candidate[start : end+1]

	v, perr := parseStrict(candidate)
	if perr == nil {
		return v, nil
	}

	repaired := e.relax(candidate)
	v, rerr := parseStrict(repaired)
	if rerr == nil {
		return v, nil
	}
	if e.repair != RepairLegacy {
		// mismatched quote pairs such as 'x" only parse after the blind replace
		if v, lerr := parseStrict(repairLegacy(candidate)); lerr == nil {
			return v, nil
		}
	}

	e.logger.Debug("JSON candidate could not be parsed", map[string]interface{}{
		"repair_mode":   e.repair.String(),
		"strict_error":  perr.Error(),
		"relaxed_error": rerr.Error(),
	})
	return nil, &ExtractError{Reason: ReasonParseFailed, Err: ErrParseFailed, Cause: rerr}
}

func (e *Extractor) relax(candidate string) string {
	if e.repair == RepairLegacy {
		return repairLegacy(candidate)
	}
	return repairTokenized(candidate)
}

// parseStrict decodes exactly one JSON value; trailing data is an error.
func parseStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}
