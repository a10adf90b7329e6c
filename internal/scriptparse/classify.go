// internal/scriptparse/classify.go
package scriptparse

// Kind tells a caller how to render a model reply.
type Kind string

const (
	KindScript Kind = "script"
	KindChat   Kind = "chat"
)

// Classification is the result of Classify. For KindScript, Segments and
// Script are set; for KindChat only Markdown is.
type Classification struct {
	Kind     Kind      `json:"kind"`
	Segments *Segments `json:"segments,omitempty"`
	Script   any       `json:"script,omitempty"`
	Markdown string    `json:"markdown,omitempty"`
}

func (c *Classification) IsScript() bool {
	return c != nil && c.Kind == KindScript
}

// Classify decides whether raw is a script reply or free-form chat text.
func Classify(raw string) *Classification {
	return defaultExtractor.Classify(raw)
}

func (e *Extractor) Classify(raw string) *Classification {
	v := e.ExtractJSON(raw)
	if IsValidScriptObject(v) {
		return &Classification{
			Kind:     KindScript,
			Segments: ParseScriptJSON(v),
			Script:   v,
		}
	}
	return &Classification{Kind: KindChat, Markdown: raw}
}
