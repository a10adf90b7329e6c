// internal/scriptparse/script.go
package scriptparse

import (
	"strings"
)

// Scene field names, in lookup priority.
const (
	FieldScenes          = "scenes"
	FieldScriptBurmese   = "script_burmese"
	FieldDialogueBurmese = "dialogue_burmese"
	FieldDialogue        = "dialogue"
	FieldLine            = "line"
)

// Segments is the hook / body / call-to-action split of a script.
type Segments struct {
	Hook string `json:"hook"`
	Body string `json:"body"`
	CTA  string `json:"cta"`
}

// IsValidScriptObject reports whether v is an object with a non-empty "scenes" array.
func IsValidScriptObject(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	scenes, ok := obj[FieldScenes].([]any)
	return ok && len(scenes) > 0
}

// ParseScriptJSON splits a parsed script object into segments.
// It returns nil unless IsValidScriptObject(v).
func ParseScriptJSON(v any) *Segments {
	if !IsValidScriptObject(v) {
		return nil
	}
	scenes := v.(map[string]any)[FieldScenes].([]any)

	texts := make([]string, len(scenes))
	for i, scene := range scenes {
		texts[i] = SceneText(scene)
	}
	return segment(texts)
}

// segment applies the fixed shape: first text is the hook, last is the CTA,
// everything in between is the body. len(texts) must be > 0.
func segment(texts []string) *Segments {
	n := len(texts)
	seg := &Segments{Hook: texts[0]}
	if n >= 2 {
		seg.CTA = texts[n-1]
	}
	if n >= 3 {
		seg.Body = strings.TrimSpace(strings.Join(texts[1:n-1], "\n\n"))
	}
	return seg
}

// sceneAccessor returns the scene text and whether the field matched.
type sceneAccessor func(scene map[string]any) (string, bool)

var sceneAccessors = []sceneAccessor{
	nonEmptyString(FieldScriptBurmese),
	nonEmptyString(FieldDialogueBurmese),
	dialogueLines,
}

func nonEmptyString(field string) sceneAccessor {
	return func(scene map[string]any) (string, bool) {
		s, ok := scene[field].(string)
		return s, ok && s != ""
	}
}

func dialogueLines(scene map[string]any) (string, bool) {
	entries, ok := scene[FieldDialogue].([]any)
	if !ok {
		return "", false
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if line, ok := obj[FieldLine].(string); ok {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " "), true
}

// SceneText returns the text of one scene, or "" for nil, non-object, or
// scenes with none of the known fields.
func SceneText(scene any) string {
	obj, ok := scene.(map[string]any)
	if !ok {
		return ""
	}
	for _, get := range sceneAccessors {
		if text, ok := get(obj); ok {
			return text
		}
	}
	return ""
}

// ScriptObject is the typed form of a script for callers that prefer structs.
type ScriptObject struct {
	Scenes []Scene `json:"scenes"`
}

type Scene struct {
	ScriptBurmese   string         `json:"script_burmese,omitempty"`
	DialogueBurmese string         `json:"dialogue_burmese,omitempty"`
	Dialogue        []DialogueLine `json:"dialogue,omitempty"`
}

type DialogueLine struct {
	Speaker string `json:"speaker,omitempty"`
	Line    string `json:"line"`
}

// Text follows the same priority as SceneText.
func (s Scene) Text() string {
	if s.ScriptBurmese != "" {
		return s.ScriptBurmese
	}
	if s.DialogueBurmese != "" {
		return s.DialogueBurmese
	}
	if s.Dialogue == nil {
		return ""
	}
	lines := make([]string, len(s.Dialogue))
	for i, d := range s.Dialogue {
		lines[i] = d.Line
	}
	return strings.Join(lines, " ")
}

// Segments returns nil for a script without scenes.
func (o *ScriptObject) Segments() *Segments {
	if o == nil || len(o.Scenes) == 0 {
		return nil
	}
	texts := make([]string, len(o.Scenes))
	for i, scene := range o.Scenes {
		texts[i] = scene.Text()
	}
	return segment(texts)
}

// DecodeScript converts a value returned by ExtractJSON into a ScriptObject.
// Scenes keep their position even when a field has the wrong type; such a
// field is left empty, matching SceneText.
func DecodeScript(v any) (*ScriptObject, bool) {
	if !IsValidScriptObject(v) {
		return nil, false
	}
	scenes := v.(map[string]any)[FieldScenes].([]any)

	obj := &ScriptObject{Scenes: make([]Scene, len(scenes))}
	for i, raw := range scenes {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sc := &obj.Scenes[i]
		sc.ScriptBurmese, _ = m[FieldScriptBurmese].(string)
		sc.DialogueBurmese, _ = m[FieldDialogueBurmese].(string)
		if entries, ok := m[FieldDialogue].([]any); ok {
			sc.Dialogue = make([]DialogueLine, 0, len(entries))
			for _, entry := range entries {
				e, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				line, ok := e[FieldLine].(string)
				if !ok {
					continue
				}
				speaker, _ := e["speaker"].(string)
				sc.Dialogue = append(sc.Dialogue, DialogueLine{Speaker: speaker, Line: line})
			}
		}
	}
	return obj, true
}
