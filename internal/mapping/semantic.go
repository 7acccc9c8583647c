package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"silver/internal/llm"
	"silver/internal/schema"
)

// MappingParseError reports a model response that yielded no usable
// mapping. Raw holds the response text as received.
type MappingParseError struct {
	Reason string
	Raw    string
}

func (e *MappingParseError) Error() string {
	raw := e.Raw
	if rs := []rune(raw); len(rs) > 200 {
		raw = string(rs[:200]) + "..."
	}
	return fmt.Sprintf("mapping: unparseable model response: %s: %q", e.Reason, raw)
}

// Semantic proposes LLM_SEMANTIC candidates by asking a text-generation
// model. The model is called once per Propose.
type Semantic struct {
	Client   llm.Client
	Model    string
	Template Template
	// DefaultConfidence applies when the model reports none, or one
	// outside [0,1].
	DefaultConfidence float64
}

// Propose implements Generator.
func (g Semantic) Propose(ctx context.Context, sourceFields []string, target schema.Table) ([]Candidate, error) {
	if g.Client == nil {
		return nil, errors.New("mapping: semantic generator has no LLM client")
	}
	if g.Model == "" {
		return nil, errors.New("mapping: semantic generator needs a model")
	}
	prompt := g.Template.Render(sourceFields, target.Names())
	out, err := g.Client.Complete(ctx, g.Model, prompt)
	if err != nil {
		return nil, err
	}
	return parseResponse(out, sourceFields, target, g.DefaultConfidence)
}

// parseResponse extracts a JSON array of {source_field, target_column,
// confidence?, rationale?} from text that may wrap it in markdown fences
// or prose. Elements naming an unknown field or column are dropped.
func parseResponse(text string, sourceFields []string, target schema.Table, def float64) ([]Candidate, error) {
	raw := extractArray(text)
	if raw == "" {
		return nil, &MappingParseError{Reason: "no JSON array found", Raw: text}
	}
	var elems []map[string]any
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, &MappingParseError{Reason: err.Error(), Raw: text}
	}

	fields := make(map[string]string, len(sourceFields))
	for _, f := range sourceFields {
		fields[strings.ToUpper(f)] = f
	}
	var out []Candidate
	seen := map[pairKey]bool{}
	for _, e := range elems {
		src := pick(e, "source_field", "source", "field", "sourceField")
		dst := pick(e, "target_column", "target", "column", "targetColumn")
		field, ok := fields[strings.ToUpper(strings.TrimSpace(src))]
		if !ok {
			continue
		}
		col, ok := target.Column(strings.TrimSpace(dst))
		if !ok {
			continue
		}
		k := keyOf(field, col.Name)
		if seen[k] {
			continue
		}
		seen[k] = true

		conf := def
		if v, ok := e["confidence"]; ok {
			if f, err := cast.ToFloat64E(v); err == nil && f >= 0 && f <= 1 {
				conf = f
			}
		}
		out = append(out, Candidate{
			SourceField:  field,
			TargetColumn: col.Name,
			Confidence:   conf,
			Method:       MethodSemantic,
			Rationale:    strings.TrimSpace(pick(e, "rationale", "reason", "explanation")),
		})
	}
	if len(out) == 0 {
		return nil, &MappingParseError{Reason: "no element names a known source field and target column", Raw: text}
	}
	return out, nil
}

func pick(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return cast.ToString(v)
		}
	}
	return ""
}

// extractArray returns the outermost [...] span of text, preferring the
// body of a ``` fence when present.
func extractArray(text string) string {
	if i := strings.Index(text, "```"); i >= 0 {
		body := text[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(body[:nl]), "[") {
			body = body[nl+1:]
		}
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		if s := extractArray(body); s != "" {
			return s
		}
	}
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
