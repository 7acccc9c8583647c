package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"silver/internal/config"
	"silver/internal/llm"
	"silver/internal/schema"
)

// FieldSource discovers the field names present in a Bronze source table.
type FieldSource interface {
	SourceFields(ctx context.Context, sourceTable string) ([]string, error)
}

// Request describes one generator invocation. Zero values fall back to
// the service configuration.
type Request struct {
	Method      Method
	SourceTable string
	TargetTable string
	TPA         string

	// Similarity.
	TopN int
	// MinConfidence nil uses the configured minimum; zero keeps every
	// candidate.
	MinConfidence *float64

	// Semantic.
	Model    string
	PromptID string

	// Manual.
	Pairs map[string]string
	By    string
}

// Outcome is the result of Generate. Message starts with "Successfully" or
// "Error:".
type Outcome struct {
	Method     Method
	Inserted   int
	Candidates []Candidate
	Message    string
}

func (o Outcome) String() string { return o.Message }

// Service runs mapping generators and stores their candidates.
type Service struct {
	Store     *Store
	Known     *KnownStore
	Templates *TemplateStore
	Registry  *schema.Registry
	Fields    FieldSource
	LLM       llm.Client
	Config    config.Mapping
	Log       *zap.Logger
}

// Generate discovers the source fields, runs the generator selected by
// req.Method and inserts its candidates in one transaction. A generator
// failure inserts nothing.
func (s *Service) Generate(ctx context.Context, req Request) (Outcome, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	out := Outcome{Method: req.Method}
	fail := func(err error) (Outcome, error) {
		out.Inserted = 0
		out.Message = "Error: " + err.Error()
		log.Error("mapping generation failed", zap.String("method", string(req.Method)),
			zap.String("source", req.SourceTable), zap.String("target", req.TargetTable), zap.Error(err))
		return out, err
	}

	target, err := s.Registry.Table(ctx, req.TargetTable)
	if err != nil {
		return fail(err)
	}
	var fields []string
	if s.Fields != nil {
		if fields, err = s.Fields.SourceFields(ctx, req.SourceTable); err != nil {
			return fail(fmt.Errorf("mapping: source fields of %s: %w", req.SourceTable, err))
		}
	}
	if len(fields) == 0 && req.Method != MethodManual {
		return fail(fmt.Errorf("mapping: source table %s has no fields", req.SourceTable))
	}

	gen, err := s.generator(ctx, req)
	if err != nil {
		return fail(err)
	}
	cands, err := gen.Propose(ctx, fields, target)
	if err != nil {
		return fail(err)
	}
	out.Candidates = cands

	if req.Method == MethodManual {
		out.Inserted, err = s.Store.insertManual(ctx, req.SourceTable, target.Name, req.TPA, req.By, cands)
	} else {
		out.Inserted, err = s.Store.InsertCandidates(ctx, req.SourceTable, target.Name, req.TPA, cands)
	}
	if err != nil {
		return fail(err)
	}
	out.Message = fmt.Sprintf("Successfully generated %d %s mapping(s) from %s into %s",
		out.Inserted, req.Method, strings.ToUpper(req.SourceTable), target.Name)
	log.Info("mappings generated", zap.String("method", string(req.Method)),
		zap.String("source", req.SourceTable), zap.String("target", target.Name), zap.Int("inserted", out.Inserted))
	return out, nil
}

func (s *Service) generator(ctx context.Context, req Request) (Generator, error) {
	switch req.Method {
	case MethodManual:
		if len(req.Pairs) == 0 {
			return nil, errors.New("mapping: manual generation needs at least one source=target pair")
		}
		return Manual{Pairs: req.Pairs}, nil

	case MethodSimilarity:
		g := Similarity{TopN: req.TopN, MinConfidence: s.Config.MinConfidence}
		if g.TopN <= 0 {
			g.TopN = s.Config.TopN
		}
		if req.MinConfidence != nil {
			g.MinConfidence = *req.MinConfidence
		}
		skip, err := s.Store.Pairs(ctx, req.SourceTable, req.TargetTable)
		if err != nil {
			return nil, err
		}
		g.Skip = skip
		if s.Known != nil {
			if g.Known, err = s.Known.pairs(ctx); err != nil {
				return nil, err
			}
		}
		return g, nil

	case MethodSemantic:
		model := req.Model
		if model == "" {
			model = s.Config.DefaultModel
		}
		id := req.PromptID
		if id == "" {
			id = s.Config.DefaultPrompt
		}
		if s.Templates == nil {
			return nil, errors.New("mapping: no prompt template store")
		}
		tmpl, err := s.Templates.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !tmpl.Active {
			return nil, fmt.Errorf("mapping: prompt template %s is inactive", tmpl.ID)
		}
		conf := s.Config.LLMConfidence
		if conf <= 0 || conf > 1 {
			conf = 0.85
		}
		return Semantic{Client: s.LLM, Model: model, Template: tmpl, DefaultConfidence: conf}, nil
	}
	return nil, fmt.Errorf("mapping: unknown method %q", req.Method)
}
