// Package script compiles and runs CEL expressions: transforms used by
// updates and boolean conditions used by queries.
package script

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/docstore/pkg/model"
)

var celNewEnv = cel.NewEnv

// MaxCacheSize is the maximum number of CEL programs to cache.
const MaxCacheSize = 1000

// LangCEL is the only supported script language.
const LangCEL = "cel"

// Reserved keys of a transform result.
const (
	keyOp     = "_op"
	keySource = "_source"
)

// Op is the operation a transform asks for.
type Op string

const (
	OpIndex  Op = "index"
	OpNoop   Op = "noop"
	OpDelete Op = "delete"
)

// Script is a CEL transform. It sees `ctx` (with `_source`, `_id`,
// `_version`, `_seq_no`, `_primary_term`, `_now`) and `params`, and must
// evaluate to a map. Keys of the map are merged into the source; `_source`
// replaces it wholesale and `_op` selects index, noop or delete.
type Script struct {
	Source string         `json:"source" yaml:"source"`
	Lang   string         `json:"lang,omitempty" yaml:"lang,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks the language tag.
func (s *Script) Validate() error {
	if s.Source == "" {
		return model.Validationf("script source is missing")
	}
	if s.Lang != "" && s.Lang != LangCEL {
		return model.Validationf("script lang [%s] not supported, only [%s]", s.Lang, LangCEL)
	}
	return nil
}

// Context is the document view a transform runs against.
type Context struct {
	ID          string
	Source      model.Document
	Version     int64
	SeqNo       int64
	PrimaryTerm int64
}

// Outcome is the evaluated transform.
type Outcome struct {
	Op Op
	// Source is the new source, already merged onto the input.
	Source model.Document
}

// Service owns the CEL environment and a program cache.
type Service struct {
	env    *cel.Env
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	prgCache   map[string]cel.Program
	cacheOrder []string // FIFO eviction order
}

// NewService builds the shared environment.
func NewService(logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := celNewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Service{
		env:        env,
		logger:     logger.With("component", "script"),
		now:        time.Now,
		prgCache:   make(map[string]cel.Program),
		cacheOrder: make([]string, 0, MaxCacheSize),
	}, nil
}

// Compile checks that expr compiles, caching the program.
func (s *Service) Compile(expr string) error {
	_, err := s.program(expr)
	return err
}

// Run evaluates script against in. The input source is not modified.
func (s *Service) Run(script *Script, in Context) (*Outcome, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	prg, err := s.program(script.Source)
	if err != nil {
		return nil, err
	}

	source := in.Source.Clone()
	if source == nil {
		source = model.Document{}
	}
	params := script.Params
	if params == nil {
		params = map[string]any{}
	}
	input := map[string]any{
		"ctx": map[string]any{
			"_source":       map[string]any(source.Clone()),
			"_id":           in.ID,
			"_version":      in.Version,
			"_seq_no":       in.SeqNo,
			"_primary_term": in.PrimaryTerm,
			"_now":          s.now().UnixMilli(),
		},
		"params": params,
		"doc":    map[string]any{},
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return nil, model.Validationf("script evaluation error: %v", err)
	}
	native, err := toNative(out)
	if err != nil {
		return nil, model.Validationf("script result: %v", err)
	}
	result, ok := native.(map[string]any)
	if !ok {
		return nil, model.Validationf("script must evaluate to a map, got %T", native)
	}

	outcome := &Outcome{Op: OpIndex, Source: source}
	if raw, ok := result[keyOp]; ok {
		op, _ := raw.(string)
		switch Op(op) {
		case OpIndex, OpNoop, OpDelete:
			outcome.Op = Op(op)
		default:
			return nil, model.Validationf("script set [_op] to unsupported value [%v], expected one of [index, noop, delete]", raw)
		}
		delete(result, keyOp)
	}
	if raw, ok := result[keySource]; ok {
		replacement, ok := raw.(map[string]any)
		if !ok {
			return nil, model.Validationf("script set [_source] to %T, expected a map", raw)
		}
		outcome.Source = model.Document(replacement)
		delete(result, keySource)
	}
	outcome.Source.Merge(model.Document(result))
	return outcome, nil
}

// Match evaluates a boolean condition against doc, exposed as `doc`.
func (s *Service) Match(expr string, id string, doc model.Document) (bool, error) {
	prg, err := s.program(expr)
	if err != nil {
		return false, err
	}
	view := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		view[k] = v
	}
	view["_id"] = id
	out, _, err := prg.Eval(map[string]any{
		"doc":    view,
		"ctx":    map[string]any{},
		"params": map[string]any{},
	})
	if err != nil {
		// Missing fields make a document not match rather than fail the query.
		return false, nil
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, model.Validationf("condition must return boolean, got %T", out.Value())
	}
	return match, nil
}

func (s *Service) program(expr string) (cel.Program, error) {
	s.mu.RLock()
	prg, ok := s.prgCache[expr]
	s.mu.RUnlock()
	if ok {
		return prg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prg, ok := s.prgCache[expr]; ok {
		return prg, nil
	}

	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, model.Validationf("script compile error: %v", issues.Err())
	}
	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, model.Validationf("script program error: %v", err)
	}

	if len(s.prgCache) >= MaxCacheSize {
		oldest := s.cacheOrder[0]
		delete(s.prgCache, oldest)
		s.cacheOrder = s.cacheOrder[1:]
		s.logger.Info("CEL cache full, evicted oldest entry")
	}
	s.prgCache[expr] = prg
	s.cacheOrder = append(s.cacheOrder, expr)
	return prg, nil
}
