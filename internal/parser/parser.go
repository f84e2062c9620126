package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

// Parse error codes written to error artifacts.
const (
	CodeTotalNotFound   = "TOTAL_NOT_FOUND"
	CodeSchemaInvalid   = "SCHEMA_INVALID"
	CodeParserException = "PARSER_EXCEPTION"
)

// Input is one source file handed to a store parser.
type Input struct {
	Store    string
	FileName string
	RelBase  string // folder the file was read from, e.g. "inbox"
	Data     []byte
	Hash     string
}

// Parser turns the bytes of one receipt into the canonical document.
// Returning a *ParseError marks the file as unparseable; any other error is
// treated as transient and may be retried.
type Parser interface {
	Parse(ctx context.Context, in Input) (*entity.Receipt, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, in Input) (*entity.Receipt, error)

func (f ParserFunc) Parse(ctx context.Context, in Input) (*entity.Receipt, error) {
	return f(ctx, in)
}

// ParseError is a structured parse failure. Partial carries whatever was
// extracted before the failure.
type ParseError struct {
	Code    string
	Message string
	Partial *entity.Receipt
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewParseError(code, message string, partial *entity.Receipt) *ParseError {
	return &ParseError{Code: code, Message: message, Partial: partial}
}

// AsParseError unwraps err into a *ParseError when it is one.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Registry maps store ids to parsers. Built once at startup.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: map[string]Parser{}}
}

// Register adds a parser for store. Registering a store twice is an error.
func (r *Registry) Register(store string, p Parser) error {
	if store == "" || p == nil {
		return common.NewAppError("REGISTRY_ERROR", "store id and parser are required", common.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parsers[store]; ok {
		return common.NewAppError("REGISTRY_ERROR", "store already registered: "+store, common.ErrInvalidInput)
	}
	r.parsers[store] = p
	return nil
}

// Get returns the parser for store or an error wrapping ErrUnknownStore.
func (r *Registry) Get(store string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownStore, store)
	}
	return p, nil
}

// Stores returns the registered store ids, sorted.
func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for s := range r.parsers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Select resolves a CLI store selection. all wins over an explicit list;
// explicit ids must all be registered.
func (r *Registry) Select(stores []string, all bool) ([]string, error) {
	if all {
		return r.Stores(), nil
	}
	if len(stores) == 0 {
		return nil, common.NewAppError("CONFIG_ERROR", "use --store <id> or --all", common.ErrInvalidInput)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(stores))
	for _, s := range stores {
		if _, err := r.Get(s); err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
