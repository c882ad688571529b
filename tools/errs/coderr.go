package errs

import (
	"errors"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// DefaultCodeRelation decides which sentinel codes match which concrete codes.
var DefaultCodeRelation = newCodeRelation()

// CodeError is a numbered error. Sentinels are declared in predefine.go and
// never returned directly; callers get a stack-carrying copy from Wrap or WrapMsg.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + " " + e.Msg
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

func (e *CodeError) Wrap() error {
	cp := *e
	return pkgerrors.WithStack(&cp)
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	cp := *e
	if msg != "" || len(kv) > 0 {
		if detail := toString(msg, kv); cp.Detail == "" {
			cp.Detail = detail
		} else {
			cp.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(&cp)
}

// Is matches target when it carries the same code as e or a parent of it.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	if e == nil || t == nil {
		return e == t
	}
	return DefaultCodeRelation.Is(t.Code, e.Code)
}

// Code returns the code of the first CodeError in err's chain, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(NewErrorWrapper(err, toString(msg, kv)))
}

type CodeRelation interface {
	Add(codes ...int) error
	Is(parent, child int) bool
}

type codeRelation struct {
	mu       sync.RWMutex
	children map[int]map[int]struct{}
}

func newCodeRelation() CodeRelation {
	return &codeRelation{children: make(map[int]map[int]struct{})}
}

// Add records codes as a chain: each code is a parent of every code after it.
func (r *codeRelation) Add(codes ...int) error {
	if len(codes) < 2 {
		return New("code relation needs at least two codes", "codes", codes).Wrap()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, parent := range codes[:len(codes)-1] {
		set, ok := r.children[parent]
		if !ok {
			set = make(map[int]struct{})
			r.children[parent] = set
		}
		for _, c := range codes[i+1:] {
			set[c] = struct{}{}
		}
	}
	return nil
}

func (r *codeRelation) Is(parent, child int) bool {
	if parent == child {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.children[parent][child]
	return ok
}
