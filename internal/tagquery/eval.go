package tagquery

import (
	"bytes"
	"strings"

	"github.com/agentvault/vault/internal/storage"
)

// Eval evaluates a compiled predicate tree against a record's tags.
// Backends without native predicate pushdown (or as a correctness
// fallback for backends with partial pushdown) can use this directly.
func Eval(pred *Compiled, tags []storage.Tag) bool {
	if pred == nil {
		return true
	}

	if pred.Combinator != "" {
		switch pred.Combinator {
		case OpAnd:
			if len(pred.Children) == 0 {
				return true // empty $and is the universal "true"
			}
			for _, c := range pred.Children {
				if !Eval(c, tags) {
					return false
				}
			}
			return true
		case OpOr:
			if len(pred.Children) == 0 {
				return false // empty $or is the universal "false"
			}
			for _, c := range pred.Children {
				if Eval(c, tags) {
					return true
				}
			}
			return false
		case OpNot:
			return !Eval(pred.Children[0], tags)
		}
	}

	for _, t := range tags {
		if t.Kind != pred.Kind || !bytes.Equal(t.Name, pred.NameCT) {
			continue
		}
		if evalLeaf(pred, t.Value) {
			return true
		}
	}
	return false
}

func evalLeaf(pred *Compiled, value []byte) bool {
	switch pred.LeafOp {
	case OpEq:
		return bytes.Equal(value, pred.Value)
	case OpNeq:
		return !bytes.Equal(value, pred.Value)
	case OpGt:
		return bytes.Compare(value, pred.Value) > 0
	case OpGte:
		return bytes.Compare(value, pred.Value) >= 0
	case OpLt:
		return bytes.Compare(value, pred.Value) < 0
	case OpLte:
		return bytes.Compare(value, pred.Value) <= 0
	case OpLike:
		return likeMatch(pred.Value, value)
	case OpIn:
		for _, v := range pred.Values {
			if bytes.Equal(value, v) {
				return true
			}
		}
		return false
	}
	return false
}

// likeMatch implements the subset of SQL LIKE spec.md's "$like" needs:
// '%' as a wildcard anchor at the start and/or end of pattern. This
// mirrors how a plaintext tag's $like predicate degrades to a prefix,
// suffix, or substring match against its indexed column in the
// embedded backends.
func likeMatch(pattern, value []byte) bool {
	p := string(pattern)
	v := string(value)
	switch {
	case len(p) >= 2 && p[0] == '%' && p[len(p)-1] == '%':
		return strings.Contains(v, p[1:len(p)-1])
	case len(p) >= 1 && p[0] == '%':
		return strings.HasSuffix(v, p[1:])
	case len(p) >= 1 && p[len(p)-1] == '%':
		return strings.HasPrefix(v, p[:len(p)-1])
	default:
		return v == p
	}
}
