package tagquery

import (
	"encoding/json"

	"github.com/agentvault/vault/pkg/werr"
)

// Parse decodes raw JSON into a predicate tree per spec.md §4.4's
// grammar. It does not resolve tag encryption mode or validate
// range/like restrictions — that is Compile's job.
func Parse(raw []byte) (*Node, error) {
	var anyNode map[string]json.RawMessage
	if err := json.Unmarshal(raw, &anyNode); err != nil {
		return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing predicate JSON")
	}
	return parseObject(anyNode)
}

func parseObject(obj map[string]json.RawMessage) (*Node, error) {
	if len(obj) == 0 {
		return nil, werr.New(werr.KindWalletQueryError, "predicate object must have at least one key")
	}

	// $and / $or: { "$and": [Op, Op, ...] }
	if raw, ok := obj[string(OpAnd)]; ok {
		return parseCombinator(OpAnd, raw)
	}
	if raw, ok := obj[string(OpOr)]; ok {
		return parseCombinator(OpOr, raw)
	}
	// $not: { "$not": Op }
	if raw, ok := obj[string(OpNot)]; ok {
		var childObj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &childObj); err != nil {
			return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing $not operand")
		}
		child, err := parseObject(childObj)
		if err != nil {
			return nil, err
		}
		return &Node{Combinator: OpNot, Children: []*Node{child}}, nil
	}

	if len(obj) != 1 {
		return nil, werr.New(werr.KindWalletQueryError, "a leaf predicate must name exactly one tag")
	}
	for name, raw := range obj {
		if name == "" {
			return nil, werr.New(werr.KindWalletQueryError, "empty tag name is not a valid predicate")
		}
		return parseLeaf(name, raw)
	}
	panic("unreachable")
}

func parseCombinator(op Op, raw json.RawMessage) (*Node, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing %s operand list", op)
	}
	children := make([]*Node, 0, len(items))
	for _, item := range items {
		var childObj map[string]json.RawMessage
		if err := json.Unmarshal(item, &childObj); err != nil {
			return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing %s child", op)
		}
		child, err := parseObject(childObj)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	// Empty $and/$or compile to the universal constant of their
	// identity: handled at Compile time, kept as a zero-child node here.
	return &Node{Combinator: op, Children: children}, nil
}

func parseLeaf(name string, raw json.RawMessage) (*Node, error) {
	// Sugar: {name: value} is equality against a scalar.
	var scalar string
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return &Node{Name: name, LeafOp: OpEq, Value: scalar}, nil
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing predicate for tag %q", name)
	}
	if len(ops) != 1 {
		return nil, werr.Newf(werr.KindWalletQueryError, "tag %q predicate must name exactly one operator", name)
	}

	for opName, opRaw := range ops {
		op := Op(opName)
		if op == OpIn {
			var values []string
			if err := json.Unmarshal(opRaw, &values); err != nil {
				return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing $in values for tag %q", name)
			}
			return &Node{Name: name, LeafOp: OpIn, Values: values}, nil
		}

		switch op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike:
			var value string
			if err := json.Unmarshal(opRaw, &value); err != nil {
				return nil, werr.Wrap(werr.KindWalletQueryError, err, "parsing value for tag %q operator %s", name, op)
			}
			return &Node{Name: name, LeafOp: op, Value: value}, nil
		default:
			return nil, werr.Newf(werr.KindWalletQueryError, "unknown operator %q", opName)
		}
	}
	panic("unreachable")
}
