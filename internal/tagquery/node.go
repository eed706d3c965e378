// Package tagquery parses the JSON tag-query grammar (spec.md §4.4) and
// compiles it against a wallet's key hierarchy: tag names are always
// searchably-encrypted regardless of tag kind, while tag values are
// transformed only for encrypted tags (original_source's
// query_encryption.rs resolves the same asymmetry).
package tagquery

// Op names the grammar's leaf and combinator operators.
type Op string

const (
	OpEq   Op = "$eq"
	OpNeq  Op = "$neq"
	OpGt   Op = "$gt"
	OpGte  Op = "$gte"
	OpLt   Op = "$lt"
	OpLte  Op = "$lte"
	OpLike Op = "$like"
	OpIn   Op = "$in"
	OpAnd  Op = "$and"
	OpOr   Op = "$or"
	OpNot  Op = "$not"
)

// rangeOps lists operators valid only against plaintext tags.
var rangeOps = map[Op]bool{
	OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpLike: true,
}

// Node is a parsed predicate tree node. Combinator nodes (And/Or/Not)
// carry Children; leaf nodes carry Name/Op/Value (or Values for $in).
type Node struct {
	// Combinator fields.
	Combinator Op
	Children   []*Node

	// Leaf fields.
	Name   string
	LeafOp Op
	Value  string
	Values []string
}

func (n *Node) isCombinator() bool {
	return n.Combinator != ""
}
