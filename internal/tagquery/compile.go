package tagquery

import (
	"strings"

	"github.com/agentvault/vault/internal/keyhierarchy"
	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/walletcrypto"
	"github.com/agentvault/vault/pkg/werr"
)

// plaintextPrefix marks a tag name as plaintext (spec.md §4.4).
const plaintextPrefix = "~"

// Compiled is an encrypted predicate tree, ready to hand to a
// storage.Backend verbatim.
type Compiled struct {
	Combinator Op
	Children   []*Compiled

	NameCT []byte // EncryptSearchable(tag_name_key, tags_hmac_key, raw_name) — always, regardless of kind
	Kind   storage.TagKind
	LeafOp Op
	Value  []byte   // searchably-encrypted if Kind == TagEncrypted, else raw bytes
	Values [][]byte // for $in
}

// predicateMarker satisfies storage.Predicate.
func (c *Compiled) predicateMarker() {}

// Compile resolves tag encryption mode from each leaf's name and
// transforms names/values against keys, rejecting range/like
// predicates against encrypted tags and any structural violation
// (duplicate names are a caller/write-path concern, not compile-time —
// a query tree may legitimately reference the same tag name twice,
// e.g. a $gte/$lte range pair).
func Compile(n *Node, keys *keyhierarchy.WalletKeys) (*Compiled, error) {
	if n == nil {
		return nil, werr.New(werr.KindWalletQueryError, "empty predicate tree")
	}

	if n.isCombinator() {
		return compileCombinator(n, keys)
	}
	return compileLeaf(n, keys)
}

func compileCombinator(n *Node, keys *keyhierarchy.WalletKeys) (*Compiled, error) {
	if n.Combinator == OpNot {
		if len(n.Children) != 1 {
			return nil, werr.New(werr.KindWalletQueryError, "$not requires exactly one operand")
		}
		child, err := Compile(n.Children[0], keys)
		if err != nil {
			return nil, err
		}
		// $not is involutive: collapse $not($not(x)) to x.
		if child.Combinator == OpNot {
			return child.Children[0], nil
		}
		return &Compiled{Combinator: OpNot, Children: []*Compiled{child}}, nil
	}

	children := make([]*Compiled, 0, len(n.Children))
	for _, c := range n.Children {
		compiled, err := Compile(c, keys)
		if err != nil {
			return nil, err
		}
		children = append(children, compiled)
	}
	// Empty $and/$or compile to the universal constant of their
	// identity: an empty $and (zero children) is vacuously true, an
	// empty $or is vacuously false. Both are represented as a
	// zero-child combinator node; the backend evaluator recognizes
	// this shape directly rather than materializing a sentinel value.
	return &Compiled{Combinator: n.Combinator, Children: children}, nil
}

func compileLeaf(n *Node, keys *keyhierarchy.WalletKeys) (*Compiled, error) {
	if n.Name == "" {
		return nil, werr.New(werr.KindWalletQueryError, "empty tag name is not a valid predicate")
	}

	kind := storage.TagEncrypted
	rawName := n.Name
	if strings.HasPrefix(n.Name, plaintextPrefix) {
		kind = storage.TagPlaintext
		rawName = strings.TrimPrefix(n.Name, plaintextPrefix)
	}

	if kind == storage.TagEncrypted && rangeOps[n.LeafOp] {
		return nil, werr.Newf(werr.KindWalletQueryError, "operator %s is not supported against encrypted tag %q", n.LeafOp, n.Name)
	}

	// Tag names are always searchably-encrypted regardless of tag
	// kind — only the value's treatment differs by variant.
	nameCT, err := walletcrypto.EncryptSearchable(keys.TagNameKey, keys.TagsHMACKey, []byte(rawName))
	if err != nil {
		return nil, werr.Wrap(werr.KindWalletQueryError, err, "encrypting tag name %q", rawName)
	}

	compiled := &Compiled{NameCT: nameCT, Kind: kind, LeafOp: n.LeafOp}

	if n.LeafOp == OpIn {
		values := make([][]byte, 0, len(n.Values))
		for _, v := range n.Values {
			ct, err := transformValue(kind, keys, v)
			if err != nil {
				return nil, err
			}
			values = append(values, ct)
		}
		compiled.Values = values
		return compiled, nil
	}

	ct, err := transformValue(kind, keys, n.Value)
	if err != nil {
		return nil, err
	}
	compiled.Value = ct
	return compiled, nil
}

func transformValue(kind storage.TagKind, keys *keyhierarchy.WalletKeys, value string) ([]byte, error) {
	if kind == storage.TagPlaintext {
		return []byte(value), nil
	}
	ct, err := walletcrypto.EncryptSearchable(keys.TagValueKey, keys.TagsHMACKey, []byte(value))
	if err != nil {
		return nil, werr.Wrap(werr.KindWalletQueryError, err, "encrypting tag value")
	}
	return ct, nil
}
