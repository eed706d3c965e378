package tagquery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/keyhierarchy"
	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/tagquery"
	"github.com/agentvault/vault/pkg/werr"
)

func testKeys(t *testing.T) *keyhierarchy.WalletKeys {
	t.Helper()
	keys, err := keyhierarchy.GenerateWalletKeys()
	require.NoError(t, err)
	return keys
}

func TestParseEqualitySugar(t *testing.T) {
	node, err := tagquery.Parse([]byte(`{"city": "Boston"}`))
	require.NoError(t, err)
	assert.Equal(t, "city", node.Name)
	assert.Equal(t, tagquery.OpEq, node.LeafOp)
	assert.Equal(t, "Boston", node.Value)
}

func TestParseAndOr(t *testing.T) {
	node, err := tagquery.Parse([]byte(`{"$and": [{"a": "1"}, {"b": "2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpAnd, node.Combinator)
	require.Len(t, node.Children, 2)
}

func TestParseNot(t *testing.T) {
	node, err := tagquery.Parse([]byte(`{"$not": {"a": "1"}}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpNot, node.Combinator)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "a", node.Children[0].Name)
}

func TestParseIn(t *testing.T) {
	node, err := tagquery.Parse([]byte(`{"a": {"$in": ["1","2","3"]}}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpIn, node.LeafOp)
	assert.Equal(t, []string{"1", "2", "3"}, node.Values)
}

func TestParseUnknownOperator(t *testing.T) {
	_, err := tagquery.Parse([]byte(`{"a": {"$bogus": "1"}}`))
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindWalletQueryError))
}

func TestParseEmptyTagName(t *testing.T) {
	_, err := tagquery.Parse([]byte(`{"": "1"}`))
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindWalletQueryError))
}

func TestCompileTagNameAlwaysSearchablyEncrypted(t *testing.T) {
	keys := testKeys(t)

	plainNode, err := tagquery.Parse([]byte(`{"~city": "Boston"}`))
	require.NoError(t, err)
	plainCompiled, err := tagquery.Compile(plainNode, keys)
	require.NoError(t, err)
	assert.Equal(t, storage.TagPlaintext, plainCompiled.Kind)
	assert.Equal(t, []byte("Boston"), plainCompiled.Value, "plaintext tag value passes through unchanged")
	assert.NotEqual(t, []byte("city"), plainCompiled.NameCT, "tag name is always searchably-encrypted")

	encNode, err := tagquery.Parse([]byte(`{"secret": "x"}`))
	require.NoError(t, err)
	encCompiled, err := tagquery.Compile(encNode, keys)
	require.NoError(t, err)
	assert.Equal(t, storage.TagEncrypted, encCompiled.Kind)
	assert.NotEqual(t, []byte("x"), encCompiled.Value, "encrypted tag value must not leak plaintext")
}

func TestCompileRejectsRangeOnEncryptedTag(t *testing.T) {
	keys := testKeys(t)
	node, err := tagquery.Parse([]byte(`{"secret": {"$gte": "5"}}`))
	require.NoError(t, err)

	_, err = tagquery.Compile(node, keys)
	require.Error(t, err)
	assert.True(t, werr.Is(err, werr.KindWalletQueryError))
}

func TestCompileAllowsRangeOnPlaintextTag(t *testing.T) {
	keys := testKeys(t)
	node, err := tagquery.Parse([]byte(`{"~age": {"$gte": "25"}}`))
	require.NoError(t, err)

	compiled, err := tagquery.Compile(node, keys)
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpGte, compiled.LeafOp)
	assert.Equal(t, []byte("25"), compiled.Value)
}

func TestCompileDoubleNotCollapses(t *testing.T) {
	keys := testKeys(t)
	node, err := tagquery.Parse([]byte(`{"$not": {"$not": {"~city": "Boston"}}}`))
	require.NoError(t, err)

	compiled, err := tagquery.Compile(node, keys)
	require.NoError(t, err)
	assert.NotEqual(t, tagquery.OpNot, compiled.Combinator)
	assert.Equal(t, storage.TagPlaintext, compiled.Kind)
}

func TestCompileEmptyAndOr(t *testing.T) {
	keys := testKeys(t)

	andNode, err := tagquery.Parse([]byte(`{"$and": []}`))
	require.NoError(t, err)
	andCompiled, err := tagquery.Compile(andNode, keys)
	require.NoError(t, err)
	assert.Empty(t, andCompiled.Children)
	assert.Equal(t, tagquery.OpAnd, andCompiled.Combinator)

	orNode, err := tagquery.Parse([]byte(`{"$or": []}`))
	require.NoError(t, err)
	orCompiled, err := tagquery.Compile(orNode, keys)
	require.NoError(t, err)
	assert.Empty(t, orCompiled.Children)
	assert.Equal(t, tagquery.OpOr, orCompiled.Combinator)
}

func TestCompileSameNameValueDeterministic(t *testing.T) {
	keys := testKeys(t)
	node, err := tagquery.Parse([]byte(`{"secret": "x"}`))
	require.NoError(t, err)

	a, err := tagquery.Compile(node, keys)
	require.NoError(t, err)
	b, err := tagquery.Compile(node, keys)
	require.NoError(t, err)

	assert.Equal(t, a.NameCT, b.NameCT)
	assert.Equal(t, a.Value, b.Value)
}
