package rdfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDataset_SimpleObject(t *testing.T) {
	doc := map[string]any{
		"id":   "did:example:abc",
		"type": "Person",
		"name": "Alice",
	}

	ds, err := ToDataset(doc, nil, "x")
	require.NoError(t, err)
	require.Len(t, ds, 2)

	_, digest, err := Canonicalize(ds)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, digest)
}

func TestToDataset_NestedBlankNode(t *testing.T) {
	doc := map[string]any{
		"id": "did:example:abc",
		"credentialSubject": map[string]any{
			"name": "Bob",
		},
	}

	ds, err := ToDataset(doc, map[string]string{"credentialSubject": "https://example.org#credentialSubject"}, "x")
	require.NoError(t, err)
	require.Len(t, ds, 2)

	nquads, _, err := Canonicalize(ds)
	require.NoError(t, err)
	assert.Contains(t, nquads, "_:c14n0")
}

func TestCanonicalize_IsOrderIndependentAndDeterministic(t *testing.T) {
	a := map[string]any{
		"id":   "did:example:abc",
		"type": "Person",
		"knows": map[string]any{
			"name": "Carol",
		},
	}
	b := map[string]any{
		"type": "Person",
		"knows": map[string]any{
			"name": "Carol",
		},
		"id": "did:example:abc",
	}

	dsA, err := ToDataset(a, nil, "a")
	require.NoError(t, err)
	dsB, err := ToDataset(b, nil, "b")
	require.NoError(t, err)

	nquadsA, digestA, err := Canonicalize(dsA)
	require.NoError(t, err)
	nquadsB, digestB, err := Canonicalize(dsB)
	require.NoError(t, err)

	assert.Equal(t, nquadsA, nquadsB)
	assert.Equal(t, digestA, digestB)
}

func TestCanonicalize_TwoSiblingBlankNodesGetDistinctCanonicalIDs(t *testing.T) {
	doc := map[string]any{
		"id": "did:example:abc",
		"friend": []any{
			map[string]any{"name": "Dave"},
			map[string]any{"name": "Erin"},
		},
	}

	ds, err := ToDataset(doc, nil, "f")
	require.NoError(t, err)

	nquads, _, err := Canonicalize(ds)
	require.NoError(t, err)
	assert.Contains(t, nquads, "_:c14n0")
	assert.Contains(t, nquads, "_:c14n1")
}

func TestCanonicalizeAndHash_HexEncoded(t *testing.T) {
	doc := map[string]any{"id": "did:example:abc", "name": "Alice"}

	ds, err := ToDataset(doc, nil, "x")
	require.NoError(t, err)

	nquads, hexDigest, err := CanonicalizeAndHash(ds)
	require.NoError(t, err)
	assert.Len(t, hexDigest, 64)
	assert.NotEmpty(t, nquads)
}

func TestPermute_VisitsAllOrderings(t *testing.T) {
	var got [][]string

	err := permute([]string{"a", "b", "c"}, func(order []string) error {
		cp := make([]string, len(order))
		copy(cp, order)
		got = append(got, cp)

		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestBestPermutation_RespectsBudget(t *testing.T) {
	c := &canonicalizer{quadsByBlank: map[string][]Quad{}, permBudget: 1}

	group := []string{"_:b0", "_:b1", "_:b2"}

	_, _, err := c.bestPermutation(group, newIssuer("_:b"))
	assert.ErrorIs(t, err, ErrPermutationBudgetExceeded)
}
