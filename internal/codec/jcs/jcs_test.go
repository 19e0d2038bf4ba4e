package jcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsObjectKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestCanonicalize_NestedObjectsAndArrays(t *testing.T) {
	out, err := Canonicalize([]byte(`{"z":[3,1,2],"a":{"y":1,"x":2}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":2,"y":1},"z":[3,1,2]}`, string(out))
}

func TestCanonicalize_IntegralFloatsEmitWithoutFraction(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":1.0}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(out))
}

func TestCanonicalize_FractionalFloatPreserved(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":1.5}`, string(out))
}

func TestCanonicalize_StringEscaping(t *testing.T) {
	out, err := Canonicalize([]byte(`{"s":"a\"b\\c"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"s":"a\"b\\c"}`, string(out))
}

func TestCanonicalize_IsDeterministicAcrossKeyOrder(t *testing.T) {
	a, err := Canonicalize([]byte(`{"a":1,"b":2,"c":3}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"c":3,"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_RejectsMalformedInput(t *testing.T) {
	_, err := Canonicalize([]byte(`{not json`))
	assert.Error(t, err)
}

func TestMarshal_UnsupportedTypeFails(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}
