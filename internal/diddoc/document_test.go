package diddoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneOrMany_MarshalsScalarWhenSingle(t *testing.T) {
	o := Single("DIDCommMessaging")

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `"DIDCommMessaging"`, string(b))
}

func TestOneOrMany_MarshalsArrayWhenMultiple(t *testing.T) {
	o := OneOrMany[string]{"A", "B"}

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `["A","B"]`, string(b))
}

func TestOneOrMany_UnmarshalsScalarAndArray(t *testing.T) {
	var scalar OneOrMany[string]
	require.NoError(t, json.Unmarshal([]byte(`"X"`), &scalar))
	assert.Equal(t, OneOrMany[string]{"X"}, scalar)

	var array OneOrMany[string]
	require.NoError(t, json.Unmarshal([]byte(`["X","Y"]`), &array))
	assert.Equal(t, OneOrMany[string]{"X", "Y"}, array)
}

func TestServiceEndpoint_RoundTripsURLMapAndList(t *testing.T) {
	var url ServiceEndpoint
	require.NoError(t, json.Unmarshal([]byte(`"https://example.com/didcomm"`), &url))
	assert.Equal(t, "https://example.com/didcomm", url.URL)

	var m ServiceEndpoint
	require.NoError(t, json.Unmarshal([]byte(`{"uri":"https://example.com","accept":["didcomm/v2"]}`), &m))
	assert.Equal(t, []string{"didcomm/v2"}, m.Accept())

	var list ServiceEndpoint
	require.NoError(t, json.Unmarshal([]byte(`[{"uri":"a","accept":["didcomm/v2"]},{"uri":"b"}]`), &list))
	assert.Equal(t, []string{"didcomm/v2"}, list.Accept())
}

func TestService_IsDIDCommMessaging(t *testing.T) {
	svc := Service{
		Type:     OneOrMany[string]{"DIDCommMessaging"},
		Endpoint: ServiceEndpoint{Map: map[string]any{"uri": "https://example.com", "accept": []any{"didcomm/v2"}}},
	}
	assert.True(t, svc.IsDIDCommMessaging())

	notDIDComm := Service{
		Type:     OneOrMany[string]{"LinkedDomains"},
		Endpoint: ServiceEndpoint{URL: "https://example.com"},
	}
	assert.False(t, notDIDComm.IsDIDCommMessaging())

	wrongAccept := Service{
		Type:     OneOrMany[string]{"DIDCommMessaging"},
		Endpoint: ServiceEndpoint{Map: map[string]any{"accept": []any{"didcomm/v1"}}},
	}
	assert.False(t, wrongAccept.IsDIDCommMessaging())
}

func TestDocument_ValidateCatchesUnresolvedReference(t *testing.T) {
	doc := &Document{
		ID: "did:example:abc",
		VerificationMethod: []VerificationMethod{
			{ID: "did:example:abc#key-1"},
		},
		Authentication: []VerificationRelationship{
			{Reference: "did:example:abc#key-1"},
			{Reference: "did:example:abc#missing"},
		},
	}

	err := doc.Validate()
	assert.ErrorContains(t, err, "missing")
}

func TestDocument_ValidatePassesForResolvedAndEmbedded(t *testing.T) {
	doc := &Document{
		ID: "did:example:abc",
		VerificationMethod: []VerificationMethod{
			{ID: "did:example:abc#key-1"},
		},
		Authentication: []VerificationRelationship{
			{Reference: "did:example:abc#key-1"},
			{Embedded: &VerificationMethod{ID: "did:example:abc#key-2"}},
		},
	}

	assert.NoError(t, doc.Validate())
}

func TestDocument_FindVerificationMethod(t *testing.T) {
	doc := &Document{
		ID: "did:example:abc",
		VerificationMethod: []VerificationMethod{
			{ID: "did:example:abc#key-1"},
		},
	}

	vm, err := doc.FindVerificationMethod("#key-1")
	require.NoError(t, err)
	assert.Equal(t, "did:example:abc#key-1", vm.ID)

	vm2, err := doc.FindVerificationMethod("did:example:abc#key-1")
	require.NoError(t, err)
	assert.Same(t, vm, vm2)

	_, err = doc.FindVerificationMethod("#missing")
	assert.Error(t, err)
}

func TestDocument_FindVerificationMethod_EmbeddedInRelationship(t *testing.T) {
	doc := &Document{
		ID: "did:example:abc",
		KeyAgreement: []VerificationRelationship{
			{Embedded: &VerificationMethod{ID: "did:example:abc#key-agree-1"}},
		},
	}

	vm, err := doc.FindVerificationMethod("#key-agree-1")
	require.NoError(t, err)
	assert.Equal(t, "did:example:abc#key-agree-1", vm.ID)
}
