// Package diddoc implements the DID Document data model from spec §3:
// Document, VerificationMethod, Service, and the relationship-reference
// resolution and DIDComm-service-endpoint extraction it requires.
//
// Grounded on the hand-rolled DIDDocument/VerificationMethod/Service
// structs in agntcy-dir's identity/did/did.go and authn/did.go, generalized
// here into a single model shared by every DID method and resolver.
package diddoc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VerificationMethod is public-key material bound to a DID URL, encoded as
// multikey, JWK, or legacy base58, per spec §3.
type VerificationMethod struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Controller string         `json:"controller"`
	Expires    *string        `json:"expires,omitempty"`
	Revoked    *string        `json:"revoked,omitempty"`

	PublicKeyMultibase string          `json:"publicKeyMultibase,omitempty"`
	PublicKeyBase58    string          `json:"publicKeyBase58,omitempty"`
	PublicKeyJwk       json.RawMessage `json:"publicKeyJwk,omitempty"`
}

// VerificationRelationship is either a bare DID-URL reference into the
// document's verificationMethod list, or an embedded VerificationMethod.
type VerificationRelationship struct {
	Reference string
	Embedded  *VerificationMethod
}

func (r VerificationRelationship) MarshalJSON() ([]byte, error) {
	if r.Embedded != nil {
		return json.Marshal(r.Embedded)
	}

	return json.Marshal(r.Reference)
}

func (r *VerificationRelationship) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		r.Reference = ref

		return nil
	}

	var vm VerificationMethod
	if err := json.Unmarshal(data, &vm); err != nil {
		return fmt.Errorf("verification relationship: %w", err)
	}

	r.Embedded = &vm

	return nil
}

// ID returns the effective DID URL this relationship points at.
func (r VerificationRelationship) ID() string {
	if r.Embedded != nil {
		return r.Embedded.ID
	}

	return r.Reference
}

// ServiceEndpoint is a URL, a single map, or an array of maps, per spec §3.
type ServiceEndpoint struct {
	URL  string
	Map  map[string]any
	List []map[string]any
}

func (e ServiceEndpoint) MarshalJSON() ([]byte, error) {
	switch {
	case e.List != nil:
		return json.Marshal(e.List)
	case e.Map != nil:
		return json.Marshal(e.Map)
	default:
		return json.Marshal(e.URL)
	}
}

func (e *ServiceEndpoint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.URL = s

		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		e.Map = m

		return nil
	}

	var l []map[string]any
	if err := json.Unmarshal(data, &l); err != nil {
		return fmt.Errorf("service endpoint: %w", err)
	}

	e.List = l

	return nil
}

// Accept returns the "accept" media-type list declared by a map-shaped
// service endpoint, used by the DIDCommCapable check below.
func (e ServiceEndpoint) Accept() []string {
	var accept []string

	addFrom := func(m map[string]any) {
		raw, ok := m["accept"].([]any)
		if !ok {
			return
		}

		for _, a := range raw {
			if s, ok := a.(string); ok {
				accept = append(accept, s)
			}
		}
	}

	if e.Map != nil {
		addFrom(e.Map)
	}

	for _, m := range e.List {
		addFrom(m)
	}

	return accept
}

// Service is a DID Document service endpoint entry, per spec §3.
type Service struct {
	ID       string            `json:"id,omitempty"`
	Type     OneOrMany[string] `json:"type"`
	Endpoint ServiceEndpoint   `json:"serviceEndpoint"`
}

// IsDIDCommMessaging reports whether this service is a DIDCommMessaging
// endpoint whose accept list advertises didcomm/v2, per spec §3.
func (s Service) IsDIDCommMessaging() bool {
	hasType := false

	for _, t := range s.Type {
		if t == "DIDCommMessaging" {
			hasType = true

			break
		}
	}

	if !hasType {
		return false
	}

	for _, a := range s.Endpoint.Accept() {
		if a == "didcomm/v2" {
			return true
		}
	}

	return false
}

// Document is the W3C-shaped DID Document of spec §3.
type Document struct {
	ID string `json:"id"`

	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`

	Authentication       []VerificationRelationship `json:"authentication,omitempty"`
	AssertionMethod      []VerificationRelationship `json:"assertionMethod,omitempty"`
	KeyAgreement         []VerificationRelationship `json:"keyAgreement,omitempty"`
	CapabilityInvocation []VerificationRelationship `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []VerificationRelationship `json:"capabilityDelegation,omitempty"`

	Service []Service `json:"service,omitempty"`
}

// Validate checks the document invariant from spec §3: every relationship
// reference must resolve to a verification method inside the document.
func (d *Document) Validate() error {
	known := make(map[string]struct{}, len(d.VerificationMethod))
	for _, vm := range d.VerificationMethod {
		known[vm.ID] = struct{}{}
	}

	check := func(name string, rels []VerificationRelationship) error {
		for _, r := range rels {
			if r.Embedded != nil {
				continue
			}

			if _, ok := known[r.Reference]; !ok {
				return fmt.Errorf("diddoc: %s reference %q does not resolve within document %q", name, r.Reference, d.ID)
			}
		}

		return nil
	}

	for name, rels := range map[string][]VerificationRelationship{
		"authentication":       d.Authentication,
		"assertionMethod":      d.AssertionMethod,
		"keyAgreement":         d.KeyAgreement,
		"capabilityInvocation": d.CapabilityInvocation,
		"capabilityDelegation": d.CapabilityDelegation,
	} {
		if err := check(name, rels); err != nil {
			return err
		}
	}

	return nil
}

// FindVerificationMethod looks up a verification method by its full DID
// URL (or by fragment alone, which is resolved against the document ID).
func (d *Document) FindVerificationMethod(idOrFragment string) (*VerificationMethod, error) {
	search := idOrFragment
	if strings.HasPrefix(idOrFragment, "#") {
		search = d.ID + idOrFragment
	}

	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == search {
			return &d.VerificationMethod[i], nil
		}
	}

	// relationships may embed their own verification methods.
	for _, rels := range [][]VerificationRelationship{
		d.Authentication, d.AssertionMethod, d.KeyAgreement,
		d.CapabilityInvocation, d.CapabilityDelegation,
	} {
		for _, r := range rels {
			if r.Embedded != nil && r.Embedded.ID == search {
				return r.Embedded, nil
			}
		}
	}

	return nil, fmt.Errorf("diddoc: verification method %q not found in %q", idOrFragment, d.ID)
}

// KeyAgreementMethods resolves every keyAgreement relationship into a
// concrete VerificationMethod, used by pack_encrypted to enumerate
// recipient kids (spec §4.5 step 3).
func (d *Document) KeyAgreementMethods() ([]*VerificationMethod, error) {
	out := make([]*VerificationMethod, 0, len(d.KeyAgreement))

	for _, r := range d.KeyAgreement {
		if r.Embedded != nil {
			out = append(out, r.Embedded)

			continue
		}

		vm, err := d.FindVerificationMethod(r.Reference)
		if err != nil {
			return nil, err
		}

		out = append(out, vm)
	}

	return out, nil
}

// AuthenticationMethods resolves every authentication relationship, used
// to select a signing key for from_prior / pack signing.
func (d *Document) AuthenticationMethods() ([]*VerificationMethod, error) {
	out := make([]*VerificationMethod, 0, len(d.Authentication))

	for _, r := range d.Authentication {
		if r.Embedded != nil {
			out = append(out, r.Embedded)

			continue
		}

		vm, err := d.FindVerificationMethod(r.Reference)
		if err != nil {
			return nil, err
		}

		out = append(out, vm)
	}

	return out, nil
}

// DIDCommServiceEndpoints returns every service of type DIDCommMessaging
// advertising didcomm/v2 support.
func (d *Document) DIDCommServiceEndpoints() []Service {
	var out []Service

	for _, s := range d.Service {
		if s.IsDIDCommMessaging() {
			out = append(out, s)
		}
	}

	return out
}
