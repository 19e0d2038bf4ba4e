package vc

// bundledContexts is the small, offline JSON-LD context registry of spec
// §4.1/§4.8: a document's `@context` URLs must resolve against this table
// (no network fetch); an unrecognised URL fails with an Unsupported error
// (ErrUnknownContext).
// Term -> IRI mappings are merged in `@context` array order, later
// contexts overriding earlier ones, matching JSON-LD's own precedence.
var bundledContexts = map[string]map[string]string{
	"https://www.w3.org/ns/credentials/v2": {
		"type":                "@type",
		"VerifiableCredential": "https://www.w3.org/2018/credentials#VerifiableCredential",
		"VerifiablePresentation": "https://www.w3.org/2018/credentials#VerifiablePresentation",
		"credentialSubject":   "https://www.w3.org/2018/credentials#credentialSubject",
		"issuer":              "https://www.w3.org/2018/credentials#issuer",
		"validFrom":           "https://www.w3.org/2018/credentials#validFrom",
		"validUntil":          "https://www.w3.org/2018/credentials#validUntil",
		"proof":               "https://w3id.org/security#proof",
	},
	"https://www.w3.org/2018/credentials/v1": {
		"VerifiableCredential": "https://www.w3.org/2018/credentials#VerifiableCredential",
		"credentialSubject":    "https://www.w3.org/2018/credentials#credentialSubject",
		"issuer":               "https://www.w3.org/2018/credentials#issuer",
		"issuanceDate":         "https://www.w3.org/2018/credentials#issuanceDate",
		"proof":                "https://w3id.org/security#proof",
	},
	"https://w3id.org/security/data-integrity/v2": {
		"DataIntegrityProof": "https://w3id.org/security#DataIntegrityProof",
		"cryptosuite":        "https://w3id.org/security#cryptosuite",
		"proofPurpose":       "https://w3id.org/security#proofPurpose",
		"proofValue":         "https://w3id.org/security#proofValue",
		"verificationMethod": "https://w3id.org/security#verificationMethod",
		"created":            "http://purl.org/dc/terms/created",
		"assertionMethod":    "https://w3id.org/security#assertionMethod",
	},
	"https://www.w3.org/ns/odrl.jsonld": {},
}

// resolveContext merges the term->IRI maps of every context URL named in
// raw (a string or []any of strings, JSON-LD's `@context` shapes),
// failing if any URL is not in bundledContexts.
func resolveContext(raw any) (map[string]string, error) {
	merged := make(map[string]string)

	for _, url := range contextURLs(raw) {
		terms, ok := bundledContexts[url]
		if !ok {
			return nil, ErrUnknownContext(url)
		}

		for k, v := range terms {
			merged[k] = v
		}
	}

	return merged, nil
}

func contextURLs(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string

		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}
