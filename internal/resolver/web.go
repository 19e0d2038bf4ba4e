package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/affinidi-community/tdk-core/internal/did"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
)

// WebResolver fetches a did:web document over HTTPS, per spec §4.2: the
// domain and path segments map to `https://<domain>/<path>/did.json`, or
// `https://<domain>/.well-known/did.json` when there is no path.
//
// Grounded on agntcy-dir's authn.UniversalResolver HTTP-fetch shape, with
// the URL construction rules specific to did:web.
type WebResolver struct {
	httpClient *http.Client
}

func NewWebResolver(httpClient *http.Client) *WebResolver {
	return &WebResolver{httpClient: httpClient}
}

func (r *WebResolver) Resolve(ctx context.Context, d *did.DID) (*diddoc.Document, bool, error) {
	if d.Method != did.MethodWeb {
		return nil, false, nil
	}

	url := webDocumentURL(d.Domain, d.PathSegments)

	doc, err := fetchDIDDocument(ctx, r.httpClient, url)
	if err != nil {
		return nil, true, fmt.Errorf("resolver: did:web %q: %w", d.Raw, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, true, fmt.Errorf("resolver: did:web %q: %w", d.Raw, err)
	}

	return doc, true, nil
}

// webDocumentURL implements the did:web path-to-URL mapping: a domain with
// no path segments resolves against /.well-known/did.json; otherwise each
// colon-separated segment becomes a URL path segment, with did.json
// appended.
func webDocumentURL(domain string, segments []string) string {
	host := strings.ReplaceAll(domain, "%3A", ":")

	if len(segments) == 0 {
		return fmt.Sprintf("https://%s/.well-known/did.json", host)
	}

	return fmt.Sprintf("https://%s/%s/did.json", host, strings.Join(segments, "/"))
}

func fetchDIDDocument(ctx context.Context, client *http.Client, url string) (*diddoc.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/did+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, string(body))
	}

	var doc diddoc.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse document from %s: %w", url, err)
	}

	return &doc, nil
}
