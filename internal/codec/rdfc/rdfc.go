// Package rdfc implements RDF Dataset Canonicalization (RDFC-1.0, the
// URDNA2015 successor): a pragmatic JSON-LD-to-RDF lifter followed by the
// canonical blank-node-labelling algorithm — first-degree hashing,
// canonical-id issuance for uniquely-hashing blank nodes, and N-degree
// hashing with a hard permutation cap for the rest — producing sorted
// N-Quads and their SHA-256 digest, per spec §4.1/§4.8.
//
// The JSON-LD lifting step (ToDataset) is intentionally narrow: it walks a
// document's own keys through a flat term->IRI context map rather than
// running full JSON-LD 1.1 expansion (context processing, @container,
// scoped contexts, remote context fetch). That is a deliberate scope cut
// documented in DESIGN.md — the documents this package canonicalizes
// (Data Integrity proof options and verifiable credentials) use flat,
// locally-defined vocabularies, not JSON-LD's full feature surface.
package rdfc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxPermutations hard-caps the N-degree hashing algorithm's exploration
// of blank-node relabelling permutations, per spec §4.1's 10,000-
// permutation cap (mirroring the W3C RDFC-1.0 reference implementation's
// safety valve against pathological blank-node graphs).
const MaxPermutations = 10000

// ErrPermutationBudgetExceeded is returned when canonicalizing a dataset
// would require exploring more than MaxPermutations blank-node labelling
// permutations.
var ErrPermutationBudgetExceeded = fmt.Errorf("rdfc: exceeded permutation budget of %d", MaxPermutations)

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

// TermKind tags what an RDF Term represents.
type TermKind int

const (
	KindDefaultGraph TermKind = iota
	KindIRI
	KindBlank
	KindLiteral
)

// Term is one RDF term: an IRI, a blank node label ("_:b0"), a literal, or
// (as a Quad's Graph) the default graph.
type Term struct {
	Kind     TermKind
	Value    string // IRI, blank node label, or literal lexical form
	Datatype string // literal datatype IRI; empty defaults to xsd:string
	Language string // literal language tag, mutually exclusive with Datatype
}

func IRI(v string) Term              { return Term{Kind: KindIRI, Value: v} }
func Blank(label string) Term        { return Term{Kind: KindBlank, Value: label} }
func Literal(v, datatype string) Term { return Term{Kind: KindLiteral, Value: v, Datatype: datatype} }

func (t Term) isBlank() bool { return t.Kind == KindBlank }

// nquad renders t in N-Quads term syntax.
func (t Term) nquad() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return t.Value
	case KindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`

		if t.Language != "" {
			return s + "@" + t.Language
		}

		if t.Datatype != "" && t.Datatype != xsdString {
			return s + "^^<" + t.Datatype + ">"
		}

		return s
	default:
		return ""
	}
}

func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)

	return s
}

// Quad is one RDF quad. Graph.Kind == KindDefaultGraph places it in the
// default graph.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// line renders q as one N-Quads statement, ending in " .\n".
func (q Quad) line() string {
	var sb strings.Builder

	sb.WriteString(q.Subject.nquad())
	sb.WriteByte(' ')
	sb.WriteString(q.Predicate.nquad())
	sb.WriteByte(' ')
	sb.WriteString(q.Object.nquad())

	if q.Graph.Kind != KindDefaultGraph {
		sb.WriteByte(' ')
		sb.WriteString(q.Graph.nquad())
	}

	sb.WriteString(" .\n")

	return sb.String()
}

// withBlankRelabel returns a copy of q with every blank-node term whose
// label is in relabel replaced by Blank(relabel[label]); blank nodes not
// present in relabel become the sentinel label placeholder.
func (q Quad) withBlankRelabel(relabel map[string]string, placeholder string) Quad {
	remap := func(t Term) Term {
		if !t.isBlank() {
			return t
		}

		if id, ok := relabel[t.Value]; ok {
			return Blank(id)
		}

		return Blank(placeholder)
	}

	return Quad{Subject: remap(q.Subject), Predicate: q.Predicate, Object: remap(q.Object), Graph: remap(q.Graph)}
}

// Dataset is an ordered set of quads awaiting canonicalization.
type Dataset []Quad

// ToDataset lifts doc into an RDF dataset, per this package's narrow
// JSON-LD lifting scope (see package doc). blankPrefix seeds fresh blank
// node labels so multiple calls over the same logical document (e.g. a
// credential and its separately-lifted proof options) don't collide.
func ToDataset(doc map[string]any, context map[string]string, blankPrefix string) (Dataset, error) {
	lifter := &lifter{context: context, prefix: blankPrefix}

	subject := lifter.subjectFor(doc)

	if err := lifter.walk(subject, doc); err != nil {
		return nil, err
	}

	return lifter.quads, nil
}

type lifter struct {
	context map[string]string
	prefix  string
	counter int
	quads   Dataset
}

func (l *lifter) freshBlank() Term {
	l.counter++

	return Blank(fmt.Sprintf("_:%sb%d", l.prefix, l.counter))
}

func (l *lifter) subjectFor(obj map[string]any) Term {
	if id, ok := obj["id"].(string); ok && id != "" {
		return IRI(id)
	}

	return l.freshBlank()
}

func (l *lifter) resolveIRI(term string) string {
	if strings.Contains(term, "://") || strings.HasPrefix(term, "did:") || strings.HasPrefix(term, "urn:") {
		return term
	}

	if iri, ok := l.context[term]; ok {
		return iri
	}

	return term
}

func (l *lifter) walk(subject Term, obj map[string]any) error {
	if types, ok := obj["type"]; ok {
		for _, t := range toStringSlice(types) {
			l.quads = append(l.quads, Quad{
				Subject:   subject,
				Predicate: IRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"),
				Object:    IRI(l.resolveIRI(t)),
			})
		}
	}

	keys := make([]string, 0, len(obj))

	for k := range obj {
		if k == "id" || k == "type" || k == "@context" {
			continue
		}

		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		predicate := IRI(l.resolveIRI(k))

		if err := l.emitValues(subject, predicate, obj[k]); err != nil {
			return fmt.Errorf("rdfc: property %q: %w", k, err)
		}
	}

	return nil
}

func (l *lifter) emitValues(subject, predicate Term, v any) error {
	switch val := v.(type) {
	case []any:
		for _, elem := range val {
			if err := l.emitValues(subject, predicate, elem); err != nil {
				return err
			}
		}

		return nil
	case map[string]any:
		nested := l.subjectFor(val)
		l.quads = append(l.quads, Quad{Subject: subject, Predicate: predicate, Object: nested})

		return l.walk(nested, val)
	case string:
		l.quads = append(l.quads, Quad{Subject: subject, Predicate: predicate, Object: Literal(val, xsdString)})

		return nil
	case bool:
		l.quads = append(l.quads, Quad{Subject: subject, Predicate: predicate, Object: Literal(strconv.FormatBool(val), "http://www.w3.org/2001/XMLSchema#boolean")})

		return nil
	case float64:
		l.quads = append(l.quads, Quad{Subject: subject, Predicate: predicate, Object: Literal(formatNumber(val), "http://www.w3.org/2001/XMLSchema#double")})

		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))

		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// Canonicalize runs RDFC-1.0 over ds, returning the canonical sorted
// N-Quads serialization and its SHA-256 digest.
func Canonicalize(ds Dataset) (string, [32]byte, error) {
	c := &canonicalizer{
		quadsByBlank: make(map[string][]Quad),
		permBudget:   MaxPermutations,
	}

	for _, q := range ds {
		for _, t := range []Term{q.Subject, q.Object, q.Graph} {
			if t.isBlank() {
				c.quadsByBlank[t.Value] = append(c.quadsByBlank[t.Value], q)
			}
		}
	}

	canonical, err := c.issueCanonicalIDs()
	if err != nil {
		return "", [32]byte{}, err
	}

	lines := make([]string, 0, len(ds))

	for _, q := range ds {
		lines = append(lines, q.withBlankRelabel(canonical, "_:UNASSIGNED").line())
	}

	sort.Strings(lines)

	out := strings.Join(lines, "")

	return out, sha256.Sum256([]byte(out)), nil
}

// CanonicalizeAndHash is Canonicalize followed by hex-encoding the digest,
// the form most callers (internal/vc's document/proof-options hashing)
// consume.
func CanonicalizeAndHash(ds Dataset) (string, string, error) {
	nquads, digest, err := Canonicalize(ds)
	if err != nil {
		return "", "", err
	}

	return nquads, hex.EncodeToString(digest[:]), nil
}

type canonicalizer struct {
	quadsByBlank map[string][]Quad
	permBudget   int
}

// issueCanonicalIDs runs the first-degree/N-degree hashing algorithm,
// returning the old-label -> canonical-label map.
func (c *canonicalizer) issueCanonicalIDs() (map[string]string, error) {
	canonical := make(map[string]string)
	nextC14N := 0

	issueCanonical := func(label string) {
		canonical[label] = fmt.Sprintf("_:c14n%d", nextC14N)
		nextC14N++
	}

	hashes := make(map[string]string, len(c.quadsByBlank))
	byHash := make(map[string][]string)

	for label := range c.quadsByBlank {
		h := c.hashFirstDegreeQuads(label)
		hashes[label] = h
		byHash[h] = append(byHash[h], label)
	}

	sortedHashes := make([]string, 0, len(byHash))
	for h := range byHash {
		sortedHashes = append(sortedHashes, h)
	}

	sort.Strings(sortedHashes)

	var remaining []string

	for _, h := range sortedHashes {
		labels := byHash[h]
		if len(labels) == 1 {
			issueCanonical(labels[0])

			continue
		}

		remaining = append(remaining, labels...)
	}

	sort.Strings(remaining)

	type candidate struct {
		hash   string
		order  []string
		byID   map[string]string
	}

	var candidates []candidate

	for _, label := range remaining {
		if _, done := canonical[label]; done {
			continue
		}

		issuer := newIssuer("_:b")
		issuer.issue(label)

		hash, err := c.hashNDegreeQuads(label, issuer)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, candidate{hash: hash, order: issuer.order, byID: issuer.issued})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].hash < candidates[j].hash })

	for _, cand := range candidates {
		for _, oldLabel := range cand.order {
			if _, done := canonical[oldLabel]; !done {
				issueCanonical(oldLabel)
			}
		}
	}

	return canonical, nil
}

// hashFirstDegreeQuads hashes the quads referencing label with label
// itself marked "_:a" and every other blank node marked "_:z", per
// RDFC-1.0's first-degree hash.
func (c *canonicalizer) hashFirstDegreeQuads(label string) string {
	relabel := map[string]string{label: "_:a"}

	lines := make([]string, 0, len(c.quadsByBlank[label]))

	for _, q := range c.quadsByBlank[label] {
		lines = append(lines, q.withBlankRelabel(relabel, "_:z").line())
	}

	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "")))

	return hex.EncodeToString(sum[:])
}

// identifierIssuer hands out sequential temporary blank-node labels,
// remembering issuance order for the caller that needs to replay it onto
// the canonical issuer.
type identifierIssuer struct {
	prefix  string
	counter int
	issued  map[string]string
	order   []string
}

func newIssuer(prefix string) *identifierIssuer {
	return &identifierIssuer{prefix: prefix, issued: make(map[string]string)}
}

func (iss *identifierIssuer) issue(label string) string {
	if id, ok := iss.issued[label]; ok {
		return id
	}

	id := fmt.Sprintf("%s%d", iss.prefix, iss.counter)
	iss.counter++
	iss.issued[label] = id
	iss.order = append(iss.order, label)

	return id
}

func (iss *identifierIssuer) clone() *identifierIssuer {
	cp := &identifierIssuer{prefix: iss.prefix, counter: iss.counter, issued: make(map[string]string, len(iss.issued))}
	for k, v := range iss.issued {
		cp.issued[k] = v
	}

	cp.order = append(cp.order, iss.order...)

	return cp
}

// hashNDegreeQuads implements RDFC-1.0's N-degree hash: explore related
// blank nodes grouped by their first-degree hash, trying every
// permutation of each group (capped by the canonicalizer's permutation
// budget) and keeping the lexicographically smallest resulting data.
func (c *canonicalizer) hashNDegreeQuads(label string, issuer *identifierIssuer) (string, error) {
	relatedByHash := make(map[string][]string)

	for _, q := range c.quadsByBlank[label] {
		for _, t := range []Term{q.Subject, q.Object, q.Graph} {
			if !t.isBlank() || t.Value == label {
				continue
			}

			h := c.hashFirstDegreeQuads(t.Value)
			relatedByHash[h] = appendUnique(relatedByHash[h], t.Value)
		}
	}

	sortedHashes := make([]string, 0, len(relatedByHash))
	for h := range relatedByHash {
		sortedHashes = append(sortedHashes, h)
	}

	sort.Strings(sortedHashes)

	var dataToHash strings.Builder

	for _, h := range sortedHashes {
		group := relatedByHash[h]

		dataToHash.WriteString(h)

		best, bestIssuer, err := c.bestPermutation(group, issuer)
		if err != nil {
			return "", err
		}

		dataToHash.WriteString(best)
		issuer = bestIssuer
	}

	sum := sha256.Sum256([]byte(dataToHash.String()))

	return hex.EncodeToString(sum[:]), nil
}

// bestPermutation tries every ordering of group's blank node labels
// (capped by the remaining permutation budget), issuing temporary ids
// along the way, and returns the ordering whose resulting path string
// sorts smallest, per RDFC-1.0's "choose the lexicographically least"
// rule.
func (c *canonicalizer) bestPermutation(group []string, baseIssuer *identifierIssuer) (string, *identifierIssuer, error) {
	sort.Strings(group)

	var (
		bestPath    string
		bestIssuer  *identifierIssuer
		first       = true
		permutation = make([]string, len(group))
	)

	copy(permutation, group)

	tried := 0

	err := permute(permutation, func(order []string) error {
		tried++
		if tried > c.permBudget {
			return ErrPermutationBudgetExceeded
		}

		issuer := baseIssuer.clone()

		var path strings.Builder

		for _, label := range order {
			id := issuer.issue(label)
			path.WriteString(fmt.Sprintf("_:%s", id))
		}

		for _, label := range order {
			h, err := c.hashNDegreeQuads(label, issuer)
			if err != nil {
				return err
			}

			path.WriteString(h)
		}

		if first || path.String() < bestPath {
			bestPath = path.String()
			bestIssuer = issuer
			first = false
		}

		return nil
	})
	if err != nil {
		return "", nil, err
	}

	c.permBudget -= tried

	return bestPath, bestIssuer, nil
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}

	return append(s, v)
}

// permute calls fn once per permutation of items (Heap's algorithm),
// stopping early if fn returns an error.
func permute(items []string, fn func([]string) error) error {
	n := len(items)
	if n == 0 {
		return fn(items)
	}

	c := make([]int, n)

	if err := fn(items); err != nil {
		return err
	}

	i := 0
	for i < n {
		if c[i] < i {
			if i%2 == 0 {
				items[0], items[i] = items[i], items[0]
			} else {
				items[c[i]], items[i] = items[i], items[c[i]]
			}

			if err := fn(items); err != nil {
				return err
			}

			c[i]++
			i = 0
		} else {
			c[i] = 0
			i++
		}
	}

	return nil
}
