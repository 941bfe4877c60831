// Package types holds the token primitives shared by the tokenizer engine,
// the artifact layer, and the CLI.
package types

// Token is a single vocabulary id. Modern vocabularies exceed 65535 entries,
// so ids are 32-bit; the binary writers still offer a compact 16-bit stream
// for vocabularies that fit.
type Token uint32

type Tokens []Token

// TokenMap maps a token's surface form to its id.
type TokenMap map[string]Token

// IdMap is the inverse of TokenMap.
type IdMap map[Token]string

// Invert builds the id-to-surface mapping. When two surfaces share an id the
// survivor is unspecified.
func (m TokenMap) Invert() IdMap {
	inv := make(IdMap, len(m))
	for s, id := range m {
		inv[id] = s
	}
	return inv
}
