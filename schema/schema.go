// Package schema models the fast tokenizer document format: the single-file
// JSON representation carrying the model, normalizer, pre-tokenizer,
// post-processor, decoder, and added tokens. Parsing tolerates the format's
// union shapes (vocab as object or scored array, merges as strings or
// pairs); writing is deterministic so repeated exports are byte-stable.
package schema

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/tokforge/retok/pkg/json"
)

// Version is written into documents this package produces.
const Version = "1.0"

// Tokenizer is the parsed document.
type Tokenizer struct {
	Version       string         `json:"version"`
	Truncation    RawSection     `json:"truncation"`
	Padding       RawSection     `json:"padding"`
	AddedTokens   []AddedToken   `json:"added_tokens,omitempty"`
	Normalizer    *Normalizer    `json:"normalizer"`
	PreTokenizer  *PreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *PostProcessor `json:"post_processor"`
	Decoder       *Decoder       `json:"decoder"`
	Model         Model          `json:"model"`
}

// RawSection preserves a document section this package does not interpret,
// so a rewrite carries it through untouched. Null and absent both render as
// null.
type RawSection []byte

func (s RawSection) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *RawSection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	*s = append((*s)[0:0], data...)
	return nil
}

// AddedToken is one entry of the added_tokens section.
type AddedToken struct {
	Id         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Pattern is the regex-or-literal union used by Split, Replace and friends.
type Pattern struct {
	Regex  string `json:"Regex,omitempty"`
	String string `json:"String,omitempty"`
}

type Normalizer struct {
	Type                string       `json:"type"`
	Lowercase           bool         `json:"lowercase,omitempty"`
	CleanText           bool         `json:"clean_text,omitempty"`
	HandleChineseChars  bool         `json:"handle_chinese_chars,omitempty"`
	StripAccents        *bool        `json:"strip_accents,omitempty"`
	Pattern             *Pattern     `json:"pattern,omitempty"`
	Content             string       `json:"content,omitempty"`
	Prepend             string       `json:"prepend,omitempty"`
	PrecompiledCharsmap string       `json:"precompiled_charsmap,omitempty"`
	Normalizers         []Normalizer `json:"normalizers,omitempty"`
}

type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace bool           `json:"add_prefix_space,omitempty"`
	TrimOffsets    bool           `json:"trim_offsets,omitempty"`
	UseRegex       bool           `json:"use_regex,omitempty"`
	Replacement    string         `json:"replacement,omitempty"`
	PrependScheme  string         `json:"prepend_scheme,omitempty"`
	Pattern        *Pattern       `json:"pattern,omitempty"`
	Behavior       string         `json:"behavior,omitempty"`
	Invert         bool           `json:"invert,omitempty"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers,omitempty"`
}

type PostProcessor struct {
	Type           string                  `json:"type"`
	Single         []ProcessorItem         `json:"single,omitempty"`
	Pair           []ProcessorItem         `json:"pair,omitempty"`
	SpecialTokens  map[string]SpecialEntry `json:"special_tokens,omitempty"`
	Sep            *TokenRef               `json:"sep,omitempty"`
	Cls            *TokenRef               `json:"cls,omitempty"`
	AddPrefixSpace bool                    `json:"add_prefix_space,omitempty"`
	TrimOffsets    bool                    `json:"trim_offsets,omitempty"`
}

// TokenRef is the ["[SEP]", 102] pair shape used by BertProcessing.
type TokenRef struct {
	Content string
	Id      int
}

func (r TokenRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Content, r.Id})
}

func (r *TokenRef) UnmarshalJSON(data []byte) error {
	var arr [2]any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	content, ok := arr[0].(string)
	if !ok {
		return errors.Errorf("token reference %s: first element is not a string", data)
	}
	id, ok := asInt(arr[1])
	if !ok {
		return errors.Errorf("token reference %s: second element is not an id", data)
	}
	r.Content = content
	r.Id = id
	return nil
}

type ProcessorItem struct {
	SpecialToken *ItemRef `json:"SpecialToken,omitempty"`
	Sequence     *ItemRef `json:"Sequence,omitempty"`
}

type ItemRef struct {
	Id     string `json:"id"`
	TypeId int    `json:"type_id"`
}

type SpecialEntry struct {
	Id     string   `json:"id"`
	Ids    []int    `json:"ids"`
	Tokens []string `json:"tokens"`
}

type Decoder struct {
	Type           string    `json:"type"`
	Prefix         string    `json:"prefix,omitempty"`
	Suffix         string    `json:"suffix,omitempty"`
	Cleanup        bool      `json:"cleanup,omitempty"`
	AddPrefixSpace bool      `json:"add_prefix_space,omitempty"`
	TrimOffsets    bool      `json:"trim_offsets,omitempty"`
	UseRegex       bool      `json:"use_regex,omitempty"`
	Replacement    string    `json:"replacement,omitempty"`
	PrependScheme  string    `json:"prepend_scheme,omitempty"`
	Pattern        *Pattern  `json:"pattern,omitempty"`
	Content        string    `json:"content,omitempty"`
	Start          int       `json:"start,omitempty"`
	Stop           int       `json:"stop,omitempty"`
	Decoders       []Decoder `json:"decoders,omitempty"`
}

// Parse decodes a fast tokenizer document.
func Parse(content []byte) (*Tokenizer, error) {
	var doc Tokenizer
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing tokenizer document")
	}
	return &doc, nil
}

// ParseFile decodes the document at path.
func ParseFile(path string) (*Tokenizer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(content)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return doc, nil
}

// Render marshals the document two-space indented with a trailing newline,
// added tokens ordered by id.
func (t *Tokenizer) Render() ([]byte, error) {
	if t.Version == "" {
		t.Version = Version
	}
	sort.SliceStable(t.AddedTokens, func(i, j int) bool {
		return t.AddedTokens[i].Id < t.AddedTokens[j].Id
	})
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Sequence wrappers build the container node around a child chain.

func NormalizerSequence(children ...Normalizer) *Normalizer {
	return &Normalizer{Type: "Sequence", Normalizers: children}
}

func DecoderSequence(children ...Decoder) *Decoder {
	return &Decoder{Type: "Sequence", Decoders: children}
}

func PreTokenizerSequence(children ...PreTokenizer) *PreTokenizer {
	return &PreTokenizer{Type: "Sequence", PreTokenizers: children}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
