package schema

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tokforge/retok/pkg/json"
	"github.com/tokforge/retok/types"
)

// Model is the model section of the document. Vocab holds object-form
// vocabularies; scored-array vocabularies (Unigram) land in UnigramVocab
// with the array index as the id. Exactly one of the two is populated.
type Model struct {
	Type                    string
	Dropout                 *float64
	UnkToken                string
	ContinuingSubwordPrefix string
	EndOfWordSuffix         string
	MaxInputCharsPerWord    int
	UnkId                   *int
	FuseUnk                 bool
	ByteFallback            bool
	IgnoreMerges            bool
	Vocab                   map[string]int
	UnigramVocab            []UnigramEntry
	Merges                  []MergePair
}

// UnigramEntry is one [token, score] pair of a scored vocabulary.
type UnigramEntry struct {
	Token string
	Score float64
}

func (e UnigramEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Token, e.Score})
}

func (e *UnigramEntry) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) < 2 {
		return errors.Errorf("scored vocabulary entry %s: want [token, score]", data)
	}
	token, ok := arr[0].(string)
	if !ok {
		return errors.Errorf("scored vocabulary entry %s: token is not a string", data)
	}
	e.Token = token
	switch score := arr[1].(type) {
	case float64:
		e.Score = score
	case int64:
		e.Score = float64(score)
	default:
		return errors.Errorf("scored vocabulary entry %s: score is not a number", data)
	}
	return nil
}

// MergePair is one merge rule. The wire form is either the legacy
// space-joined string "left right" or the pair array ["left", "right"];
// rendering always emits the pair array.
type MergePair struct {
	Left  string
	Right string
}

func (p MergePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Left, p.Right})
}

func (p *MergePair) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return errors.Errorf("merge entry %s: want two elements", data)
		}
		p.Left, p.Right = pair[0], pair[1]
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return errors.Errorf("merge entry %s: want string or pair", data)
	}
	split := strings.SplitN(joined, " ", 2)
	if len(split) != 2 {
		return errors.Errorf("merge entry %q: want \"left right\"", joined)
	}
	p.Left, p.Right = split[0], split[1]
	return nil
}

// String renders the legacy space-joined form.
func (p MergePair) String() string {
	return p.Left + " " + p.Right
}

type modelWire struct {
	Type                    string          `json:"type"`
	Dropout                 *float64        `json:"dropout,omitempty"`
	UnkToken                string          `json:"unk_token,omitempty"`
	ContinuingSubwordPrefix string          `json:"continuing_subword_prefix,omitempty"`
	EndOfWordSuffix         string          `json:"end_of_word_suffix,omitempty"`
	MaxInputCharsPerWord    int             `json:"max_input_chars_per_word,omitempty"`
	UnkId                   *int            `json:"unk_id,omitempty"`
	FuseUnk                 bool            `json:"fuse_unk,omitempty"`
	ByteFallback            bool            `json:"byte_fallback,omitempty"`
	IgnoreMerges            bool            `json:"ignore_merges,omitempty"`
	Vocab                   json.RawMessage `json:"vocab,omitempty"`
	Merges                  []MergePair     `json:"merges,omitempty"`
}

func (m Model) MarshalJSON() ([]byte, error) {
	wire := modelWire{
		Type:                    m.Type,
		Dropout:                 m.Dropout,
		UnkToken:                m.UnkToken,
		ContinuingSubwordPrefix: m.ContinuingSubwordPrefix,
		EndOfWordSuffix:         m.EndOfWordSuffix,
		MaxInputCharsPerWord:    m.MaxInputCharsPerWord,
		UnkId:                   m.UnkId,
		FuseUnk:                 m.FuseUnk,
		ByteFallback:            m.ByteFallback,
		IgnoreMerges:            m.IgnoreMerges,
		Merges:                  m.Merges,
	}
	var err error
	if m.UnigramVocab != nil {
		wire.Vocab, err = json.Marshal(m.UnigramVocab)
	} else if m.Vocab != nil {
		wire.Vocab, err = json.Marshal(m.Vocab)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

func (m *Model) UnmarshalJSON(data []byte) error {
	var wire modelWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = Model{
		Type:                    wire.Type,
		Dropout:                 wire.Dropout,
		UnkToken:                wire.UnkToken,
		ContinuingSubwordPrefix: wire.ContinuingSubwordPrefix,
		EndOfWordSuffix:         wire.EndOfWordSuffix,
		MaxInputCharsPerWord:    wire.MaxInputCharsPerWord,
		UnkId:                   wire.UnkId,
		FuseUnk:                 wire.FuseUnk,
		ByteFallback:            wire.ByteFallback,
		IgnoreMerges:            wire.IgnoreMerges,
		Merges:                  wire.Merges,
	}
	if len(wire.Vocab) == 0 {
		return nil
	}
	var asMap map[string]int
	if err := json.Unmarshal(wire.Vocab, &asMap); err == nil {
		m.Vocab = asMap
		return nil
	}
	var asArray []UnigramEntry
	if err := json.Unmarshal(wire.Vocab, &asArray); err == nil {
		m.UnigramVocab = asArray
		return nil
	}
	return errors.New("model vocabulary is neither an object nor a scored array")
}

// TokenMap flattens either vocabulary form into surface-to-id.
func (m *Model) TokenMap() types.TokenMap {
	if m.UnigramVocab != nil {
		vocab := make(types.TokenMap, len(m.UnigramVocab))
		for idx, entry := range m.UnigramVocab {
			vocab[entry.Token] = types.Token(idx)
		}
		return vocab
	}
	vocab := make(types.TokenMap, len(m.Vocab))
	for token, id := range m.Vocab {
		vocab[token] = types.Token(id)
	}
	return vocab
}

func (m *Model) VocabSize() int {
	if m.UnigramVocab != nil {
		return len(m.UnigramVocab)
	}
	return len(m.Vocab)
}

// MergeStrings renders the merges in legacy space-joined form, in rank order.
func (m *Model) MergeStrings() []string {
	out := make([]string, len(m.Merges))
	for idx, pair := range m.Merges {
		out[idx] = pair.String()
	}
	return out
}
