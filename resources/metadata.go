package resources

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tokforge/retok/pkg/json"
	"github.com/tokforge/retok/types"
)

// Metadata is the tokenizer-level configuration merged from the artifact
// config chain. String fields are empty and pointer fields nil when no
// artifact stated a value.
type Metadata struct {
	ModelId        string
	ModelType      string
	TokenizerClass string
	VocabSize      uint32

	BosToken  string
	EosToken  string
	PadToken  string
	UnkToken  string
	SepToken  string
	ClsToken  string
	MaskToken string

	BosTokenId *types.Token
	EosTokenId *types.Token
	PadTokenId *types.Token
	UnkTokenId *types.Token

	AddBosToken *bool
	AddEosToken *bool
	DoLowerCase *bool

	AddedTokens []AddedTokenDef
}

// AddedTokenDef is one entry of the added_tokens_decoder section of the
// tokenizer config.
type AddedTokenDef struct {
	Id         types.Token
	Content    string
	SingleWord bool
	Lstrip     bool
	Rstrip     bool
	Normalized bool
	Special    bool
}

// ResolveMetadata merges the config chain. Later artifacts in the priority
// order override earlier ones: special_tokens_map.json, then
// tokenizer_config.json, then config.json, then generation_config.json.
func ResolveMetadata(modelId string, rsrcs Resources) (*Metadata, error) {
	meta := &Metadata{ModelId: modelId}

	if data := rsrcs.Get(SpecialTokensMapFile); data != nil {
		if err := meta.applySpecialTokensMap(data); err != nil {
			return nil, errors.Wrapf(err, "%s", SpecialTokensMapFile)
		}
	}
	if data := rsrcs.Get(TokenizerConfigFile); data != nil {
		if err := meta.applyTokenizerConfig(data); err != nil {
			return nil, errors.Wrapf(err, "%s", TokenizerConfigFile)
		}
	}
	if data := rsrcs.Get(ModelConfigFile); data != nil {
		if err := meta.applyModelConfig(data); err != nil {
			return nil, errors.Wrapf(err, "%s", ModelConfigFile)
		}
	}
	if data := rsrcs.Get(GenerationConfigFile); data != nil {
		if err := meta.applyGenerationConfig(data); err != nil {
			return nil, errors.Wrapf(err, "%s", GenerationConfigFile)
		}
	}
	return meta, nil
}

func (m *Metadata) applySpecialTokensMap(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.applyTokenStrings(doc)
	return nil
}

func (m *Metadata) applyTokenizerConfig(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if class, ok := doc["tokenizer_class"].(string); ok {
		m.TokenizerClass = class
	}
	if add, ok := doc["add_bos_token"].(bool); ok {
		m.AddBosToken = &add
	}
	if add, ok := doc["add_eos_token"].(bool); ok {
		m.AddEosToken = &add
	}
	if lower, ok := doc["do_lower_case"].(bool); ok {
		m.DoLowerCase = &lower
	}
	if decoder, ok := doc["added_tokens_decoder"].(map[string]any); ok {
		m.applyAddedTokensDecoder(decoder)
	}
	m.applyTokenStrings(doc)
	return nil
}

func (m *Metadata) applyAddedTokensDecoder(decoder map[string]any) {
	for key, raw := range decoder {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, ok := tokenId(key)
		if !ok {
			continue
		}
		content, ok := def["content"].(string)
		if !ok {
			continue
		}
		added := AddedTokenDef{Id: id, Content: content}
		added.SingleWord, _ = def["single_word"].(bool)
		added.Lstrip, _ = def["lstrip"].(bool)
		added.Rstrip, _ = def["rstrip"].(bool)
		added.Normalized, _ = def["normalized"].(bool)
		added.Special, _ = def["special"].(bool)
		m.AddedTokens = append(m.AddedTokens, added)
	}
	sort.Slice(m.AddedTokens, func(i, j int) bool {
		return m.AddedTokens[i].Id < m.AddedTokens[j].Id
	})
}

func (m *Metadata) applyModelConfig(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if modelType, ok := doc["model_type"].(string); ok {
		m.ModelType = modelType
	}
	if size, ok := asUint32(doc["vocab_size"]); ok {
		m.VocabSize = size
	}
	m.applyTokenIds(doc)
	return nil
}

func (m *Metadata) applyGenerationConfig(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.applyTokenIds(doc)
	return nil
}

func (m *Metadata) applyTokenStrings(doc map[string]any) {
	assign := func(key string, dst *string) {
		if content, ok := tokenContent(doc[key]); ok {
			*dst = content
		}
	}
	assign("bos_token", &m.BosToken)
	assign("eos_token", &m.EosToken)
	assign("pad_token", &m.PadToken)
	assign("unk_token", &m.UnkToken)
	assign("sep_token", &m.SepToken)
	assign("cls_token", &m.ClsToken)
	assign("mask_token", &m.MaskToken)
}

func (m *Metadata) applyTokenIds(doc map[string]any) {
	assign := func(key string, dst **types.Token) {
		if id, ok := tokenId(doc[key]); ok {
			*dst = &id
		}
	}
	assign("bos_token_id", &m.BosTokenId)
	assign("eos_token_id", &m.EosTokenId)
	assign("pad_token_id", &m.PadTokenId)
	assign("unk_token_id", &m.UnkTokenId)
}

// tokenContent accepts the two shapes special token values take: a bare
// string, or an object carrying a "content" field.
func tokenContent(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		content, ok := t["content"].(string)
		return content, ok
	}
	return "", false
}

// tokenId accepts a bare id, a decimal string, or an id list, in which case
// the first entry wins.
func tokenId(v any) (types.Token, bool) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return 0, false
		}
		return tokenId(t[0])
	case string:
		id, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return 0, false
		}
		return types.Token(id), true
	default:
		if id, ok := asUint32(v); ok {
			return types.Token(id), true
		}
	}
	return 0, false
}

func asUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, false
}
