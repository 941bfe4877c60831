package retok

import (
	"bufio"
	"bytes"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/tokforge/retok/pkg/json"
	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
)

const (
	FormatFast          = "fast"
	FormatLegacyBPE     = "bpe"
	FormatWordPiece     = "wordpiece"
	FormatSentencePiece = "sentencepiece"
)

// Handler recognizes one tokenizer artifact format and assembles the fast
// document for it.
type Handler interface {
	// Name is the short format identifier.
	Name() string
	// Classes lists the tokenizer_class values this format serves, with
	// the Fast suffix stripped.
	Classes() []string
	// Detect reports whether the artifact set carries this format.
	Detect(rsrcs resources.Resources) bool
	// Load assembles the document from the artifact set.
	Load(res *resources.Resolution, meta *resources.Metadata) (*schema.Tokenizer, error)
}

var formatRegistry = make([]Handler, 0, 4)

// RegisterFormat adds a handler to the dispatch table. Registration order
// is detection precedence.
func RegisterFormat(handler Handler) {
	formatRegistry = append(formatRegistry, handler)
}

func init() {
	RegisterFormat(&fastFormat{})
	RegisterFormat(&legacyBpeFormat{})
	RegisterFormat(&wordPieceFormat{})
	RegisterFormat(&sentencePieceFormat{})
}

// detectFormat picks the handler for an artifact set. A fast document
// always wins; among legacy formats the config's tokenizer_class breaks
// ties, then registration order.
func detectFormat(rsrcs resources.Resources, meta *resources.Metadata) (Handler, error) {
	detected := make([]Handler, 0, len(formatRegistry))
	for _, handler := range formatRegistry {
		if handler.Detect(rsrcs) {
			detected = append(detected, handler)
		}
	}
	if len(detected) == 0 {
		return nil, errors.Wrapf(resources.ErrUnrecognized,
			"artifacts %v", rsrcs.Names())
	}
	for _, handler := range detected {
		if handler.Name() == FormatFast {
			return handler, nil
		}
	}
	if meta != nil && meta.TokenizerClass != "" {
		class := strings.TrimSuffix(meta.TokenizerClass, "Fast")
		for _, handler := range detected {
			for _, supported := range handler.Classes() {
				if supported == class {
					return handler, nil
				}
			}
		}
	}
	return detected[0], nil
}

// fastFormat serves artifact sets that already carry the single-file
// document.
type fastFormat struct{}

func (f *fastFormat) Name() string {
	return FormatFast
}

func (f *fastFormat) Classes() []string {
	return []string{"PreTrainedTokenizer"}
}

func (f *fastFormat) Detect(rsrcs resources.Resources) bool {
	return rsrcs.Has(resources.TokenizerFile)
}

func (f *fastFormat) Load(res *resources.Resolution,
	meta *resources.Metadata) (*schema.Tokenizer, error) {
	return schema.Parse(res.Resources.Get(resources.TokenizerFile))
}

// legacyBpeFormat serves split vocab.json plus merges.txt artifact sets.
type legacyBpeFormat struct{}

func (f *legacyBpeFormat) Name() string {
	return FormatLegacyBPE
}

func (f *legacyBpeFormat) Classes() []string {
	return []string{
		"GPT2Tokenizer", "RobertaTokenizer", "BartTokenizer",
		"CLIPTokenizer", "CodeGenTokenizer", "GPTNeoXTokenizer",
	}
}

func (f *legacyBpeFormat) Detect(rsrcs resources.Resources) bool {
	return rsrcs.Has(resources.VocabJsonFile) &&
		rsrcs.Has(resources.MergesFile)
}

func (f *legacyBpeFormat) Load(res *resources.Resolution,
	meta *resources.Metadata) (*schema.Tokenizer, error) {
	var vocab map[string]int
	if err := json.Unmarshal(res.Resources.Get(resources.VocabJsonFile), &vocab); err != nil {
		return nil, errors.Wrapf(err, "%s", resources.VocabJsonFile)
	}
	merges, err := parseMergesFile(res.Resources.Get(resources.MergesFile))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", resources.MergesFile)
	}

	// Word-bounded vocabularies mark word ends with a suffix; their split
	// convention lowercases and strips rather than keeping prefix spaces.
	endOfWord := ""
	for surface := range vocab {
		if strings.HasSuffix(surface, "</w>") {
			endOfWord = "</w>"
			break
		}
	}

	doc := &schema.Tokenizer{
		Version: schema.Version,
		Model: schema.Model{
			Type:            "BPE",
			Vocab:           vocab,
			Merges:          merges,
			EndOfWordSuffix: endOfWord,
		},
		PreTokenizer: &schema.PreTokenizer{
			Type:           "ByteLevel",
			AddPrefixSpace: false,
			TrimOffsets:    true,
			UseRegex:       true,
		},
		Decoder: &schema.Decoder{
			Type:        "ByteLevel",
			TrimOffsets: true,
			UseRegex:    true,
		},
		PostProcessor: &schema.PostProcessor{
			Type:        "ByteLevel",
			TrimOffsets: true,
		},
	}
	if endOfWord != "" {
		doc.Normalizer = schema.NormalizerSequence(
			schema.Normalizer{Type: "NFC"},
			schema.Normalizer{Type: "Lowercase"},
		)
	}
	if meta.UnkToken != "" {
		doc.Model.UnkToken = meta.UnkToken
	}
	doc.AddedTokens = assembleAddedTokens(meta, res.Resources,
		func(surface string) (int, bool) {
			id, ok := vocab[surface]
			return id, ok
		})
	return doc, nil
}

// parseMergesFile reads a merge rule per line, skipping the version header.
func parseMergesFile(data []byte) ([]schema.MergePair, error) {
	merges := make([]schema.MergePair, 0, 4096)
	scanner := bufio.NewScanner(bytes.NewBuffer(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "#") {
				continue
			}
		}
		if line == "" {
			continue
		}
		leftRight := strings.SplitN(line, " ", 2)
		if len(leftRight) != 2 {
			return nil, errors.Errorf("merge rule %q: want \"left right\"", line)
		}
		merges = append(merges, schema.MergePair{
			Left:  leftRight[0],
			Right: leftRight[1],
		})
	}
	return merges, scanner.Err()
}

// assembleAddedTokens builds the document's added token list from the
// config's added_tokens_decoder, the standalone added_tokens.json, and the
// named control tokens, earlier sources winning on duplicate surfaces.
func assembleAddedTokens(meta *resources.Metadata, rsrcs resources.Resources,
	find func(string) (int, bool)) []schema.AddedToken {
	out := make([]schema.AddedToken, 0, 8)
	seen := make(map[string]bool)

	for _, def := range meta.AddedTokens {
		out = append(out, schema.AddedToken{
			Id:         int(def.Id),
			Content:    def.Content,
			SingleWord: def.SingleWord,
			Lstrip:     def.Lstrip,
			Rstrip:     def.Rstrip,
			Normalized: def.Normalized,
			Special:    def.Special,
		})
		seen[def.Content] = true
	}

	if data := rsrcs.Get(resources.AddedTokensFile); data != nil {
		var added map[string]int
		if err := json.Unmarshal(data, &added); err == nil {
			for content, id := range added {
				if seen[content] {
					continue
				}
				seen[content] = true
				out = append(out, schema.AddedToken{
					Id:      id,
					Content: content,
				})
			}
		}
	}

	for _, name := range []string{
		meta.BosToken, meta.EosToken, meta.PadToken, meta.UnkToken,
		meta.SepToken, meta.ClsToken, meta.MaskToken,
	} {
		if name == "" || seen[name] {
			continue
		}
		if id, ok := find(name); ok {
			seen[name] = true
			out = append(out, schema.AddedToken{
				Id:      id,
				Content: name,
				Special: true,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Id < out[j].Id
	})
	return out
}
