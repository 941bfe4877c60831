package retok

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
	"github.com/tokforge/retok/types"
)

// wordPieceFormat serves vocab.txt artifact sets.
type wordPieceFormat struct{}

func (f *wordPieceFormat) Name() string {
	return FormatWordPiece
}

func (f *wordPieceFormat) Classes() []string {
	return []string{
		"BertTokenizer", "DistilBertTokenizer", "ElectraTokenizer",
		"MobileBertTokenizer", "SqueezeBertTokenizer",
	}
}

func (f *wordPieceFormat) Detect(rsrcs resources.Resources) bool {
	return rsrcs.Has(resources.WordPieceVocabFile)
}

func (f *wordPieceFormat) Load(res *resources.Resolution,
	meta *resources.Metadata) (*schema.Tokenizer, error) {
	vocab, err := parseWordPieceVocab(res.Resources.Get(resources.WordPieceVocabFile))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", resources.WordPieceVocabFile)
	}

	unk := "[UNK]"
	if meta.UnkToken != "" {
		unk = meta.UnkToken
	}
	lowercase := true
	if meta.DoLowerCase != nil {
		lowercase = *meta.DoLowerCase
	}

	doc := &schema.Tokenizer{
		Version: schema.Version,
		Model: schema.Model{
			Type:                    "WordPiece",
			Vocab:                   vocab,
			UnkToken:                unk,
			ContinuingSubwordPrefix: "##",
			MaxInputCharsPerWord:    100,
		},
		Normalizer: &schema.Normalizer{
			Type:               "BertNormalizer",
			CleanText:          true,
			HandleChineseChars: true,
			Lowercase:          lowercase,
		},
		PreTokenizer: &schema.PreTokenizer{Type: "BertPreTokenizer"},
		Decoder: &schema.Decoder{
			Type:    "WordPiece",
			Prefix:  "##",
			Cleanup: true,
		},
	}

	sep := meta.SepToken
	if sep == "" {
		sep = "[SEP]"
	}
	cls := meta.ClsToken
	if cls == "" {
		cls = "[CLS]"
	}
	sepId, haveSep := vocab[sep]
	clsId, haveCls := vocab[cls]
	if haveSep && haveCls {
		doc.PostProcessor = &schema.PostProcessor{
			Type: "BertProcessing",
			Sep:  &schema.TokenRef{Content: sep, Id: sepId},
			Cls:  &schema.TokenRef{Content: cls, Id: clsId},
		}
	}

	doc.AddedTokens = assembleAddedTokens(meta, res.Resources,
		func(surface string) (int, bool) {
			id, ok := vocab[surface]
			return id, ok
		})
	return doc, nil
}

// parseWordPieceVocab reads a line-per-surface vocabulary; the line number
// is the id.
func parseWordPieceVocab(data []byte) (map[string]int, error) {
	vocab := make(map[string]int, 32768)
	scanner := bufio.NewScanner(bytes.NewBuffer(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	id := 0
	for scanner.Scan() {
		surface := strings.TrimRight(scanner.Text(), "\r")
		if surface == "" && id == 0 {
			return nil, errors.New("empty first vocabulary line")
		}
		vocab[surface] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, errors.New("empty vocabulary")
	}
	// A trailing newline scans as a final empty surface; drop it.
	if storedId, ok := vocab[""]; ok && storedId == id-1 {
		delete(vocab, "")
	}
	return vocab, nil
}

// wordPieceCodec pairs the wordpiece matcher with this package's own
// normalization and decoding, so control of both directions stays local.
type wordPieceCodec struct {
	tk       *tokenizer.Tokenizer
	vocab    types.TokenMap
	ids      types.IdMap
	specials map[string]bool
	prefix   string

	addSpecials  bool
	lowerCase    bool
	stripAccents bool
	cleanText    bool
	cjkSpacing   bool

	logger zerolog.Logger
}

func newWordPieceCodec(doc *schema.Tokenizer, meta *resources.Metadata,
	logger zerolog.Logger) (*wordPieceCodec, error) {
	if doc.Model.Vocab == nil {
		return nil, errors.New("wordpiece document carries no vocabulary")
	}

	unk := doc.Model.UnkToken
	if unk == "" {
		unk = "[UNK]"
	}
	prefix := doc.Model.ContinuingSubwordPrefix
	if prefix == "" {
		prefix = "##"
	}

	// The matcher loads from a line-per-surface file; materialize one from
	// the document and discard it once loaded.
	surfaces, holes, err := orderedSurfaces(doc.Model.Vocab)
	if err != nil {
		return nil, err
	}
	if holes > 0 {
		logger.Debug().Int("holes", holes).
			Msg("wordpiece vocabulary has unassigned ids, padding")
	}
	tmpPath := filepath.Join(os.TempDir(),
		fmt.Sprintf("retok-vocab-%s.txt", uuid.NewString()))
	content := strings.Join(surfaces, "\n") + "\n"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return nil, errors.Wrap(err, "materializing vocabulary")
	}
	defer os.Remove(tmpPath)

	model, err := wordpiece.NewWordPieceFromFile(tmpPath, unk)
	if err != nil {
		return nil, errors.Wrap(err, "loading wordpiece vocabulary")
	}
	tk := tokenizer.NewTokenizer(model)
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	codec := &wordPieceCodec{
		tk:       tk,
		vocab:    make(types.TokenMap, len(doc.Model.Vocab)),
		ids:      make(types.IdMap, len(doc.Model.Vocab)),
		specials: make(map[string]bool),
		prefix:   prefix,
		logger:   logger,
	}
	for surface, id := range doc.Model.Vocab {
		codec.vocab[surface] = types.Token(id)
		codec.ids[types.Token(id)] = surface
	}
	for idx := range doc.AddedTokens {
		added := doc.AddedTokens[idx]
		if added.Special {
			codec.specials[added.Content] = true
		}
	}
	codec.specials[unk] = true

	if docNorm := doc.Normalizer; docNorm != nil {
		codec.lowerCase = docNorm.Lowercase
		codec.cleanText = docNorm.CleanText
		codec.cjkSpacing = docNorm.HandleChineseChars
		if docNorm.StripAccents != nil {
			codec.stripAccents = *docNorm.StripAccents
		} else {
			codec.stripAccents = docNorm.Lowercase
		}
	}

	if post := doc.PostProcessor; post != nil && post.Sep != nil && post.Cls != nil {
		tk.WithPostProcessor(processor.NewBertProcessing(
			processor.PostToken{Value: post.Sep.Content, Id: post.Sep.Id},
			processor.PostToken{Value: post.Cls.Content, Id: post.Cls.Id},
		))
		codec.addSpecials = true
		codec.specials[post.Sep.Content] = true
		codec.specials[post.Cls.Content] = true
	}
	return codec, nil
}

// orderedSurfaces inverts an id map into a dense id-ordered list. Holes in
// the id space get placeholder surfaces so line numbers stay aligned.
func orderedSurfaces(vocab map[string]int) ([]string, int, error) {
	max := -1
	for _, id := range vocab {
		if id < 0 {
			return nil, 0, errors.Errorf("negative token id %d", id)
		}
		if id > max {
			max = id
		}
	}
	surfaces := make([]string, max+1)
	filled := make([]bool, max+1)
	for surface, id := range vocab {
		surfaces[id] = surface
		filled[id] = true
	}
	holes := 0
	for idx := range surfaces {
		if !filled[idx] {
			surfaces[idx] = fmt.Sprintf("[unused_slot_%d]", idx)
			holes++
		}
	}
	return surfaces, holes, nil
}

var accentStripper = transform.Chain(
	norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize applies the bert normalization steps ahead of the matcher:
// control character cleanup, CJK spacing, lowercasing, accent stripping.
func (codec *wordPieceCodec) normalize(text string) string {
	if codec.cleanText {
		var sb strings.Builder
		sb.Grow(len(text))
		for _, r := range text {
			if r == 0 || r == 0xFFFD || (unicode.IsControl(r) &&
				r != '\t' && r != '\n' && r != '\r') {
				continue
			}
			if unicode.IsSpace(r) {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(r)
			}
		}
		text = sb.String()
	}
	if codec.cjkSpacing {
		var sb strings.Builder
		sb.Grow(len(text) + len(text)/2)
		for _, r := range text {
			if unicode.Is(unicode.Han, r) {
				sb.WriteByte(' ')
				sb.WriteRune(r)
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(r)
			}
		}
		text = sb.String()
	}
	if codec.lowerCase {
		text = strings.ToLower(text)
	}
	if codec.stripAccents {
		if stripped, _, err := transform.String(accentStripper, text); err == nil {
			text = stripped
		}
	}
	return text
}

func (codec *wordPieceCodec) Encode(text string) (types.Tokens, error) {
	input := tokenizer.NewSingleEncodeInput(
		tokenizer.NewInputSequence(codec.normalize(text)))
	encoding, err := codec.tk.Encode(input, codec.addSpecials)
	if err != nil {
		return nil, errors.Wrap(err, "wordpiece encode")
	}
	ids := encoding.GetIds()
	tokens := make(types.Tokens, len(ids))
	for idx := range ids {
		tokens[idx] = types.Token(ids[idx])
	}
	return tokens, nil
}

// Decode joins surfaces, attaching continuation pieces to the word they
// extend and dropping control tokens.
func (codec *wordPieceCodec) Decode(tokens types.Tokens) (string, error) {
	var sb strings.Builder
	wrote := false
	for _, token := range tokens {
		surface, ok := codec.ids[token]
		if !ok || codec.specials[surface] {
			continue
		}
		if strings.HasPrefix(surface, codec.prefix) {
			sb.WriteString(surface[len(codec.prefix):])
		} else {
			if wrote {
				sb.WriteByte(' ')
			}
			sb.WriteString(surface)
		}
		wrote = true
	}
	return sb.String(), nil
}
