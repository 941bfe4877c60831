package retok

import (
	"encoding/hex"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
	"github.com/tokforge/retok/types"
)

const BPE_LRU_SZ = 65536
const RUNEBUF_SZ = 16384
const WORDCHAN_SZ = 4096

// SPLIT_REGEX is the default word split pattern. The original upstream
// pattern uses a lookahead for trailing whitespace; RE2 has no lookaheads,
// so `\s+(\S){0}` stands in for `\s+(?!\S)`.
const SPLIT_REGEX = "'s|'t|'re|'ve|'m|'ll|'d| ?\\p{L" +
	"}+| ?\\p{N}+| ?[^\\s\\p{L" +
	"}\\p{N}]+|\\s+(\\S){0}|\\s+"

// BpeCodec performs bigram merge encoding over a vocabulary loaded from a
// tokenizer document. It serves plain merge-table vocabularies, byte-level
// ones, and converted sentencepiece vocabularies with byte fallback.
type BpeCodec struct {
	Vocab       types.TokenMap
	Decoder     map[types.Token][]byte
	Ranks       map[bpePair]float64
	Merges      map[tokenPair]types.Token
	ByteTokens  map[byte]types.Token
	Specials    map[string]types.Token
	BosToken    *types.Token
	EosToken    *types.Token
	UnkToken    *types.Token
	specialsArr []string
	specials    *matchTree
	pattern     *regexp.Regexp
	cache       *lru.ARCCache
	byteToRune  [256]rune
	runeToByte  map[rune]byte

	byteLevel    bool
	spaceAsMeta  bool
	prependSpace bool
	addBos       bool
	addEos       bool
	prefixSpace  bool
	lowerCase    bool
	endOfWord    string

	runeBufSz  int
	wordChanSz int
	logger     zerolog.Logger

	LruHits         int
	LruMisses       int
	SplitterThreads int
}

type bpePair struct {
	left  string
	right string
}

type tokenPair struct {
	left  types.Token
	right types.Token
}

type bgeRank struct {
	rank   float64
	bigram bpePair
}

type bgeRanks []bgeRank

func (bs bgeRanks) Len() int {
	return len(bs)
}

func (bs bgeRanks) Swap(i, j int) {
	bs[i], bs[j] = bs[j], bs[i]
}

func (bs bgeRanks) Less(i, j int) bool {
	return bs[i].rank < bs[j].rank
}

// metaSpaceReplacer rewrites the sentencepiece meta symbol back to a plain
// space so the engine works on surfaces as they appear in text.
var metaSpaceReplacer = strings.NewReplacer("▁", " ")

// docTraits is what a walk over the document's normalizer and pre-tokenizer
// sections establishes about how input text reaches the model.
type docTraits struct {
	byteLevel    bool
	spaceAsMeta  bool
	prependSpace bool
	lowerCase    bool
	splitRegex   string
}

func traitsOf(doc *schema.Tokenizer) docTraits {
	var traits docTraits
	var walkNorm func(n *schema.Normalizer)
	walkNorm = func(n *schema.Normalizer) {
		if n == nil {
			return
		}
		switch n.Type {
		case "Lowercase":
			traits.lowerCase = true
		case "BertNormalizer":
			traits.lowerCase = traits.lowerCase || n.Lowercase
		case "Prepend":
			if n.Prepend == "▁" || n.Prepend == " " {
				traits.spaceAsMeta = n.Prepend == "▁" || traits.spaceAsMeta
				traits.prependSpace = true
			}
		case "Replace":
			if n.Content == "▁" {
				traits.spaceAsMeta = true
			}
		}
		for i := range n.Normalizers {
			walkNorm(&n.Normalizers[i])
		}
	}
	walkNorm(doc.Normalizer)

	var walkPre func(p *schema.PreTokenizer)
	walkPre = func(p *schema.PreTokenizer) {
		if p == nil {
			return
		}
		switch p.Type {
		case "ByteLevel":
			traits.byteLevel = true
		case "Metaspace":
			traits.spaceAsMeta = true
			if p.PrependScheme == "always" || p.PrependScheme == "first" ||
				(p.PrependScheme == "" && p.AddPrefixSpace) {
				traits.prependSpace = true
			}
		case "Split":
			if p.Pattern != nil && p.Pattern.Regex != "" && traits.splitRegex == "" {
				traits.splitRegex = p.Pattern.Regex
			}
		}
		for i := range p.PreTokenizers {
			walkPre(&p.PreTokenizers[i])
		}
	}
	walkPre(doc.PreTokenizer)
	return traits
}

// decodeSurface maps a stored vocabulary surface to the bytes it produces in
// output text. Sentencepiece-flavored vocabularies store the meta symbol for
// spaces and `<0xNN>` markers for raw bytes.
func decodeSurface(surface string, spaceAsMeta bool) (decoded []byte, isByte bool, b byte) {
	if spaceAsMeta {
		if len(surface) == 6 && strings.HasPrefix(surface, "<0x") && surface[5] == '>' {
			if raw, err := hex.DecodeString(surface[3:5]); err == nil {
				return raw, true, raw[0]
			}
		}
		return []byte(metaSpaceReplacer.Replace(surface)), false, 0
	}
	return []byte(surface), false, 0
}

// newBpeCodec builds the merge engine from a tokenizer document. Metadata
// supplies control token identities and the bos/eos enclosure switches the
// document itself does not carry.
func newBpeCodec(doc *schema.Tokenizer, meta *resources.Metadata,
	logger zerolog.Logger) (*BpeCodec, error) {
	traits := traitsOf(doc)

	codec := &BpeCodec{
		Decoder:         make(map[types.Token][]byte),
		Ranks:           make(map[bpePair]float64),
		Merges:          make(map[tokenPair]types.Token),
		Specials:        make(map[string]types.Token),
		runeToByte:      make(map[rune]byte),
		byteLevel:       traits.byteLevel,
		spaceAsMeta:     traits.spaceAsMeta,
		prependSpace:    traits.prependSpace,
		lowerCase:       traits.lowerCase,
		prefixSpace:     doc.Model.EndOfWordSuffix == "",
		endOfWord:       doc.Model.EndOfWordSuffix,
		runeBufSz:       RUNEBUF_SZ,
		wordChanSz:      WORDCHAN_SZ,
		SplitterThreads: 4,
		logger:          logger,
	}

	// Byte to unicode tables, used when the vocabulary lives in the
	// byte-level remapped alphabet. Printable latin stays itself; the
	// remaining byte values are shifted past the end of the latin-1 range.
	bytesUnicodeMap := make(map[byte]rune)
	for b := uint8('!'); b < uint8('~')+1; b++ {
		bytesUnicodeMap[b] = rune(b)
		codec.runeToByte[rune(b)] = b
	}
	for b := uint8('¡'); b < uint8('¬')+1; b++ {
		bytesUnicodeMap[b] = rune(b)
		codec.runeToByte[rune(b)] = b
	}
	for b := uint16('®'); b < uint16('ÿ')+1; b++ {
		bytesUnicodeMap[byte(b)] = rune(b)
		codec.runeToByte[rune(b)] = byte(b)
	}
	uct := 0
	for b := 0; b < 256; b++ {
		if _, ok := bytesUnicodeMap[uint8(b)]; !ok {
			bytesUnicodeMap[uint8(b)] = rune(256 + uct)
			codec.runeToByte[rune(256+uct)] = uint8(b)
			uct += 1
		}
		codec.byteToRune[b] = bytesUnicodeMap[uint8(b)]
	}

	// Load the vocabulary, decoding stored surfaces into the form the
	// splitter produces. Scored vocabularies use the entry index as the id.
	wantBytes := doc.Model.ByteFallback
	if doc.Model.Vocab != nil {
		codec.Vocab = make(types.TokenMap, len(doc.Model.Vocab))
		for surface, id := range doc.Model.Vocab {
			codec.addPiece(surface, types.Token(id), wantBytes)
		}
	} else if doc.Model.UnigramVocab != nil {
		codec.Vocab = make(types.TokenMap, len(doc.Model.UnigramVocab))
		for idx := range doc.Model.UnigramVocab {
			codec.addPiece(doc.Model.UnigramVocab[idx].Token,
				types.Token(idx), wantBytes)
		}
	} else {
		return nil, errors.New("tokenizer document carries no vocabulary")
	}

	// Merge table. When the model declares none (converted scored
	// vocabularies), recover a usable table from the vocabulary itself:
	// every split of a longer piece into two known pieces merges with the
	// longer piece's id as its rank.
	if len(doc.Model.Merges) > 0 {
		for idx := range doc.Model.Merges {
			left, _, _ := decodeSurface(doc.Model.Merges[idx].Left, codec.spaceAsMeta)
			right, _, _ := decodeSurface(doc.Model.Merges[idx].Right, codec.spaceAsMeta)
			codec.addMerge(string(left), string(right), float64(idx))
		}
	} else {
		codec.recoverMerges()
	}

	// Added tokens extend the vocabulary and match ahead of the splitter.
	for idx := range doc.AddedTokens {
		added := doc.AddedTokens[idx]
		id := types.Token(added.Id)
		if _, ok := codec.Vocab[added.Content]; !ok {
			codec.Vocab[added.Content] = id
			codec.Decoder[id] = []byte(added.Content)
		}
		if added.Special {
			codec.addSpecial(added.Content, id)
		}
	}

	// Control tokens named by the config chain participate as specials even
	// when the document's added token list omits them.
	if meta != nil {
		for _, name := range []string{
			meta.BosToken, meta.EosToken, meta.PadToken, meta.UnkToken,
			meta.SepToken, meta.ClsToken, meta.MaskToken,
		} {
			if name == "" {
				continue
			}
			if id, ok := codec.Vocab[name]; ok {
				codec.addSpecial(name, id)
			}
		}
		codec.BosToken = lookupControl(meta.BosToken, meta.BosTokenId, codec.Vocab)
		codec.EosToken = lookupControl(meta.EosToken, meta.EosTokenId, codec.Vocab)
		codec.UnkToken = lookupControl(meta.UnkToken, meta.UnkTokenId, codec.Vocab)
		if meta.AddBosToken != nil {
			codec.addBos = *meta.AddBosToken && codec.BosToken != nil
		}
		if meta.AddEosToken != nil {
			codec.addEos = *meta.AddEosToken && codec.EosToken != nil
		}
		if meta.DoLowerCase != nil {
			codec.lowerCase = *meta.DoLowerCase
		}
	}
	if codec.UnkToken == nil && doc.Model.UnkToken != "" {
		if id, ok := codec.Vocab[doc.Model.UnkToken]; ok {
			unk := id
			codec.UnkToken = &unk
		}
	}
	if codec.UnkToken == nil && doc.Model.UnkId != nil &&
		len(doc.Model.UnigramVocab) > *doc.Model.UnkId {
		unk := types.Token(*doc.Model.UnkId)
		codec.UnkToken = &unk
	}

	// Word split pattern. Documents may carry their own; anything RE2
	// cannot compile falls back to the default with a warning.
	pattern := SPLIT_REGEX
	if traits.splitRegex != "" {
		pattern = traits.splitRegex
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		if pattern == SPLIT_REGEX {
			return nil, errors.Wrap(err, "compiling split pattern")
		}
		logger.Warn().Err(err).Str("pattern", pattern).
			Msg("document split pattern is not RE2 compatible, using default")
		compiled, err = regexp.Compile(SPLIT_REGEX)
		if err != nil {
			return nil, errors.Wrap(err, "compiling split pattern")
		}
	}
	codec.pattern = compiled

	codec.cache, _ = lru.NewARC(BPE_LRU_SZ)
	codec.specials = newMatchTree(codec.specialsArr)
	return codec, nil
}

func lookupControl(name string, id *types.Token, vocab types.TokenMap) *types.Token {
	if id != nil {
		out := *id
		return &out
	}
	if name == "" {
		return nil
	}
	if found, ok := vocab[name]; ok {
		out := found
		return &out
	}
	return nil
}

// addPiece registers one vocabulary entry, routing byte marker pieces into
// the byte fallback table. A byte marker never displaces a text piece that
// already owns the same decoded surface.
func (codec *BpeCodec) addPiece(surface string, id types.Token, wantBytes bool) {
	decoded, isByte, b := decodeSurface(surface, codec.spaceAsMeta)
	if isByte && wantBytes {
		if codec.ByteTokens == nil {
			codec.ByteTokens = make(map[byte]types.Token, 256)
		}
		codec.ByteTokens[b] = id
		codec.Decoder[id] = decoded
		if _, taken := codec.Vocab[string(decoded)]; !taken {
			codec.Vocab[string(decoded)] = id
		}
		return
	}
	codec.Vocab[string(decoded)] = id
	codec.Decoder[id] = decoded
}

func (codec *BpeCodec) addMerge(left, right string, rank float64) {
	pair := bpePair{left, right}
	if existing, ok := codec.Ranks[pair]; ok && existing <= rank {
		return
	}
	codec.Ranks[pair] = rank
	leftId, leftOk := codec.Vocab[left]
	rightId, rightOk := codec.Vocab[right]
	mergedId, mergedOk := codec.Vocab[left+right]
	if leftOk && rightOk && mergedOk {
		codec.Merges[tokenPair{leftId, rightId}] = mergedId
	}
}

// recoverMerges synthesizes a merge table for vocabularies that ship
// without one. Every byte split of a piece whose halves are both known
// becomes a merge ranked by the merged piece's id, so shorter ids win ties
// the way an ordered merge file would.
func (codec *BpeCodec) recoverMerges() {
	type splitRule struct {
		left   string
		right  string
		merged types.Token
	}
	rules := make([]splitRule, 0, len(codec.Vocab))
	for surface, id := range codec.Vocab {
		if _, isSpecial := codec.Specials[surface]; isSpecial {
			continue
		}
		runes := []rune(surface)
		if len(runes) < 2 {
			continue
		}
		for i := 1; i < len(surface); i++ {
			left, right := surface[:i], surface[i:]
			if _, ok := codec.Vocab[left]; !ok {
				continue
			}
			if _, ok := codec.Vocab[right]; !ok {
				continue
			}
			rules = append(rules, splitRule{left, right, id})
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].merged < rules[j].merged
	})
	for idx := range rules {
		codec.addMerge(rules[idx].left, rules[idx].right,
			float64(rules[idx].merged))
	}
}

func (codec *BpeCodec) addSpecial(surface string, id types.Token) {
	if _, seen := codec.Specials[surface]; seen {
		return
	}
	codec.Specials[surface] = id
	codec.specialsArr = append(codec.specialsArr, surface)
	if codec.specials != nil {
		codec.specials.insert(surface)
	}
}

func insertAt(data []bgeRank, i int, v bgeRank) []bgeRank {
	if i == len(data) {
		return append(data, v)
	}
	data = append(data[:i+1], data[i:]...)
	data[i] = v
	return data
}

// insertSortedNoDups inserts v into data, keeping the slice sorted by rank
// and free of duplicates.
func insertSortedNoDups(data bgeRanks, v bgeRank) bgeRanks {
	i := sort.Search(len(data), func(i int) bool {
		return data[i].rank >= v.rank
	})
	if i < len(data) && data[i] == v {
		return data
	}
	return insertAt(data, i, v)
}

func (codec *BpeCodec) getRankedPairs(word []string) bgeRanks {
	rankedPairs := make(bgeRanks, 0, len(word))
	begin := 1
	prev := word[0]
	for idx := begin; idx < len(word); idx++ {
		present := word[idx]
		pair := bpePair{prev, present}
		rank, ok := codec.Ranks[pair]
		if !ok {
			rank = math.Inf(1)
		}
		rankedPairs = insertSortedNoDups(rankedPairs, bgeRank{rank, pair})
		prev = present
	}
	return rankedPairs
}

// pos finds the index of the first occurrence of seek in word at or past
// index i.
func pos(word []string, seek string, i int) int {
	for j, v := range word[i:] {
		if seek == v {
			return j + i
		}
	}
	return -1
}

// ToBPE merges a pre-split word into tokens by repeatedly applying the
// lowest ranked bigram merge. Fragments outside the vocabulary fall back to
// byte tokens when the vocabulary carries them, else to the unknown token.
func (codec *BpeCodec) ToBPE(text string) types.Tokens {
	if lookup, ok := codec.cache.Get(text); ok {
		codec.LruHits++
		return lookup.(types.Tokens)
	}
	codec.LruMisses++
	word := strings.Split(text, "")
	if len(word) == 0 {
		return types.Tokens{}
	}
	word[len(word)-1] = word[len(word)-1] + codec.endOfWord
	rankedPairs := codec.getRankedPairs(word)
	for len(rankedPairs) > 0 {
		bigram := rankedPairs[0].bigram
		if _, ok := codec.Ranks[bigram]; !ok {
			break
		}
		first := bigram.left
		second := bigram.right
		newWord := make([]string, 0, len(word))
		for i := 0; i < len(word); {
			j := pos(word, first, i)
			if j == -1 {
				newWord = append(newWord, word[i:]...)
				break
			}
			newWord = append(newWord, word[i:j]...)
			i = j
			if word[i] == first && i < len(word)-1 && word[i+1] == second {
				newWord = append(newWord, first+second)
				i += 2
			} else {
				newWord = append(newWord, word[i])
				i += 1
			}
		}
		word = newWord
		if len(word) == 1 {
			break
		}
		rankedPairs = codec.getRankedPairs(word)
	}
	tokens := make(types.Tokens, 0, len(word))
	for _, fragment := range word {
		if lookup, ok := codec.Vocab[fragment]; ok {
			tokens = append(tokens, lookup)
		} else if codec.ByteTokens != nil {
			for _, b := range []byte(fragment) {
				if byteToken, ok := codec.ByteTokens[b]; ok {
					tokens = append(tokens, byteToken)
				}
			}
		} else if codec.UnkToken != nil {
			tokens = append(tokens, *codec.UnkToken)
		}
	}
	codec.cache.Add(text, tokens)
	return tokens
}

// splitWords applies the split pattern to a line, appending the special
// token surface that terminated the line when there is one.
func (codec *BpeCodec) splitWords(text string, specialToken bool,
	specialsNode *matchNode) []*string {
	idxes := codec.pattern.FindAllStringIndex(text, -1)
	words := make([]*string, 0, len(idxes)+1)
	for idx := range idxes {
		word := text[idxes[idx][0]:idxes[idx][1]]
		if codec.lowerCase {
			word = strings.ToLower(word)
		}
		if !codec.prefixSpace {
			word = strings.TrimSpace(word)
		}
		if len(word) > 0 {
			words = append(words, &word)
		}
	}
	if specialToken {
		runeString := string(specialsNode.runes)
		words = append(words, &runeString)
	}
	return words
}

type NextRuneFunc func() (rune, int, error)
type WordCallback func(*string)

func (codec *BpeCodec) splitOntoChan(text string, ch chan *string,
	specialToken bool, specialsNode *matchNode, wg *sync.WaitGroup) {
	defer close(ch)
	words := codec.splitWords(text, specialToken, specialsNode)
	for _, word := range words {
		ch <- word
	}
	wg.Done()
}

func (codec *BpeCodec) splitterThread(line string, specialToken bool,
	specialsNode *matchNode, wg *sync.WaitGroup) chan *string {
	retCh := make(chan *string, 16)
	go codec.splitOntoChan(line, retCh, specialToken, specialsNode, wg)
	return retCh
}

func (codec *BpeCodec) consumeSplitQueue(queue chan chan *string,
	cb WordCallback, wg *sync.WaitGroup) {
	for ch := range queue {
		for word := range ch {
			cb(word)
		}
	}
	wg.Done()
}

// makeWordSplitter returns a closure that drains the rune source, watching
// for special token surfaces as it accumulates, and hands newline bounded
// lines to splitter goroutines. An ordered queue of result channels keeps
// words in input order no matter how the splitters are scheduled.
func (codec *BpeCodec) makeWordSplitter(nextRuneFunc NextRuneFunc,
	wordCallback WordCallback, completeCallback func()) func() {
	workQueue := make(chan chan *string, codec.SplitterThreads)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go codec.consumeSplitQueue(workQueue, wordCallback, &wg)

	return func() {
		specialsRoot := codec.specials.root
		runeAccumulator := make([]rune, 0, codec.runeBufSz)
		specialToken := false
		specialsCandidates := make([]*matchNode, 0, 16)
		candidateNode := specialsRoot
		for {
			for {
				r, size, err := nextRuneFunc()
				if size == 0 || err != nil {
					break
				}
				runeAccumulator = append(runeAccumulator, r)
				if r == '\n' {
					break
				}

				// Advance every live candidate match by one rune.
				for idx := range specialsCandidates {
					specialsCandidates[idx], specialToken =
						specialsCandidates[idx].step(r)
					if specialToken {
						candidateNode = specialsCandidates[idx]
						break
					}
				}
				live := specialsCandidates[:0]
				for _, candidate := range specialsCandidates {
					if candidate != nil {
						live = append(live, candidate)
					}
				}
				specialsCandidates = live
				if specialToken {
					break
				}

				candidateNode, specialToken = specialsRoot.step(r)
				if specialToken {
					break
				}
				if candidateNode != nil {
					specialsCandidates = append(specialsCandidates,
						candidateNode)
				}
			}

			if len(runeAccumulator) == 0 {
				wordCallback(nil)
				break
			}

			// A discovered special caps the line just before its surface.
			var line string
			if specialToken {
				line = string(runeAccumulator[:len(runeAccumulator)-
					len(candidateNode.runes)])
			} else {
				line = string(runeAccumulator)
			}
			runeAccumulator = runeAccumulator[:0]

			wg.Add(1)
			workQueue <- codec.splitterThread(line, specialToken,
				candidateNode, &wg)

			candidateNode = specialsRoot
			specialToken = false
			specialsCandidates = specialsCandidates[:0]
		}
		close(workQueue)
		wg.Wait()
		completeCallback()
	}
}

// WordSplitter returns an iterator over the words of a rune stream. Each
// call yields one word, or nil once the stream is exhausted.
func (codec *BpeCodec) WordSplitter(reader io.RuneReader) func() *string {
	wordsAccumulator := make(chan string, codec.wordChanSz)
	wordSplitter := codec.makeWordSplitter(
		func() (rune, int, error) {
			return reader.ReadRune()
		},
		func(word *string) {
			if word != nil {
				wordsAccumulator <- *word
			}
		},
		func() {
			close(wordsAccumulator)
		})
	go wordSplitter()

	return func() *string {
		word, more := <-wordsAccumulator
		if more {
			return &word
		}
		return nil
	}
}

// SplitWords splits text into encoder words.
func (codec *BpeCodec) SplitWords(text string) []string {
	words := make([]string, 0)
	nextWord := codec.WordSplitter(strings.NewReader(text))
	for {
		word := nextWord()
		if word == nil {
			break
		}
		words = append(words, *word)
	}
	return words
}

func (codec *BpeCodec) toUnicode(text *string) string {
	if !codec.byteLevel {
		return *text
	}
	textBytes := []byte(*text)
	outArr := make([]rune, len(textBytes))
	for idx := range textBytes {
		outArr[idx] = codec.byteToRune[textBytes[idx]]
	}
	return string(outArr)
}

// StreamingEncode returns an iterator that pulls words from the stream and
// emits chunks of at most the requested token count, nil at end of stream.
func (codec *BpeCodec) StreamingEncode(reader io.RuneReader) func(int) *types.Tokens {
	nextWord := codec.WordSplitter(reader)

	accumulator := make(types.Tokens, 0, 16384)
	eosReturned := false
	firstWord := true
	if codec.addBos {
		accumulator = append(accumulator, *codec.BosToken)
	}
	return func(desiredTokens int) *types.Tokens {
		for {
			if len(accumulator) > desiredTokens+1 {
				chunk := accumulator[:desiredTokens]
				accumulator = accumulator[desiredTokens:]
				return &chunk
			}
			word := nextWord()
			if word == nil {
				if codec.addEos && !eosReturned {
					accumulator = append(accumulator, *codec.EosToken)
					eosReturned = true
				}
				if len(accumulator) > 0 {
					chunk := accumulator
					accumulator = accumulator[:0]
					return &chunk
				}
				return nil
			}
			var encodedTokens types.Tokens
			if specialId, isSpecial := codec.Specials[*word]; isSpecial {
				firstWord = false
				encodedTokens = types.Tokens{specialId}
			} else {
				if firstWord {
					firstWord = false
					if codec.prependSpace && !strings.HasPrefix(*word, " ") {
						prefixed := " " + *word
						word = &prefixed
					}
				}
				fragment := codec.toUnicode(word)
				encodedTokens = codec.ToBPE(fragment)
			}
			accumulator = append(accumulator, encodedTokens...)
			// Fragments that straddle a word boundary may still merge;
			// converted vocabularies in particular carry merges the split
			// pattern never produces in one piece.
			if len(accumulator)-len(encodedTokens) > 0 {
				idx := len(accumulator) - len(encodedTokens) - 1
				for {
					pair := tokenPair{accumulator[idx], accumulator[idx+1]}
					if merged, ok := codec.Merges[pair]; ok {
						before := accumulator[:idx]
						var after types.Tokens
						if idx+2 < len(accumulator) {
							after = accumulator[idx+2:]
						}
						accumulator = append(before, merged)
						accumulator = append(accumulator, after...)
						if idx > 0 {
							idx -= 1
						}
					} else {
						idx += 1
					}
					if idx >= len(accumulator)-1 {
						break
					}
				}
			}
		}
	}
}

// EncodeReader encodes everything the reader yields.
func (codec *BpeCodec) EncodeReader(reader io.RuneReader) types.Tokens {
	encoded := make(types.Tokens, 0, 4096)
	nextTokens := codec.StreamingEncode(reader)
	for {
		tokens := nextTokens(4096)
		if tokens == nil {
			break
		}
		encoded = append(encoded, *tokens...)
	}
	return encoded
}

// Encode encodes text into a token sequence.
func (codec *BpeCodec) Encode(text string) (types.Tokens, error) {
	return codec.EncodeReader(strings.NewReader(text)), nil
}

// Get looks up the token id of a stored surface, nil when absent.
func (codec *BpeCodec) Get(text string) *types.Token {
	if token, ok := codec.Vocab[text]; ok {
		return &token
	}
	return nil
}

// Decode renders tokens back into text.
func (codec *BpeCodec) Decode(encoded types.Tokens) (string, error) {
	bs := make([]byte, 0, len(encoded)*4)
	for _, token := range encoded {
		if v, ok := codec.Decoder[token]; ok {
			bs = append(bs, v...)
		}
	}
	text := string(bs)
	if codec.byteLevel {
		runes := []rune(text)
		decoded := make([]byte, 0, len(runes))
		for _, r := range runes {
			if b, ok := codec.runeToByte[r]; ok {
				decoded = append(decoded, b)
			} else {
				decoded = append(decoded, []byte(string(r))...)
			}
		}
		text = string(decoded)
	}
	if codec.endOfWord != "" {
		text = strings.ReplaceAll(text, codec.endOfWord, " ")
		text = strings.TrimSuffix(text, " ")
	}
	if codec.prependSpace {
		text = strings.TrimPrefix(text, " ")
	}
	return text, nil
}
