package retok

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
)

func artifactSet(names ...string) resources.Resources {
	rsrcs := make(resources.Resources, len(names))
	for _, name := range names {
		rsrcs[name] = resources.ResourceEntry{}
	}
	return rsrcs
}

type DetectTest struct {
	Name     string
	Have     []string
	Class    string
	Expected string
}

var DetectTests = []DetectTest{
	{"fast document wins",
		[]string{resources.TokenizerFile, resources.VocabJsonFile,
			resources.MergesFile},
		"GPT2Tokenizer", FormatFast},
	{"class picks wordpiece",
		[]string{resources.VocabJsonFile, resources.MergesFile,
			resources.WordPieceVocabFile},
		"BertTokenizerFast", FormatWordPiece},
	{"class picks legacy pair",
		[]string{resources.VocabJsonFile, resources.MergesFile,
			resources.WordPieceVocabFile},
		"GPT2Tokenizer", FormatLegacyBPE},
	{"class picks sentencepiece",
		[]string{resources.WordPieceVocabFile, resources.SentencePieceFile},
		"LlamaTokenizer", FormatSentencePiece},
	{"registration order breaks ties",
		[]string{resources.VocabJsonFile, resources.MergesFile,
			resources.WordPieceVocabFile},
		"", FormatLegacyBPE},
	{"unknown class falls back",
		[]string{resources.VocabJsonFile, resources.MergesFile,
			resources.WordPieceVocabFile},
		"MysteryTokenizer", FormatLegacyBPE},
	{"wordpiece alone",
		[]string{resources.WordPieceVocabFile},
		"", FormatWordPiece},
	{"sentencepiece alone",
		[]string{resources.SentencePieceFile},
		"", FormatSentencePiece},
	{"merges without vocab is not legacy",
		[]string{resources.MergesFile, resources.WordPieceVocabFile},
		"", FormatWordPiece},
}

func TestDetectFormat(t *testing.T) {
	for testIdx := range DetectTests {
		test := DetectTests[testIdx]
		t.Run(test.Name, func(t *testing.T) {
			meta := &resources.Metadata{TokenizerClass: test.Class}
			handler, err := detectFormat(artifactSet(test.Have...), meta)
			require.NoError(t, err)
			assert.Equal(t, test.Expected, handler.Name())
		})
	}
}

func TestDetectFormatUnrecognized(t *testing.T) {
	_, err := detectFormat(artifactSet(), &resources.Metadata{})
	assert.True(t, errors.Is(err, resources.ErrUnrecognized))

	_, err = detectFormat(
		artifactSet(resources.ModelConfigFile), &resources.Metadata{})
	assert.True(t, errors.Is(err, resources.ErrUnrecognized))
}

func TestDetectFormatNilMetadata(t *testing.T) {
	handler, err := detectFormat(
		artifactSet(resources.VocabJsonFile, resources.MergesFile), nil)
	require.NoError(t, err)
	assert.Equal(t, FormatLegacyBPE, handler.Name())
}

func TestParseMergesFile(t *testing.T) {
	merges, err := parseMergesFile([]byte("#version: 0.2\nh e\nl l\n"))
	require.NoError(t, err)
	assert.Equal(t, []schema.MergePair{
		{Left: "h", Right: "e"},
		{Left: "l", Right: "l"},
	}, merges)

	merges, err = parseMergesFile([]byte("h e\n\nl l\n"))
	require.NoError(t, err)
	assert.Len(t, merges, 2)

	_, err = parseMergesFile([]byte("#version: 0.2\nbroken\n"))
	assert.Error(t, err)
}

func TestAssembleAddedTokens(t *testing.T) {
	raw := []byte(`{"<extra>": 60}`)
	rsrcs := resources.Resources{
		resources.AddedTokensFile: resources.ResourceEntry{Data: &raw},
	}
	meta := &resources.Metadata{
		AddedTokens: []resources.AddedTokenDef{
			{Id: 50, Content: "<pad>", Special: true},
		},
		EosToken: "</s>",
		PadToken: "<pad>",
	}
	vocab := map[string]int{"</s>": 2}

	added := assembleAddedTokens(meta, rsrcs, func(surface string) (int, bool) {
		id, ok := vocab[surface]
		return id, ok
	})
	assert.Equal(t, []schema.AddedToken{
		{Id: 2, Content: "</s>", Special: true},
		{Id: 50, Content: "<pad>", Special: true},
		{Id: 60, Content: "<extra>"},
	}, added)
}

func TestAssembleAddedTokensMissingSurface(t *testing.T) {
	meta := &resources.Metadata{BosToken: "<s>"}
	added := assembleAddedTokens(meta, resources.Resources{},
		func(string) (int, bool) { return 0, false })
	assert.Empty(t, added)
}
