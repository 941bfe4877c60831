package retok

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bertCodec(t *testing.T) *wordPieceCodec {
	t.Helper()
	codec, ok := bertTok.Codec().(*wordPieceCodec)
	require.True(t, ok)
	return codec
}

var BertEncodeTests = []EncodeTest{
	{"hello world",
		Tokens{2, 5, 6, 3}},
	{"Hello World",
		Tokens{2, 5, 6, 3}},
	{"hellos",
		Tokens{2, 5, 7, 3}},
	{"héllo",
		Tokens{2, 5, 3}},
	{"hello, world.",
		Tokens{2, 5, 11, 6, 12, 3}},
	{"xyzzy",
		Tokens{2, 1, 3}},
}

func TestWordPieceCodec_Encode(t *testing.T) {
	codec := bertCodec(t)
	for testIdx := range BertEncodeTests {
		test := BertEncodeTests[testIdx]
		tokens, err := codec.Encode(test.Input)
		require.NoError(t, err)
		assert.Equal(t, test.Expected, tokens, "input %q", test.Input)
	}
}

type DecodeTest struct {
	Input    Tokens
	Expected string
}

var BertDecodeTests = []DecodeTest{
	{Tokens{2, 5, 6, 3}, "hello world"},
	{Tokens{5, 7}, "hellos"},
	{Tokens{8, 9}, "hello"},
	{Tokens{2, 10, 12, 3}, "the ."},
	{Tokens{2, 3}, ""},
	{Tokens{5, 999, 6}, "hello world"},
}

func TestWordPieceCodec_Decode(t *testing.T) {
	codec := bertCodec(t)
	for testIdx := range BertDecodeTests {
		test := BertDecodeTests[testIdx]
		decoded, err := codec.Decode(test.Input)
		require.NoError(t, err)
		assert.Equal(t, test.Expected, decoded, "tokens %v", test.Input)
	}
}

func TestWordPieceCodec_Normalize(t *testing.T) {
	codec := bertCodec(t)
	assert.Equal(t, "hello world", codec.normalize("Hello World"))
	assert.Equal(t, "hello", codec.normalize("héllo"))
	assert.Equal(t, "tab here", codec.normalize("tab\there"))
	assert.Equal(t, "zero", codec.normalize("\x00zero"))
	assert.Equal(t, "abc 中 def", codec.normalize("abc中def"))
}

func TestOrderedSurfaces(t *testing.T) {
	surfaces, holes, err := orderedSurfaces(map[string]int{"a": 0, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, surfaces)
	assert.Equal(t, 0, holes)

	surfaces, holes, err = orderedSurfaces(map[string]int{"a": 0, "c": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "[unused_slot_1]", "c"}, surfaces)
	assert.Equal(t, 1, holes)

	_, _, err = orderedSurfaces(map[string]int{"x": -1})
	assert.Error(t, err)
}

func TestParseWordPieceVocab(t *testing.T) {
	vocab, err := parseWordPieceVocab([]byte("a\nb\nc\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, vocab)

	vocab, err = parseWordPieceVocab([]byte("a\r\nb\r\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, vocab)

	_, err = parseWordPieceVocab(nil)
	assert.Error(t, err)

	_, err = parseWordPieceVocab([]byte("\na\n"))
	assert.Error(t, err)
}
