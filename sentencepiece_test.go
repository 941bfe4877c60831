package retok

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
)

// spFixtureDir materializes a serialized scored-vocabulary model into a
// fresh directory, the shape a converted checkpoint arrives in.
func spFixtureDir(t *testing.T) string {
	t.Helper()
	piece := func(
		text string,
		kind sentencepiece.ModelProto_SentencePiece_Type,
		score float32,
	) *sentencepiece.ModelProto_SentencePiece {
		return &sentencepiece.ModelProto_SentencePiece{
			Piece: proto.String(text),
			Score: proto.Float32(score),
			Type:  kind.Enum(),
		}
	}
	model := &sentencepiece.ModelProto{
		Pieces: []*sentencepiece.ModelProto_SentencePiece{
			piece("<unk>", sentencepiece.ModelProto_SentencePiece_UNKNOWN, 0),
			piece("<s>", sentencepiece.ModelProto_SentencePiece_CONTROL, 0),
			piece("</s>", sentencepiece.ModelProto_SentencePiece_CONTROL, 0),
			piece("<0x0A>", sentencepiece.ModelProto_SentencePiece_BYTE, 0),
			piece("<0x20>", sentencepiece.ModelProto_SentencePiece_BYTE, 0),
			piece("▁", sentencepiece.ModelProto_SentencePiece_NORMAL, -1),
			piece("h", sentencepiece.ModelProto_SentencePiece_NORMAL, -2),
			piece("e", sentencepiece.ModelProto_SentencePiece_NORMAL, -3),
			piece("l", sentencepiece.ModelProto_SentencePiece_NORMAL, -4),
			piece("o", sentencepiece.ModelProto_SentencePiece_NORMAL, -5),
			piece("he", sentencepiece.ModelProto_SentencePiece_NORMAL, -6),
			piece("ll", sentencepiece.ModelProto_SentencePiece_NORMAL, -7),
			piece("hell", sentencepiece.ModelProto_SentencePiece_NORMAL, -8),
			piece("hello", sentencepiece.ModelProto_SentencePiece_NORMAL, -9),
			piece("▁hello", sentencepiece.ModelProto_SentencePiece_NORMAL, -10),
		},
		TrainerSpec: &sentencepiece.TrainerSpec{
			ModelType: sentencepiece.TrainerSpec_UNIGRAM.Enum(),
			UnkId:     proto.Int32(0),
			BosId:     proto.Int32(1),
			EosId:     proto.Int32(2),
		},
		NormalizerSpec: &sentencepiece.NormalizerSpec{
			AddDummyPrefix: proto.Bool(true),
		},
	}
	data, err := proto.Marshal(model)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, resources.SentencePieceFile), data, 0644))
	return dir
}

func TestFromPretrainedSentencePiece(t *testing.T) {
	dir := spFixtureDir(t)
	tok, err := FromPretrained(context.Background(), dir)
	require.NoError(t, err)
	defer tok.Cleanup()

	assert.Equal(t, FormatSentencePiece, tok.Format)
	assert.Equal(t, "Unigram", tok.Schema.Model.Type)
	assert.True(t, tok.Schema.Model.ByteFallback)
	require.NotNil(t, tok.Schema.Model.UnkId)
	assert.Equal(t, 0, *tok.Schema.Model.UnkId)
	assert.Len(t, tok.Schema.Model.UnigramVocab, 15)

	norm := tok.Schema.Normalizer
	require.NotNil(t, norm)
	require.Equal(t, "Sequence", norm.Type)
	require.Len(t, norm.Normalizers, 2)
	assert.Equal(t, "Prepend", norm.Normalizers[0].Type)
	assert.Equal(t, "▁", norm.Normalizers[0].Prepend)
	assert.Equal(t, "Replace", norm.Normalizers[1].Type)

	dec := tok.Schema.Decoder
	require.NotNil(t, dec)
	require.Equal(t, "Sequence", dec.Type)
	require.Len(t, dec.Decoders, 4)
	assert.Equal(t, "Replace", dec.Decoders[0].Type)
	assert.Equal(t, "ByteFallback", dec.Decoders[1].Type)
	assert.Equal(t, "Fuse", dec.Decoders[2].Type)
	assert.Equal(t, "Strip", dec.Decoders[3].Type)

	require.Len(t, tok.Schema.AddedTokens, 2)
	assert.Equal(t,
		schema.AddedToken{Id: 1, Content: "<s>", Special: true},
		tok.Schema.AddedTokens[0])
	assert.Equal(t,
		schema.AddedToken{Id: 2, Content: "</s>", Special: true},
		tok.Schema.AddedTokens[1])
}

func TestSentencePieceEncode(t *testing.T) {
	dir := spFixtureDir(t)
	tok, err := FromPretrained(context.Background(), dir)
	require.NoError(t, err)
	defer tok.Cleanup()

	tokens, err := tok.Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, Tokens{14}, tokens)

	decoded, err := tok.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)

	tokens, err = tok.Encode("hello hello")
	require.NoError(t, err)
	assert.Equal(t, Tokens{14, 14}, tokens)

	decoded, err = tok.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "hello hello", decoded)
}

func TestSentencePieceExportCanonical(t *testing.T) {
	dir := spFixtureDir(t)
	tok, err := FromPretrained(context.Background(), dir)
	require.NoError(t, err)
	defer tok.Cleanup()

	want, err := tok.Encode("hello hello")
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, tok.Export(dest, ExportCanonical))

	assert.FileExists(t, filepath.Join(dest, resources.TokenizerFile))
	assert.FileExists(t, filepath.Join(dest, resources.TokenizerConfigFile))
	assert.NoFileExists(t, filepath.Join(dest, resources.VocabJsonFile))
	assert.NoFileExists(t, filepath.Join(dest, resources.MergesFile))

	// The serialized model rides along byte for byte.
	source, err := os.ReadFile(filepath.Join(dir, resources.SentencePieceFile))
	require.NoError(t, err)
	copied, err := os.ReadFile(filepath.Join(dest, resources.SentencePieceFile))
	require.NoError(t, err)
	assert.Equal(t, source, copied)

	reloaded, err := FromPretrained(context.Background(), dest)
	require.NoError(t, err)
	defer reloaded.Cleanup()
	assert.Equal(t, FormatFast, reloaded.Format)

	got, err := reloaded.Encode("hello hello")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
