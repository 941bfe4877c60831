package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"

	"github.com/tokforge/retok/types"
)

func spTestModel() *sentencepiece.ModelProto {
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
	return &sentencepiece.ModelProto{
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
}

func spTestVocab(t *testing.T) *SPVocab {
	t.Helper()
	data, err := proto.Marshal(spTestModel())
	require.NoError(t, err)
	vocab, err := ParseSentencePieceModel(data)
	require.NoError(t, err)
	return vocab
}

func TestParseSentencePieceModel(t *testing.T) {
	vocab := spTestVocab(t)

	assert.Len(t, vocab.Pieces, 15)
	assert.True(t, vocab.Unigram)
	assert.True(t, vocab.ByteFallback)
	assert.True(t, vocab.AddDummyPrefix)
	assert.Equal(t, []string{"<s>", "</s>"}, vocab.Specials)

	require.NotNil(t, vocab.UnkId)
	assert.Equal(t, types.Token(0), *vocab.UnkId)
	require.NotNil(t, vocab.BosId)
	assert.Equal(t, types.Token(1), *vocab.BosId)
	require.NotNil(t, vocab.EosId)
	assert.Equal(t, types.Token(2), *vocab.EosId)

	newline := vocab.Pieces[3]
	assert.True(t, newline.Byte)
	assert.Equal(t, "<0x0A>", newline.Surface)
	assert.Equal(t, "\n", newline.Text)

	assert.Equal(t, " hello", vocab.Pieces[14].Text)
	assert.Equal(t, types.Token(13), vocab.Ids["hello"])
	assert.Equal(t, float64(-9), vocab.Pieces[13].Score)
}

func TestParseSentencePieceDuplicates(t *testing.T) {
	vocab := spTestVocab(t)

	// The space marker decodes to the same text as the 0x20 byte piece;
	// the text piece becomes the primary id.
	assert.Equal(t, types.Token(5), vocab.Ids[" "])
	require.Len(t, vocab.Duplicates, 1)
	assert.Equal(t,
		SPDuplicate{OldId: 4, NewId: 5, Text: " "}, vocab.Duplicates[0])
}

func TestMergePairs(t *testing.T) {
	vocab := spTestVocab(t)

	assert.Equal(t, [][2]string{
		{"h", "e"},
		{"l", "l"},
		{"he", "ll"},
		{"hell", "o"},
		{" ", "hello"},
	}, vocab.MergePairs())
}

func TestParseSentencePieceMalformedByte(t *testing.T) {
	model := &sentencepiece.ModelProto{
		Pieces: []*sentencepiece.ModelProto_SentencePiece{{
			Piece: proto.String("<0xZZ>"),
			Score: proto.Float32(0),
			Type:  sentencepiece.ModelProto_SentencePiece_BYTE.Enum(),
		}},
	}
	data, err := proto.Marshal(model)
	require.NoError(t, err)

	_, err = ParseSentencePieceModel(data)
	assert.Error(t, err)
}

func TestSPVocabTokenMap(t *testing.T) {
	vocab := spTestVocab(t)

	copied := vocab.TokenMap()
	copied["extra"] = 999
	assert.NotContains(t, vocab.Ids, "extra")
	assert.Equal(t, vocab.Ids["hello"], copied["hello"])
}
