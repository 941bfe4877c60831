package resources

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"

	"github.com/tokforge/retok/types"
)

// SPDuplicate records a piece whose decoded text collides with an earlier
// piece. The later non-byte piece becomes the primary id for the text.
type SPDuplicate struct {
	OldId types.Token
	NewId types.Token
	Text  string
}

// SPPiece is a single vocabulary entry decoded from a sentencepiece model.
// Surface is the piece exactly as stored; Text is the decoded form with the
// space marker rewritten and byte pieces replaced by the byte they stand for.
type SPPiece struct {
	Id      types.Token
	Surface string
	Text    string
	Score   float64
	Byte    bool
	Special bool
}

// SPVocab is the in-memory form of a sentencepiece model file.
type SPVocab struct {
	Pieces     []SPPiece
	Ids        types.TokenMap
	Specials   []string
	Duplicates []SPDuplicate

	Unigram             bool
	ByteFallback        bool
	AddDummyPrefix      bool
	PrecompiledCharsmap []byte

	UnkId *types.Token
	BosId *types.Token
	EosId *types.Token

	// tokenIds maps decoded text to ids for non-byte pieces only.
	tokenIds types.TokenMap
}

var pieceSpaceReplacer = strings.NewReplacer("▁", " ")

// ParseSentencePieceModel
// Decodes a serialized sentencepiece model into an SPVocab. Byte pieces of
// the form <0xNN> decode to the raw byte they stand for, the sentencepiece
// space marker becomes a plain space, and control and user defined pieces
// are collected as specials.
func ParseSentencePieceModel(data []byte) (*SPVocab, error) {
	var model sentencepiece.ModelProto
	if err := proto.Unmarshal(data, &model); err != nil {
		return nil, errors.Wrap(err, "decoding sentencepiece model")
	}
	pieces := model.GetPieces()
	vocab := &SPVocab{
		Pieces:   make([]SPPiece, 0, len(pieces)),
		Ids:      make(types.TokenMap, len(pieces)),
		tokenIds: make(types.TokenMap, len(pieces)),
		Unigram: model.GetTrainerSpec().GetModelType() ==
			sentencepiece.TrainerSpec_UNIGRAM,
		AddDummyPrefix:      model.GetNormalizerSpec().GetAddDummyPrefix(),
		PrecompiledCharsmap: model.GetNormalizerSpec().GetPrecompiledCharsmap(),
	}
	if id := model.GetTrainerSpec().GetUnkId(); id >= 0 {
		token := types.Token(id)
		vocab.UnkId = &token
	}
	if id := model.GetTrainerSpec().GetBosId(); id >= 0 {
		token := types.Token(id)
		vocab.BosId = &token
	}
	if id := model.GetTrainerSpec().GetEosId(); id >= 0 {
		token := types.Token(id)
		vocab.EosId = &token
	}

	for idx, piece := range pieces {
		id := types.Token(idx)
		surface := piece.GetPiece()
		entry := SPPiece{
			Id:      id,
			Surface: surface,
			Score:   float64(piece.GetScore()),
		}
		switch piece.GetType() {
		case sentencepiece.ModelProto_SentencePiece_BYTE:
			if len(surface) != 6 {
				return nil, errors.Errorf(
					"malformed byte piece %d: %q", idx, surface)
			}
			raw, err := hex.DecodeString(surface[3:5])
			if err != nil {
				return nil, errors.Wrapf(err,
					"byte piece %d: %q", idx, surface)
			}
			entry.Text = string(raw)
			entry.Byte = true
			vocab.ByteFallback = true
		case sentencepiece.ModelProto_SentencePiece_CONTROL,
			sentencepiece.ModelProto_SentencePiece_USER_DEFINED:
			entry.Text = pieceSpaceReplacer.Replace(surface)
			entry.Special = true
			vocab.Specials = append(vocab.Specials, entry.Text)
		default:
			entry.Text = pieceSpaceReplacer.Replace(surface)
		}
		if prev, ok := vocab.Ids[entry.Text]; ok {
			vocab.Duplicates = append(vocab.Duplicates, SPDuplicate{
				OldId: prev,
				NewId: id,
				Text:  entry.Text,
			})
			// A byte piece never displaces the text piece for an id.
			if !entry.Byte {
				vocab.Ids[entry.Text] = id
			}
		} else {
			vocab.Ids[entry.Text] = id
		}
		if !entry.Byte {
			vocab.tokenIds[entry.Text] = id
		}
		vocab.Pieces = append(vocab.Pieces, entry)
	}
	return vocab, nil
}

// MergePairs
// Recovers a rank-ordered BPE merge list from the vocabulary. Every split
// of a multi-rune piece whose halves are themselves pieces yields a merge,
// ranked by the merged piece's id.
func (v *SPVocab) MergePairs() [][2]string {
	type mergeEntry struct {
		left  string
		right string
		rank  types.Token
	}
	seen := make(map[[2]string]struct{})
	entries := make([]mergeEntry, 0, len(v.Pieces))
	for _, piece := range v.Pieces {
		if piece.Byte || len([]rune(piece.Text)) < 2 {
			continue
		}
		rank, ok := v.tokenIds[piece.Text]
		if !ok {
			continue
		}
		for split := 1; split < len(piece.Text); split++ {
			pair := [2]string{piece.Text[:split], piece.Text[split:]}
			if _, dup := seen[pair]; dup {
				continue
			}
			if _, ok := v.Ids[pair[0]]; !ok {
				continue
			}
			if _, ok := v.Ids[pair[1]]; !ok {
				continue
			}
			seen[pair] = struct{}{}
			entries = append(entries, mergeEntry{
				left:  pair[0],
				right: pair[1],
				rank:  rank,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rank < entries[j].rank
	})
	pairs := make([][2]string, len(entries))
	for i, entry := range entries {
		pairs[i] = [2]string{entry.left, entry.right}
	}
	return pairs
}

// TokenMap returns a copy of the decoded text to id mapping.
func (v *SPVocab) TokenMap() types.TokenMap {
	vocab := make(types.TokenMap, len(v.Ids))
	for text, id := range v.Ids {
		vocab[text] = id
	}
	return vocab
}
