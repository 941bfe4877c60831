package retok

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
)

// sentencePieceFormat serves tokenizer.model artifact sets, converting the
// serialized model into the document form.
type sentencePieceFormat struct{}

func (f *sentencePieceFormat) Name() string {
	return FormatSentencePiece
}

func (f *sentencePieceFormat) Classes() []string {
	return []string{
		"LlamaTokenizer", "T5Tokenizer", "XLNetTokenizer",
		"AlbertTokenizer", "CamembertTokenizer", "XLMRobertaTokenizer",
		"GemmaTokenizer", "CodeLlamaTokenizer",
	}
}

func (f *sentencePieceFormat) Detect(rsrcs resources.Resources) bool {
	return rsrcs.Has(resources.SentencePieceFile)
}

func (f *sentencePieceFormat) Load(res *resources.Resolution,
	meta *resources.Metadata) (*schema.Tokenizer, error) {
	sp, err := resources.ParseSentencePieceModel(
		res.Resources.Get(resources.SentencePieceFile))
	if err != nil {
		return nil, err
	}

	doc := &schema.Tokenizer{Version: schema.Version}
	if sp.Unigram {
		entries := make([]schema.UnigramEntry, len(sp.Pieces))
		for idx := range sp.Pieces {
			piece := sp.Pieces[idx]
			entries[piece.Id] = schema.UnigramEntry{
				Token: piece.Surface,
				Score: piece.Score,
			}
		}
		doc.Model = schema.Model{
			Type:         "Unigram",
			UnigramVocab: entries,
			ByteFallback: sp.ByteFallback,
		}
		if sp.UnkId != nil {
			unkId := int(*sp.UnkId)
			doc.Model.UnkId = &unkId
		}
	} else {
		vocab := make(map[string]int, len(sp.Pieces))
		for idx := range sp.Pieces {
			vocab[sp.Pieces[idx].Surface] = int(sp.Pieces[idx].Id)
		}
		merges := make([]schema.MergePair, 0, len(sp.Pieces))
		for _, pair := range sp.MergePairs() {
			merges = append(merges, schema.MergePair{
				Left:  strings.ReplaceAll(pair[0], " ", "▁"),
				Right: strings.ReplaceAll(pair[1], " ", "▁"),
			})
		}
		doc.Model = schema.Model{
			Type:         "BPE",
			Vocab:        vocab,
			Merges:       merges,
			ByteFallback: sp.ByteFallback,
			FuseUnk:      true,
		}
		if sp.UnkId != nil && int(*sp.UnkId) < len(sp.Pieces) {
			doc.Model.UnkToken = sp.Pieces[*sp.UnkId].Surface
		}
	}

	normalizers := make([]schema.Normalizer, 0, 3)
	if len(sp.PrecompiledCharsmap) > 0 {
		normalizers = append(normalizers, schema.Normalizer{
			Type: "Precompiled",
			PrecompiledCharsmap: base64.StdEncoding.EncodeToString(
				sp.PrecompiledCharsmap),
		})
	}
	if sp.AddDummyPrefix {
		normalizers = append(normalizers, schema.Normalizer{
			Type:    "Prepend",
			Prepend: "▁",
		})
	}
	normalizers = append(normalizers, schema.Normalizer{
		Type:    "Replace",
		Pattern: &schema.Pattern{String: " "},
		Content: "▁",
	})
	doc.Normalizer = schema.NormalizerSequence(normalizers...)

	decoders := make([]schema.Decoder, 0, 4)
	decoders = append(decoders, schema.Decoder{
		Type:    "Replace",
		Pattern: &schema.Pattern{String: "▁"},
		Content: " ",
	})
	if sp.ByteFallback {
		decoders = append(decoders, schema.Decoder{Type: "ByteFallback"})
	}
	decoders = append(decoders, schema.Decoder{Type: "Fuse"})
	if sp.AddDummyPrefix {
		decoders = append(decoders, schema.Decoder{
			Type:    "Strip",
			Content: " ",
			Start:   1,
		})
	}
	doc.Decoder = schema.DecoderSequence(decoders...)

	rawIds := make(map[string]int, len(sp.Pieces))
	for idx := range sp.Pieces {
		rawIds[sp.Pieces[idx].Surface] = int(sp.Pieces[idx].Id)
	}
	doc.AddedTokens = assembleAddedTokens(meta, res.Resources,
		func(surface string) (int, bool) {
			id, ok := rawIds[surface]
			return id, ok
		})
	seen := make(map[string]bool, len(doc.AddedTokens))
	for idx := range doc.AddedTokens {
		seen[doc.AddedTokens[idx].Content] = true
	}
	for idx := range sp.Pieces {
		piece := sp.Pieces[idx]
		if !piece.Special || seen[piece.Surface] {
			continue
		}
		doc.AddedTokens = append(doc.AddedTokens, schema.AddedToken{
			Id:      int(piece.Id),
			Content: piece.Surface,
			Special: true,
		})
	}
	sort.SliceStable(doc.AddedTokens, func(i, j int) bool {
		return doc.AddedTokens[i].Id < doc.AddedTokens[j].Id
	})
	return doc, nil
}
