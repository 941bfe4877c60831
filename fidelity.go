package retok

import (
	"strings"

	"github.com/jdkato/prose/v2"
	"github.com/pkg/errors"

	"github.com/tokforge/retok/types"
)

const mismatchSampleCap = 8

// Mismatch is one sentence two encoders disagreed on.
type Mismatch struct {
	Text string
	Want types.Tokens
	Got  types.Tokens
}

// FidelityReport summarizes a sentence-by-sentence encoding comparison.
type FidelityReport struct {
	Sentences  int
	Matched    int
	Mismatched []Mismatch
}

func (r *FidelityReport) Ok() bool {
	return len(r.Mismatched) == 0
}

// splitSentences segments sample text for fidelity checks. Tagging and
// entity extraction stay off; only the segmenter runs.
func splitSentences(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false))
	if err != nil {
		return nil, errors.Wrap(err, "segmenting sample text")
	}
	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for idx := range sentences {
		if s := strings.TrimSpace(sentences[idx].Text); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// CompareFidelity encodes every sentence of the sample with both
// tokenizers and reports where the token sequences diverge. Byte layouts
// may differ between artifact sets; this is the behavioral check that
// matters after a re-export.
func CompareFidelity(want, got *Tokenizer, sample string) (*FidelityReport, error) {
	sentences, err := splitSentences(sample)
	if err != nil {
		return nil, err
	}
	report := &FidelityReport{Sentences: len(sentences)}
	for _, sentence := range sentences {
		wantTokens, err := want.Encode(sentence)
		if err != nil {
			return nil, err
		}
		gotTokens, err := got.Encode(sentence)
		if err != nil {
			return nil, err
		}
		if tokensEqual(wantTokens, gotTokens) {
			report.Matched++
			continue
		}
		if len(report.Mismatched) < mismatchSampleCap {
			report.Mismatched = append(report.Mismatched, Mismatch{
				Text: sentence,
				Want: wantTokens,
				Got:  gotTokens,
			})
		}
	}
	return report, nil
}

// SelfCheck verifies that decoding and re-encoding every sentence of the
// sample reproduces the same token sequence.
func (t *Tokenizer) SelfCheck(sample string) (*FidelityReport, error) {
	sentences, err := splitSentences(sample)
	if err != nil {
		return nil, err
	}
	report := &FidelityReport{Sentences: len(sentences)}
	for _, sentence := range sentences {
		first, err := t.Encode(sentence)
		if err != nil {
			return nil, err
		}
		decoded, err := t.Decode(first)
		if err != nil {
			return nil, err
		}
		second, err := t.Encode(decoded)
		if err != nil {
			return nil, err
		}
		if tokensEqual(first, second) {
			report.Matched++
			continue
		}
		if len(report.Mismatched) < mismatchSampleCap {
			report.Mismatched = append(report.Mismatched, Mismatch{
				Text: sentence,
				Want: first,
				Got:  second,
			})
		}
	}
	return report, nil
}

func tokensEqual(a, b types.Tokens) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}
