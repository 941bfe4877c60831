package retok

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tokforge/retok/pkg/json"
	"github.com/tokforge/retok/resources"
)

// exportArtifact is one file of a pending export.
type exportArtifact struct {
	Name string
	Data []byte
}

// Export writes the tokenizer's artifact set into dir. Canonical mode
// produces the full current-layout set, legacy companions included; in
// place mode rewrites only the tokenizer artifacts dir already holds. Both
// stage every file before renaming any, so a failed export leaves the
// directory as it was.
func (t *Tokenizer) Export(dir string, mode ExportMode) error {
	artifacts, err := t.renderArtifacts(mode, dir)
	if err != nil {
		return err
	}
	if mode == ExportCanonical {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	if err := writeArtifactsAtomic(dir, artifacts); err != nil {
		return err
	}
	for _, artifact := range artifacts {
		t.logger.Info().
			Str("artifact", artifact.Name).
			Int("bytes", len(artifact.Data)).
			Msg("exported")
	}
	return nil
}

func (t *Tokenizer) renderArtifacts(mode ExportMode, dir string) ([]exportArtifact, error) {
	renderers := map[string]func() ([]byte, error){
		resources.TokenizerFile:       t.renderDocument,
		resources.TokenizerConfigFile: t.renderTokenizerConfig,
	}
	if t.hasSpecialTokens() {
		renderers[resources.SpecialTokensMapFile] = t.renderSpecialTokensMap
	}

	traits := traitsOf(t.Schema)
	if t.Schema.Model.Type == "BPE" && !traits.spaceAsMeta &&
		len(t.Schema.Model.Merges) > 0 && t.Schema.Model.Vocab != nil {
		renderers[resources.VocabJsonFile] = t.renderVocabJson
		renderers[resources.MergesFile] = t.renderMergesTxt
	}
	if t.Schema.Model.Type == "WordPiece" {
		renderers[resources.WordPieceVocabFile] = t.renderVocabTxt
	}
	if raw := t.res.Resources.Get(resources.SentencePieceFile); raw != nil {
		renderers[resources.SentencePieceFile] = func() ([]byte, error) {
			return raw, nil
		}
	}

	names := []string{
		resources.TokenizerFile,
		resources.TokenizerConfigFile,
		resources.SpecialTokensMapFile,
		resources.VocabJsonFile,
		resources.MergesFile,
		resources.WordPieceVocabFile,
		resources.SentencePieceFile,
	}
	artifacts := make([]exportArtifact, 0, len(names))
	for _, name := range names {
		render, ok := renderers[name]
		if !ok {
			continue
		}
		if mode == ExportInPlace && !fileExists(filepath.Join(dir, name)) {
			continue
		}
		data, err := render()
		if err != nil {
			return nil, errors.Wrapf(err, "rendering %s", name)
		}
		artifacts = append(artifacts, exportArtifact{Name: name, Data: data})
	}
	if len(artifacts) == 0 {
		return nil, errors.Errorf("nothing to rewrite in %s", dir)
	}
	return artifacts, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeArtifactsAtomic stages every artifact beside its target and renames
// once all writes succeeded. Byte-identical targets are left untouched, so
// repeated exports do not churn modification times.
func writeArtifactsAtomic(dir string, artifacts []exportArtifact) error {
	type staged struct {
		tmp    string
		target string
	}
	pending := make([]staged, 0, len(artifacts))
	abort := func() {
		for _, s := range pending {
			os.Remove(s.tmp)
		}
	}
	for _, artifact := range artifacts {
		target := filepath.Join(dir, artifact.Name)
		if existing, err := os.ReadFile(target); err == nil &&
			bytes.Equal(existing, artifact.Data) {
			continue
		}
		tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp",
			artifact.Name, uuid.NewString()[:8]))
		if err := os.WriteFile(tmp, artifact.Data, 0644); err != nil {
			abort()
			return errors.Wrapf(err, "staging %s", artifact.Name)
		}
		pending = append(pending, staged{tmp: tmp, target: target})
	}
	for _, s := range pending {
		if err := os.Rename(s.tmp, s.target); err != nil {
			abort()
			return errors.Wrapf(err, "replacing %s", s.target)
		}
	}
	return nil
}

func (t *Tokenizer) renderDocument() ([]byte, error) {
	return t.Schema.Render()
}

func (t *Tokenizer) hasSpecialTokens() bool {
	meta := t.Meta
	return meta.BosToken != "" || meta.EosToken != "" || meta.PadToken != "" ||
		meta.UnkToken != "" || meta.SepToken != "" || meta.ClsToken != "" ||
		meta.MaskToken != ""
}

func (t *Tokenizer) specialTokenFields() map[string]string {
	fields := map[string]string{
		"bos_token":  t.Meta.BosToken,
		"eos_token":  t.Meta.EosToken,
		"pad_token":  t.Meta.PadToken,
		"unk_token":  t.Meta.UnkToken,
		"sep_token":  t.Meta.SepToken,
		"cls_token":  t.Meta.ClsToken,
		"mask_token": t.Meta.MaskToken,
	}
	for key, value := range fields {
		if value == "" {
			delete(fields, key)
		}
	}
	return fields
}

func (t *Tokenizer) renderTokenizerConfig() ([]byte, error) {
	config := make(map[string]any, 16)
	class := t.Meta.TokenizerClass
	if class == "" {
		class = "PreTrainedTokenizerFast"
	}
	config["tokenizer_class"] = class
	for key, value := range t.specialTokenFields() {
		config[key] = value
	}
	if t.Meta.AddBosToken != nil {
		config["add_bos_token"] = *t.Meta.AddBosToken
	}
	if t.Meta.AddEosToken != nil {
		config["add_eos_token"] = *t.Meta.AddEosToken
	}
	if t.Meta.DoLowerCase != nil {
		config["do_lower_case"] = *t.Meta.DoLowerCase
	}
	if len(t.Schema.AddedTokens) > 0 {
		decoder := make(map[string]any, len(t.Schema.AddedTokens))
		for idx := range t.Schema.AddedTokens {
			added := t.Schema.AddedTokens[idx]
			decoder[strconv.Itoa(added.Id)] = map[string]any{
				"content":     added.Content,
				"single_word": added.SingleWord,
				"lstrip":      added.Lstrip,
				"rstrip":      added.Rstrip,
				"normalized":  added.Normalized,
				"special":     added.Special,
			}
		}
		config["added_tokens_decoder"] = decoder
	}
	return renderJson(config)
}

func (t *Tokenizer) renderSpecialTokensMap() ([]byte, error) {
	doc := make(map[string]any, 8)
	for key, value := range t.specialTokenFields() {
		doc[key] = value
	}
	return renderJson(doc)
}

// renderVocabJson writes the id-ordered single-line vocabulary object.
func (t *Tokenizer) renderVocabJson() ([]byte, error) {
	surfaces, _, err := orderedSurfaces(t.Schema.Model.Vocab)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(surfaces) * 16)
	buf.WriteByte('{')
	for idx, surface := range surfaces {
		if idx > 0 {
			buf.WriteString(", ")
		}
		key, err := json.Marshal(surface)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(": ")
		buf.WriteString(strconv.Itoa(idx))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Tokenizer) renderMergesTxt() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(t.Schema.Model.Merges) * 12)
	buf.WriteString("#version: 0.2\n")
	for idx := range t.Schema.Model.Merges {
		buf.WriteString(t.Schema.Model.Merges[idx].String())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (t *Tokenizer) renderVocabTxt() ([]byte, error) {
	surfaces, _, err := orderedSurfaces(t.Schema.Model.Vocab)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(surfaces) * 8)
	for _, surface := range surfaces {
		buf.WriteString(surface)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func renderJson(doc any) ([]byte, error) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// UpgradePath reports the directory a re-export of modelId should target
// when no explicit output directory was given: a local directory argument
// is rewritten where it is, anything else materializes under a directory
// named after the identifier.
func UpgradePath(modelId string, t *Tokenizer) string {
	if !t.Remote() {
		return t.Dir()
	}
	return filepath.FromSlash(modelId)
}
