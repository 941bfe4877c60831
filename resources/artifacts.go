// Package resources resolves pretrained tokenizer artifact sets from local
// directories, direct URLs, or hub identifiers, and carries the metadata
// needed to pick and build a concrete tokenizer format.
package resources

import (
	"os"
	"sort"

	"github.com/pkg/errors"
)

type ResourceFlag uint8

// Enumeration of resource flags that indicate what the resolver should do
// with an artifact.
const (
	// RESOURCE_REQUIRED artifacts must resolve or resolution fails.
	RESOURCE_REQUIRED ResourceFlag = 1 << iota
	// RESOURCE_OPTIONAL artifacts are picked up when present.
	RESOURCE_OPTIONAL
	// RESOURCE_ONEOF artifacts define the tokenizer model itself; at least
	// one of them must resolve.
	RESOURCE_ONEOF
)

type ResourceEntryDefs map[string]ResourceFlag

type ResourceEntry struct {
	file *os.File
	Data *[]byte
}

type Resources map[string]ResourceEntry

// Artifact names understood by the resolver and the format handlers.
const (
	TokenizerFile        = "tokenizer.json"
	TokenizerConfigFile  = "tokenizer_config.json"
	SpecialTokensMapFile = "special_tokens_map.json"
	ModelConfigFile      = "config.json"
	GenerationConfigFile = "generation_config.json"
	VocabJsonFile        = "vocab.json"
	MergesFile           = "merges.txt"
	WordPieceVocabFile   = "vocab.txt"
	SentencePieceFile    = "tokenizer.model"
	AddedTokensFile      = "added_tokens.json"
)

// GetResourceEntries
// Returns the default map of artifact entries expressing which files define
// the tokenizer model and which merely refine it.
func GetResourceEntries() ResourceEntryDefs {
	return ResourceEntryDefs{
		TokenizerFile:        RESOURCE_ONEOF,
		VocabJsonFile:        RESOURCE_ONEOF,
		MergesFile:           RESOURCE_ONEOF,
		WordPieceVocabFile:   RESOURCE_ONEOF,
		SentencePieceFile:    RESOURCE_ONEOF,
		TokenizerConfigFile:  RESOURCE_OPTIONAL,
		SpecialTokensMapFile: RESOURCE_OPTIONAL,
		ModelConfigFile:      RESOURCE_OPTIONAL,
		GenerationConfigFile: RESOURCE_OPTIONAL,
		AddedTokensFile:      RESOURCE_OPTIONAL,
	}
}

// AddEntry
// Adds an artifact to the Resources map, mapping its contents into memory.
func (rsrcs *Resources) AddEntry(name string, file *os.File) error {
	data, mapErr := readMmap(file)
	if mapErr != nil {
		file.Close()
		return errors.Wrapf(mapErr, "mapping %s", name)
	}
	(*rsrcs)[name] = ResourceEntry{file, data}
	return nil
}

// Has reports whether an artifact resolved.
func (rsrcs Resources) Has(name string) bool {
	_, ok := rsrcs[name]
	return ok
}

// Get returns the artifact's contents, or nil when it did not resolve.
func (rsrcs Resources) Get(name string) []byte {
	entry, ok := rsrcs[name]
	if !ok || entry.Data == nil {
		return nil
	}
	return *entry.Data
}

// Names lists the resolved artifacts in stable order.
func (rsrcs Resources) Names() []string {
	names := make([]string, 0, len(rsrcs))
	for name := range rsrcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rsrcs *Resources) Cleanup() {
	for _, rsrc := range *rsrcs {
		if rsrc.file != nil {
			rsrc.file.Close()
		}
	}
}
