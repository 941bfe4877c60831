// Package retok loads huggingface tokenizer artifact sets, local or remote,
// and re-exports them in the current canonical layout. Legacy artifact sets
// (split vocabularies, merge files, sentencepiece models) are upgraded into
// the single-file fast document; artifact sets that already carry one can be
// rewritten in place.
package retok

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/schema"
	"github.com/tokforge/retok/types"
)

type Token = types.Token
type Tokens = types.Tokens

// Codec encodes text to token ids and back.
type Codec interface {
	Encode(text string) (types.Tokens, error)
	Decode(tokens types.Tokens) (string, error)
}

// ExportMode selects what a re-export writes.
type ExportMode int

const (
	// ExportCanonical writes the full canonical artifact set: the fast
	// document plus its config companions and legacy compatibility files.
	ExportCanonical ExportMode = iota
	// ExportInPlace rewrites only the tokenizer artifacts already present
	// in the target directory.
	ExportInPlace
)

func ParseExportMode(s string) (ExportMode, error) {
	switch s {
	case "", "canonical", "upgrade":
		return ExportCanonical, nil
	case "inplace", "in-place", "rewrite":
		return ExportInPlace, nil
	}
	return ExportCanonical, errors.Errorf("unknown export mode %q", s)
}

// Options collects the collaborators of a load.
type Options struct {
	Store    resources.Store
	Client   *resources.Client
	Logger   *zerolog.Logger
	Parallel int
}

type Option func(*Options)

// WithStore sets the directory store remote artifact sets download into.
func WithStore(store resources.Store) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// WithNoCache downloads into a throwaway directory instead of the store.
func WithNoCache() Option {
	return func(o *Options) {
		o.Store = resources.NewTempStore()
	}
}

func WithClient(client *resources.Client) Option {
	return func(o *Options) {
		o.Client = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = &logger
	}
}

func WithParallel(parallel int) Option {
	return func(o *Options) {
		o.Parallel = parallel
	}
}

// Tokenizer is a loaded artifact set: its merged metadata, the assembled
// fast document, and a working codec over it.
type Tokenizer struct {
	Meta   *resources.Metadata
	Schema *schema.Tokenizer
	Format string

	res    *resources.Resolution
	codec  Codec
	opts   Options
	logger zerolog.Logger
}

// FromPretrained resolves a model identifier, local directory, or artifact
// URL, dispatches on the artifacts found to a format handler, and returns a
// ready tokenizer. The caller owns the returned tokenizer's Cleanup.
func FromPretrained(ctx context.Context, modelId string, opts ...Option) (*Tokenizer, error) {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := GetLogger()
	if options.Logger != nil {
		logger = *options.Logger
	}

	res, err := resources.Resolve(ctx, modelId, &resources.Options{
		Store:    options.Store,
		Client:   options.Client,
		Logger:   logger,
		Parallel: options.Parallel,
	})
	if err != nil {
		return nil, err
	}

	meta, err := resources.ResolveMetadata(res.ModelId, res.Resources)
	if err != nil {
		res.Cleanup()
		return nil, err
	}

	handler, err := detectFormat(res.Resources, meta)
	if err != nil {
		res.Cleanup()
		return nil, err
	}
	logger.Debug().
		Str("model", res.ModelId).
		Str("format", handler.Name()).
		Msg("dispatching format handler")

	doc, err := handler.Load(res, meta)
	if err != nil {
		res.Cleanup()
		return nil, errors.Wrapf(err, "loading %s artifacts", handler.Name())
	}

	codec, err := codecForDocument(doc, meta, logger)
	if err != nil {
		res.Cleanup()
		return nil, err
	}

	return &Tokenizer{
		Meta:   meta,
		Schema: doc,
		Format: handler.Name(),
		res:    res,
		codec:  codec,
		opts:   options,
		logger: logger,
	}, nil
}

// Dir is the local directory the artifact set was materialized in.
func (t *Tokenizer) Dir() string {
	return t.res.Dir
}

// Remote reports whether the artifact set was fetched rather than read from
// a local directory.
func (t *Tokenizer) Remote() bool {
	return t.res.Remote
}

// Artifacts lists the artifact names the resolver found, sorted.
func (t *Tokenizer) Artifacts() []string {
	return t.res.Resources.Names()
}

// Codec exposes the working encoder.
func (t *Tokenizer) Codec() Codec {
	return t.codec
}

func (t *Tokenizer) Encode(text string) (types.Tokens, error) {
	return t.codec.Encode(text)
}

func (t *Tokenizer) Decode(tokens types.Tokens) (string, error) {
	return t.codec.Decode(tokens)
}

// Cleanup releases the artifact mappings and tears down throwaway stores.
func (t *Tokenizer) Cleanup() {
	if t == nil {
		return
	}
	t.res.Cleanup()
	if closer, ok := t.opts.Store.(io.Closer); ok {
		closer.Close()
	}
}

// codecForDocument builds the engine matching the document's model section.
func codecForDocument(doc *schema.Tokenizer, meta *resources.Metadata,
	logger zerolog.Logger) (Codec, error) {
	switch doc.Model.Type {
	case "BPE", "Unigram":
		return newBpeCodec(doc, meta, logger)
	case "WordPiece":
		return newWordPieceCodec(doc, meta, logger)
	}
	return nil, errors.Errorf("no codec for model type %q", doc.Model.Type)
}
