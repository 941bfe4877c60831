package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/tokforge/retok"
	"github.com/tokforge/retok/config"
	"github.com/tokforge/retok/resources"
)

// Re-exports a tokenizer artifact set in the canonical layout. Legacy
// artifact sets are upgraded to the single-file fast document; artifact
// sets that already carry one can be rewritten in place.

func main() {
	configPath := flag.String("config", "",
		"path to a YAML config file")
	outputDir := flag.String("output", "",
		"directory to write to; defaults to the source directory for "+
			"local models and to a directory named after the model id "+
			"for fetched ones")
	modeOpt := flag.String("mode", "",
		"export mode: 'canonical' writes the full upgraded artifact "+
			"set, 'inplace' rewrites only files already present")
	storeDir := flag.String("store", "",
		"root directory for fetched artifacts")
	noCache := flag.Bool("no-cache", false,
		"fetch into a temporary store and discard it on exit")
	endpoint := flag.String("endpoint", "",
		"hub endpoint to resolve remote models against")
	authToken := flag.String("token", "",
		"bearer token for hub requests")
	parallel := flag.Int("parallel", 0,
		"number of parallel downloads and encoder threads")
	sampleFile := flag.String("sample", "",
		"text file used to check round-trip fidelity after the export")
	debug := flag.Bool("debug", false,
		"enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatal("must provide a model id, local directory, or artifact URL")
	}
	modelId := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *endpoint != "" {
		cfg.Hub.Endpoint = *endpoint
	}
	if *authToken != "" {
		cfg.Hub.Token = *authToken
	}
	if *storeDir != "" {
		cfg.Store.Dir = *storeDir
	}
	if *noCache {
		cfg.Store.Disabled = true
	}
	if *modeOpt != "" {
		cfg.Export.Mode = *modeOpt
	}
	if *parallel > 0 {
		cfg.Export.Parallel = *parallel
	}
	if *debug {
		cfg.Debug = true
	}

	mode, err := retok.ParseExportMode(cfg.Export.Mode)
	if err != nil {
		log.Fatal(err)
	}

	logger := retok.GetLogger().Level(zerolog.InfoLevel)
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ropts := []retok.Option{
		retok.WithLogger(logger),
		retok.WithClient(resources.NewClient(cfg.ClientOption())),
		retok.WithParallel(cfg.Export.Parallel),
	}
	if cfg.Store.Disabled {
		ropts = append(ropts, retok.WithNoCache())
	} else if cfg.Store.Dir != "" {
		ropts = append(ropts, retok.WithStore(resources.DirStore(cfg.Store.Dir)))
	}

	ctx := context.Background()
	tok, err := retok.FromPretrained(ctx, modelId, ropts...)
	if err != nil {
		log.Fatalf("loading %s: %s", modelId, err)
	}
	defer tok.Cleanup()

	dest := *outputDir
	if dest == "" {
		dest = retok.UpgradePath(modelId, tok)
	}
	if err := tok.Export(dest, mode); err != nil {
		log.Fatalf("exporting to %s: %s", dest, err)
	}
	fmt.Printf("exported %s artifacts to %s\n", tok.Format, dest)

	if *sampleFile != "" {
		verifyExport(ctx, tok, dest, *sampleFile, logger)
	}
}

// verifyExport reloads the freshly written artifact set and checks that it
// encodes a text sample to the same token sequences as the source.
func verifyExport(ctx context.Context, tok *retok.Tokenizer, dest string,
	sampleFile string, logger zerolog.Logger) {
	sample, err := os.ReadFile(sampleFile)
	if err != nil {
		log.Fatal(err)
	}
	exported, err := retok.FromPretrained(ctx, dest,
		retok.WithLogger(logger))
	if err != nil {
		log.Fatalf("reloading export from %s: %s", dest, err)
	}
	defer exported.Cleanup()

	report, err := retok.CompareFidelity(tok, exported, string(sample))
	if err != nil {
		log.Fatal(err)
	}
	for _, miss := range report.Mismatched {
		fmt.Printf("mismatch on %q:\n  before %v\n  after  %v\n",
			miss.Text, miss.Want, miss.Got)
	}
	fmt.Printf("fidelity: %d/%d sentences reproduced\n",
		report.Matched, report.Sentences)
	if !report.Ok() {
		os.Exit(1)
	}
}
