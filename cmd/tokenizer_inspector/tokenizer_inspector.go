package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/tokforge/retok"
	"github.com/tokforge/retok/config"
	"github.com/tokforge/retok/resources"
	"github.com/tokforge/retok/types"
)

// Prints what the resolver and the format dispatch make of a tokenizer
// artifact set: the detected format, the merged metadata, and the
// artifacts backing them.

func main() {
	configPath := flag.String("config", "",
		"path to a YAML config file")
	noCache := flag.Bool("no-cache", false,
		"fetch into a temporary store and discard it on exit")
	sample := flag.String("text", "",
		"text to encode and decode with the loaded tokenizer")
	binOut := flag.String("bin", "",
		"write the encoded -text tokens to FILE as a little-endian stream")
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
	if *debug {
		cfg.Debug = true
	}

	logger := retok.GetLogger().Level(zerolog.InfoLevel)
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ropts := []retok.Option{
		retok.WithLogger(logger),
		retok.WithClient(resources.NewClient(cfg.ClientOption())),
	}
	if *noCache || cfg.Store.Disabled {
		ropts = append(ropts, retok.WithNoCache())
	} else if cfg.Store.Dir != "" {
		ropts = append(ropts, retok.WithStore(resources.DirStore(cfg.Store.Dir)))
	}

	tok, err := retok.FromPretrained(context.Background(), modelId, ropts...)
	if err != nil {
		log.Fatalf("loading %s: %s", modelId, err)
	}
	defer tok.Cleanup()

	source := "local directory"
	if tok.Remote() {
		source = "fetched"
	}
	tprint("model",
		[]string{"Id", "Class", "Format", "Vocab Size", "Source"},
		[]string{
			orDash(tok.Meta.ModelId, modelId),
			orDash(tok.Meta.TokenizerClass, "-"),
			tok.Format,
			fmt.Sprint(vocabSize(tok)),
			source,
		})

	if rows := specialTokenRows(tok.Meta); len(rows) > 0 {
		tprint("special tokens", []string{"Role", "Surface", "Id"}, rows...)
	}

	tprint("artifacts", []string{"Name", "Size"}, artifactRows(tok)...)

	if *sample != "" {
		tokens := encodePrint(tok, *sample)
		if *binOut != "" {
			writeBin(tok, tokens, *binOut)
		}
	} else if *binOut != "" {
		log.Fatal("-bin requires -text to encode")
	}
}

func orDash(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func vocabSize(tok *retok.Tokenizer) int {
	model := tok.Schema.Model
	if len(model.Vocab) > 0 {
		return len(model.Vocab)
	}
	if len(model.UnigramVocab) > 0 {
		return len(model.UnigramVocab)
	}
	return int(tok.Meta.VocabSize)
}

func specialTokenRows(meta *resources.Metadata) [][]string {
	roles := []struct {
		name    string
		surface string
		id      *types.Token
	}{
		{"bos", meta.BosToken, meta.BosTokenId},
		{"eos", meta.EosToken, meta.EosTokenId},
		{"unk", meta.UnkToken, meta.UnkTokenId},
		{"pad", meta.PadToken, meta.PadTokenId},
		{"sep", meta.SepToken, nil},
		{"cls", meta.ClsToken, nil},
		{"mask", meta.MaskToken, nil},
	}
	rows := make([][]string, 0, len(roles))
	for _, role := range roles {
		if role.surface == "" {
			continue
		}
		id := "-"
		if role.id != nil {
			id = fmt.Sprint(*role.id)
		}
		rows = append(rows, []string{role.name, role.surface, id})
	}
	return rows
}

func artifactRows(tok *retok.Tokenizer) [][]string {
	names := tok.Artifacts()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		size := "-"
		if info, err := os.Stat(filepath.Join(tok.Dir(), name)); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		rows = append(rows, []string{name, size})
	}
	return rows
}

func encodePrint(tok *retok.Tokenizer, text string) types.Tokens {
	tokens, err := tok.Encode(text)
	if err != nil {
		log.Fatalf("encoding: %s", err)
	}
	decoded, err := tok.Decode(tokens)
	if err != nil {
		log.Fatalf("decoding: %s", err)
	}
	fmt.Printf("tokens: %v\n", tokens)
	fmt.Printf("decoded: %q\n", decoded)
	return tokens
}

func writeBin(tok *retok.Tokenizer, tokens types.Tokens, path string) {
	wide := vocabSize(tok) > 65536
	bin, err := tokens.ToBin(wide)
	if err != nil {
		log.Fatalf("serializing token stream: %s", err)
	}
	if err := os.WriteFile(path, bin, 0644); err != nil {
		log.Fatalf("writing %s: %s", path, err)
	}
	width := 16
	if wide {
		width = 32
	}
	fmt.Printf("wrote %s: %s, %d-bit\n",
		path, humanize.Bytes(uint64(len(bin))), width)
}

func tprint(title string, header []string, body ...[]string) {
	title = strings.ToUpper(title)

	tb := tablewriter.NewWriter(os.Stdout)

	tb.SetTablePadding("\t")
	tb.SetAlignment(tablewriter.ALIGN_CENTER)
	tb.SetHeaderLine(true)
	tb.SetRowLine(true)

	tb.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	tb.SetAutoFormatHeaders(false)
	tb.SetHeader(append([]string{"\\"}, header...))

	tb.SetAutoWrapText(false)
	tb.SetColMinWidth(0, 12)
	tb.SetAutoMergeCellsByColumnIndex([]int{0})
	for i := range body {
		tb.Append(append([]string{title}, body[i]...))
	}

	tb.Render()
	fmt.Println()
}
