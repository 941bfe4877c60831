package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/tokforge/retok"
	"github.com/tokforge/retok/types"
)

// A REPL for poking at a loaded tokenizer.

func main() {
	modelId := flag.String("model", "gpt2",
		"model id, local directory, or artifact URL to load")
	noCache := flag.Bool("no-cache", false,
		"fetch into a temporary store and discard it on exit")
	flag.Parse()

	var ropts []retok.Option
	if *noCache {
		ropts = append(ropts, retok.WithNoCache())
	}
	tok, err := retok.FromPretrained(context.Background(), *modelId, ropts...)
	if err != nil {
		log.Fatal(err)
	}
	defer tok.Cleanup()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(">>> ")
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Fatal(err)
		}
		// Remove trailing newline and replace \n with newline.
		input = strings.Replace(input[:len(input)-1], "\\n", "\n", -1)

		tokens, err := tok.Encode(input)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%v\n", tokens)
		for _, token := range tokens {
			piece, err := tok.Decode(types.Tokens{token})
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("|%s", piece)
		}
		fmt.Printf("\n")
	}
}
