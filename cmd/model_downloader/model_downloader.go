package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/tokforge/retok/resources"
)

// Prefetches the tokenizer artifacts behind a model id into the local
// store so later loads work offline.

func main() {
	modelId := flag.String("model", "",
		"model id, local path, or artifact URL to fetch")
	storeDir := flag.String("store", "",
		"store root to fetch into")
	flag.Parse()
	if *modelId == "" {
		flag.Usage()
		log.Fatal("Must provide -model")
	}

	opts := resources.DefaultOptions()
	if *storeDir != "" {
		opts.Store = resources.DirStore(*storeDir)
	}
	res, err := resources.Resolve(context.Background(), *modelId, opts)
	if err != nil {
		log.Fatalf("Error fetching model resources: %s", err)
	}
	defer res.Cleanup()

	fmt.Printf("fetched %d artifacts for %s into %s\n",
		len(res.Resources), res.ModelId, res.Dir)
	for _, name := range res.Resources.Names() {
		fmt.Printf("  %s\n", name)
	}
}
