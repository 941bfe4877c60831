package retok

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

var benchCorpus = strings.Repeat("hello world. hello hello world!\n", 4096)

func BenchmarkBpeCodec_WordSplitter(b *testing.B) {
	b.StopTimer()
	codec := gpt2Tok.Codec().(*BpeCodec)
	corpusHandle := strings.NewReader(benchCorpus)
	nextWord := codec.WordSplitter(
		bufio.NewReaderSize(corpusHandle, 8*1024*1024))

	start := time.Now()
	b.StartTimer()
	wordCount := 0
	for {
		word := nextWord()
		if word == nil {
			break
		}
		wordCount++
	}
	b.StopTimer()
	elapsed := time.Since(start)
	b.ReportMetric(float64(wordCount)/elapsed.Seconds(), "words/sec")
	b.ReportMetric(float64(wordCount), "words")
}

func BenchmarkBpeCodec_ToBPE(b *testing.B) {
	b.StopTimer()
	codec := gpt2Tok.Codec().(*BpeCodec)

	words := codec.SplitWords(benchCorpus)
	totalTokens := 0
	for idx := range words {
		totalTokens += len(codec.ToBPE(words[idx]))
	}

	numBytes := len(benchCorpus)
	start := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		for idx := range words {
			codec.ToBPE(words[idx])
		}
	}
	b.StopTimer()

	elapsed := time.Since(start)
	totalTokens *= b.N
	b.ReportMetric(float64(numBytes)/elapsed.Seconds(), "bytes/sec")
	b.ReportMetric(float64(totalTokens)/elapsed.Seconds(), "tokens/sec")
	b.ReportMetric(float64(codec.LruHits), "lru_hits")
	b.ReportMetric(float64(codec.LruMisses), "lru_misses")
}

func BenchmarkBpeCodec_StreamingEncode(b *testing.B) {
	b.StopTimer()
	codec := gpt2Tok.Codec().(*BpeCodec)
	corpusHandle := strings.NewReader(benchCorpus)
	nextTokens := codec.StreamingEncode(
		bufio.NewReaderSize(corpusHandle, 8*1024*1024))

	start := time.Now()
	b.StartTimer()
	tokenCount := 0
	for {
		tokens := nextTokens(4096)
		if tokens == nil {
			break
		}
		tokenCount += len(*tokens)
	}
	b.StopTimer()
	elapsed := time.Since(start)
	b.ReportMetric(float64(tokenCount)/elapsed.Seconds(), "tokens/sec")
	b.ReportMetric(float64(len(benchCorpus))/elapsed.Seconds(), "bytes/sec")
}

func BenchmarkBpeCodec_Encode(b *testing.B) {
	start := time.Now()
	tokens, err := gpt2Tok.Encode(benchCorpus)
	if err != nil {
		b.Fatal(err)
	}
	duration := time.Since(start)
	b.Logf("%v bytes into %v tokens over %v",
		len(benchCorpus), len(tokens), duration)
}

func BenchmarkBpeCodec_Decode(b *testing.B) {
	tokens, err := gpt2Tok.Encode(benchCorpus)
	if err != nil {
		b.Fatal(err)
	}
	start := time.Now()
	decoded, err := gpt2Tok.Decode(tokens)
	if err != nil {
		b.Fatal(err)
	}
	duration := time.Since(start)
	b.Logf("%v tokens into %v bytes over %v",
		len(tokens), len(decoded), duration)
}

func BenchmarkWordPieceCodec_Encode(b *testing.B) {
	start := time.Now()
	tokens, err := bertTok.Encode(benchCorpus)
	if err != nil {
		b.Fatal(err)
	}
	duration := time.Since(start)
	b.Logf("%v bytes into %v tokens over %v",
		len(benchCorpus), len(tokens), duration)
}
