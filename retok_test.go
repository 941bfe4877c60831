package retok

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokforge/retok/resources"
)

var gpt2Tok *Tokenizer
var bertTok *Tokenizer

func init() {
	var err error
	gpt2Tok, err = FromPretrained(context.Background(), "testdata/tinygpt2")
	if err != nil {
		log.Fatalf("loading testdata/tinygpt2: %v", err)
	}
	bertTok, err = FromPretrained(context.Background(), "testdata/tinybert")
	if err != nil {
		log.Fatalf("loading testdata/tinybert: %v", err)
	}
}

type EncodeTest struct {
	Input    string
	Expected Tokens
}

var Gpt2EncodeTests = []EncodeTest{
	{"hello world", Tokens{11, 16}},
	{"hello hello", Tokens{11, 19}},
	{"hello world!", Tokens{11, 16, 17}},
	{"world", Tokens{5, 13, 2, 7}},
	{"hello<|endoftext|>world", Tokens{11, 20, 5, 13, 2, 7}},
}

func TestFromPretrainedLocal(t *testing.T) {
	assert.Equal(t, FormatLegacyBPE, gpt2Tok.Format)
	assert.False(t, gpt2Tok.Remote())
	assert.Equal(t, "testdata/tinygpt2", gpt2Tok.Dir())
	assert.Equal(t, "GPT2Tokenizer", gpt2Tok.Meta.TokenizerClass)
	assert.Contains(t, gpt2Tok.Artifacts(), resources.VocabJsonFile)
	assert.Contains(t, gpt2Tok.Artifacts(), resources.MergesFile)

	assert.Equal(t, FormatWordPiece, bertTok.Format)
	assert.Equal(t, "BertTokenizer", bertTok.Meta.TokenizerClass)
}

func TestTokenizerEncode(t *testing.T) {
	for testIdx := range Gpt2EncodeTests {
		test := Gpt2EncodeTests[testIdx]
		tokens, err := gpt2Tok.Encode(test.Input)
		require.NoError(t, err)
		assert.Equal(t, test.Expected, tokens, "input %q", test.Input)
	}
}

func TestTokenizerEncodeEmpty(t *testing.T) {
	tokens, err := gpt2Tok.Encode("")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestTokenizerDecode(t *testing.T) {
	for testIdx := range Gpt2EncodeTests {
		test := Gpt2EncodeTests[testIdx]
		decoded, err := gpt2Tok.Decode(test.Expected)
		require.NoError(t, err)
		assert.Equal(t, test.Input, decoded)
	}
}

func TestParseExportMode(t *testing.T) {
	for _, name := range []string{"", "canonical", "upgrade"} {
		mode, err := ParseExportMode(name)
		require.NoError(t, err)
		assert.Equal(t, ExportCanonical, mode)
	}
	for _, name := range []string{"inplace", "in-place", "rewrite"} {
		mode, err := ParseExportMode(name)
		require.NoError(t, err)
		assert.Equal(t, ExportInPlace, mode)
	}
	_, err := ParseExportMode("bogus")
	assert.Error(t, err)
}

// fakeHub serves the named fixture directory the way the hub lays out
// artifact URLs.
func fakeHub(t *testing.T, modelId string, fixtureDir string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+modelId+"/resolve/main/",
		func(w http.ResponseWriter, r *http.Request) {
			data, err := os.ReadFile(
				filepath.Join(fixtureDir, path.Base(r.URL.Path)))
			if err != nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			if r.Method == http.MethodHead {
				return
			}
			w.Write(data)
		})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func hubClient(srv *httptest.Server) *resources.Client {
	return resources.NewClient(resources.ClientOptions().WithEndpoint(srv.URL))
}

func TestFromPretrainedRemote(t *testing.T) {
	srv := fakeHub(t, "tiny/gpt2", "testdata/tinygpt2")
	tok, err := FromPretrained(context.Background(), "tiny/gpt2",
		WithClient(hubClient(srv)),
		WithStore(resources.DirStore(t.TempDir())))
	require.NoError(t, err)
	defer tok.Cleanup()

	assert.True(t, tok.Remote())
	assert.Equal(t, FormatLegacyBPE, tok.Format)
	for _, name := range []string{
		resources.VocabJsonFile, resources.MergesFile,
		resources.TokenizerConfigFile, resources.ModelConfigFile,
	} {
		assert.FileExists(t, filepath.Join(tok.Dir(), name))
	}

	tokens, err := tok.Encode("hello world")
	require.NoError(t, err)
	assert.Equal(t, Tokens{11, 16}, tokens)
}

func TestFromPretrainedRemoteNoCache(t *testing.T) {
	srv := fakeHub(t, "tiny/gpt2", "testdata/tinygpt2")
	tok, err := FromPretrained(context.Background(), "tiny/gpt2",
		WithClient(hubClient(srv)),
		WithNoCache())
	require.NoError(t, err)

	dir := tok.Dir()
	assert.DirExists(t, dir)
	tok.Cleanup()
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr),
		"throwaway store should be removed on cleanup")
}

type recordingStore struct {
	resources.DirStore
	requested []string
}

func (s *recordingStore) Dir(modelId string) (string, error) {
	s.requested = append(s.requested, modelId)
	return s.DirStore.Dir(modelId)
}

func TestStoreInjection(t *testing.T) {
	srv := fakeHub(t, "tiny/gpt2", "testdata/tinygpt2")
	store := &recordingStore{DirStore: resources.DirStore(t.TempDir())}
	tok, err := FromPretrained(context.Background(), "tiny/gpt2",
		WithClient(hubClient(srv)),
		WithStore(store))
	require.NoError(t, err)
	defer tok.Cleanup()

	assert.Contains(t, store.requested, "tiny/gpt2")
}

func TestFromPretrainedUnrecognized(t *testing.T) {
	dir := t.TempDir()
	weights := []byte("not a tokenizer")
	require.NoError(t,
		os.WriteFile(filepath.Join(dir, "weights.bin"), weights, 0644))

	_, err := FromPretrained(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resources.ErrUnrecognized))

	// The failed load must leave the directory exactly as it was.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "weights.bin", entries[0].Name())
	kept, err := os.ReadFile(filepath.Join(dir, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, weights, kept)
}

func TestUpgradePath(t *testing.T) {
	assert.Equal(t, gpt2Tok.Dir(), UpgradePath("testdata/tinygpt2", gpt2Tok))

	srv := fakeHub(t, "tiny/gpt2", "testdata/tinygpt2")
	tok, err := FromPretrained(context.Background(), "tiny/gpt2",
		WithClient(hubClient(srv)),
		WithStore(resources.DirStore(t.TempDir())))
	require.NoError(t, err)
	defer tok.Cleanup()
	assert.Equal(t, filepath.FromSlash("tiny/gpt2"),
		UpgradePath("tiny/gpt2", tok))
}

func TestFromPretrainedRealHub(t *testing.T) {
	if os.Getenv("RETOK_NETWORK_TESTS") == "" {
		t.Skip("set RETOK_NETWORK_TESTS to exercise the live hub")
	}

	tok, err := FromPretrained(context.Background(), "gpt2",
		WithStore(resources.DirStore(t.TempDir())))
	require.NoError(t, err)
	defer tok.Cleanup()

	assert.True(t, tok.Remote())
	tokens, err := tok.Encode("hello world")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens)
	decoded, err := tok.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "hello world", decoded)
}
