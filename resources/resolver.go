package resources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnrecognized is returned when a location holds no artifact capable of
// defining a tokenizer.
var ErrUnrecognized = errors.New("no recognizable tokenizer artifacts")

// WriteCounter counts the bytes written through it and reports download
// progress at ten second intervals.
type WriteCounter struct {
	Total  uint64
	Last   time.Time
	Path   string
	Size   uint64
	Logger zerolog.Logger
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Total += uint64(n)
	if time.Since(wc.Last) > 10*time.Second {
		wc.Last = time.Now()
		wc.Logger.Info().
			Str("artifact", wc.Path).
			Str("done", humanize.Bytes(wc.Total)).
			Str("size", humanize.Bytes(wc.Size)).
			Msg("downloading")
	}
	return n, nil
}

// Options are the collaborators of a resolution. The zero value is not
// usable; start from DefaultOptions.
type Options struct {
	Store    Store
	Client   *Client
	Entries  ResourceEntryDefs
	Logger   zerolog.Logger
	Parallel int
}

func DefaultOptions() *Options {
	return &Options{
		Store:    DirStore(DefaultStoreRoot()),
		Client:   NewClient(),
		Entries:  GetResourceEntries(),
		Logger:   zerolog.New(os.Stderr).With().Timestamp().Logger(),
		Parallel: 4,
	}
}

func (o *Options) complete() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.Store == nil {
		out.Store = DirStore(DefaultStoreRoot())
	}
	if out.Client == nil {
		out.Client = NewClient()
	}
	if out.Entries == nil {
		out.Entries = GetResourceEntries()
	}
	if out.Parallel <= 0 {
		out.Parallel = 4
	}
	return &out
}

// Resolution is a materialized artifact set: a local directory and the
// mapped contents of every artifact found there.
type Resolution struct {
	ModelId   string
	Dir       string
	Remote    bool
	Resources Resources
}

func (r *Resolution) Cleanup() {
	if r != nil {
		r.Resources.Cleanup()
	}
}

func isValidUrl(toTest string) bool {
	_, err := url.ParseRequestURI(toTest)
	if err != nil {
		return false
	}
	u, err := url.Parse(toTest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return true
}

// Resolve
// Materializes the artifact set behind an identifier. A local directory is
// used in place and never written to; a URL fetches the single named
// artifact into the store; anything else is treated as a hub id and its
// artifact set is fetched into the store, skipping files already cached at
// the advertised size.
func Resolve(ctx context.Context, id string, opts *Options) (*Resolution, error) {
	o := opts.complete()
	if info, err := os.Stat(id); err == nil && info.IsDir() {
		return resolveLocal(id, o)
	}
	if isValidUrl(id) {
		return resolveURL(ctx, id, o)
	}
	return resolveHub(ctx, id, o)
}

func resolveLocal(dir string, o *Options) (*Resolution, error) {
	found := make(Resources, len(o.Entries))
	for name := range o.Entries {
		target := filepath.Join(dir, name)
		if info, err := os.Stat(target); err != nil || info.IsDir() {
			continue
		}
		file, openErr := os.Open(target)
		if openErr != nil {
			found.Cleanup()
			return nil, errors.Wrapf(openErr, "opening %s", target)
		}
		if addErr := found.AddEntry(name, file); addErr != nil {
			found.Cleanup()
			return nil, addErr
		}
	}
	if countPrimary(found, o.Entries) == 0 {
		found.Cleanup()
		return nil, errors.Wrapf(ErrUnrecognized, "%s", dir)
	}
	return &Resolution{ModelId: dir, Dir: dir, Resources: found}, nil
}

func resolveURL(ctx context.Context, rawUrl string, o *Options) (*Resolution, error) {
	u, _ := url.Parse(rawUrl)
	name := path.Base(u.Path)
	if flag, known := o.Entries[name]; !known || flag&RESOURCE_ONEOF == 0 {
		return nil, errors.Wrapf(ErrUnrecognized, "%s", rawUrl)
	}
	dir, err := o.Store.Dir(rawUrl)
	if err != nil {
		return nil, err
	}
	size, sizeErr := o.Client.SizeHTTP(ctx, rawUrl)
	if sizeErr != nil {
		return nil, errors.Wrapf(sizeErr, "resolving %s", rawUrl)
	}
	target := filepath.Join(dir, name)
	if info, statErr := os.Stat(target); statErr != nil || info.Size() != size {
		if err = downloadArtifact(ctx, o, rawUrl, target, size); err != nil {
			return nil, err
		}
	}
	res, err := resolveLocal(dir, o)
	if err != nil {
		return nil, err
	}
	res.ModelId = rawUrl
	res.Remote = true
	return res, nil
}

func resolveHub(ctx context.Context, id string, o *Options) (*Resolution, error) {
	dir, err := o.Store.Dir(id)
	if err != nil {
		return nil, err
	}

	type remoteArtifact struct {
		name string
		size int64
	}
	var (
		mu        sync.Mutex
		available []remoteArtifact
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Parallel)
	for name, flag := range o.Entries {
		name, flag := name, flag
		g.Go(func() error {
			uri := o.Client.ResolveURL(id, name)
			o.Logger.Debug().Str("artifact", fmt.Sprintf("%s/%s", id, name)).Msg("resolving")
			size, sizeErr := o.Client.SizeHTTP(gctx, uri)
			if sizeErr != nil {
				if flag&RESOURCE_REQUIRED != 0 {
					return errors.Wrapf(sizeErr, "required artifact %s/%s", id, name)
				}
				o.Logger.Debug().
					Str("artifact", fmt.Sprintf("%s/%s", id, name)).
					Msg("not present remotely, not required")
				return nil
			}
			mu.Lock()
			available = append(available, remoteArtifact{name, size})
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	primaries := 0
	for _, art := range available {
		if o.Entries[art.name]&RESOURCE_ONEOF != 0 {
			primaries++
		}
	}
	if primaries == 0 {
		return nil, errors.Wrapf(ErrUnrecognized, "%s", id)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.Parallel)
	for _, art := range available {
		art := art
		g.Go(func() error {
			target := filepath.Join(dir, art.name)
			if info, statErr := os.Stat(target); statErr == nil && info.Size() == art.size {
				o.Logger.Debug().
					Str("artifact", fmt.Sprintf("%s/%s", id, art.name)).
					Msg("already cached at the advertised size")
				return nil
			}
			return downloadArtifact(gctx, o, o.Client.ResolveURL(id, art.name), target, art.size)
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	res, err := resolveLocal(dir, o)
	if err != nil {
		return nil, err
	}
	res.ModelId = id
	res.Remote = true
	return res, nil
}

func downloadArtifact(ctx context.Context, o *Options, uri string, target string, size int64) error {
	reader, err := o.Client.FetchHTTP(ctx, uri)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", uri)
	}
	defer reader.Close()

	file, err := os.OpenFile(target, os.O_TRUNC|os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s for write", target)
	}
	counter := &WriteCounter{
		Last:   time.Now(),
		Path:   uri,
		Size:   uint64(size),
		Logger: o.Logger,
	}
	written, err := io.Copy(file, io.TeeReader(reader, counter))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return errors.Wrapf(err, "downloading %s", uri)
	}
	o.Logger.Info().
		Str("artifact", uri).
		Str("size", humanize.Bytes(uint64(written))).
		Msg("downloaded")
	return nil
}

func countPrimary(found Resources, entries ResourceEntryDefs) int {
	n := 0
	for name := range found {
		if entries[name]&RESOURCE_ONEOF != 0 {
			n++
		}
	}
	return n
}
