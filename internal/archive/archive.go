// Package archive feeds the classes of class directories and jars to a
// transform function and writes the results. Every output file is replaced
// atomically, and a failing class leaves no partial output behind.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func transforms one class. name is the entry path with forward slashes,
// such as "com/app/Main.class", with any multi-release prefix removed.
// Returning data itself means the class is unchanged.
type Func func(ctx context.Context, name string, data []byte) ([]byte, error)

// Stats counts what Process did.
type Stats struct {
	Classes int64 // class files seen
	Changed int64 // class files rewritten
	Copied  int64 // other files copied through
}

func (s *Stats) add(o *Stats) {
	atomic.AddInt64(&s.Classes, o.Classes)
	atomic.AddInt64(&s.Changed, o.Changed)
	atomic.AddInt64(&s.Copied, o.Copied)
}

// IsJar reports whether path names a jar or another zip based archive.
func IsJar(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip", ".aar", ".war":
		return true
	}
	return false
}

// ClassName returns the class entry name to pass to a Func for an entry
// path, and whether the entry is a class to transform at all.
func ClassName(entry string) (string, bool) {
	if !strings.HasSuffix(entry, ".class") {
		return "", false
	}
	if rest, ok := strings.CutPrefix(entry, "META-INF/versions/"); ok {
		_, name, ok := strings.Cut(rest, "/")
		if !ok {
			return "", false
		}
		entry = name
	}
	if path.Base(entry) == "module-info.class" {
		return "", false
	}
	return entry, true
}

// Process transforms in, a class directory or a jar, into out. out may be
// in itself, which rewrites in place. jobs bounds the number of classes
// transformed at once.
func Process(ctx context.Context, in, out string, jobs int, fn Func) (Stats, error) {
	info, err := os.Stat(in)
	if err != nil {
		return Stats{}, err
	}
	if jobs < 1 {
		jobs = 1
	}
	if info.IsDir() {
		return processDir(ctx, in, out, jobs, fn)
	}
	if IsJar(in) {
		return processJar(ctx, in, out, jobs, fn)
	}
	return Stats{}, fmt.Errorf("%s: not a directory or jar", in)
}

func processDir(ctx context.Context, in, out string, jobs int, fn Func) (Stats, error) {
	inPlace, err := samePath(in, out)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	err = filepath.WalkDir(in, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(in, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(out, rel)
		name, isClass := ClassName(filepath.ToSlash(rel))
		g.Go(func() error {
			var s Stats
			if err := processFile(ctx, p, dst, name, isClass, inPlace, fn, &s); err != nil {
				return err
			}
			stats.add(&s)
			return nil
		})
		return nil
	})
	// A failed class cancels ctx, which also stops the walk.
	if werr := g.Wait(); werr != nil {
		return stats, werr
	}
	return stats, err
}

func processFile(ctx context.Context, src, dst, name string, isClass, inPlace bool, fn Func, s *Stats) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if !isClass {
		if inPlace {
			return nil
		}
		s.Copied++
		return writeFileAtomic(dst, data)
	}
	s.Classes++
	result, err := fn(ctx, name, data)
	if err != nil {
		return err
	}
	changed := !sameBytes(result, data)
	if changed {
		s.Changed++
	}
	if inPlace && !changed {
		return nil
	}
	return writeFileAtomic(dst, result)
}

// sameBytes reports whether a and b are the same slice, which is how a Func
// signals an unchanged class.
func sameBytes(a, b []byte) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

type entryResult struct {
	data    []byte
	changed bool
}

func processJar(ctx context.Context, in, out string, jobs int, fn Func) (Stats, error) {
	r, err := zip.OpenReader(in)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", in, err)
	}
	closed := false
	defer func() {
		if !closed {
			r.Close()
		}
	}()

	var stats Stats
	results := make([]*entryResult, len(r.File))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, f := range r.File {
		name, ok := ClassName(f.Name)
		if !ok || f.FileInfo().IsDir() {
			continue
		}
		stats.Classes++
		g.Go(func() error {
			data, err := readEntry(f)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", in, f.Name, err)
			}
			result, err := fn(gctx, name, data)
			if err != nil {
				return err
			}
			results[i] = &entryResult{data: result, changed: !sameBytes(result, data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	for _, res := range results {
		if res != nil && res.changed {
			stats.Changed++
		}
	}
	if stats.Changed == 0 {
		if inPlace, err := samePath(in, out); err != nil || inPlace {
			return stats, err
		}
	}

	err = writeAtomic(out, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		if r.Comment != "" {
			if err := zw.SetComment(r.Comment); err != nil {
				return err
			}
		}
		for i, f := range r.File {
			res := results[i]
			if res == nil || !res.changed {
				if _, ok := ClassName(f.Name); !ok {
					stats.Copied++
				}
				if err := zw.Copy(f); err != nil {
					return fmt.Errorf("%s: %w", f.Name, err)
				}
				continue
			}
			hdr := &zip.FileHeader{
				Name:           f.Name,
				Comment:        f.Comment,
				Method:         f.Method,
				Modified:       f.Modified,
				ExternalAttrs:  f.ExternalAttrs,
				CreatorVersion: f.CreatorVersion,
			}
			ew, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			if _, err := ew.Write(res.data); err != nil {
				return err
			}
		}
		if err := zw.Close(); err != nil {
			return err
		}
		// out may be in itself; the rename must not replace an open file.
		closed = true
		return r.Close()
	})
	return stats, err
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func samePath(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(ia, ib), nil
}

func writeFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// writeAtomic writes path through a temporary file in the same directory,
// renamed over path once write succeeded.
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
