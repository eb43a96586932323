// Copyright (c) 2025, The Garble Authors.
// See LICENSE for licensing information.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AeonDave/stringfog/internal/archive"
	"github.com/AeonDave/stringfog/internal/cache"
	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/config"
	"github.com/AeonDave/stringfog/internal/helper"
	"github.com/AeonDave/stringfog/internal/keygen"
	"github.com/AeonDave/stringfog/internal/literals"
	"github.com/AeonDave/stringfog/internal/mapping"
	"github.com/AeonDave/stringfog/internal/pipeline"
	"github.com/AeonDave/stringfog/internal/transform"
)

// buildState is shared by the steps of a build.
type buildState struct {
	cfg         config.Config
	inputs      []string
	outputs     []string
	genDir      string
	mappingPath string

	kg      keygen.Generator
	desc    helper.Descriptor
	tf      *transform.Transformer
	cache   *cache.Cache
	printer *mapping.Printer

	classes  atomic.Int64
	changed  atomic.Int64
	hits     atomic.Int64
	warnings atomic.Int64
}

func runBuild(ctx context.Context, inputs []string, helperOnly bool) error {
	p := buildPipeline(helperOnly)
	p.Trace = func(name string, took time.Duration, err error) {
		if flagDebug {
			log.Printf("%s took %s", name, took.Round(time.Millisecond))
		}
	}
	return p.Execute(ctx, &buildState{inputs: inputs})
}

func buildPipeline(helperOnly bool) *pipeline.Pipeline[*buildState] {
	p := pipeline.New[*buildState](
		pipeline.Func("config", resolveConfig),
		pipeline.Func("key", generateKey),
		pipeline.Func("helper", writeHelper),
	)
	if !helperOnly {
		p.Add(pipeline.Func("transform", transformInputs))
		p.Add(pipeline.Func("mapping", writeMapping))
	}
	return p
}

// projectPath resolves a configured path against the project directory.
func projectPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(flagDir, p)
}

func resolveConfig(_ context.Context, st *buildState) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st.cfg = cfg
	for _, in := range st.inputs {
		out := in
		if flagOutput != "" {
			out = flagOutput
			if len(st.inputs) > 1 {
				out = filepath.Join(flagOutput, filepath.Base(in))
			}
		}
		st.outputs = append(st.outputs, out)
	}

	// Generated files go next to the first output by default.
	base := flagDir
	if len(st.outputs) > 0 {
		base = filepath.Dir(filepath.Clean(st.outputs[0]))
	}
	st.genDir = projectPath(cfg.Gen)
	if st.genDir == "" {
		st.genDir = filepath.Join(base, "generated")
	}
	st.mappingPath = projectPath(cfg.Mapping)
	if st.mappingPath == "" {
		st.mappingPath = filepath.Join(base, "mapping", "stringfog.txt")
	}
	return nil
}

func generateKey(_ context.Context, st *buildState) error {
	c, err := cipher.Lookup(st.cfg.Implementation)
	if err != nil {
		return err
	}
	mode, err := literals.ParseMode(st.cfg.Mode)
	if err != nil {
		return err
	}
	st.kg, err = keygen.Parse(st.cfg.KeyGenerator, keygen.Options{Unit: st.cfg.Unit, Inputs: st.inputs})
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	key, err := st.kg.Generate(c.KeySize())
	if err != nil {
		return err
	}
	st.desc = helper.Descriptor{Unit: st.cfg.Unit, Key: key, Mode: mode, Cipher: c}
	st.tf, err = transform.New(transform.Config{
		Helper:         st.desc,
		Enabled:        st.cfg.Enabled,
		Packages:       st.cfg.Packages,
		Ignore:         st.cfg.Ignore,
		HoistConstants: st.cfg.HoistConstants,
		KeepPool:       st.cfg.KeepPool,
		Debug:          st.cfg.Debug,
	})
	if err != nil {
		return err
	}
	if flagDebug {
		log.Printf("cipher %s, mode %s, %s key of %d bytes", c.Name(), mode, st.kg.Name(), len(key))
	}
	return nil
}

func writeHelper(_ context.Context, st *buildState) error {
	if !st.cfg.Enabled {
		return nil
	}
	path, changed, err := helper.WriteFile(st.genDir, st.desc)
	if err != nil {
		return err
	}
	if flagDebug {
		log.Printf("helper %s (changed: %t)", path, changed)
	}
	return nil
}

func transformInputs(ctx context.Context, st *buildState) error {
	if st.cfg.Enabled && !st.cfg.NoCache && st.kg.Deterministic() {
		dir := projectPath(st.cfg.Cache)
		if dir == "" {
			userDir, err := os.UserCacheDir()
			if err != nil {
				return fmt.Errorf("cannot find a cache directory, use -cache or -no-cache: %w", err)
			}
			dir = filepath.Join(userDir, "stringfog")
		}
		c, err := cache.Open(dir, st.desc.Key)
		if err != nil {
			return err
		}
		st.cache = c
	}
	st.printer = mapping.New(st.desc.Cipher.Name(), st.desc.Mode.String())
	for i, in := range st.inputs {
		stats, err := archive.Process(ctx, in, st.outputs[i], st.cfg.Jobs, st.transformClass)
		if err != nil {
			return err
		}
		if flagDebug {
			log.Printf("%s: %d classes, %d rewritten, %d files copied", in, stats.Classes, stats.Changed, stats.Copied)
		}
	}
	return nil
}

func writeMapping(_ context.Context, st *buildState) error {
	if !st.cfg.Enabled {
		return nil
	}
	st.printer.Flush(st.mappingPath)
	if flagDebug {
		log.Printf("rewrote %d strings in %d of %d classes, %d from cache, %d warnings",
			st.printer.Len(), st.changed.Load(), st.classes.Load(), st.hits.Load(), st.warnings.Load())
	}
	return nil
}

func (st *buildState) warn(msg string) {
	st.warnings.Add(1)
	log.Printf("warning: %s", msg)
}

// transformClass is the archive.Func of a build. Classes are looked up in
// the cache first when the key is deterministic.
func (st *buildState) transformClass(_ context.Context, entry string, data []byte) ([]byte, error) {
	className := transform.ClassName(entry)
	if !st.tf.Eligible(className) {
		return data, nil
	}
	st.classes.Add(1)

	var id cache.ActionID
	if st.cache != nil {
		id = st.actionID(className, data)
		if e, ok := st.cache.Get(id); ok {
			st.hits.Add(1)
			for _, r := range e.Records {
				st.printer.Record(className, r.Plain, r.Encoded)
			}
			for _, w := range e.Warnings {
				st.warn(w)
			}
			if !e.Changed {
				return data, nil
			}
			st.changed.Add(1)
			return e.Class, nil
		}
	}

	res, err := st.tf.Transform(data, className)
	if err != nil {
		return nil, err
	}
	e := cache.Entry{Changed: res.Changed}
	if res.Changed {
		st.changed.Add(1)
		e.Class = res.Class
	}
	for _, r := range res.Records {
		st.printer.Record(r.Class, r.Plain, r.Encoded)
		e.Records = append(e.Records, cache.Record{Plain: r.Plain, Encoded: r.Encoded})
	}
	for _, w := range res.Warnings {
		st.warn(w.Error())
		e.Warnings = append(e.Warnings, w.Error())
	}
	if st.cache != nil {
		if err := st.cache.Put(id, e); err != nil {
			log.Printf("cannot cache %s: %v", className, err)
		}
	}
	return res.Class, nil
}

// actionID hashes every input that affects how one class is rewritten.
func (st *buildState) actionID(className string, class []byte) cache.ActionID {
	return cache.Key(
		[]byte(toolVersion()),
		[]byte(st.desc.Cipher.Name()),
		[]byte(st.desc.Mode.String()),
		st.desc.Key,
		[]byte(st.desc.Unit),
		[]byte(strings.Join(st.cfg.Packages, "\n")),
		[]byte(strings.Join(st.cfg.Ignore, "\n")),
		[]byte(strconv.FormatBool(st.cfg.HoistConstants)),
		[]byte(strconv.FormatBool(st.cfg.KeepPool)),
		[]byte(className),
		class,
	)
}

// toolVersion identifies the stringfog binary, so that cache entries of
// other versions are never reused.
var toolVersion = sync.OnceValue(func() string {
	v := "stringfog-cache-v1"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v += " " + info.Main.Version
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" || s.Key == "vcs.modified" {
			v += " " + s.Value
		}
	}
	return v
})
