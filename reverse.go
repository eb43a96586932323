// Copyright (c) 2025, The Garble Authors.
// See LICENSE for licensing information.

package main

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/keygen"
	"github.com/AeonDave/stringfog/internal/literals"
	"github.com/AeonDave/stringfog/internal/mapping"
)

// commandDecrypt decrypts the encoded literals given as arguments, or one
// per line on stdin, with the key the build used.
func commandDecrypt(w io.Writer, stdin io.Reader, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := cipher.Lookup(cfg.Implementation)
	if err != nil {
		return err
	}
	mode, err := literals.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	kg, err := keygen.Parse(cfg.KeyGenerator, keygen.Options{Unit: cfg.Unit})
	if err != nil {
		return err
	}
	if !kg.Deterministic() {
		return errors.New("decrypt needs the key generator of the build to be deterministic, such as -kg seeded:<secret>")
	}
	key, err := kg.Generate(c.KeySize())
	if err != nil {
		return err
	}

	decrypt := func(s string) error {
		lit := literals.Literal{Mode: mode, Text: s}
		if mode == literals.ModeBytes {
			b, err := literals.ParseSignedList(s)
			if err != nil {
				return err
			}
			lit = literals.Literal{Mode: mode, Bytes: b}
		}
		ct, err := literals.Decode(lit, mode)
		if err != nil {
			return err
		}
		plain, err := c.Decrypt(ct, key)
		if err != nil {
			return fmt.Errorf("%q: %w", s, err)
		}
		_, err = fmt.Fprintf(w, "%s\n", plain)
		return err
	}
	if len(args) > 0 {
		for _, arg := range args {
			if err := decrypt(arg); err != nil {
				return err
			}
		}
		return nil
	}
	sc := bufio.NewScanner(stdin)
	sc.Buffer(nil, 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			if err := decrypt(line); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}

// commandReverse replaces the encoded literals found in files, or stdin,
// with their plain text as recorded in the mapping file of a build.
func commandReverse(w io.Writer, stdin io.Reader, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	path := projectPath(cfg.Mapping)
	if path == "" {
		if flagOutput == "" {
			return errors.New("reverse needs the mapping file, via -mapping or the -o of the build")
		}
		path = filepath.Join(filepath.Dir(filepath.Clean(flagOutput)), "mapping", "stringfog.txt")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	m, err := mapping.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	repl := mappingReplacer(m)

	if len(args) == 0 {
		_, err := reverseContent(w, stdin, repl)
		return err
	}
	for _, name := range args {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		_, err = reverseContent(w, f, repl)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// mappingReplacer replaces every encoded literal of m with its plain text.
// Byte array literals also match in the {1, -2} form of Java sources.
func mappingReplacer(m *mapping.File) *strings.Replacer {
	type pair struct{ old, new string }
	var pairs []pair
	for _, r := range m.Records {
		if r.Encoded == "" {
			continue
		}
		pairs = append(pairs, pair{r.Encoded, r.Plain})
		if inner, ok := strings.CutPrefix(r.Encoded, "["); ok && strings.HasSuffix(inner, "]") {
			pairs = append(pairs, pair{"{" + strings.TrimSuffix(inner, "]") + "}", r.Plain})
		}
	}
	// Earlier pairs win, so that a literal is never matched by its prefix.
	slices.SortStableFunc(pairs, func(a, b pair) int { return cmp.Compare(len(b.old), len(a.old)) })
	oldnew := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		oldnew = append(oldnew, p.old, p.new)
	}
	return strings.NewReplacer(oldnew...)
}

// reverseContent copies r to w line by line, applying repl to each line.
// It reports whether any line changed.
func reverseContent(w io.Writer, r io.Reader, repl *strings.Replacer) (bool, error) {
	// Reading whole lines keeps the output interactive and never cuts a
	// literal in half. bufio.Reader keeps the newline characters.
	br := bufio.NewReader(r)
	modified := false
	for {
		// ReadString can return a final line together with io.EOF.
		line, readErr := br.ReadString('\n')

		newLine := repl.Replace(line)
		if newLine != line {
			modified = true
		}
		if _, err := io.WriteString(w, newLine); err != nil {
			return modified, err
		}
		if readErr == io.EOF {
			return modified, nil
		}
		if readErr != nil {
			return modified, readErr
		}
	}
}
