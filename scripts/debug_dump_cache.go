package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/AeonDave/stringfog/internal/cache"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: debug_dump_cache hexkey entry-file...")
		os.Exit(1)
	}
	key, err := hex.DecodeString(os.Args[1])
	if err != nil {
		panic(err)
	}
	for _, path := range os.Args[2:] {
		data, err := os.ReadFile(path)
		if err != nil {
			panic(err)
		}
		var e cache.Entry
		if err := cache.Decrypt(data, key, &e); err != nil {
			fmt.Printf("%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: changed=%v class=%d bytes records=%d\n", path, e.Changed, len(e.Class), len(e.Records))
		for _, r := range e.Records {
			fmt.Printf("\t%q -> %q\n", r.Plain, r.Encoded)
		}
		for _, w := range e.Warnings {
			fmt.Printf("\twarning: %s\n", w)
		}
	}
}
