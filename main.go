// Copyright (c) 2025, The Garble Authors.
// See LICENSE for licensing information.

// stringfog encrypts the string constants of compiled JVM classes and
// generates the helper class that decrypts them at run time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/config"
)

var flagSet = flag.NewFlagSet("stringfog", flag.ContinueOnError)

var (
	flagDir    string
	flagOutput string

	// flagOverrides holds the settings given on the command line, in order.
	flagOverrides [][2]string

	flagDebug bool
)

var boolSettings = []string{"enabled", "debug", "hoist", "keep-pool", "no-cache"}

var settingUsage = map[string]string{
	"enabled":        "rewrite classes at all",
	"debug":          "print debug logs to stderr",
	"implementation": "cipher: " + strings.Join(cipher.Names(), ", ") + "; chacha20 needs javax.crypto ChaCha20, missing on Android",
	"mode":           "literal mode: base64 or bytes",
	"unit":           "compilation unit; the helper is generated as <unit>.StringFog",
	"packages":       "only rewrite classes in these packages (comma or space separated)",
	"ignore":         "never rewrite classes in these packages",
	"kg":             "key generator: random, hardcode:<hex>, seeded:<secret> or content",
	"hoist":          "also encrypt static final String constants",
	"keep-pool":      "leave rewritten strings in the constant pool",
	"cache":          "cache directory for deterministic builds",
	"no-cache":       "disable the cache",
	"jobs":           "number of classes transformed in parallel",
	"gen":            "directory the helper source is written below",
	"mapping":        "path of the mapping file",
}

func init() {
	flagSet.Usage = usage
	flagSet.StringVar(&flagDir, "C", ".", "Project directory holding stringfog.yaml and .env")
	for _, key := range config.Keys {
		set := func(value string) error {
			flagOverrides = append(flagOverrides, [2]string{key, value})
			return nil
		}
		help := fmt.Sprintf("%s (env %s)", settingUsage[key], config.EnvName(key))
		if slices.Contains(boolSettings, key) {
			flagSet.BoolFunc(key, help, set)
		} else {
			flagSet.Func(key, help, set)
		}
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `
stringfog encrypts the string constants of compiled JVM classes.

	stringfog [stringfog flags] command [arguments]

For example, to rewrite the classes of a jar and generate the helper:

	stringfog -implementation xor -unit com.app build -o out.jar app.jar

The following commands are supported:

	build [-o out] inputs   rewrite class directories and jars, then
	                        write the helper source and the mapping file;
	                        without -o the inputs are rewritten in place
	gen                     only write the helper source
	decrypt [literals]      decrypt encoded literals
	reverse [-o out] files  replace encoded literals with their plain
	                        text, using the mapping file of the build
	                        that wrote to out
	version                 print the version

Settings are read from stringfog.yaml, a .env file, STRINGFOG_* variables
and flags, later sources overriding earlier ones. gen, decrypt and a later
build only agree on the key when it is deterministic, as with kg seeded:.

stringfog accepts the following flags before a command:

`[1:])
	flagSet.PrintDefaults()
}

func main() { os.Exit(main1()) }

var errJustExit = errors.New("")

func main1() int {
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return 2
	}
	log.SetPrefix("[stringfog] ")
	log.SetFlags(0) // no timestamps, as they aren't very useful

	args := flagSet.Args()
	if len(args) < 1 {
		usage()
		return 2
	}
	if err := mainErr(context.Background(), args); err != nil {
		if err != errJustExit {
			fmt.Fprintln(os.Stderr, "stringfog:", err)
		}
		return 1
	}
	return 0
}

func mainErr(ctx context.Context, args []string) error {
	command, args := args[0], args[1:]
	switch command {
	case "help":
		usage()
		return errJustExit
	case "version":
		return printVersion(os.Stdout)
	case "build":
		args, err := commandFlags(command, args)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return errors.New("build needs at least one class directory or jar")
		}
		return runBuild(ctx, args, false)
	case "gen":
		if len(args) > 0 {
			return fmt.Errorf("gen takes no arguments")
		}
		return runBuild(ctx, nil, true)
	case "decrypt":
		return commandDecrypt(os.Stdout, os.Stdin, args)
	case "reverse":
		args, err := commandFlags(command, args)
		if err != nil {
			return err
		}
		return commandReverse(os.Stdout, os.Stdin, args)
	}
	return fmt.Errorf("unknown command: %q", command)
}

// commandFlags parses the flags given after a command name, which
// only build and reverse have.
func commandFlags(command string, args []string) ([]string, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&flagOutput, "o", flagOutput, "Output of build; the inputs are rewritten in place when empty")
	if err := fs.Parse(args); err != nil {
		// The flag package already reported the problem.
		return nil, errJustExit
	}
	return fs.Args(), nil
}

// loadSettings resolves the configuration of the project in flagDir, with
// the command line settings applied last.
func loadSettings() (config.Config, error) {
	cfg, err := config.Load(flagDir, os.LookupEnv)
	if err != nil {
		return cfg, err
	}
	for _, kv := range flagOverrides {
		if err := cfg.Set(kv[0], kv[1]); err != nil {
			return cfg, err
		}
	}
	flagDebug = cfg.Debug
	return cfg, nil
}

// loadConfig is loadSettings followed by validation.
func loadConfig() (config.Config, error) {
	cfg, err := loadSettings()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func printVersion(w io.Writer) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("no build information available")
	}
	mod := &info.Main
	if mod.Replace != nil {
		mod = mod.Replace
	}
	fmt.Fprintf(w, "%s %s\n\nBuild settings:\n", mod.Path, mod.Version)
	for _, setting := range info.Settings {
		if setting.Value == "" {
			continue
		}
		fmt.Fprintf(w, "%16s %s\n", setting.Key, setting.Value)
	}
	return nil
}
