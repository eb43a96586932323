package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"
	"github.com/hengadev/errsx"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte(content), 0o666)))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), lookup(nil))
	qt.Assert(t, qt.IsNil(err))
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
implementation: xor
mode: bytes
unit: com.app
packages: [com.app, org.lib]
hoist: true
jobs: 2
`)
	writeFile(t, filepath.Join(dir, ".env"), `
STRINGFOG_MODE=base64
STRINGFOG_UNIT=com.dotenv
STRINGFOG_KG=seeded:from-dotenv
`)
	cfg, err := Load(dir, lookup(map[string]string{
		"STRINGFOG_UNIT":      "com.env",
		"STRINGFOG_IGNORE":    "com.app.vendor, com.app.gen",
		"STRINGFOG_KEEP_POOL": "1",
	}))
	qt.Assert(t, qt.IsNil(err))

	want := Default()
	want.Implementation = "xor"
	want.Mode = "base64"
	want.Unit = "com.env"
	want.Packages = []string{"com.app", "org.lib"}
	want.Ignore = []string{"com.app.vendor", "com.app.gen"}
	want.KeyGenerator = "seeded:from-dotenv"
	want.HoistConstants = true
	want.KeepPool = true
	want.Jobs = 2
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	qt.Assert(t, qt.IsNil(cfg.Validate()))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "jobs: [not a number")
	_, err := Load(dir, lookup(nil))
	qt.Assert(t, qt.ErrorIs(err, ErrConfiguration))

	_, err = Load(t.TempDir(), lookup(map[string]string{"STRINGFOG_ENABLED": "maybe"}))
	qt.Assert(t, qt.ErrorIs(err, ErrConfiguration))
	qt.Assert(t, qt.ErrorMatches(err, `.*enabled="maybe".*`))
}

func TestSet(t *testing.T) {
	cfg := Default()
	qt.Assert(t, qt.IsNil(cfg.Set("packages", `com.app 'org lib'`)))
	qt.Assert(t, qt.DeepEquals(cfg.Packages, []string{"com.app", "org lib"}))
	qt.Assert(t, qt.IsNil(cfg.Set("enabled", "false")))
	qt.Assert(t, qt.IsFalse(cfg.Enabled))
	qt.Assert(t, qt.ErrorIs(cfg.Set("colour", "blue"), ErrConfiguration))
	qt.Assert(t, qt.ErrorIs(cfg.Set("jobs", "many"), ErrConfiguration))
}

func TestEnvName(t *testing.T) {
	qt.Assert(t, qt.Equals(EnvName("keep-pool"), "STRINGFOG_KEEP_POOL"))
	qt.Assert(t, qt.Equals(EnvName("kg"), "STRINGFOG_KG"))
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Implementation = "aes-cbc"
	valid.Unit = "com.app"
	qt.Assert(t, qt.IsNil(valid.Validate()))

	tests := []struct {
		name string
		edit func(*Config)
		keys []string
	}{
		{"MissingImplementation", func(c *Config) { c.Implementation = "" }, []string{"implementation"}},
		{"UnknownImplementation", func(c *Config) { c.Implementation = "rot13" }, []string{"implementation"}},
		{"MissingUnit", func(c *Config) { c.Unit = "" }, []string{"unit"}},
		{"KeywordUnit", func(c *Config) { c.Unit = "com.class" }, []string{"unit"}},
		{"BadMode", func(c *Config) { c.Mode = "hex" }, []string{"mode"}},
		{"BadKeyGenerator", func(c *Config) { c.KeyGenerator = "dice" }, []string{"kg"}},
		{"NoJobs", func(c *Config) { c.Jobs = 0 }, []string{"jobs"}},
		{"EmptyPackage", func(c *Config) { c.Ignore = []string{" "} }, []string{"packages"}},
		{"Aggregated", func(c *Config) {
			c.Implementation = ""
			c.Unit = ""
			c.Jobs = -1
		}, []string{"implementation", "unit", "jobs"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid
			test.edit(&cfg)
			err := cfg.Validate()
			qt.Assert(t, qt.ErrorIs(err, ErrConfiguration))

			var errs errsx.Map
			qt.Assert(t, qt.IsTrue(errors.As(err, &errs)))
			qt.Assert(t, qt.HasLen(errs, len(test.keys)))
			for _, key := range test.keys {
				if _, ok := errs[key]; !ok {
					t.Errorf("expected key %q in errors: %v", key, errs)
				}
			}
		})
	}
}
