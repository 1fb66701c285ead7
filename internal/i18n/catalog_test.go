package i18n

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLanguages(t *testing.T) {
	langs := Languages()
	if strings.Join(langs, ",") != "ar,en" {
		t.Fatalf("languages = %v", langs)
	}
}

func TestCatalog_EveryKeyInEveryLanguage(t *testing.T) {
	en, err := Load("en", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, lang := range Languages() {
		c, err := Load(lang, "")
		if err != nil {
			t.Fatalf("load %s: %v", lang, err)
		}
		got := strings.Join(c.Keys(), ",")
		want := strings.Join(en.Keys(), ",")
		if got != want {
			t.Errorf("%s keys differ from en:\n got %s\nwant %s", lang, got, want)
		}
	}
}

func TestCatalog_PlaceholderCountsMatch(t *testing.T) {
	en, _ := Load("en", "")
	ar, _ := Load("ar", "")
	for _, key := range en.Keys() {
		e := strings.Count(en.messages[key], "%")
		a := strings.Count(ar.messages[key], "%")
		if e != a {
			t.Errorf("%s: en has %d verbs, ar has %d", key, e, a)
		}
	}
}

func TestT_FormatsArgs(t *testing.T) {
	c, err := Load("en", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.T("users.count", 3); got != "Total users: 3" {
		t.Errorf("T = %q", got)
	}
}

func TestT_UnknownKeyRendersKey(t *testing.T) {
	c, _ := Load("", "")
	if c.Language() != "en" {
		t.Errorf("default language = %s", c.Language())
	}
	if got := c.T("no.such.key"); got != "no.such.key" {
		t.Errorf("T = %q", got)
	}
	if c.Has("no.such.key") {
		t.Error("Has should be false for unknown key")
	}
}

func TestLoad_UnknownLanguage(t *testing.T) {
	if _, err := Load("xx", ""); err == nil {
		t.Fatal("expected error for unknown language")
	}
}

func TestLoad_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	os.WriteFile(path, []byte("help.text: \"custom help\"\n"), 0o644)

	c, err := Load("ar", path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.T("help.text"); got != "custom help" {
		t.Errorf("override not applied: %q", got)
	}
	if got := c.T("ai.disabled"); got != "مفتاح GEMINI مفقود ❌" {
		t.Errorf("non-overridden key changed: %q", got)
	}
}

func TestLoad_BadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	os.WriteFile(path, []byte("{{{not yaml"), 0o644)
	if _, err := Load("en", path); err == nil {
		t.Fatal("expected parse error")
	}
}
