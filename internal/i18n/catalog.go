// Package i18n holds the bot's user-facing texts.
package i18n

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "en"

// Catalog resolves message keys to texts in one language, falling back to
// English for keys the language does not define.
type Catalog struct {
	lang     string
	messages map[string]string
	fallback map[string]string
}

// Languages lists the embedded locales.
func Languages() []string {
	entries, err := localesFS.ReadDir("locales")
	if err != nil {
		return nil
	}
	var langs []string
	for _, e := range entries {
		langs = append(langs, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(langs)
	return langs
}

// Load builds a catalog for lang. When overridePath is set, keys from that
// YAML file replace the embedded texts.
func Load(lang, overridePath string) (*Catalog, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	fallback, err := readEmbedded(DefaultLanguage)
	if err != nil {
		return nil, err
	}
	messages := fallback
	if lang != DefaultLanguage {
		messages, err = readEmbedded(lang)
		if err != nil {
			return nil, err
		}
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read messages file: %w", err)
		}
		var extra map[string]string
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("parse messages file %s: %w", overridePath, err)
		}
		merged := make(map[string]string, len(messages)+len(extra))
		for k, v := range messages {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		messages = merged
	}

	return &Catalog{lang: lang, messages: messages, fallback: fallback}, nil
}

func readEmbedded(lang string) (map[string]string, error) {
	data, err := localesFS.ReadFile("locales/" + lang + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown language %q", lang)
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse locale %s: %w", lang, err)
	}
	return m, nil
}

// Language returns the catalog's language code.
func (c *Catalog) Language() string { return c.lang }

// Has reports whether key resolves to a text.
func (c *Catalog) Has(key string) bool {
	if _, ok := c.messages[key]; ok {
		return true
	}
	_, ok := c.fallback[key]
	return ok
}

// T formats the text for key with args. Unknown keys render as the key.
func (c *Catalog) T(key string, args ...any) string {
	msg, ok := c.messages[key]
	if !ok {
		msg, ok = c.fallback[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Keys returns every key of the catalog's language, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.messages))
	for k := range c.messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
