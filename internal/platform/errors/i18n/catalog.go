// Package i18n renders user-facing error messages per locale.
package i18n

import (
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale serves requests without a supported locale.
const BaseLocale = "en-US"

// Code mirrors errors.Code as a plain string; errors imports this package.
type Code = string

// Catalog holds the message templates of one locale, parsed once.
type Catalog struct {
	locale    string
	raw       map[Code]string
	templates map[Code]*template.Template
}

// NewCatalog parses messages for locale. A message that fails to parse is
// served verbatim.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	c := &Catalog{
		locale:    locale,
		raw:       make(map[Code]string, len(messages)),
		templates: make(map[Code]*template.Template, len(messages)),
	}
	for code, text := range messages {
		c.raw[code] = text
		if tmpl, err := template.New(code).Parse(text); err == nil {
			c.templates[code] = tmpl
		}
	}
	return c
}

var (
	catalogs = map[string]*Catalog{
		BaseLocale: NewCatalog(BaseLocale, enUS),
		"pt-BR":    NewCatalog("pt-BR", ptBR),
	}
	// The first tag is the matcher's fallback.
	supported = []language.Tag{language.AmericanEnglish, language.BrazilianPortuguese}
	matcher   = language.NewMatcher(supported)
)

// GetCatalog resolves locale, a single tag or an Accept-Language value, to
// the closest supported catalog.
func GetCatalog(locale string) *Catalog {
	locale = strings.TrimSpace(locale)
	if c, ok := catalogs[locale]; ok {
		return c
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return catalogs[BaseLocale]
	}
	_, index, _ := matcher.Match(tags...)
	if c, ok := catalogs[supported[index].String()]; ok {
		return c
	}
	return catalogs[BaseLocale]
}

func (c *Catalog) Locale() string { return c.locale }

// Format renders the message for code with metadata. Unknown codes render as
// the code itself.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	raw, ok := c.raw[code]
	if !ok {
		return code
	}
	tmpl, ok := c.templates[code]
	if !ok {
		return raw
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, metadata); err != nil {
		return raw
	}
	return b.String()
}
