// Package catalog holds the ordered list of sites probed for a username and the
// helpers that validate, load, and render its URL templates.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// Placeholder is the substitution point every URL template must carry exactly once.
const Placeholder = "{username}"

var (
	// ErrEmptyCatalog is returned when a run is attempted without any sites.
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrMalformedTemplate flags a site whose URL template cannot produce a target URL.
	ErrMalformedTemplate = errors.New("malformed url template")
)

const patternMatchTimeout = time.Second

// patterns caches compiled regex_check expressions keyed by source text.
var patterns sync.Map

// Site is one catalog entry. It is loaded once and never mutated.
type Site struct {
	Name        string `yaml:"name" json:"name"`
	URLTemplate string `yaml:"url" json:"url"`
	// RegexCheck optionally restricts which usernames the site can hold.
	RegexCheck string `yaml:"regex_check,omitempty" json:"regex_check,omitempty"`
}

// TargetURL substitutes username into the site's template.
func (s Site) TargetURL(username string) string {
	return strings.Replace(s.URLTemplate, Placeholder, username, 1)
}

// Validate checks the entry has a name and a template with a single placeholder
// that renders to an absolute http(s) URL.
func (s Site) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("site name is required: %w", ErrMalformedTemplate)
	}
	if n := strings.Count(s.URLTemplate, Placeholder); n != 1 {
		return fmt.Errorf("site %q: want exactly one %s, found %d: %w", s.Name, Placeholder, n, ErrMalformedTemplate)
	}
	u, err := url.Parse(s.TargetURL("probe"))
	if err != nil {
		return fmt.Errorf("site %q: parse template: %v: %w", s.Name, err, ErrMalformedTemplate)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("site %q: template must be an absolute http(s) url: %w", s.Name, ErrMalformedTemplate)
	}
	if s.RegexCheck != "" {
		if _, err := compilePattern(s.RegexCheck); err != nil {
			return fmt.Errorf("site %q: regex_check: %w", s.Name, err)
		}
	}
	return nil
}

// Accepts reports whether username satisfies the site's regex_check. Sites
// without a pattern accept every username.
func (s Site) Accepts(username string) (bool, error) {
	if s.RegexCheck == "" {
		return true, nil
	}
	re, err := compilePattern(s.RegexCheck)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(username)
	if err != nil {
		return false, fmt.Errorf("match regex_check: %w", err)
	}
	return ok, nil
}

func compilePattern(expr string) (*regexp2.Regexp, error) {
	if v, ok := patterns.Load(expr); ok {
		re, _ := v.(*regexp2.Regexp)
		return re, nil
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	re.MatchTimeout = patternMatchTimeout
	patterns.Store(expr, re)
	return re, nil
}

// Catalog is an ordered list of sites. Report order follows catalog order.
type Catalog []Site

// Validate rejects empty catalogs and malformed entries.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return ErrEmptyCatalog
	}
	for i, site := range c {
		if err := site.Validate(); err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return nil
}

// Filter keeps the sites whose names match selected (case-insensitive), in
// catalog order. Names with no match are returned as unknown.
func (c Catalog) Filter(selected []string) (Catalog, []string) {
	if len(selected) == 0 {
		return c, nil
	}
	want := make(map[string]string, len(selected))
	for _, s := range selected {
		s = strings.TrimSpace(s)
		if s != "" {
			want[strings.ToLower(s)] = s
		}
	}
	out := make(Catalog, 0, len(want))
	for _, site := range c {
		key := strings.ToLower(site.Name)
		if _, ok := want[key]; ok {
			out = append(out, site)
			delete(want, key)
		}
	}
	var unknown []string
	for _, s := range selected {
		if _, ok := want[strings.ToLower(strings.TrimSpace(s))]; ok {
			unknown = append(unknown, s)
		}
	}
	return out, unknown
}
