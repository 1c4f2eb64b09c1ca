/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package consensus

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kentakayama/uptane-verifier/internal/util"
	"github.com/kentakayama/uptane-verifier/resources"
	yaml "gopkg.in/yaml.v2"
)

// Match policies of a pin.
const (
	MatchAllOf = "all-of"
	MatchAnyOf = "any-of"
)

// Pinning maps target paths to the repositories trusted for them. The
// document is the TAP-4 pinned.json; YAML renditions load as well.
type Pinning struct {
	Repositories map[string]PinnedRepository `yaml:"repositories"`
	Delegations  []Pin                       `yaml:"delegations"`
}

// PinnedRepository locates the metadata of a repository.
type PinnedRepository struct {
	// Metadata names the directory or endpoint the metadata is read from.
	Metadata string `yaml:"metadata"`
}

// Pin binds path patterns to repositories under a match policy. Pins are
// consulted in listed order.
type Pin struct {
	Paths        []string `yaml:"paths"`
	Repositories []string `yaml:"repositories"`
	Match        string   `yaml:"match"`
	// Terminating stops the search at this pin even when none of its
	// repositories list the path.
	Terminating bool `yaml:"terminating"`
}

// Policy returns the match policy, defaulting to all-of.
func (p *Pin) Policy() string {
	if p.Match == "" {
		return MatchAllOf
	}
	return p.Match
}

// Matches reports whether the pin covers target. Pin patterns are fnmatch
// patterns: "*" and "?" match "/" as well, so "*" covers every target. A
// pattern ending in "/" matches everything below it.
func (p *Pin) Matches(target string) bool {
	for _, pattern := range p.Paths {
		if matchPattern(pattern, target) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, target string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(target, pattern)
	}
	re, err := compilePattern(pattern)
	return err == nil && re.MatchString(target)
}

// compilePattern translates an fnmatch pattern into an anchored regexp.
// An unterminated "[" is taken literally.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			end := strings.IndexByte(pattern[j:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : j+end]
			i = j + end
			negate := strings.HasPrefix(class, "!")
			if negate {
				class = class[1:]
			}
			class = classEscaper.Replace(class)
			if negate {
				class = "^" + class
			}
			b.WriteString("[" + class + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	return regexp.Compile(b.String())
}

var classEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `^`, `\^`)

// DefaultPinning returns the embedded Director plus Image repository pinning.
func DefaultPinning() *Pinning {
	p, err := ParsePinning(resources.DefaultPinning)
	if err != nil {
		panic(fmt.Sprintf("embedded pinning: %v", err))
	}
	return p
}

// ParsePinning parses a pinning document and validates it.
func ParsePinning(data []byte) (*Pinning, error) {
	p := &Pinning{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, fmt.Errorf("unable to parse pinning: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPinning reads and parses a pinning file.
func LoadPinning(path string) (*Pinning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read pinning file %q: %w", path, err)
	}
	return ParsePinning(data)
}

// Validate checks that every pin has patterns, known repositories and a
// supported policy.
func (p *Pinning) Validate() error {
	if len(p.Repositories) == 0 {
		return errors.New("pinning lists no repositories")
	}
	for i := range p.Delegations {
		pin := &p.Delegations[i]
		if len(pin.Paths) == 0 {
			return fmt.Errorf("pin %d has no paths", i)
		}
		if len(pin.Repositories) == 0 {
			return fmt.Errorf("pin %d has no repositories", i)
		}
		seen := util.NewSet[string]()
		for _, name := range pin.Repositories {
			if _, ok := p.Repositories[name]; !ok {
				return fmt.Errorf("pin %d references unknown repository %q", i, name)
			}
			if !seen.Add(name) {
				return fmt.Errorf("pin %d lists repository %q twice", i, name)
			}
		}
		for _, pattern := range pin.Paths {
			if _, err := compilePattern(pattern); err != nil {
				return fmt.Errorf("pin %d has invalid path pattern %q: %w", i, pattern, err)
			}
		}
		switch pin.Policy() {
		case MatchAllOf, MatchAnyOf:
		default:
			return fmt.Errorf("pin %d has unsupported match %q", i, pin.Match)
		}
	}
	return nil
}

// RepositoryNames lists every repository some pin refers to, in first-use
// order.
func (p *Pinning) RepositoryNames() []string {
	var names []string
	seen := util.NewSet[string]()
	for _, pin := range p.Delegations {
		for _, name := range pin.Repositories {
			if seen.Add(name) {
				names = append(names, name)
			}
		}
	}
	return names
}
