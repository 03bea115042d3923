// Package wisdom loads framework immortality rule packs and answers whether
// a symbol is protected by framework convention.
//
// Three rule shapes are supported:
//
//   - immortality rules: {"immortality_rules": [{"framework", "patterns",
//     "type", "action"}]} where @-prefixed patterns match decorators and the
//     rest match as syntax markers inside the entity source text;
//   - meta patterns: {"exact_matches", "prefix_matches", "suffix_matches",
//     "syntax_markers"} matched against the symbol name or source text;
//   - framework-keyed: {"Framework": {"syntax_markers": [...]}} used for
//     JavaScript/TypeScript packs.
package wisdom

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/cloudflare/ahocorasick"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed rules
var embeddedRules embed.FS

//go:embed schema.json
var packSchema []byte

// Tier is the licensing tier a rule pack belongs to.
type Tier string

const (
	TierCommunity Tier = "community"
	TierPremium   Tier = "premium"
)

// Match describes why a symbol is immortal.
type Match struct {
	Reason    string
	Framework string
	Tier      Tier
}

type rule struct {
	pattern   string
	framework string
	tier      Tier
}

// Registry answers is-immortal queries against the loaded rule packs.
// It is built once and read-only afterwards, so it is safe for concurrent
// use by analysis workers.
type Registry struct {
	pyExact  map[string]rule
	pyPrefix []rule
	pySuffix []rule
	pyDecor  []rule
	pySyntax []rule
	jsExact  map[string]rule
	jsSuffix []rule
	jsSyntax []rule

	pyDecorMatcher  *ahocorasick.Matcher
	pySyntaxMatcher *ahocorasick.Matcher
	jsSyntaxMatcher *ahocorasick.Matcher

	communityCount int
	premiumCount   int
}

// NewRegistry loads rule packs from rulesDir when it exists, falling back to
// the packs embedded in the binary. The community tier is always loaded;
// the premium tier is loaded if present.
func NewRegistry(rulesDir string) (*Registry, error) {
	r := &Registry{
		pyExact: make(map[string]rule),
		jsExact: make(map[string]rule),
	}

	schema, err := compilePackSchema()
	if err != nil {
		return nil, err
	}

	loaded := false
	if rulesDir != "" {
		if info, statErr := os.Stat(rulesDir); statErr == nil && info.IsDir() {
			if err := r.loadDir(os.DirFS(rulesDir), schema); err != nil {
				return nil, err
			}
			loaded = true
		}
	}
	if !loaded {
		sub, err := fs.Sub(embeddedRules, "rules")
		if err != nil {
			return nil, err
		}
		if err := r.loadDir(sub, schema); err != nil {
			return nil, err
		}
	}

	r.buildMatchers()
	return r, nil
}

func compilePackSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(packSchema))
	if err != nil {
		return nil, fmt.Errorf("parse rule pack schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rulepack.schema.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("rulepack.schema.json")
}

func (r *Registry) loadDir(fsys fs.FS, schema *jsonschema.Schema) error {
	for _, tier := range []Tier{TierCommunity, TierPremium} {
		entries, err := fs.ReadDir(fsys, string(tier))
		if err != nil {
			if tier == TierPremium {
				continue // premium packs are optional
			}
			return fmt.Errorf("rules/%s: %w", tier, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			data, err := fs.ReadFile(fsys, string(tier)+"/"+name)
			if err != nil {
				continue
			}
			if err := r.loadPack(data, tier, schema); err != nil {
				// A malformed pack is skipped, never fatal.
				continue
			}
		}
	}
	return nil
}

func (r *Registry) loadPack(data []byte, tier Tier, schema *jsonschema.Schema) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("rule pack rejected by schema: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	before := r.ruleCount()
	switch {
	case raw["immortality_rules"] != nil:
		r.loadImmortalityRules(raw["immortality_rules"], tier)
	case raw["exact_matches"] != nil || raw["suffix_matches"] != nil ||
		raw["prefix_matches"] != nil || raw["syntax_markers"] != nil:
		r.loadMetaPatterns(raw, tier)
	default:
		r.loadFrameworkKeyed(raw, tier)
	}

	added := r.ruleCount() - before
	if tier == TierPremium {
		r.premiumCount += added
	} else {
		r.communityCount += added
	}
	return nil
}

func (r *Registry) ruleCount() int {
	return len(r.pyExact) + len(r.pyPrefix) + len(r.pySuffix) + len(r.pyDecor) +
		len(r.pySyntax) + len(r.jsExact) + len(r.jsSuffix) + len(r.jsSyntax)
}

func (r *Registry) loadImmortalityRules(raw json.RawMessage, tier Tier) {
	var rules []struct {
		Framework string   `json:"framework"`
		Patterns  []string `json:"patterns"`
		Type      string   `json:"type"`
		Action    string   `json:"action"`
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return
	}
	for _, rl := range rules {
		framework := rl.Framework
		if framework == "" {
			framework = "Unknown"
		}
		for _, pattern := range rl.Patterns {
			entry := rule{pattern: pattern, framework: framework, tier: tier}
			if strings.HasPrefix(pattern, "@") {
				r.pyDecor = append(r.pyDecor, entry)
			} else {
				r.pySyntax = append(r.pySyntax, entry)
			}
		}
	}
}

func (r *Registry) loadMetaPatterns(raw map[string]json.RawMessage, tier Tier) {
	lists := map[string][]string{}
	for _, key := range []string{"exact_matches", "prefix_matches", "suffix_matches", "syntax_markers"} {
		if raw[key] == nil {
			continue
		}
		var values []string
		if err := json.Unmarshal(raw[key], &values); err != nil {
			continue
		}
		lists[key] = values
	}
	for _, exact := range lists["exact_matches"] {
		r.pyExact[exact] = rule{pattern: exact, framework: "Meta", tier: tier}
	}
	for _, prefix := range lists["prefix_matches"] {
		r.pyPrefix = append(r.pyPrefix, rule{pattern: prefix, framework: "Meta", tier: tier})
	}
	for _, suffix := range lists["suffix_matches"] {
		r.pySuffix = append(r.pySuffix, rule{pattern: suffix, framework: "Meta", tier: tier})
	}
	for _, marker := range lists["syntax_markers"] {
		r.pySyntax = append(r.pySyntax, rule{pattern: marker, framework: "Meta", tier: tier})
	}
}

func (r *Registry) loadFrameworkKeyed(raw map[string]json.RawMessage, tier Tier) {
	for framework, body := range raw {
		var section struct {
			SyntaxMarkers []string `json:"syntax_markers"`
			ExactMatches  []string `json:"exact_matches"`
			SuffixMatches []string `json:"suffix_matches"`
		}
		if err := json.Unmarshal(body, &section); err != nil {
			continue
		}
		for _, marker := range section.SyntaxMarkers {
			r.jsSyntax = append(r.jsSyntax, rule{pattern: marker, framework: framework, tier: tier})
		}
		for _, exact := range section.ExactMatches {
			r.jsExact[exact] = rule{pattern: exact, framework: framework, tier: tier}
		}
		for _, suffix := range section.SuffixMatches {
			r.jsSuffix = append(r.jsSuffix, rule{pattern: suffix, framework: framework, tier: tier})
		}
	}
}

// buildMatchers compiles the multi-pattern matchers once at load so each
// IsImmortal call scans the source text a single time per stage.
func (r *Registry) buildMatchers() {
	r.pyDecorMatcher = matcherFor(r.pyDecor)
	r.pySyntaxMatcher = matcherFor(r.pySyntax)
	r.jsSyntaxMatcher = matcherFor(r.jsSyntax)
}

func matcherFor(rules []rule) *ahocorasick.Matcher {
	if len(rules) == 0 {
		return nil
	}
	patterns := make([]string, len(rules))
	for i, rl := range rules {
		patterns[i] = rl.pattern
	}
	return ahocorasick.NewStringMatcher(patterns)
}

// RuleCounts reports the number of loaded rules per tier.
func (r *Registry) RuleCounts() (community, premium int) {
	return r.communityCount, r.premiumCount
}

// HasPremium reports whether any premium-tier rules were loaded.
func (r *Registry) HasPremium() bool {
	return r.premiumCount > 0
}

// IsImmortal checks a symbol against the loaded rules. The first matching
// stage wins: exact name, prefix (including the segment after the last dot
// of a qualified name), decorator substring, suffix on a decorator line,
// syntax marker, dunder name, property/staticmethod/classmethod decorator.
// Returns nil when nothing matches.
func (r *Registry) IsImmortal(name, fullText string, lang parser.Language) *Match {
	if lang == parser.LangPython {
		return r.checkPython(name, fullText)
	}
	if lang.IsJS() {
		return r.checkJS(name, fullText)
	}
	return nil
}

func (r *Registry) checkPython(name, fullText string) *Match {
	if rl, ok := r.pyExact[name]; ok {
		return &Match{Reason: "Exact match: " + name, Framework: rl.framework, Tier: rl.tier}
	}

	simple := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		simple = name[idx+1:]
	}
	for _, rl := range r.pyPrefix {
		if strings.HasPrefix(name, rl.pattern) || strings.HasPrefix(simple, rl.pattern) {
			return &Match{Reason: "Prefix match: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
		}
	}

	if r.pyDecorMatcher != nil {
		if hits := r.pyDecorMatcher.Match([]byte(fullText)); len(hits) > 0 {
			rl := r.pyDecor[minHit(hits)]
			return &Match{Reason: "Decorator: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
		}
	}

	for _, rl := range r.pySuffix {
		for _, line := range strings.Split(fullText, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "@") && strings.HasSuffix(trimmed, rl.pattern) {
				return &Match{Reason: "Suffix match: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
			}
		}
	}

	if r.pySyntaxMatcher != nil {
		if hits := r.pySyntaxMatcher.Match([]byte(fullText)); len(hits) > 0 {
			rl := r.pySyntax[minHit(hits)]
			return &Match{Reason: "Syntax marker: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
		}
	}

	if len(simple) > 4 && strings.HasPrefix(simple, "__") && strings.HasSuffix(simple, "__") {
		return &Match{Reason: "Dunder method", Framework: "Python", Tier: TierCommunity}
	}

	for _, decorator := range []string{"@property", "@staticmethod", "@classmethod"} {
		if strings.Contains(fullText, decorator) {
			return &Match{Reason: "Property/class method", Framework: "Python", Tier: TierCommunity}
		}
	}

	return nil
}

func (r *Registry) checkJS(name, fullText string) *Match {
	if rl, ok := r.jsExact[name]; ok {
		return &Match{Reason: "Exact match: " + name, Framework: rl.framework, Tier: rl.tier}
	}

	for _, rl := range r.jsSuffix {
		if strings.HasSuffix(name, rl.pattern) {
			return &Match{Reason: "Suffix match: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
		}
	}

	if r.jsSyntaxMatcher != nil {
		if hits := r.jsSyntaxMatcher.Match([]byte(fullText)); len(hits) > 0 {
			rl := r.jsSyntax[minHit(hits)]
			return &Match{Reason: "Syntax marker: " + rl.pattern, Framework: rl.framework, Tier: rl.tier}
		}
	}

	return nil
}

func minHit(hits []int) int {
	min := hits[0]
	for _, h := range hits[1:] {
		if h < min {
			min = h
		}
	}
	return min
}
