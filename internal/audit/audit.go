// Package audit runs the axe-core accessibility engine inside a navigation
// session and converts its results into model findings.
//
// The engine itself is not reimplemented. AxeEngine injects the axe-core
// script into the loaded page, runs it restricted to the WCAG A and AA rule
// tags, and decodes the JSON result.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/model"
)

// wcagTags restricts audits to WCAG 2.0, 2.1 and 2.2 level A and AA rules.
// Level AA assumes level A is also met, so both are always run together.
var wcagTags = []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa", "wcag22aa"}

var (
	// ErrAudit is wrapped by every failure to run the engine on a page.
	ErrAudit = errors.New("accessibility audit failed")

	// ErrEmptyEngineSource is returned when the axe-core script is empty.
	ErrEmptyEngineSource = errors.New("axe-core script is empty")
)

// WCAGTags returns the rule tags every audit is restricted to.
func WCAGTags() []string {
	return append([]string(nil), wcagTags...)
}

// Options controls a single audit.
type Options struct {
	// IncludePasses also returns the rules that passed.
	IncludePasses bool
}

// Result holds the findings of one audited page.
type Result struct {
	Violations []model.RuleFinding
	Incomplete []model.RuleFinding
	Passes     []model.RuleFinding
}

// Engine audits the page currently loaded in a session.
type Engine interface {
	Audit(ctx context.Context, session browser.Session, opts Options) (*Result, error)
}

// AxeEngine runs axe-core through in-page evaluation.
type AxeEngine struct {
	source string
}

// NewAxeEngine creates an engine from the axe-core script source.
func NewAxeEngine(source string) (*AxeEngine, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyEngineSource
	}
	return &AxeEngine{source: source}, nil
}

// LoadAxeEngine reads axe.min.js from path.
func LoadAxeEngine(path string) (*AxeEngine, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read axe-core script: %w", err)
	}
	return NewAxeEngine(string(data))
}

// axeResults is the subset of the axe.run result a11yscan keeps.
type axeResults struct {
	Violations []model.RuleFinding `json:"violations"`
	Incomplete []model.RuleFinding `json:"incomplete"`
	Passes     []model.RuleFinding `json:"passes"`
}

// Audit injects axe-core into the loaded page and runs it.
func (e *AxeEngine) Audit(ctx context.Context, session browser.Session, opts Options) (*Result, error) {
	var injected bool
	if err := session.Evaluate(ctx, injectScript(e.source), &injected); err != nil {
		return nil, fmt.Errorf("%w: inject axe-core: %w", ErrAudit, err)
	}
	if !injected {
		return nil, fmt.Errorf("%w: axe-core is not defined after injection", ErrAudit)
	}

	script, err := runScript(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudit, err)
	}

	var raw string
	if err := session.Evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("%w: run axe-core: %w", ErrAudit, err)
	}

	var out axeResults
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decode axe-core result: %w", ErrAudit, err)
	}

	result := &Result{
		Violations: nonNil(out.Violations),
		Incomplete: nonNil(out.Incomplete),
	}
	if opts.IncludePasses {
		result.Passes = nonNil(out.Passes)
	}
	return result, nil
}

// injectScript evaluates the axe-core source and reports whether the
// global axe object is available afterwards.
func injectScript(source string) string {
	return "(() => {\n" + source + "\n;return typeof window.axe !== \"undefined\";})()"
}

// runScript builds the axe.run call. The result is serialized in the page
// so that only plain JSON crosses the session boundary.
func runScript(opts Options) (string, error) {
	resultTypes := []string{"violations", "incomplete"}
	if opts.IncludePasses {
		resultTypes = append(resultTypes, "passes")
	}
	config := map[string]any{
		"runOnly": map[string]any{
			"type":   "tag",
			"values": wcagTags,
		},
		"resultTypes": resultTypes,
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode axe-core options: %w", err)
	}
	return fmt.Sprintf(
		"window.axe.run(document, %s).then((r) => JSON.stringify({violations: r.violations, incomplete: r.incomplete, passes: r.passes}))",
		data,
	), nil
}

func nonNil(findings []model.RuleFinding) []model.RuleFinding {
	if findings == nil {
		return []model.RuleFinding{}
	}
	return findings
}
