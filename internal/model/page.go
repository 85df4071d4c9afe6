package model

import (
	"encoding/json"
	"strings"
	"time"
)

// PageAuditResult is the audit outcome for one page.
// It is produced once per successfully scanned URL and never modified
// afterwards; the aggregator and the renderers only read it.
type PageAuditResult struct {
	// URL is the normalized URL that was scanned.
	URL string `json:"url"`

	// Timestamp is when the scan of this page completed.
	Timestamp time.Time `json:"timestamp"`

	// UserAgent is the user agent string reported by the navigation session.
	UserAgent string `json:"userAgent"`

	// Violations are rule failures the engine is certain about.
	Violations []RuleFinding `json:"violations"`

	// Incomplete are results the engine could not decide and that need
	// manual review.
	Incomplete []RuleFinding `json:"incomplete"`

	// Passes are rules that passed. Only populated when passes were
	// explicitly requested, to keep reports small.
	Passes []RuleFinding `json:"passes,omitempty"`
}

// ViolationCount returns the number of violated rules on the page.
// Note that this counts rules, not affected nodes.
func (p *PageAuditResult) ViolationCount() int {
	return len(p.Violations)
}

// IncompleteCount returns the number of rules needing review on the page.
func (p *PageAuditResult) IncompleteCount() int {
	return len(p.Incomplete)
}

// AffectedNodeCount returns the number of affected nodes across all
// violations of the page.
func (p *PageAuditResult) AffectedNodeCount() int {
	n := 0
	for _, v := range p.Violations {
		n += len(v.Nodes)
	}
	return n
}

// RuleFinding is one audit rule result on one page.
type RuleFinding struct {
	// RuleID is the engine rule identifier, for example "color-contrast".
	RuleID string `json:"id"`

	// Impact is the severity assigned by the engine.
	Impact Impact `json:"impact"`

	// Description explains what the rule checks.
	Description string `json:"description"`

	// Help is a short, human-readable summary of the rule.
	Help string `json:"help"`

	// HelpURL links to the rule documentation.
	HelpURL string `json:"helpUrl"`

	// Tags are the rule tags such as "wcag2aa".
	Tags []string `json:"tags,omitempty"`

	// Nodes are the elements the rule applies to on this page.
	Nodes []AffectedNode `json:"nodes"`
}

// AffectedNode identifies one element flagged by a rule.
type AffectedNode struct {
	// Target is the selector path to the element. Elements inside
	// iframes or shadow roots have more than one entry.
	Target []string `json:"target"`

	// HTML is the outer HTML snippet of the element.
	HTML string `json:"html,omitempty"`

	// FailureSummary describes how to fix the element.
	FailureSummary string `json:"failureSummary,omitempty"`
}

// shadowSeparator joins the selectors of a shadow DOM path.
const shadowSeparator = " >>> "

// UnmarshalJSON decodes an engine node. Selectors of elements inside shadow
// roots arrive as nested arrays and are flattened into one selector string
// per frame.
func (n *AffectedNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		Target         []json.RawMessage `json:"target"`
		HTML           string            `json:"html"`
		FailureSummary string            `json:"failureSummary"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	target := make([]string, 0, len(raw.Target))
	for _, part := range raw.Target {
		var selector string
		if err := json.Unmarshal(part, &selector); err == nil {
			target = append(target, selector)
			continue
		}
		var path []string
		if err := json.Unmarshal(part, &path); err != nil {
			return err
		}
		target = append(target, strings.Join(path, shadowSeparator))
	}

	n.Target = target
	n.HTML = raw.HTML
	n.FailureSummary = raw.FailureSummary
	return nil
}

// CrawlTarget is one pending entry of the crawl frontier.
// It is created on enqueue and consumed exactly once on dequeue.
type CrawlTarget struct {
	// URL is the normalized URL to visit.
	URL string `json:"url"`

	// Depth is the number of link hops from the start URL.
	Depth int `json:"depth"`
}

// ScanFailure records a page that could not be scanned during a site scan
// that was configured to continue on errors.
type ScanFailure struct {
	// URL is the page that failed.
	URL string `json:"url"`

	// Error is the failure message.
	Error string `json:"error"`
}
