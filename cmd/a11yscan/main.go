// Package main provides the entry point for the a11yscan CLI.
//
// a11yscan crawls a website breadth-first from a start URL, audits every
// discovered page for WCAG issues with axe-core in headless Chrome and
// stores an aggregated site report.
//
// Usage:
//
//	a11yscan scan <start-url>
//	a11yscan scan-page <url>
//	a11yscan serve
//
// See --help for all available options.
package main

// main is the entry point for a11yscan.
func main() {
	Execute()
}
