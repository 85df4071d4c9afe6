// Package pipeline runs a site scan as a sequence of steps: crawl the
// site, scan every discovered page, aggregate the results and store the
// report. Each step works on a shared SiteScan.
//
// BatchProcessor runs one pipeline per start URL with bounded concurrency
// using errgroup.
package pipeline
