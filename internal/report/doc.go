// Package report renders site reports for people and tools.
//
// This package contains writers for different output formats:
//   - JSONWriter: the machine-readable report artifact
//   - HTMLWriter: the standalone HTML report served to browsers
//   - MarkdownWriter: a report for issue trackers and documentation
//   - SimpleWriter: human-readable text output for terminal display
//
// Report data structures and the site summary live in the model package;
// writers only format them. Writers implement the Writer interface, so they
// can be used interchangeably and composed for multi-format output.
package report
