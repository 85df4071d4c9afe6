// Package server is the HTTP front end of a11yscan.
//
// It exposes single page scans, site scans that store a report bundle,
// the stored artifacts themselves and the report index:
//
//	POST /api/scan             audit one page
//	POST /api/scan-site        crawl, audit and store a site report
//	GET  /reports/{id}/{name}  stored report files
//	GET  /api/reports          indexed reports, newest first
//	GET  /api/reports/{id}     one indexed report with its summary
//	GET  /metrics              Prometheus metrics
//	GET  /healthz              liveness
package server
