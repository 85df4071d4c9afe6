// Package crawler discovers the pages of a site for accessibility auditing.
//
// # Architecture
//
// The package is built around the Spider type, which runs a breadth-first
// traversal from a start URL. Each Crawl call owns a private crawl state
// (visited list, queued set and FIFO frontier), so no traversal state is
// shared between calls.
//
// # Components
//
//   - Normalize / ParseStartURL: resolve and canonicalize URLs
//   - Spider: the breadth-first traversal with page and depth caps
//   - crawlState: the frontier, fronted by a Bloom filter
//
// # Caps
//
// The page cap defaults to 25 and never exceeds 200. The depth cap defaults
// to 2 and never exceeds 10. The cap is enforced while links are enqueued,
// so a page with hundreds of links cannot grow the frontier past it.
//
// # Failure handling
//
// A page that fails to load is still reported as discovered, because the
// scan stage may succeed where the crawl navigation did not. Its links are
// simply not followed.
//
// # Usage
//
//	spider := crawler.NewSpider(browser.NewHTTPBrowser(), crawler.WithMaxDepth(3))
//	urls, err := spider.Crawl(ctx, "https://example.com/")
package crawler
