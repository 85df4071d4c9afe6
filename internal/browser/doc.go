// Package browser provides page navigation sessions for crawling and auditing.
//
// # Architecture
//
// A Browser hands out Sessions. A Session is one isolated navigation context:
// it loads a URL, lists the raw href values of the loaded page and, where the
// implementation supports it, evaluates JavaScript in the page.
//
// Two implementations are provided:
//   - HTTPBrowser: plain HTTP fetching with goquery link extraction. It is
//     fast and needs no browser binary, but cannot run scripts, so it is only
//     suitable for link discovery.
//   - ChromeBrowser: headless Chrome driven through chromedp. Every session
//     gets its own incognito browser context, so cookies and storage never
//     leak between sessions.
//
// # Wait conditions
//
// Navigate accepts a WaitUntil condition (load, domcontentloaded,
// networkidle). HTTPBrowser treats every condition as satisfied once the
// response body has been read.
//
// # Usage
//
//	b := browser.NewHTTPBrowser(browser.WithUserAgent("a11yscan"))
//	s, err := b.NewSession(ctx)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.Navigate(ctx, "https://example.com/", browser.WaitDOMContentLoaded, 30*time.Second); err != nil {
//		return err
//	}
//	hrefs, err := s.ExtractLinks(ctx)
package browser
