package crawler

import (
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nao1215/a11yscan/internal/model"
)

// bloomFalsePositiveRate is the target false positive rate of the
// membership pre-filter.
const bloomFalsePositiveRate = 0.001

// crawlState is the frontier of one Crawl call. It is never shared between
// calls, so concurrent crawls cannot observe each other.
//
// Invariants:
//   - a URL is in at most one of visited and queued
//   - every frontier entry is in queued
//   - visited keeps insertion order, which is the crawl output order
//
// Design decision: A Bloom filter answers the common "never seen" case
// without touching the exact sets. A positive answer is always confirmed
// against the sets, so false positives cost a map lookup and never drop a
// URL.
type crawlState struct {
	visited    []string
	visitedSet map[string]struct{}
	queued     map[string]struct{}
	frontier   []model.CrawlTarget
	seen       *bloom.BloomFilter
}

// newCrawlState creates an empty state sized for maxPages URLs.
func newCrawlState(maxPages int) *crawlState {
	n := uint(maxPages) * 4
	if n < 64 {
		n = 64
	}
	return &crawlState{
		visited:    make([]string, 0, maxPages),
		visitedSet: make(map[string]struct{}, maxPages),
		queued:     make(map[string]struct{}),
		frontier:   make([]model.CrawlTarget, 0, maxPages),
		seen:       bloom.NewWithEstimates(n, bloomFalsePositiveRate),
	}
}

// known reports whether url is visited or queued.
func (s *crawlState) known(url string) bool {
	if !s.seen.TestString(url) {
		return false
	}
	if _, ok := s.visitedSet[url]; ok {
		return true
	}
	_, ok := s.queued[url]
	return ok
}

// isVisited reports whether url has already been visited.
func (s *crawlState) isVisited(url string) bool {
	_, ok := s.visitedSet[url]
	return ok
}

// enqueue appends a target to the frontier.
func (s *crawlState) enqueue(target model.CrawlTarget) {
	s.frontier = append(s.frontier, target)
	s.queued[target.URL] = struct{}{}
	s.seen.AddString(target.URL)
}

// dequeue removes the oldest frontier entry. ok is false when empty.
func (s *crawlState) dequeue() (target model.CrawlTarget, ok bool) {
	if len(s.frontier) == 0 {
		return model.CrawlTarget{}, false
	}
	target = s.frontier[0]
	s.frontier[0] = model.CrawlTarget{}
	s.frontier = s.frontier[1:]
	delete(s.queued, target.URL)
	return target, true
}

// markVisited records url as visited.
func (s *crawlState) markVisited(url string) {
	s.visited = append(s.visited, url)
	s.visitedSet[url] = struct{}{}
	s.seen.AddString(url)
}

// visitedCount returns the number of visited URLs.
func (s *crawlState) visitedCount() int {
	return len(s.visited)
}

// pending returns the number of frontier entries.
func (s *crawlState) pending() int {
	return len(s.frontier)
}

// result returns a copy of the visited URLs in visit order.
func (s *crawlState) result() []string {
	out := make([]string, len(s.visited))
	copy(out, s.visited)
	return out
}
