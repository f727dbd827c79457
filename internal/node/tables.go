package node

import (
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

// PageTable stores the latest PageRecord per URL. Records are copied on the
// way in and out so callers never alias stored slices.
type PageTable struct {
	mu    sync.RWMutex
	pages map[string]proto.PageRecord
}

func NewPageTable() *PageTable {
	return &PageTable{pages: make(map[string]proto.PageRecord)}
}

// Put stores page and returns the record it replaced, if any.
func (p *PageTable) Put(page proto.PageRecord) (proto.PageRecord, bool) {
	page = clonePage(page)
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.pages[page.URL]
	p.pages[page.URL] = page
	return prev, ok
}

func (p *PageTable) Get(url string) (proto.PageRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	page, ok := p.pages[url]
	if !ok {
		return proto.PageRecord{}, false
	}
	return clonePage(page), true
}

func (p *PageTable) Has(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pages[url]
	return ok
}

func (p *PageTable) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pages)
}

func (p *PageTable) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.pages))
	for url := range p.pages {
		out = append(out, url)
	}
	return out
}

func (p *PageTable) Snapshot() map[string]proto.PageRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]proto.PageRecord, len(p.pages))
	for url, page := range p.pages {
		out[url] = clonePage(page)
	}
	return out
}

func (p *PageTable) Restore(snap map[string]proto.PageRecord) {
	pages := make(map[string]proto.PageRecord, len(snap))
	for url, page := range snap {
		page.URL = url
		pages[url] = clonePage(page)
	}
	p.mu.Lock()
	p.pages = pages
	p.mu.Unlock()
}

func clonePage(page proto.PageRecord) proto.PageRecord {
	if page.Words != nil {
		page.Words = append([]string(nil), page.Words...)
	}
	return page
}

// Adjacency records, for each target URL, the set of pages linking to it.
// Edges are only ever added.
type Adjacency struct {
	mu      sync.RWMutex
	sources map[string]map[string]struct{}
}

func NewAdjacency() *Adjacency {
	return &Adjacency{sources: make(map[string]map[string]struct{})}
}

// AddEdge records that source links to target.
func (a *Adjacency) AddEdge(source, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.sources[target]
	if !ok {
		set = make(map[string]struct{})
		a.sources[target] = set
	}
	set[source] = struct{}{}
}

// Sources returns the pages linking to target, sorted. Never nil.
func (a *Adjacency) Sources(target string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set := a.sources[target]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// InDegree is the number of distinct pages linking to target.
func (a *Adjacency) InDegree(target string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sources[target])
}

func (a *Adjacency) Targets() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.sources))
	for t := range a.sources {
		out = append(out, t)
	}
	return out
}

func (a *Adjacency) Snapshot() map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copySets(a.sources)
}

func (a *Adjacency) Restore(snap map[string][]string) {
	sources := toSets(snap)
	a.mu.Lock()
	a.sources = sources
	a.mu.Unlock()
}

// Frontier is the FIFO of URLs waiting to be fetched.
type Frontier struct {
	mu    sync.Mutex
	queue []string
	head  int
}

func NewFrontier() *Frontier {
	return &Frontier{}
}

func (f *Frontier) Push(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, url)
}

// Pop removes the oldest URL; ok is false when the frontier is empty.
func (f *Frontier) Pop() (url string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head >= len(f.queue) {
		return "", false
	}
	url = f.queue[f.head]
	f.queue[f.head] = ""
	f.head++
	// Compact once the consumed prefix dominates the backing array.
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]string(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return url, true
}

func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

func (f *Frontier) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.queue[f.head:]...)
}

func (f *Frontier) Restore(urls []string) {
	queue := append([]string(nil), urls...)
	f.mu.Lock()
	f.queue = queue
	f.head = 0
	f.mu.Unlock()
}
