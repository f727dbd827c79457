package node

import (
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/textproc"
)

// InvertedIndex maps lowercased terms to the set of URLs whose words contain
// them.
type InvertedIndex struct {
	mu    sync.RWMutex
	terms map[string]map[string]struct{}
}

func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{terms: make(map[string]map[string]struct{})}
}

// Add posts url under every word. Words longer than textproc.MaxWordLength
// are not indexed.
func (x *InvertedIndex) Add(url string, words []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, w := range words {
		term := strings.ToLower(w)
		if term == "" || len(term) > textproc.MaxWordLength {
			continue
		}
		urls, ok := x.terms[term]
		if !ok {
			urls = make(map[string]struct{})
			x.terms[term] = urls
		}
		urls[url] = struct{}{}
	}
}

// Remove drops url from the postings of every word, deleting emptied terms.
func (x *InvertedIndex) Remove(url string, words []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, w := range words {
		term := strings.ToLower(w)
		urls, ok := x.terms[term]
		if !ok {
			continue
		}
		delete(urls, url)
		if len(urls) == 0 {
			delete(x.terms, term)
		}
	}
}

// Intersect returns the URLs posted under every term. Terms are visited
// smallest posting set first and the walk stops as soon as the running
// intersection is empty.
func (x *InvertedIndex) Intersect(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	sets := make([]map[string]struct{}, 0, len(terms))
	for _, t := range terms {
		urls, ok := x.terms[t]
		if !ok || len(urls) == 0 {
			return nil
		}
		sets = append(sets, urls)
	}
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })

	result := make([]string, 0, len(sets[0]))
	for url := range sets[0] {
		result = append(result, url)
	}
	for _, set := range sets[1:] {
		kept := result[:0]
		for _, url := range result {
			if _, ok := set[url]; ok {
				kept = append(kept, url)
			}
		}
		result = kept
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

// Len returns the number of distinct terms.
func (x *InvertedIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.terms)
}

// Snapshot copies the index as term -> sorted URLs.
func (x *InvertedIndex) Snapshot() map[string][]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return copySets(x.terms)
}

// Restore replaces the index contents with a copy of snap.
func (x *InvertedIndex) Restore(snap map[string][]string) {
	terms := toSets(snap)
	x.mu.Lock()
	x.terms = terms
	x.mu.Unlock()
}

func copySets(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, set := range m {
		list := make([]string, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sort.Strings(list)
		out[k] = list
	}
	return out
}

func toSets(snap map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(snap))
	for k, list := range snap {
		set := make(map[string]struct{}, len(list))
		for _, v := range list {
			set[v] = struct{}{}
		}
		out[k] = set
	}
	return out
}
