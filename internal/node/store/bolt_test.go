package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

func openTemp(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "node.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func sample() proto.Snapshot {
	return proto.Snapshot{
		Pages: map[string]proto.PageRecord{
			"http://a": {Title: "A", URL: "http://a", Words: []string{"alpha"}, Snippet: "A page."},
		},
		Adjacency: map[string][]string{"http://b": {"http://a"}},
		Inverted:  map[string][]string{"alpha": {"http://a"}},
		Senders:   map[string]proto.SenderState{"d1": {Expected: 1, Received: []int64{3}}},
		Filter:    []byte{1, 2, 3},
		Frontier:  []string{"http://b", "http://c", "http://d"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, path := openTemp(t)
	want := sample()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v\nwant %+v", got, want)
	}
}

func TestSaveReplacesPreviousContents(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	if err := s.Save(sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	next := proto.Snapshot{
		Pages: map[string]proto.PageRecord{"http://z": {URL: "http://z"}},
	}
	if err := s.Save(next); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Pages) != 1 || len(got.Inverted) != 0 || len(got.Frontier) != 0 || got.Filter != nil {
		t.Errorf("stale contents survived: %+v", got)
	}
}

func TestTablesLoadIndependently(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	want := sample()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	pages, err := s.Pages()
	if err != nil || !reflect.DeepEqual(pages, want.Pages) {
		t.Errorf("Pages = %v, %v", pages, err)
	}
	adj, err := s.Adjacency()
	if err != nil || !reflect.DeepEqual(adj, want.Adjacency) {
		t.Errorf("Adjacency = %v, %v", adj, err)
	}
	inv, err := s.Inverted()
	if err != nil || !reflect.DeepEqual(inv, want.Inverted) {
		t.Errorf("Inverted = %v, %v", inv, err)
	}
	senders, err := s.Senders()
	if err != nil || !reflect.DeepEqual(senders, want.Senders) {
		t.Errorf("Senders = %v, %v", senders, err)
	}
	filter, err := s.Filter()
	if err != nil || !reflect.DeepEqual(filter, want.Filter) {
		t.Errorf("Filter = %v, %v", filter, err)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Pages) != 0 || got.Frontier != nil || got.Filter != nil {
		t.Errorf("empty store loaded %+v", got)
	}
}
