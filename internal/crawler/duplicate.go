package crawler

import (
	"sync"

	"github.com/nao1215/dysdera/internal/extract"
	"github.com/nao1215/dysdera/internal/model"
)

type simEntry struct {
	hash uint64
	url  string
}

// duplicateIndex remembers the content of persisted records.
type duplicateIndex struct {
	sensitivity int

	mu        sync.Mutex
	hashes    map[string]string
	simhashes []simEntry
}

func newDuplicateIndex(sensitivity int) *duplicateIndex {
	return &duplicateIndex{
		sensitivity: sensitivity,
		hashes:      make(map[string]string),
	}
}

// check reports whether rec duplicates a record seen earlier, and which.
// A record that is not a duplicate is added to the index.
func (d *duplicateIndex) check(rec *model.ContentRecord) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.Hash != "" {
		if of, ok := d.hashes[rec.Hash]; ok && of != rec.URL {
			return of, true
		}
	}
	if d.sensitivity > 1 && rec.Simhash != 0 {
		for _, e := range d.simhashes {
			if e.url != rec.URL && extract.Distance(e.hash, rec.Simhash) < d.sensitivity {
				return e.url, true
			}
		}
	}

	if rec.Hash != "" {
		d.hashes[rec.Hash] = rec.URL
	}
	if d.sensitivity > 1 && rec.Simhash != 0 {
		d.simhashes = append(d.simhashes, simEntry{hash: rec.Simhash, url: rec.URL})
	}
	return "", false
}
