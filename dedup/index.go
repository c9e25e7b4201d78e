// Package dedup maps encoded layer content to the file region it was
// first written to, so identical layers can share one copy.
package dedup

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

// Hash is the SHA-1 digest of an encoded layer.
type Hash [sha1.Size]byte

// Sum returns the Hash of data.
func Sum(data []byte) Hash { return sha1.Sum(data) }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Region is a byte range inside the output file.
type Region struct {
	Offset int64
	Length int64
}

// Index is safe for concurrent use. It lives for one encode pass.
type Index struct {
	mu      sync.Mutex
	regions map[Hash]Region
	hits    int
}

// New returns an empty Index.
func New() *Index {
	return &Index{regions: map[Hash]Region{}}
}

// TryReuse returns the region already written for h.
func (x *Index) TryReuse(h Hash) (Region, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.regions[h]
	if ok {
		x.hits++
	}
	return r, ok
}

// Register records r as the region holding h. An existing entry wins.
func (x *Index) Register(h Hash, r Region) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.regions[h]; !ok {
		x.regions[h] = r
	}
}

// LoadOrRegister returns the existing region for h and true, or stores r
// and returns it with false.
func (x *Index) LoadOrRegister(h Hash, r Region) (Region, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.regions[h]; ok {
		x.hits++
		return old, true
	}
	x.regions[h] = r
	return r, false
}

// Len returns the number of distinct contents seen.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.regions)
}

// Hits returns how many lookups found an existing region.
func (x *Index) Hits() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.hits
}
