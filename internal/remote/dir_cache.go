package remote

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const dirCacheSize = 1024

// dirCache remembers remote directories known to exist
type dirCache struct {
	known *lru.Cache[string, struct{}]
}

func newDirCache() *dirCache {
	known, err := lru.New[string, struct{}](dirCacheSize)
	if err != nil {
		panic(err)
	}
	return &dirCache{known: known}
}

func (d *dirCache) Has(dir string) bool {
	return d.known.Contains(dir)
}

func (d *dirCache) Add(dir string) {
	d.known.Add(dir, struct{}{})
}

func (d *dirCache) Purge() {
	d.known.Purge()
}
