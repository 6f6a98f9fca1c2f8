package sqlq

import (
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// fileLoader resolves template names against the configured SQL directory and
// reads them through an afero filesystem, with an optional LRU cache of
// loaded templates keyed by resolved path.
type fileLoader struct {
	fs    afero.Fs
	dir   string
	cache *lru.Cache[string, string] // nil when caching is disabled
}

// newFileLoader builds a loader. cacheSize follows the Config convention:
// 0 picks the default, negative disables caching.
func newFileLoader(fs afero.Fs, dir string, cacheSize int) *fileLoader {
	l := &fileLoader{fs: fs, dir: dir}
	if cacheSize >= 0 {
		if cacheSize == 0 {
			cacheSize = defaultCacheSize
		}
		l.cache, _ = lru.New[string, string](cacheSize)
	}
	return l
}

// resolve maps a template name to a path: names without an extension get
// ".sql" appended, then the name is joined with the base directory.
func (l *fileLoader) resolve(name string) string {
	if filepath.Ext(name) == "" {
		name += ".sql"
	}
	return filepath.Join(l.dir, name)
}

// load returns the template text for name. A read failure is reported as a
// *FileError carrying the resolved path.
func (l *fileLoader) load(name string) (string, error) {
	path := l.resolve(name)

	if l.cache != nil {
		if q, ok := l.cache.Get(path); ok {
			return q, nil
		}
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return "", &FileError{Path: path, Err: err}
	}
	q := string(data)

	if l.cache != nil {
		l.cache.Add(path, q)
	}
	return q, nil
}
