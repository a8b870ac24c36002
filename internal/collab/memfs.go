package collab

import (
	"bytes"
	"path"
	"sort"
	"strings"

	"github.com/sasha-s/go-deadlock"
)

// MemFS is an in-memory stand-in for the ATA/FAT16 block/file layer:
// slash-separated paths rooted at "/", with directories implied by the
// paths of the files under them. Names are not checked against 8.3
// rules. Of the filesystem sentinel errors it returns only
// ErrFileNotFound (Open, ReadAll, Metadata) and ErrNotADir (ReadDir on
// a file).
type MemFS struct {
	mu    deadlock.RWMutex
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// AddFile seeds a file at an absolute slash-separated path.
func (fs *MemFS) AddFile(p string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[normalize(p)] = data
}

func normalize(p string) string {
	p = path.Clean("/" + p)
	return p
}

type memHandle struct {
	r *bytes.Reader
}

func (h *memHandle) Read(buf []byte) (int, error) { return h.r.Read(buf) }
func (h *memHandle) Close() error                 { return nil }

func (fs *MemFS) Open(p string) (FileHandle, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.files[normalize(p)]
	if !ok {
		return nil, ErrFileNotFound
	}
	return &memHandle{r: bytes.NewReader(data)}, nil
}

func (fs *MemFS) ReadAll(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.files[normalize(p)]
	if !ok {
		return nil, ErrFileNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (fs *MemFS) ReadDir(p string) ([]DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := normalize(p)
	if data, ok := fs.files[dir]; ok {
		_ = data
		return nil, ErrNotADir
	}
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}

	seen := map[string]DirEntry{}
	for name, data := range fs.files {
		if !strings.HasPrefix(name, prefix) || name == dir {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if rest == "" {
			continue
		}
		first := strings.SplitN(rest, "/", 2)[0]
		if len(first) == len(rest) {
			seen[first] = DirEntry{Name: first, IsDir: false, Size: int64(len(data))}
		} else if _, ok := seen[first]; !ok {
			seen[first] = DirEntry{Name: first, IsDir: true}
		}
	}
	entries := make([]DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (fs *MemFS) Metadata(p string) (Metadata, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.files[normalize(p)]
	if !ok {
		return Metadata{}, ErrFileNotFound
	}
	return Metadata{Size: int64(len(data))}, nil
}

func (fs *MemFS) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.files[normalize(p)]
	return ok
}
