package signedlink

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashko-guz/objstore/internal/logger"
)

type fileServer struct {
	root string
}

// Files serves {root}/{dataset}/{key} for request paths under RoutePrefix.
// Directories, traversal attempts and missing files are all 404.
func Files(root string) http.Handler {
	return &fileServer{root: root}
}

func (f *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	dataset, key, ok := splitPath(r.URL.Path)
	if !ok || hasTraversal(dataset) || hasTraversal(key) {
		http.NotFound(w, r)
		return
	}

	fullPath := filepath.Join(f.root, dataset, filepath.FromSlash(key))
	file, err := os.Open(fullPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("[SignedLinkFiles] Failed to open %s: %v", fullPath, err)
		}
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func hasTraversal(p string) bool {
	if strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return true
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return true
		}
	}
	return false
}
