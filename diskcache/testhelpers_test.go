package diskcache

import (
	"os"
	"testing"
	"time"

	"github.com/ankur-anand/imagecache/blobstore"
)

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func newMemAux(t *testing.T) (AuxRoot, string, error) {
	t.Helper()
	store := blobstore.NewMemory("aux")
	t.Cleanup(func() { store.Close() })
	return AuxRoot{Store: store}, "", nil
}

func setModTime(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}
