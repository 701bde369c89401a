package testsupport

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// WriteBarcodePNG renders contents as a Code 39 barcode into a PNG at path.
func WriteBarcodePNG(t testing.TB, path, contents string) {
	t.Helper()

	matrix, err := oned.NewCode39Writer().Encode(contents, gozxing.BarcodeFormat_CODE_39, 480, 120, nil)
	if err != nil {
		t.Fatalf("encode barcode %q: %v", contents, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, matrix); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
