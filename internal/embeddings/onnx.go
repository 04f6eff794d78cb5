//go:build cgo

package embeddings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrONNXRuntimeNotFound is returned when no ONNX runtime library is found.
var ErrONNXRuntimeNotFound = errors.New("onnx runtime library not found")

var libraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

func libraryName(goos string) string {
	if name, ok := libraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

// onnxInstallDir is where operators drop the runtime library.
func onnxInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "guidanced", "lib")
}

// LocateONNXRuntime returns the ONNX runtime library path and exports it as
// ONNX_PATH for fastembed. Checks ONNX_PATH first, then
// ~/.config/guidanced/lib.
func LocateONNXRuntime() (string, error) {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	p := filepath.Join(onnxInstallDir(), libraryName(runtime.GOOS))
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: set ONNX_PATH or install %s", ErrONNXRuntimeNotFound, p)
	}
	if err := os.Setenv("ONNX_PATH", p); err != nil {
		return "", fmt.Errorf("exporting ONNX_PATH: %w", err)
	}
	return p, nil
}
