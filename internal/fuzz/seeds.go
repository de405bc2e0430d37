package fuzztests

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"modvm/internal/asm"
	"modvm/internal/natives"
	"modvm/internal/types"
)

const (
	maxSeedBytes = 64 << 10 // 64 KiB: ограничение для тестового корпуса
)

// sourceSeeds returns every .masm file under testdata.
func sourceSeeds() []string {
	root := filepath.Join("..", "..", "testdata")
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || filepath.Ext(path) != ".masm" {
			return nil
		}
		// #nosec G304 -- path comes from repository testdata walk
		src, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		out = append(out, string(clampSeed(src)))
		return nil
	})
	return out
}

func addSourceSeeds(f *testing.F) {
	for _, src := range sourceSeeds() {
		f.Add(src)
	}
	f.Add("")
	f.Add("module 0xA::M\npublic fun f(): u64 {\n    ld_u64 1\n    ret\n}\n")
	f.Add("script\nfun main() {\n    ret\n}\n")
}

// addBinarySeeds adds the assembled testdata and the standard library.
func addBinarySeeds(f *testing.F) {
	f.Add([]byte{})
	for _, src := range sourceSeeds() {
		u, err := asm.Assemble(src)
		if err != nil {
			continue
		}
		if data, err := u.Bytes(); err == nil {
			f.Add(data)
		}
	}
	bundle, err := natives.StdlibBundle(types.MustParseAddress("0x1"))
	if err != nil {
		return
	}
	for _, data := range bundle {
		f.Add(data)
	}
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}
