package templatepack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const pingPack = `
namespace: test
revision: "1"
messages:
  - name: Ping
    header:
      starts: ["FE"]
    fields:
      - name: kind
        kind: byte
        binding: integer
        size: "8"
      - name: crc
        kind: short
        binding: checksum
        checksumAlgorithm: crc16ccittfalse
        byteOrder: big
        verify: true
`

func writePack(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCompilesSingleMessage(t *testing.T) {
	path := writePack(t, pingPack)

	tmpls, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tmpls, 1)
	require.Equal(t, "Ping", tmpls[0].Type.Name())
}

func TestLoadDirLoadsEveryYAMLFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(pingPack), 0o644))

	tmpls, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, tmpls, 1)
}

func TestLoadRejectsUnknownBinding(t *testing.T) {
	const bad = `
messages:
  - name: Bad
    fields:
      - name: x
        kind: byte
        binding: not-a-real-binding
`
	path := writePack(t, bad)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnresolvedObjectRef(t *testing.T) {
	const bad = `
messages:
  - name: Outer
    fields:
      - name: inner
        binding: object
        objectRef: DoesNotExist
`
	path := writePack(t, bad)
	_, err := Load(path)
	require.Error(t, err)
}
