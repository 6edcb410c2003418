package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteMedia creates a stand-in media file of roughly size bytes. Paths
// ending in .wav get a valid 16 kHz mono PCM header followed by silence so
// size checks and header sniffing both pass; other files are filler.
func WriteMedia(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if size < 1 {
		size = 1
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		const header = 44
		data := uint32(max(size-header, 0))
		buf.WriteString("RIFF")
		_ = binary.Write(&buf, binary.LittleEndian, 36+data)
		buf.WriteString("WAVEfmt ")
		for _, field := range []any{
			uint32(16), uint16(1), uint16(1), uint32(16000), uint32(32000), uint16(2), uint16(16),
		} {
			_ = binary.Write(&buf, binary.LittleEndian, field)
		}
		buf.WriteString("data")
		_ = binary.Write(&buf, binary.LittleEndian, data)
		buf.Write(make([]byte, data))
	} else {
		buf.Write(bytes.Repeat([]byte{0x42}, int(size)))
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
