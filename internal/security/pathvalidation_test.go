package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainPath(t *testing.T) {
	root := t.TempDir()
	traces := filepath.Join(root, "traces")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(traces, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(traces, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(traces, "dock_1.png"), false},
		{"nested, not yet created", filepath.Join(traces, "2026", "dock_1.png"), false},
		{"dot-dot escape", filepath.Join(traces, "..", "outside", "x.png"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"through symlink", filepath.Join(traces, "link", "x.png"), true},
		{"through symlink, missing tail", filepath.Join(traces, "link", "a", "b.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ContainPath(tt.path, traces)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscape)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ContainPath(filepath.Join(root, "x"), filepath.Join(root, "missing")))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                                     "unknown",
		"dock":                                 "dock",
		"1f0c2e4a-9b7d-4e1a-8c55-3d2f1a0b9c8e": "1f0c2e4a-9b7d-4e1a-8c55-3d2f1a0b9c8e",
		"../../etc/passwd":                     "etc_passwd",
		"a b\tc":                               "a_b_c",
		"___":                                  "unknown",
		"ünïcode":                              "n_code",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, SanitizeFilename(string(long)), maxFilenameLen)
}
