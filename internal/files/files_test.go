package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	subdir := filepath.Join(tmpDir, "subdir")
	file3 := filepath.Join(subdir, "file3.txt")
	file4 := filepath.Join(subdir, "file4.log")
	symlink := filepath.Join(tmpDir, "symlink.txt")

	require.NoError(t, os.WriteFile(file1, []byte("content1"), 0o644))
	require.NoError(t, os.WriteFile(file2, []byte("content2"), 0o644))
	require.NoError(t, os.Mkdir(subdir, 0o755))
	require.NoError(t, os.WriteFile(file3, []byte("content3"), 0o644))
	require.NoError(t, os.WriteFile(file4, []byte("content4"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "emptydir"), 0o755))
	require.NoError(t, os.Symlink(file1, symlink))

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{
			name:     "single file pattern",
			patterns: []string{file1},
			want:     []string{file1},
		},
		{
			name:     "wildcard skips symlinks",
			patterns: []string{filepath.Join(tmpDir, "*.txt")},
			want:     []string{file1, file2},
		},
		{
			name:     "recursive pattern",
			patterns: []string{filepath.Join(tmpDir, "**", "*.txt")},
			want:     []string{file1, file2, file3},
		},
		{
			name:     "overlapping patterns are deduplicated",
			patterns: []string{filepath.Join(tmpDir, "**", "*"), file4},
			want:     []string{file1, file2, file3, file4},
		},
		{
			name:     "no matches",
			patterns: []string{filepath.Join(tmpDir, "*.csv")},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Find(tt.patterns...)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := Find(filepath.Join(tmpDir, "["))
	require.Error(t, err)
}

func TestReadWorkload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "input.txt")
	content := strings.Repeat("x", 100)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	data, err := ReadWorkload(path, 0)
	require.NoError(t, err)
	require.Equal(t, content, string(data))

	_, err = ReadWorkload(path, 64)
	require.ErrorContains(t, err, "limit is 64")

	data, err = ReadWorkload(path, 100)
	require.NoError(t, err)
	require.Len(t, data, 100)

	_, err = ReadWorkload(filepath.Join(tmpDir, "missing.txt"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadWorkload_LimitAppliesWhileReading(t *testing.T) {
	// /dev/zero stats as empty but never ends.
	const endless = "/dev/zero"
	if _, err := os.Stat(endless); err != nil {
		t.Skipf("%s not available: %v", endless, err)
	}

	_, err := ReadWorkload(endless, 64)
	require.ErrorContains(t, err, "limit is 64")
}
