package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// illegalChars covers the characters neither Windows nor Linux accept in
// file names; they are replaced rather than stripped so distinct titles
// stay distinct.
var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// maxFilenameLength keeps sanitized titles well below common filesystem
// limits even with the index prefix and extension added.
const maxFilenameLength = 200

// SanitizeFilename makes an episode or podcast title safe to use as a file
// or directory name.
func SanitizeFilename(name string) string {
	name = illegalChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
		// avoid cutting a multi-byte rune in half
		name = strings.ToValidUTF8(name, "")
	}
	return name
}

var audioExtensions = []string{".m4a", ".mp3", ".wav", ".ogg", ".flac"}

// AudioExtension returns the audio file extension found at the end of the
// URL path, defaulting to .m4a which is what the platform serves most often.
func AudioExtension(rawURL string) string {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range audioExtensions {
		if strings.HasSuffix(path, ext) {
			return ext
		}
	}
	return ".m4a"
}

// GetAbsolutePath expands a possibly relative path against the working
// directory.
func GetAbsolutePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, path), nil
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, os.ModePerm)
	} else if err != nil {
		return err
	}
	return nil
}

// FormatSize renders a byte count in MB for user-facing summaries.
func FormatSize(sizeBytes int64) string {
	if sizeBytes == 0 {
		return "0 MB"
	}
	return fmt.Sprintf("%.2f MB", float64(sizeBytes)/(1024*1024))
}
