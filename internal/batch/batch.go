package batch

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Common binary file extensions that never go into a prompt
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".tif": true, ".tiff": true, ".webp": true, ".svg": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".lib": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true,
	".rar": true, ".jar": true, ".war": true, ".ear": true, ".class": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".bin": true, ".dat": true, ".o": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true,
	".flv": true, ".webm": true, ".ttf": true, ".woff": true, ".woff2": true,
	".eot": true, ".pyc": true, ".pyd": true, ".pyo": true, ".wasm": true,
}

// TextFiles returns the files suitable for a text prompt, dropping binary ones.
func TextFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for name, content := range files {
		if shouldSkipFile(name, content) {
			log.Debug().Str("file", name).Msg("Skipping binary or non-textual file")
			continue
		}
		out[name] = content
	}
	return out
}

// shouldSkipFile checks the extension first, then samples the content.
func shouldSkipFile(name, content string) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return IsBinaryFile(content)
}

// IsBinaryFile checks if a file is likely to be a binary (non-text) file
// This is a simple heuristic based on looking for null bytes and a high
// percentage of non-printable characters in a sample of the content
func IsBinaryFile(content string) bool {
	if len(content) == 0 {
		return false
	}

	if strings.Contains(content, "\x00") {
		return true
	}

	sampleSize := 512
	if len(content) < sampleSize {
		sampleSize = len(content)
	}

	sample := content[:sampleSize]
	nonPrintable := 0

	for _, r := range sample {
		// Control chars other than tab/newline/CR, and invalid UTF-8
		if (r < 32 && r != 9 && r != 10 && r != 13) || r == 0xFFFD {
			nonPrintable++
		}
	}

	// If more than 30% of characters are non-printable, consider it binary
	return float64(nonPrintable)/float64(sampleSize) > 0.3
}
