package util

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

// FilenameFromURL returns the final path segment of a URL.
func FilenameFromURL(url *url.URL) (string, error) {
	if url == nil {
		return "", ErrNoFilename
	}
	path := strings.Trim(url.Path, "/")
	if path == "" {
		return "", ErrNoFilename
	}
	pathElements := strings.Split(path, "/")
	filename := pathElements[len(pathElements)-1]
	if filename == "" {
		return "", ErrNoFilename
	}
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

// AssetName returns the final path segment with any extension stripped: the
// provider-side identifier of a hosted asset
// ("https://gfycat.com/SomeGif" -> "SomeGif",
// "https://i.giphy.com/abc123.gif" -> "abc123").
func AssetName(url *url.URL) (string, error) {
	filename, err := FilenameFromURL(url)
	if err != nil {
		return "", err
	}
	if i := strings.LastIndexByte(filename, '.'); i > 0 {
		filename = filename[:i]
	}
	return filename, nil
}

// SwapExtension replaces a trailing extension of a URL string with another,
// leaving the string unchanged if it does not end in old. Both extensions
// include the leading dot.
func SwapExtension(href string, old string, ext string) string {
	if !strings.HasSuffix(href, old) {
		return href
	}
	return strings.TrimSuffix(href, old) + ext
}
