package media

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

// File is a video handed to the inference service, either a local file or
// a video already hosted at a public URL.
type File struct {
	path string
	url  string
	name string
	size int64
}

// Open validates a local video file.
func Open(videoPath string) (*File, error) {
	// Check if video file exists
	info, err := os.Stat(videoPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat video file '%s': %w", videoPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("'%s' is not a regular file", videoPath)
	}

	ext := strings.ToLower(filepath.Ext(videoPath))
	if _, ok := videoTypes[ext]; !ok {
		ct, err := sniff(videoPath)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(ct, "video/") {
			return nil, fmt.Errorf("'%s' does not look like a video (%s)", videoPath, ct)
		}
	}

	return &File{
		path: videoPath,
		name: filepath.Base(videoPath),
		size: info.Size(),
	}, nil
}

// FromURL wraps a video that is already hosted, such as an object storage
// upload.
func FromURL(rawURL string) (*File, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid video url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid video url %q: scheme must be http or https", rawURL)
	}
	return &File{url: rawURL, name: path.Base(u.Path)}, nil
}

func sniff(videoPath string) (string, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open video file '%s': %w", videoPath, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read video file '%s': %w", videoPath, err)
	}
	return http.DetectContentType(head[:n]), nil
}

// Name returns the file name presented to remote services.
func (f *File) Name() string { return f.name }

// URL returns the hosted location, or "" for local files.
func (f *File) URL() string { return f.url }

// Path returns the local path, or "" for hosted files.
func (f *File) Path() string { return f.path }

// Size returns the local file size in bytes.
func (f *File) Size() int64 { return f.size }

// ContentType guesses the MIME type from the file extension.
func (f *File) ContentType() string {
	ext := strings.ToLower(filepath.Ext(f.name))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Open opens a local file for reading.
func (f *File) Open() (io.ReadCloser, error) {
	if f.path == "" {
		return nil, fmt.Errorf("%s is hosted at %s and has no local content", f.name, f.url)
	}
	return os.Open(f.path)
}
