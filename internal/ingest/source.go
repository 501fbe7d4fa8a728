package ingest

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// imageExtensions maps the extensions offered by the file pickers to the
// media type declared for them.
var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// PickerPatterns lists glob patterns for native file picker filters.
func PickerPatterns() []string {
	patterns := make([]string, 0, len(imageExtensions))
	for ext := range imageExtensions {
		patterns = append(patterns, "*"+ext)
	}
	return patterns
}

// MediaTypeForExt returns the media type for a file extension. Unknown
// extensions fall back to the system MIME table and finally to
// application/octet-stream, which validation rejects.
func MediaTypeForExt(ext string) string {
	ext = strings.ToLower(ext)
	if mt, ok := imageExtensions[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	return "application/octet-stream"
}

// IsImage reports whether the extension is one of the known image types.
func IsImage(ext string) bool {
	_, ok := imageExtensions[strings.ToLower(ext)]
	return ok
}

// localFile is a file on disk whose media type comes from its extension.
type localFile struct {
	path      string
	mediaType string
	size      int64
}

// OpenLocal describes the file at path. The file is stat'ed but not read.
func OpenLocal(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &IOError{Name: filepath.Base(path), Err: err}
	}
	if info.IsDir() {
		return nil, &IOError{Name: filepath.Base(path), Err: fmt.Errorf("%s is a directory", path)}
	}
	return &localFile{
		path:      path,
		mediaType: MediaTypeForExt(filepath.Ext(path)),
		size:      info.Size(),
	}, nil
}

func (f *localFile) Name() string                  { return filepath.Base(f.path) }
func (f *localFile) MediaType() string             { return f.mediaType }
func (f *localFile) Size() int64                   { return f.size }
func (f *localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// multipartFile adapts an uploaded form file.
type multipartFile struct {
	header    *multipart.FileHeader
	mediaType string
}

// FromMultipart wraps an uploaded form file. The declared Content-Type of
// the part wins; without one, the extension decides.
func FromMultipart(fh *multipart.FileHeader) File {
	mediaType := fh.Header.Get("Content-Type")
	if base, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = base
	} else {
		mediaType = ""
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = MediaTypeForExt(filepath.Ext(fh.Filename))
	}
	return &multipartFile{header: fh, mediaType: mediaType}
}

func (f *multipartFile) Name() string      { return filepath.Base(f.header.Filename) }
func (f *multipartFile) MediaType() string { return f.mediaType }
func (f *multipartFile) Size() int64       { return f.header.Size }
func (f *multipartFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

// memFile is an in-memory file, used by tool surfaces and tests.
type memFile struct {
	name      string
	mediaType string
	data      []byte
}

// FromBytes wraps data as a File with the given declared media type.
func FromBytes(name, mediaType string, data []byte) File {
	return &memFile{name: name, mediaType: mediaType, data: data}
}

func (f *memFile) Name() string      { return f.name }
func (f *memFile) MediaType() string { return f.mediaType }
func (f *memFile) Size() int64       { return int64(len(f.data)) }
func (f *memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
