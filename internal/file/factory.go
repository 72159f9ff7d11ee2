package file

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/uid"
)

// sniffLen is the number of bytes http.DetectContentType looks at.
const sniffLen = 512

// FromDisk builds a File for the local file at path, to be stored on the
// named storage. The file is opened and attached as the pending stream and a
// fresh UUID is assigned.
func FromDisk(path, storage string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fserr.ErrIO.WithMessage("stat %q", path).WithCause(err)
	}
	if info.IsDir() {
		return nil, fserr.ErrIO.WithMessage("%q is a directory", path)
	}

	mimeType, err := detectMimeType(path)
	if err != nil {
		return nil, err
	}

	f, err := Create(Attributes{
		Filename: filepath.Base(path),
		Filesize: info.Size(),
		MimeType: mimeType,
		Storage:  storage,
	})
	if err != nil {
		return nil, err
	}
	f, err = f.WithFile(path)
	if err != nil {
		return nil, err
	}
	return f.WithUUID(uid.NewUUID()), nil
}

// FromReader builds a File from an upload stream. The mime type is derived
// from the filename extension, falling back to application/octet-stream.
func FromReader(filename, storage string, r io.Reader, size int64) (*File, error) {
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	f, err := Create(Attributes{
		Filename: filename,
		Filesize: size,
		MimeType: mimeType,
		Storage:  storage,
		Stream:   r,
	})
	if err != nil {
		return nil, err
	}
	return f.WithUUID(uid.NewUUID()), nil
}

// detectMimeType resolves the mime type from the extension and sniffs the
// content when the extension is unknown.
func detectMimeType(path string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return "", fserr.ErrIO.WithMessage("opening %q", path).WithCause(err)
	}
	defer fh.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(fh, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fserr.ErrIO.WithMessage("reading %q", path).WithCause(err)
	}
	return http.DetectContentType(buf[:n]), nil
}
