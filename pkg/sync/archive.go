package sync

import (
	"archive/tar"
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/pkg/errors"
)

// Archive bundles the files in `pairs` into a tar stream, in order. Each entry
// is named by the pair's RelativePath. Directories and other non-regular
// files don't get entries. If any file can't be added, no archive is
// returned.
func Archive(pairs []PathPair) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, pair := range pairs {
		if err := appendPath(tw, pair); err != nil {
			return nil, errors.AppendPathError{Path: pair.RelativePath, Err: err}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, errors.FinishArchiveError{Err: err}
	}
	return buf.Bytes(), nil
}

func appendPath(tw *tar.Writer, pair PathPair) error {
	fi, err := lstat(pair.FullPath)
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	if !fi.Mode().IsRegular() {
		log.WithField("path", pair.RelativePath).Debug("Skipping non-regular file in archive")
		return nil
	}

	f, err := fs.Open(pair.FullPath)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	// Only the mode, size and modification time are recorded so that
	// archives of the same files are identical across runs and machines.
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     pair.RelativePath,
		Mode:     int64(fi.Mode().Perm()),
		Size:     fi.Size(),
		ModTime:  fi.ModTime().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.WithContext(err, "write header")
	}

	// Copy exactly the size from the header. Bytes appended after the stat
	// are picked up by the Modify event that follows.
	if _, err := io.CopyN(tw, f, fi.Size()); err != nil {
		return errors.WithContext(err, "read")
	}
	return nil
}

// lstat doesn't follow symlinks when the filesystem supports them, so that
// links are skipped the same way CollectTree skips them.
func lstat(path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}

// ArchiveEntry is a file extracted from an archive.
type ArchiveEntry struct {
	Name     string
	Mode     int64
	ModTime  time.Time
	Contents []byte
}

// ReadArchive returns the regular file entries of `payload`, in order.
func ReadArchive(payload []byte) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	tr := tar.NewReader(bytes.NewReader(payload))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.WithContext(err, "read header")
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		contents, err := ioutil.ReadAll(tr)
		if err != nil {
			return nil, errors.WithContext(err, "read "+hdr.Name)
		}
		entries = append(entries, ArchiveEntry{
			Name:     hdr.Name,
			Mode:     hdr.Mode,
			ModTime:  hdr.ModTime,
			Contents: contents,
		})
	}
}
