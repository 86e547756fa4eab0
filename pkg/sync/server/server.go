package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	goSync "sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/sync"
	"github.com/sidkik/amp/pkg/sync/client"
)

// Variables mocked for unit testing.
var (
	fs        = afero.NewOsFs()
	writeFile = writeFileImpl
)

// maxRequestSize bounds the size of a request body, including the archive.
const maxRequestSize = 1 << 30

type playbook struct {
	client.Playbook
	started bool
}

type server struct {
	root string

	// lock serializes all changes to the playbooks and their workspaces.
	lock      goSync.Mutex
	playbooks map[string]*playbook
}

// New returns a handler that serves the amp API. Actor workspaces are
// materialized under `root`.
func New(root string) http.Handler {
	s := &server{
		root:      root,
		playbooks: map[string]*playbook{},
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/playbooks", s.createPlaybook).Methods(http.MethodPost)
	v1.HandleFunc("/playbooks/{id}/actions/start", s.startPlaybook).Methods(http.MethodPost)
	v1.HandleFunc("/playbooks/{id}", s.deletePlaybook).Methods(http.MethodDelete)
	v1.HandleFunc("/actors/{pid}/{name}/sync", s.sync).Methods(http.MethodPost)
	return r
}

// Run serves the amp API on `addr` until the context is cancelled.
func Run(ctx context.Context, addr, root string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           New(root),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		defer util.HandlePanic()
		serveErr <- srv.ListenAndServe()
	}()

	log.WithFields(log.Fields{
		"addr": addr,
		"root": root,
	}).Info("amp dev-server is ready")

	select {
	case err := <-serveErr:
		return errors.WithContext(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WithContext(err, "shutdown")
	}
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(client.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(client.RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		log.WithFields(log.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rec.status,
			"duration":  time.Since(start),
			"requestID": requestID,
			"userAgent": r.UserAgent(),
		}).Debug("Handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *server) createPlaybook(w http.ResponseWriter, r *http.Request) {
	var payload client.PlaybookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.WithContext(err, "decode playbook"))
		return
	}

	pb := &playbook{Playbook: client.Playbook{
		ID:          uuid.New().String(),
		Title:       payload.Title,
		Description: payload.Description,
	}}

	s.lock.Lock()
	s.playbooks[pb.ID] = pb
	s.lock.Unlock()

	log.WithFields(log.Fields{
		"playbook": pb.ID,
		"live":     payload.Live,
	}).Info("Created playbook")
	writeJSON(w, http.StatusCreated, pb.Playbook)
}

func (s *server) startPlaybook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.lock.Lock()
	defer s.lock.Unlock()

	pb, ok := s.playbooks[id]
	if !ok {
		writeError(w, http.StatusNotFound, errors.Newf("playbook %q not found", id))
		return
	}

	pb.started = true
	log.WithField("playbook", id).Info("Started playbook")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deletePlaybook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.playbooks[id]; !ok {
		writeError(w, http.StatusNotFound, errors.Newf("playbook %q not found", id))
		return
	}

	dir, err := s.workspacePath(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := fs.RemoveAll(dir); err != nil {
		writeError(w, http.StatusInternalServerError, errors.WithContext(err, "remove workspace"))
		return
	}

	delete(s.playbooks, id)
	log.WithField("playbook", id).Info("Deleted playbook")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pid, name := vars["pid"], vars["name"]

	var req sync.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.WithContext(err, "decode request"))
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.playbooks[pid]; !ok {
		writeError(w, http.StatusNotFound, errors.Newf("playbook %q not found", pid))
		return
	}

	dir, err := s.workspacePath(pid, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := apply(dir, req); err != nil {
		status := http.StatusInternalServerError
		if _, ok := errors.RootCause(err).(badPathError); ok {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workspacePath returns the directory for the given path elements under the
// server root.
func (s *server) workspacePath(elems ...string) (string, error) {
	for _, elem := range elems {
		if elem == "" || elem == "." || elem == ".." {
			return "", badPathError{elem}
		}
	}
	return securejoin.SecureJoin(s.root, filepath.Join(elems...))
}

// apply materializes the request in the workspace `dir`.
func apply(dir string, req sync.Request) error {
	switch req.Kind {
	case sync.Override:
		if err := fs.RemoveAll(dir); err != nil {
			return errors.WithContext(err, "clear workspace")
		}
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return errors.WithContext(err, "make workspace")
		}
		_, err := extract(dir, req.Payload)
		return err

	case sync.Create, sync.Modify:
		extracted, err := extract(dir, req.Payload)
		if err != nil {
			return err
		}

		// Paths without an archive entry are directories.
		for _, p := range req.Paths {
			if extracted[p] {
				continue
			}

			dst, err := resolve(dir, p)
			if err != nil {
				return err
			}
			if err := fs.MkdirAll(dst, 0755); err != nil {
				return errors.WithContext(err, "make directory")
			}
		}
		return nil

	case sync.Remove:
		var removed []string
		for _, p := range req.Paths {
			dst, err := resolve(dir, p)
			if err != nil {
				return err
			}

			// If the remove fails because the file doesn't exist, then the
			// error is benign. The parent directory was most likely removed
			// by an earlier request.
			if err := fs.RemoveAll(dst); err != nil && !os.IsNotExist(err) {
				return errors.WithContext(err, "remove")
			}
			removed = append(removed, p)
		}
		log.WithField("removed", truncateSlice(removed, 5)).Info("Synced files..")
		return nil
	}
	return errors.UnsupportedIntentError{Intent: req.Kind.String()}
}

// extract writes every entry of the archive into `dir`, and returns the set
// of names that were written.
func extract(dir string, payload []byte) (map[string]bool, error) {
	entries, err := sync.ReadArchive(payload)
	if err != nil {
		return nil, errors.WithContext(err, "read archive")
	}

	extracted := map[string]bool{}
	var names []string
	for _, entry := range entries {
		dst, err := resolve(dir, entry.Name)
		if err != nil {
			return nil, err
		}

		if err := writeFile(dst, entry); err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("write %q", entry.Name))
		}
		extracted[entry.Name] = true
		names = append(names, entry.Name)
	}

	if len(names) > 0 {
		log.WithField("synced", truncateSlice(names, 5)).Info("Synced files..")
	}
	return extracted, nil
}

type badPathError struct {
	path string
}

func (err badPathError) Error() string {
	return fmt.Sprintf("invalid path %q", err.path)
}

// resolve returns where the relative path `p` lives in `dir`. Paths that
// would escape the directory are rejected.
func resolve(dir, p string) (string, error) {
	clean := path.Clean(p)
	if p == "" || path.IsAbs(clean) || clean == "." || clean == ".." ||
		len(clean) > 3 && clean[:3] == "../" {
		return "", badPathError{p}
	}
	return securejoin.SecureJoin(dir, filepath.FromSlash(clean))
}

func writeFileImpl(dst string, entry sync.ArchiveEntry) error {
	dstParent := filepath.Dir(dst)
	dstParentExists, err := afero.DirExists(fs, dstParent)
	if err != nil {
		return errors.WithContext(err, "check if parent exists")
	}

	if !dstParentExists {
		if err := fs.MkdirAll(dstParent, 0755); err != nil {
			return errors.WithContext(err, "make parent")
		}
	}

	// A directory may have been replaced by a file locally.
	if isDir, err := afero.IsDir(fs, dst); err == nil && isDir {
		if err := fs.RemoveAll(dst); err != nil {
			return errors.WithContext(err, "remove directory")
		}
	}

	dstFile, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}

	if _, err := io.Copy(dstFile, bytes.NewReader(entry.Contents)); err != nil {
		dstFile.Close()
		return errors.WithContext(err, "copy")
	}

	// Closing a written file may update its modification time, so the file
	// is closed before the times are set.
	if err := dstFile.Close(); err != nil {
		return errors.WithContext(err, "close destination")
	}

	if err := fs.Chmod(dst, os.FileMode(entry.Mode).Perm()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(dst, time.Now(), entry.ModTime); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.WithError(err).WithField("status", status).Warn("Request failed")
	writeJSON(w, status, client.ErrorResponse{Message: err.Error()})
}

// truncateSlice truncates the given slice of strings to the given length. If
// the slice is longer than `length`, a message is appended saying how many
// more items are in the slice.
func truncateSlice(slc []string, length int) (truncated []string) {
	if len(slc) <= length {
		return slc
	}
	msg := fmt.Sprintf("... %d more ...", len(slc)-length)
	return append(slc[:length], msg)
}
