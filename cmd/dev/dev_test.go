package dev

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	goSync "sync"
	"testing"
	"time"

	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/fswatch"
	"github.com/sidkik/amp/pkg/sync"
	"github.com/sidkik/amp/pkg/sync/client"
	syncMocks "github.com/sidkik/amp/pkg/sync/client/mocks"
	"github.com/sidkik/amp/pkg/sync/server"
)

func TestBootstrap(t *testing.T) {
	manifest := "name = \"web\"\ndescription = \"The storefront\"\n"
	root := makeWorkspace(t, map[string]string{
		".amp.toml":    manifest,
		"src/app/x.go": "package app",
	})
	expPayload := client.PlaybookPayload{
		Title:       "Untitled",
		Description: "",
		Preface:     client.Preface{Manifest: manifest},
		Live:        true,
	}

	t.Run("FromSubdirectory", func(t *testing.T) {
		var playbooks syncMocks.PlaybookClient
		playbooks.On("Create", mock.Anything, expPayload).Return(
			client.Playbook{ID: "playbook-id", Title: "Untitled"}, nil)

		sess, err := bootstrap(context.Background(), &playbooks, filepath.Join(root, "src", "app"))
		require.NoError(t, err)
		assert.Equal(t, root, sess.root)
		assert.Equal(t, "The storefront", sess.manifest.Description)
		assert.Equal(t, sync.PlaybookIdentity{ID: "playbook-id", Name: "web"}, sess.playbook)
		playbooks.AssertExpectations(t)
	})

	t.Run("CreateError", func(t *testing.T) {
		var playbooks syncMocks.PlaybookClient
		playbooks.On("Create", mock.Anything, expPayload).Return(
			client.Playbook{}, errors.ClientError{Op: "create playbook", StatusCode: 500})

		_, err := bootstrap(context.Background(), &playbooks, root)
		assert.EqualError(t, err,
			"create playbook: client error (create playbook): 500 Internal Server Error")
	})

	t.Run("ManifestNotFound", func(t *testing.T) {
		empty := makeWorkspace(t, map[string]string{"a.txt": "hi"})

		// Only fails if no parent of the temp directory has a manifest.
		if _, err := config.FindManifest(filepath.Dir(empty)); err == nil {
			t.Skip("a parent of the temp directory has a manifest")
		}

		_, err := bootstrap(context.Background(), &syncMocks.PlaybookClient{}, empty)
		assert.Equal(t, errors.ManifestNotFound{Name: config.ManifestFile, Dir: empty}, err)
	})

	t.Run("InvalidManifest", func(t *testing.T) {
		invalid := makeWorkspace(t, map[string]string{".amp.toml": "description = \"no name\"\n"})

		_, err := bootstrap(context.Background(), &syncMocks.PlaybookClient{}, invalid)
		assert.Error(t, err)
		_, friendly := errors.GetFriendlyMessage(err)
		assert.True(t, friendly)
	})
}

func TestClientOptions(t *testing.T) {
	ampContext := config.Context{Server: "http://localhost:8170", Token: "secret"}

	opts := options{rateLimit: 5, timeout: 2 * time.Minute}
	assert.Equal(t, client.Options{
		Token:     "secret",
		Timeout:   2 * time.Minute,
		RateLimit: 5,
	}, opts.clientOptions(ampContext))

	opts = options{}
	assert.Equal(t, client.Options{
		Token:   "secret",
		Timeout: client.NoTimeout,
	}, opts.clientOptions(ampContext))
}

// syncRecorder records the sync requests received by the server.
type syncRecorder struct {
	lock goSync.Mutex
	reqs []sync.Request
}

func (rec *syncRecorder) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Base(r.URL.Path) == "sync" {
			body, err := ioutil.ReadAll(r.Body)
			if err == nil {
				var req sync.Request
				if json.Unmarshal(body, &req) == nil {
					rec.lock.Lock()
					rec.reqs = append(rec.reqs, req)
					rec.lock.Unlock()
				}
			}
			r.Body = ioutil.NopCloser(bytes.NewReader(body))
		}
		next.ServeHTTP(w, r)
	})
}

func (rec *syncRecorder) requests() []sync.Request {
	rec.lock.Lock()
	defer rec.lock.Unlock()
	return append([]sync.Request(nil), rec.reqs...)
}

// TestEndToEnd runs a sync session against the reference server.
func TestEndToEnd(t *testing.T) {
	root := makeWorkspace(t, map[string]string{
		".amp.toml":  "name = \"web\"\n",
		".gitignore": "b.log\n",
		"a.txt":      "hi",
		"sub/b.txt":  "b",
	})

	serverRoot, err := ioutil.TempDir("", "amp-dev-server")
	require.NoError(t, err)
	defer os.RemoveAll(serverRoot)

	rec := &syncRecorder{}
	srv := httptest.NewServer(rec.wrap(server.New(serverRoot)))
	defer srv.Close()

	c, err := client.New(srv.URL, client.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := bootstrap(ctx, c.Playbooks(), root)
	require.NoError(t, err)

	logger, _ := logrusTest.NewNullLogger()
	s, err := newSyncer(logger, sess, c.Actors())
	require.NoError(t, err)

	remote := func(path string) string {
		return filepath.Join(serverRoot, sess.playbook.ID, "web", filepath.FromSlash(path))
	}

	// The initial sync sends the whole tree in a single Override.
	require.NoError(t, s.initialSync(ctx))
	assertRequests(t, []expRequest{
		{
			kind:       sync.Override,
			paths:      []string{},
			hasPayload: true,
			entries: []entry{
				{".amp.toml", "name = \"web\"\n"},
				{".gitignore", "b.log\n"},
				{"a.txt", "hi"},
				{"sub/b.txt", "b"},
			},
		},
	}, rec.requests())
	contents, err := ioutil.ReadFile(remote("sub/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(contents))

	watcher, err := fswatch.Watch(root, fswatch.Options{Skip: s.skipDir})
	require.NoError(t, err)
	defer watcher.Close()

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.run(ctx, watcher.Events())
	}()

	// Files are moved into the workspace so that each one results in a
	// single Create event.
	staging, err := ioutil.TempDir("", "amp-dev-staging")
	require.NoError(t, err)
	defer os.RemoveAll(staging)
	moveIn := func(name, contents string) {
		src := filepath.Join(staging, name)
		require.NoError(t, ioutil.WriteFile(src, []byte(contents), 0644))
		require.NoError(t, os.Rename(src, filepath.Join(root, name)))
	}

	// Ignored files aren't synced. Events are handled in order, so once
	// c.txt has been synced, b.log would have been too.
	moveIn("b.log", "log")
	moveIn("c.txt", "x")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(remote("c.txt"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	reqs := rec.requests()
	require.Len(t, reqs, 2)
	assertRequests(t, []expRequest{
		{
			kind:       sync.Create,
			paths:      []string{"c.txt"},
			hasPayload: true,
			entries:    []entry{{"c.txt", "x"}},
		},
	}, reqs[1:])
	_, err = os.Stat(remote("b.log"))
	assert.True(t, os.IsNotExist(err))

	// Removals are synced without a payload.
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(remote("a.txt"))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)

	reqs = rec.requests()
	require.Len(t, reqs, 3)
	assertRequests(t, []expRequest{
		{
			kind:  sync.Remove,
			paths: []string{"a.txt"},
		},
	}, reqs[2:])

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync loop didn't stop")
	}
}
