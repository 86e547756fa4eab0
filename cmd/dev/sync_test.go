package dev

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/amp/pkg/fswatch"
	"github.com/sidkik/amp/pkg/sync"
	syncMocks "github.com/sidkik/amp/pkg/sync/client/mocks"
)

var testPlaybook = sync.PlaybookIdentity{ID: "playbook-id", Name: "web"}

type entry struct {
	name     string
	contents string
}

type expRequest struct {
	kind       sync.Intent
	paths      []string
	hasPayload bool
	entries    []entry
}

// makeWorkspace creates a workspace with the given files, and returns its
// root.
func makeWorkspace(t *testing.T, files map[string]string) string {
	root, err := ioutil.TempDir("", "amp-dev")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	for path, contents := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(path))
		if strings.HasSuffix(path, "/") {
			require.NoError(t, os.MkdirAll(fullPath, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, ioutil.WriteFile(fullPath, []byte(contents), 0644))
	}
	return root
}

func newTestSyncer(t *testing.T, root string, actors sync.Syncer) (syncer, *logrusTest.Hook) {
	logger, logHook := logrusTest.NewNullLogger()
	s, err := newSyncer(logger, session{root: root, playbook: testPlaybook}, actors)
	require.NoError(t, err)
	return s, logHook
}

// recordRequests makes `actors` accept every sync, and returns the requests
// it received.
func recordRequests(actors *syncMocks.ActorClient, err error) *[]sync.Request {
	var reqs []sync.Request
	actors.On("Sync", mock.Anything, testPlaybook.ID, testPlaybook.Name, mock.Anything).
		Run(func(args mock.Arguments) {
			reqs = append(reqs, args.Get(3).(sync.Request))
		}).
		Return(err)
	return &reqs
}

func assertRequests(t *testing.T, exp []expRequest, actual []sync.Request) {
	require.Len(t, actual, len(exp))
	for i, req := range actual {
		assert.Equal(t, exp[i].kind, req.Kind)
		assert.Equal(t, exp[i].paths, req.Paths)
		assert.Nil(t, req.Attributes)

		if !exp[i].hasPayload {
			assert.Nil(t, req.Payload)
			continue
		}

		archived, err := sync.ReadArchive(req.Payload)
		require.NoError(t, err)

		var entries []entry
		for _, e := range archived {
			entries = append(entries, entry{e.Name, string(e.Contents)})
		}
		assert.Equal(t, exp[i].entries, entries)
	}
}

func TestHandle(t *testing.T) {
	type test struct {
		name        string
		setup       func(t *testing.T, root string)
		event       func(root string) fswatch.Event
		syncErr     error
		expRequests []expRequest
		expLogs     []*logrus.Entry
		expError    string
	}

	at := func(op fsnotify.Op, paths ...string) func(string) fswatch.Event {
		return func(root string) fswatch.Event {
			event := fswatch.Event{Op: op}
			for _, path := range paths {
				event.Paths = append(event.Paths, filepath.Join(root, path))
			}
			return event
		}
	}

	tests := []test{
		{
			name:  "Create",
			event: at(fsnotify.Create, "c.txt"),
			expRequests: []expRequest{
				{
					kind:       sync.Create,
					paths:      []string{"c.txt"},
					hasPayload: true,
					entries:    []entry{{"c.txt", "x"}},
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Create", "paths": []string{"c.txt"}},
					Message: "Synced change",
				},
			},
		},
		{
			name:  "Modify",
			event: at(fsnotify.Write, "a.txt"),
			expRequests: []expRequest{
				{
					kind:       sync.Modify,
					paths:      []string{"a.txt"},
					hasPayload: true,
					entries:    []entry{{"a.txt", "hi"}},
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Modify", "paths": []string{"a.txt"}},
					Message: "Synced change",
				},
			},
		},
		{
			name:  "CreateAndWriteCombined",
			event: at(fsnotify.Create|fsnotify.Write, "sub/d.txt"),
			expRequests: []expRequest{
				{
					kind:       sync.Create,
					paths:      []string{"sub/d.txt"},
					hasPayload: true,
					entries:    []entry{{"sub/d.txt", "d"}},
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Create", "paths": []string{"sub/d.txt"}},
					Message: "Synced change",
				},
			},
		},
		{
			name:  "CreateDirectory",
			event: at(fsnotify.Create, "sub"),
			expRequests: []expRequest{
				{
					kind:       sync.Create,
					paths:      []string{"sub"},
					hasPayload: true,
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Create", "paths": []string{"sub"}},
					Message: "Synced change",
				},
			},
		},
		{
			name:  "Remove",
			event: at(fsnotify.Remove, "gone.txt"),
			expRequests: []expRequest{
				{
					kind:  sync.Remove,
					paths: []string{"gone.txt"},
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Remove", "paths": []string{"gone.txt"}},
					Message: "Synced change",
				},
			},
		},
		{
			name:  "IgnoredFile",
			event: at(fsnotify.Create, "b.log"),
		},
		{
			name:  "IgnoredDirectory",
			event: at(fsnotify.Create, "build/y.o"),
		},
		{
			name: "RemoveIgnoredDirectory",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.RemoveAll(filepath.Join(root, "build")))
			},
			event: at(fsnotify.Remove, "build"),
		},
		{
			name: "RemoveIgnoredFileInRemovedDirectory",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.RemoveAll(filepath.Join(root, "build")))
			},
			event: at(fsnotify.Remove, "build/y.o"),
		},
		{
			name:  "GitDirectory",
			event: at(fsnotify.Write, ".git/HEAD"),
		},
		{
			name:  "AnyIgnoredPathDropsEvent",
			event: at(fsnotify.Write, "a.txt", "b.log"),
		},
		{
			name:  "Rename",
			event: at(fsnotify.Rename, "a.txt"),
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.WarnLevel,
					Data:    logrus.Fields{"op": "RENAME", "paths": []string{"a.txt"}},
					Message: "Unsupported file event. Skipping.",
				},
			},
		},
		{
			name:  "Chmod",
			event: at(fsnotify.Chmod, "a.txt"),
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.WarnLevel,
					Data:    logrus.Fields{"op": "CHMOD", "paths": []string{"a.txt"}},
					Message: "Unsupported file event. Skipping.",
				},
			},
		},
		{
			name: "WatchError",
			event: func(string) fswatch.Event {
				return fswatch.Event{Err: assert.AnError}
			},
			expLogs: []*logrus.Entry{
				{
					Level:   logrus.WarnLevel,
					Data:    logrus.Fields{logrus.ErrorKey: assert.AnError},
					Message: "File watcher error",
				},
			},
		},
		{
			name: "IgnoreFileChanged",
			setup: func(t *testing.T, root string) {
				require.NoError(t, ioutil.WriteFile(filepath.Join(root, ".gitignore"),
					[]byte("build/\nc.txt\n"), 0644))
			},
			event: at(fsnotify.Write, ".gitignore"),
			expRequests: []expRequest{
				{
					kind:       sync.Modify,
					paths:      []string{".gitignore"},
					hasPayload: true,
					entries:    []entry{{".gitignore", "build/\nc.txt\n"}},
				},
			},
			expLogs: []*logrus.Entry{
				{
					Level: logrus.WarnLevel,
					Data:  logrus.Fields{},
					Message: ".gitignore changed. The new rules take effect " +
						"the next time `amp dev` starts.",
				},
				{
					Level:   logrus.InfoLevel,
					Data:    logrus.Fields{"kind": "Modify", "paths": []string{".gitignore"}},
					Message: "Synced change",
				},
			},
		},
		{
			name: "OutsideRoot",
			event: func(root string) fswatch.Event {
				return fswatch.Event{
					Op:    fsnotify.Create,
					Paths: []string{filepath.Join(filepath.Dir(root), "elsewhere.txt")},
				}
			},
			expError: "normalize paths: strip prefix:",
		},
		{
			name:     "FileVanishedBeforeArchiving",
			event:    at(fsnotify.Write, "vanished.txt"),
			expError: `build request: archive: append path "vanished.txt"`,
		},
		{
			name:     "DispatchError",
			event:    at(fsnotify.Create, "c.txt"),
			syncErr:  assert.AnError,
			expError: "dispatch: client error (sync): " + assert.AnError.Error(),
			expRequests: []expRequest{
				{
					kind:       sync.Create,
					paths:      []string{"c.txt"},
					hasPayload: true,
					entries:    []entry{{"c.txt", "x"}},
				},
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			root := makeWorkspace(t, map[string]string{
				".gitignore": "b.log\nbuild/\n",
				"a.txt":      "hi",
				"b.log":      "log",
				"c.txt":      "x",
				"sub/d.txt":  "d",
				"build/y.o":  "obj",
				".git/HEAD":  "ref",
			})

			var actors syncMocks.ActorClient
			reqs := recordRequests(&actors, test.syncErr)
			s, logHook := newTestSyncer(t, root, &actors)

			if test.setup != nil {
				test.setup(t, root)
			}

			err := s.handle(context.Background(), test.event(root))
			if test.expError == "" {
				assert.NoError(t, err)
			} else if assert.Error(t, err) {
				assert.True(t, strings.HasPrefix(err.Error(), test.expError), err.Error())
			}

			assertRequests(t, test.expRequests, *reqs)
			assertLogs(t, test.expLogs, logHook.AllEntries(), test.name)
		})
	}
}

func TestIgnoreRulesFixedForSession(t *testing.T) {
	root := makeWorkspace(t, map[string]string{
		".gitignore": "b.log\n",
		"a.txt":      "hi",
	})

	var actors syncMocks.ActorClient
	reqs := recordRequests(&actors, nil)
	s, _ := newTestSyncer(t, root, &actors)

	// Stop ignoring b.log, and start ignoring c.txt.
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, ".gitignore"), []byte("c.txt\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "b.log"), []byte("log"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "c.txt"), []byte("x"), 0644))

	for _, path := range []string{".gitignore", "b.log", "c.txt"} {
		op := fsnotify.Create
		if path == ".gitignore" {
			op = fsnotify.Write
		}
		event := fswatch.Event{Op: op, Paths: []string{filepath.Join(root, path)}}
		require.NoError(t, s.handle(context.Background(), event))
	}

	assertRequests(t, []expRequest{
		{
			kind:       sync.Modify,
			paths:      []string{".gitignore"},
			hasPayload: true,
			entries:    []entry{{".gitignore", "c.txt\n"}},
		},
		{
			kind:       sync.Create,
			paths:      []string{"c.txt"},
			hasPayload: true,
			entries:    []entry{{"c.txt", "x"}},
		},
	}, *reqs)
}

func TestInitialSync(t *testing.T) {
	root := makeWorkspace(t, map[string]string{
		".gitignore": "build/\n",
		"a.txt":      "hi",
		"sub/b.txt":  "b",
		"build/x.o":  "obj",
		".git/HEAD":  "ref",
		"empty/":     "",
	})

	var actors syncMocks.ActorClient
	reqs := recordRequests(&actors, nil)
	s, logHook := newTestSyncer(t, root, &actors)

	require.NoError(t, s.initialSync(context.Background()))
	assertRequests(t, []expRequest{
		{
			kind:       sync.Override,
			paths:      []string{},
			hasPayload: true,
			entries: []entry{
				{".gitignore", "build/\n"},
				{"a.txt", "hi"},
				{"sub/b.txt", "b"},
			},
		},
	}, *reqs)
	assertLogs(t, []*logrus.Entry{
		{
			Level:   logrus.InfoLevel,
			Data:    logrus.Fields{"files": 3},
			Message: "Synced workspace",
		},
	}, logHook.AllEntries(), "initial sync")
}

func TestInitialSyncError(t *testing.T) {
	root := makeWorkspace(t, map[string]string{"a.txt": "hi"})

	var actors syncMocks.ActorClient
	recordRequests(&actors, assert.AnError)
	s, logHook := newTestSyncer(t, root, &actors)

	err := s.initialSync(context.Background())
	assert.EqualError(t, err, "dispatch: client error (sync): "+assert.AnError.Error())
	assert.Empty(t, logHook.AllEntries())
}

func TestSkipDir(t *testing.T) {
	root := makeWorkspace(t, map[string]string{".gitignore": "build/\n"})
	s, _ := newTestSyncer(t, root, &syncMocks.ActorClient{})

	assert.True(t, s.skipDir(filepath.Join(root, "build")))
	assert.True(t, s.skipDir(filepath.Join(root, ".git")))
	assert.True(t, s.skipDir(filepath.Join(root, ".amp")))
	assert.False(t, s.skipDir(filepath.Join(root, "src")))
	assert.False(t, s.skipDir(root))
}

func TestRun(t *testing.T) {
	root := makeWorkspace(t, map[string]string{"a.txt": "hi"})

	t.Run("StopsWhenEventsClose", func(t *testing.T) {
		var actors syncMocks.ActorClient
		reqs := recordRequests(&actors, nil)
		s, _ := newTestSyncer(t, root, &actors)

		events := make(chan fswatch.Event, 2)
		events <- fswatch.Event{Op: fsnotify.Write, Paths: []string{filepath.Join(root, "a.txt")}}
		events <- fswatch.Event{Op: fsnotify.Remove, Paths: []string{filepath.Join(root, "a.txt")}}
		close(events)

		assert.NoError(t, s.run(context.Background(), events))
		assertRequests(t, []expRequest{
			{
				kind:       sync.Modify,
				paths:      []string{"a.txt"},
				hasPayload: true,
				entries:    []entry{{"a.txt", "hi"}},
			},
			{
				kind:  sync.Remove,
				paths: []string{"a.txt"},
			},
		}, *reqs)
	})

	t.Run("StopsWhenCancelled", func(t *testing.T) {
		s, logHook := newTestSyncer(t, root, &syncMocks.ActorClient{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, s.run(ctx, make(chan fswatch.Event)))
		assertLogs(t, []*logrus.Entry{
			{
				Level:   logrus.InfoLevel,
				Data:    logrus.Fields{},
				Message: "Stopping sync",
			},
		}, logHook.AllEntries(), "cancelled")
	})

	t.Run("DispatchErrorIsFatal", func(t *testing.T) {
		var actors syncMocks.ActorClient
		reqs := recordRequests(&actors, assert.AnError)
		s, _ := newTestSyncer(t, root, &actors)

		events := make(chan fswatch.Event, 2)
		events <- fswatch.Event{Op: fsnotify.Remove, Paths: []string{filepath.Join(root, "x")}}
		events <- fswatch.Event{Op: fsnotify.Remove, Paths: []string{filepath.Join(root, "y")}}

		err := s.run(context.Background(), events)
		assert.Error(t, err)

		// The second event is never handled.
		assert.Len(t, *reqs, 1)
	})
}

func assertLogs(t *testing.T, expLogs, allEntries []*logrus.Entry, msg string) {
	assert.Len(t, allEntries, len(expLogs), msg)
	for i, exp := range expLogs {
		if i >= len(allEntries) {
			return
		}
		assert.Equal(t, exp.Level, allEntries[i].Level, msg)
		assert.Equal(t, exp.Data, allEntries[i].Data, msg)
		assert.Equal(t, exp.Message, allEntries[i].Message, msg)
	}
}
