package dev

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/fswatch"
	"github.com/sidkik/amp/pkg/sync"
	"github.com/sidkik/amp/pkg/sync/client"
)

type options struct {
	queueSize int
	overflow  string
	rateLimit float64
	timeout   time.Duration
}

// New creates a new `dev` command.
func New() *cobra.Command {
	var opts options
	cobraCmd := &cobra.Command{
		Use:   "dev",
		Short: "Continuously sync the current workspace to the server",
		Long: `Create a live playbook from the manifest in the current workspace, and
keep the remote copy of the workspace in sync with local changes.

The workspace root is the closest directory, starting from the current one,
that contains a .amp.toml manifest. Paths matched by the .gitignore at the
workspace root aren't synced.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := util.SignalContext()
			defer cancel()

			if err := run(ctx, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().IntVar(&opts.queueSize, "queue-size", fswatch.DefaultQueueSize,
		"The maximum number of file events waiting to be synced.")
	cobraCmd.Flags().StringVar(&opts.overflow, "overflow", string(fswatch.Block),
		fmt.Sprintf("What to do when the event queue is full: %q waits for "+
			"the sync to catch up, %q discards the oldest event.",
			fswatch.Block, fswatch.DropOldest))
	cobraCmd.Flags().Float64Var(&opts.rateLimit, "rate-limit", 0,
		"The maximum number of requests per second sent to the server. "+
			"Zero means no limit.")
	cobraCmd.Flags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout,
		"The maximum time for a single request to the server, including "+
			"uploading the files. Zero means no timeout.")
	return cobraCmd
}

func run(ctx context.Context, opts options) error {
	overflow, err := fswatch.ParseOverflowPolicy(opts.overflow)
	if err != nil {
		return err
	}

	ampContext, err := config.LoadContext()
	if err != nil {
		return errors.WithContext(err, "load context")
	}

	c, err := client.New(ampContext.Server, opts.clientOptions(ampContext))
	if err != nil {
		return errors.WithContext(err, "create client")
	}

	wd, err := os.Getwd()
	if err != nil {
		return errors.WithContext(err, "get working directory")
	}

	sess, err := bootstrap(ctx, c.Playbooks(), wd)
	if err != nil {
		return err
	}

	logger, err := newLogger(sess.root)
	if err != nil {
		return errors.WithContext(err, "set up logging")
	}
	logger.WithFields(logrus.Fields{
		"playbook": sess.playbook.ID,
		"name":     sess.playbook.Name,
		"root":     sess.root,
	}).Info("Created playbook")

	if err := setOpenFilesLimit(); err != nil {
		logger.WithError(err).Warn("Failed to increase the kernel limit on open files. " +
			"Watching large workspaces may fail.")
	}

	s, err := newSyncer(logger, sess, c.Actors())
	if err != nil {
		return err
	}

	if err := s.initialSync(ctx); err != nil {
		return errors.WithContext(err, "initial sync")
	}

	watcher, err := fswatch.Watch(sess.root, fswatch.Options{
		QueueSize: opts.queueSize,
		Overflow:  overflow,
		Skip:      s.skipDir,
	})
	if err != nil {
		if isWatchLimitError(errors.RootCause(err)) {
			return errors.NewFriendlyError("Too many files for amp to watch " +
				"for changes. Try ignoring large directories in .gitignore, or " +
				"raise the kernel limit on file watches.")
		}
		return errors.WithContext(err, "watch files")
	}
	defer watcher.Close()

	logger.Info("Watching for changes..")
	return s.run(ctx, watcher.Events())
}

func (opts options) clientOptions(ampContext config.Context) client.Options {
	timeout := opts.timeout
	if timeout == 0 {
		timeout = client.NoTimeout
	}
	return client.Options{
		Token:     ampContext.Token,
		Timeout:   timeout,
		RateLimit: opts.rateLimit,
	}
}

type session struct {
	root     string
	manifest config.Manifest
	playbook sync.PlaybookIdentity
}

// bootstrap finds the workspace containing `dir` and creates a live playbook
// for it.
func bootstrap(ctx context.Context, playbooks client.PlaybookClient, dir string) (session, error) {
	path, err := config.FindManifest(dir)
	if err != nil {
		return session{}, err
	}

	content, err := config.ReadManifest(path)
	if err != nil {
		return session{}, errors.WithContext(err, "read manifest")
	}

	manifest, err := config.ParseManifest(path, content)
	if err != nil {
		return session{}, err
	}

	playbook, err := playbooks.Create(ctx, client.PlaybookPayload{
		Title:       "Untitled",
		Description: "",
		Preface:     client.Preface{Manifest: content},
		Live:        true,
	})
	if err != nil {
		return session{}, errors.WithContext(err, "create playbook")
	}

	return session{
		root:     filepath.Dir(path),
		manifest: manifest,
		playbook: sync.PlaybookIdentity{ID: playbook.ID, Name: manifest.Name},
	}, nil
}

// newLogger returns the logger for the sync loop. Logs go to stderr, and to
// a size-rotated file in the workspace's state directory. The global logger
// is pointed at the same outputs so that library logs end up in the file as
// well.
func newLogger(root string) (*logrus.Logger, error) {
	logDir := filepath.Join(root, sync.StateDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.WithContext(err, "make log directory")
	}

	out := io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "amp.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	})
	formatter := &logrus.TextFormatter{
		// Show the full timestamp so that the logs can be correlated with
		// the server's.
		FullTimestamp: true,

		// Disable colors since we're also logging to a file.
		DisableColors: true,
	}

	logrus.SetOutput(out)
	logrus.SetFormatter(formatter)

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(formatter)
	logger.SetLevel(logrus.GetLevel())
	return logger, nil
}

func isWatchLimitError(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENOSPC) ||
		strings.Contains(err.Error(), "too many open files")
}

// The max file limit is 10240, even though the max returned by Getrlimit is
// 1<<63-1. This is OPEN_MAX in sys/syslimits.h.
const osxMaxSoftOpenFilesLimit = 10240

func setOpenFilesLimit() error {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		return errors.WithContext(err, "get current limit")
	}

	if rLimit.Max < osxMaxSoftOpenFilesLimit {
		rLimit.Cur = rLimit.Max
	} else {
		rLimit.Cur = osxMaxSoftOpenFilesLimit
	}
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
}
