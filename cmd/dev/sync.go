package dev

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/fswatch"
	"github.com/sidkik/amp/pkg/sync"
)

type syncer struct {
	root     string
	matcher  sync.IgnoreMatcher
	playbook sync.PlaybookIdentity
	actors   sync.Syncer

	log *logrus.Logger
}

func newSyncer(log *logrus.Logger, sess session, actors sync.Syncer) (syncer, error) {
	matcher, err := sync.BuildIgnoreMatcher(sess.root)
	if err != nil {
		return syncer{}, errors.WithContext(err, "build ignore matcher")
	}

	return syncer{
		root:     sess.root,
		matcher:  matcher,
		playbook: sess.playbook,
		actors:   actors,
		log:      log,
	}, nil
}

// skipDir returns whether the watcher should skip the directory at `path`.
func (s syncer) skipDir(path string) bool {
	pair, err := sync.Normalize(s.root, path)
	if err != nil {
		return false
	}
	return s.matcher.Matches(pair.RelativePath, true)
}

// initialSync replaces the remote workspace with the current contents of the
// local one.
func (s syncer) initialSync(ctx context.Context) error {
	pairs, err := sync.CollectTree(s.root, s.matcher)
	if err != nil {
		return errors.WithContext(err, "collect files")
	}

	req, err := sync.NewOverrideRequest(pairs)
	if err != nil {
		return err
	}

	if err := sync.Dispatch(ctx, s.actors, s.playbook, req); err != nil {
		return errors.WithContext(err, "dispatch")
	}

	s.log.WithField("files", len(pairs)).Info("Synced workspace")
	return nil
}

// run syncs each event in order until the events are closed, the context is
// cancelled, or an event fails to sync.
func (s syncer) run(ctx context.Context, events <-chan fswatch.Event) error {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping sync")
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}

			if err := s.handle(ctx, event); err != nil {
				// Requests in flight fail when the user interrupts us.
				if ctx.Err() != nil {
					s.log.Info("Stopping sync")
					return nil
				}
				return err
			}
		}
	}
}

// handle syncs a single event. Errors from the watcher, ignored paths, and
// changes that can't be expressed remotely are logged and skipped. Any other
// failure is returned.
func (s syncer) handle(ctx context.Context, event fswatch.Event) error {
	if event.Err != nil {
		s.log.WithError(event.Err).Warn("File watcher error")
		return nil
	}

	pairs, err := sync.NormalizeAll(s.root, event.Paths)
	if err != nil {
		return errors.WithContext(err, "normalize paths")
	}

	for _, pair := range pairs {
		if s.matcher.MatchesPath(pair) {
			s.log.WithField("path", pair.RelativePath).Debug("Ignoring change")
			return nil
		}
	}

	paths := sync.RelativePaths(pairs)
	intent := sync.Classify(event.Op)
	switch intent {
	case sync.Rename, sync.Other:
		s.log.WithFields(logrus.Fields{
			"op":    event.Op.String(),
			"paths": paths,
		}).Warn("Unsupported file event. Skipping.")
		return nil
	}

	for _, path := range paths {
		if path == sync.IgnoreFile {
			s.log.Warnf("%s changed. The new rules take effect the next "+
				"time `amp dev` starts.", sync.IgnoreFile)
		}
	}

	req, err := sync.NewChangeRequest(intent, pairs)
	if err != nil {
		return errors.WithContext(err, "build request")
	}

	if err := sync.Dispatch(ctx, s.actors, s.playbook, req); err != nil {
		return errors.WithContext(err, "dispatch")
	}

	s.log.WithFields(logrus.Fields{
		"kind":  intent.String(),
		"paths": paths,
	}).Info("Synced change")
	return nil
}
