package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/amp/cmd/util"
	"github.com/sidkik/amp/pkg/config"
	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/sync"
	"github.com/sidkik/amp/pkg/version"
)

// Mocked for unit testing.
var (
	fs              = afero.NewOsFs()
	parseUserConfig = config.ParseUserOrEmpty
	getwd           = os.Getwd
)

const redacted = "<redacted>"

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging amp",
		Args:  cobra.NoArgs,
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "amp-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("amp-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
You may want to edit the archive if your workspace contains sensitive information.
The archive contains:
 * The amp CLI logs of the current workspace.
 * The workspace manifest.
 * The list of files that amp syncs.
 * The user config, with tokens removed.
 * The version of the amp CLI.
`
	fmt.Printf(msg, out)
}

func setupInfo(root string) {
	if err := setupVersion(root); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	if err := setupUserConfig(root); err != nil {
		log.WithError(err).Warn("Failed to setup user config")
	}

	wd, err := getwd()
	if err != nil {
		log.WithError(err).Error("Failed to get working directory")
		return
	}

	manifestPath, err := config.FindManifest(wd)
	if err != nil {
		log.WithError(err).Error("Failed to find workspace")
		return
	}
	workspace := filepath.Dir(manifestPath)

	if err := copyFile(manifestPath, filepath.Join(root, config.ManifestFile)); err != nil {
		log.WithError(err).Warn("Failed to setup manifest")
	}

	if err := setupCLILogs(filepath.Join(root, "cli-logs"), workspace); err != nil {
		log.WithError(err).Warn("Failed to setup CLI logs")
	}

	if err := setupFileList(filepath.Join(root, "synced-files"), workspace); err != nil {
		log.WithError(err).Warn("Failed to setup synced files list")
	}
}

func setupVersion(root string) error {
	contents := fmt.Sprintf("local version: %s\n", version.Version)
	if err := afero.WriteFile(fs, filepath.Join(root, "version"), []byte(contents), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// setupUserConfig writes the user config with the tokens removed.
func setupUserConfig(root string) error {
	userConfig, err := parseUserConfig()
	if err != nil {
		return errors.WithContext(err, "parse user config")
	}

	contexts := map[string]config.Context{}
	for name, ctx := range userConfig.Contexts {
		if ctx.Token != "" {
			ctx.Token = redacted
		}
		contexts[name] = ctx
	}
	userConfig.Contexts = contexts

	configBytes, err := yaml.Marshal(userConfig)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "user-config.yaml"), configBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// setupCLILogs copies the current and rotated logs from the workspace's state
// directory.
func setupCLILogs(outdir, workspace string) error {
	logDir := filepath.Join(workspace, sync.StateDir)
	files, err := afero.ReadDir(fs, logDir)
	if err != nil {
		return errors.WithContext(err, "list logs")
	}

	if err := fs.MkdirAll(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	for _, fi := range files {
		if !fi.Mode().IsRegular() || !strings.HasSuffix(fi.Name(), ".log") {
			continue
		}

		err := copyFile(filepath.Join(logDir, fi.Name()), filepath.Join(outdir, fi.Name()))
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", fi.Name()))
		}
	}
	return nil
}

// setupFileList writes the paths that `amp dev` would sync, one per line.
func setupFileList(path, workspace string) error {
	matcher, err := sync.BuildIgnoreMatcher(workspace)
	if err != nil {
		return errors.WithContext(err, "build ignore matcher")
	}

	pairs, err := sync.CollectTree(workspace, matcher)
	if err != nil {
		return errors.WithContext(err, "collect files")
	}

	var contents strings.Builder
	for _, relPath := range sync.RelativePaths(pairs) {
		contents.WriteString(relPath + "\n")
	}

	if err := afero.WriteFile(fs, path, []byte(contents.String()), 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("amp-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
