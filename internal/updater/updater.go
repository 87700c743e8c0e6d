// Package updater performs in-place binary self-updates from GitHub releases.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creativeprojects/go-selfupdate"

	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/version"
)

// Repository is the GitHub slug releases are fetched from.
const Repository = "smazurov/hdmistream"

// Updater checks for and applies new releases.
type Updater struct {
	updater *selfupdate.Updater
	repo    selfupdate.Repository
}

// New creates an updater. Fails when the executable's directory is not
// writable, since applying an update rewrites the binary in place.
func New() (*Updater, error) {
	if err := checkWritePermission(); err != nil {
		return nil, err
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("create github source: %w", err)
	}
	u, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}
	return &Updater{updater: u, repo: selfupdate.ParseSlug(Repository)}, nil
}

// Check returns the latest release, or nil when already up to date.
func (u *Updater) Check(ctx context.Context) (*selfupdate.Release, error) {
	logger := logging.GetLogger("updater")

	latest, found, err := u.updater.DetectLatest(ctx, u.repo)
	if err != nil {
		return nil, fmt.Errorf("detect latest release: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no release found for %s", Repository)
	}

	current := version.String()
	if current != "dev" && latest.LessOrEqual(current) {
		logger.Info("Already up to date", "version", current)
		return nil, nil
	}
	logger.Info("Update available", "current", current, "latest", latest.Version())
	return latest, nil
}

// Apply downloads and installs a release over the running binary.
func (u *Updater) Apply(ctx context.Context, release *selfupdate.Release) error {
	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := u.updater.UpdateTo(ctx, release, exe); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	logging.GetLogger("updater").Info("Updated", "version", release.Version())
	return nil
}

func checkWritePermission() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("resolve executable symlinks: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(exe), ".hdmistream.update.test")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("no write permission to %s: %w", filepath.Dir(exe), err)
	}
	f.Close()
	os.Remove(tmp)
	return nil
}
