package vcs

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/pkg/errors"
)

var scpSyntaxRe = regexp.MustCompile(`^([a-zA-Z0-9_]+)@([a-zA-Z0-9._-]+):(.*)$`)

// remoteRepoId turns a clone URL, in either URL or scp syntax, into
// host/path form without a .git suffix.
func remoteRepoId(configUrl string) (string, error) {
	var id string
	if m := scpSyntaxRe.FindStringSubmatch(configUrl); m != nil {
		id = fmt.Sprintf("%s/%s", m[2], strings.TrimPrefix(m[3], "/"))
	} else {
		repoURL, err := url.Parse(configUrl)
		if err != nil {
			return "", err
		}

		if repoURL.Host == "" {
			return "", errors.Errorf("remote url has no host: %s", configUrl)
		}

		id = fmt.Sprintf("%s/%s", repoURL.Host, strings.TrimPrefix(repoURL.Path, "/"))
	}

	return strings.TrimSuffix(id, ".git"), nil
}

// RemoteURL returns the https URL of the origin remote of the repository
// containing dir.
func RemoteURL(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return "", err
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return "", err
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", git.ErrRemoteNotFound
	}

	id, err := remoteRepoId(urls[0])
	if err != nil {
		return "", err
	}

	return "https://" + id, nil
}
