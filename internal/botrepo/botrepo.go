// Package botrepo downloads and updates the MaiBot source tree.
package botrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
)

const (
	// GitHubRepo is the repository the bot is fetched from.
	GitHubRepo = "MaiM-with-u/MaiBot"
	// GitHubAPIURL is the GitHub API base.
	GitHubAPIURL = "https://api.github.com"
	// CacheTTL is how long a fetched branch list is reused.
	CacheTTL = time.Hour
)

// Source is a git remote the bot can be cloned from.
type Source string

const (
	SourceGitHub Source = "github"
	SourceGitee  Source = "gitee"
)

var sourceURLs = map[Source]string{
	SourceGitHub: "https://github.com/MaiM-with-u/MaiBot.git",
	SourceGitee:  "https://gitee.com/DrSmooth/MaiBot.git",
}

// Errors
var (
	ErrUnknownSource = errors.New("unknown source")
	ErrNotRepo       = errors.New("directory is not empty and not a git repository")
	ErrGitFailed     = errors.New("git failed")
)

// RepoURL returns the clone URL of src.
func RepoURL(src Source) (string, error) {
	u, ok := sourceURLs[src]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
	return u, nil
}

// Branch is a published branch of the bot.
type Branch struct {
	Name    string `json:"name"`
	Channel string `json:"channel"` // stable or dev
}

// Only these branches are offered.
var channels = map[string]string{
	"main": "stable",
	"dev":  "dev",
}

// branchCache stores the last branch list fetched.
type branchCache struct {
	FetchedAt int64    `json:"fetched_at"`
	Branches  []Branch `json:"branches"`
}

// Client lists branches through the GitHub API, caching the answer on disk.
type Client struct {
	apiURL   string
	http     *http.Client
	cacheDir string
	cache    *branchCache
	now      func() time.Time
}

// NewClient creates a client caching under cacheDir. An empty cacheDir
// disables the cache.
func NewClient(cacheDir string) *Client {
	c := &Client{
		apiURL:   GitHubAPIURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		cacheDir: cacheDir,
		now:      time.Now,
	}

	// Load existing cache
	_ = c.loadCache()

	return c
}

// Branches returns the branches offered for download, main first. A cached
// list younger than CacheTTL is reused unless refresh is set.
func (c *Client) Branches(ctx context.Context, refresh bool) ([]Branch, error) {
	if !refresh && c.cacheFresh() {
		return c.cache.Branches, nil
	}

	url := fmt.Sprintf("%s/repos/%s/branches", c.apiURL, GitHubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var raw []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse branch list: %w", err)
	}

	var branches []Branch
	for _, name := range []string{"main", "dev"} {
		for _, b := range raw {
			if b.Name == name {
				branches = append(branches, Branch{Name: name, Channel: channels[name]})
			}
		}
	}

	c.cache = &branchCache{FetchedAt: c.now().Unix(), Branches: branches}
	_ = c.saveCache()

	return branches, nil
}

func (c *Client) cacheFresh() bool {
	if c.cache == nil || len(c.cache.Branches) == 0 {
		return false
	}
	return c.now().Sub(time.Unix(c.cache.FetchedAt, 0)) < CacheTTL
}

// cachePath returns the path to the cache file.
func (c *Client) cachePath() string {
	return filepath.Join(c.cacheDir, "branch_cache.json")
}

// loadCache loads the cache from disk.
func (c *Client) loadCache() error {
	if c.cacheDir == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return err
	}

	var cache branchCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return err
	}

	c.cache = &cache
	return nil
}

// saveCache saves the cache to disk.
func (c *Client) saveCache() error {
	if c.cache == nil || c.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cacheDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c.cache, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.cachePath(), data, 0600)
}

// Plan returns the git invocation that brings dir to branch: a clone when
// dir is missing or empty, a pull when it already holds a repository.
func Plan(dir, branch string, src Source) (string, []string, error) {
	repoURL, err := RepoURL(src)
	if err != nil {
		return "", nil, err
	}

	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist), err == nil && len(entries) == 0:
		return "git", []string{"clone", "-b", branch, repoURL, dir}, nil
	case err != nil:
		return "", nil, err
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", nil, fmt.Errorf("%s: %w", dir, ErrNotRepo)
	}
	return "git", []string{"-C", dir, "pull", "origin", branch}, nil
}

// Fetch clones or updates the bot in dir through conn.
func Fetch(ctx context.Context, conn connectors.Connector, dir, branch string, src Source) (*connectors.ExecResult, error) {
	cmd, args, err := Plan(dir, branch, src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}

	res, err := conn.Execute(ctx, cmd, args)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return res, fmt.Errorf("%w: %s %s (exit %d): %s", ErrGitFailed, cmd, strings.Join(args, " "), res.ExitCode, msg)
	}
	return res, nil
}
