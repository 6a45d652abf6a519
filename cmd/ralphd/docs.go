package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"

	"ralphd/internal/gitutil"
)

// defaultDocsURL is used when no GitHub origin can be detected.
const defaultDocsURL = "https://github.com/anthropics/ralphd"

var githubSSHPattern = regexp.MustCompile(`^git@github\.com:([^/]+)/(.+?)(\.git)?$`)
var githubHTTPSPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/(.+?)(\.git)?$`)

// docsCommand opens or prints a documentation URL for the repository,
// selected by --section.
type docsCommand struct {
	LogLevel string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
	Section  string `long:"section" description:"readme, issues, or wiki" default:"readme"`
	Print    bool   `long:"print" description:"print the URL instead of opening a browser"`
}

func (d *docsCommand) Execute(args []string) error {
	setLogLevel(d.LogLevel)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	repoURL := defaultDocsURL
	if detected := detectGitHubRepoURL(cwd); detected != "" {
		repoURL = detected
	}

	url := sectionURL(repoURL, d.Section)

	if d.Print {
		fmt.Println(url)
		return nil
	}
	return openBrowser(url)
}

// detectGitHubRepoURL normalizes the repo's origin remote (SSH or
// HTTPS, with or without a .git suffix) into an https://github.com/...
// URL, or "" if the origin isn't a GitHub remote.
func detectGitHubRepoURL(cwd string) string {
	origin, err := gitutil.New(cwd).RemoteOriginURL(context.Background())
	if err != nil || origin == "" {
		return ""
	}

	if m := githubSSHPattern.FindStringSubmatch(origin); m != nil {
		return fmt.Sprintf("https://github.com/%s/%s", m[1], m[2])
	}
	if m := githubHTTPSPattern.FindStringSubmatch(origin); m != nil {
		return fmt.Sprintf("https://github.com/%s/%s", m[1], m[2])
	}
	return ""
}

func sectionURL(repoURL, section string) string {
	switch section {
	case "issues":
		return repoURL + "/issues"
	case "wiki":
		return repoURL + "/wiki"
	default:
		return repoURL
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Println(url)
		return nil
	}
	return nil
}
