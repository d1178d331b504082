package crawl

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/settings"
)

// Options carries the per-invocation values that are not operator settings.
type Options struct {
	Recursive  bool
	ScratchDir string
	HomeURL    string
	// Spider restricts the crawler to a metadata-only probe.
	Spider bool
}

// BuildArgs returns the ordered crawler arguments for one base URL.
func BuildArgs(s mirror.Settings, rawURL string, opts Options) []string {
	ua := s.UserAgent
	if ua == "" {
		ua = settings.DefaultUserAgent(opts.HomeURL)
	}

	args := []string{
		"--user-agent=" + ua,
		"--no-clobber",
		"--page-requisites",
		"--convert-links",
		"--restrict-file-names=windows",
		"--html-extension",
		"--content-on-error",
		"--trust-server-names",
		"--span-hosts",
		"--domains=" + strings.Join(AllowedDomains(s, rawURL), ","),
	}
	if header := CookieHeader(s.CrawlerCookies); header != "" {
		args = append(args, "--header=Cookie: "+header)
	}
	if opts.Recursive {
		args = append(args, "--recursive")
	}
	if pattern := BuildRejectPattern(s.RejectPatterns); pattern != "" {
		args = append(args, "--reject-regex="+pattern)
	}
	if s.RobotsOn {
		args = append(args, "--execute=robots=on")
	} else {
		args = append(args, "--execute=robots=off")
	}
	if !s.VerifyTLS {
		args = append(args, "--no-check-certificate")
	}
	if s.WaitSeconds > 0 {
		args = append(args, "--wait="+strconv.Itoa(s.WaitSeconds))
	}
	if s.RandomWait {
		args = append(args, "--random-wait")
	}
	if s.CrawlDepth > 0 {
		args = append(args, "--level="+strconv.Itoa(s.CrawlDepth))
	}
	if opts.Spider {
		args = append(args, "--spider", "--server-response")
	}
	return append(args, "--directory-prefix="+opts.ScratchDir, rawURL)
}

// AllowedDomains is the URL's own host followed by the configured resource
// domains, without duplicates.
func AllowedDomains(s mirror.Settings, rawURL string) []string {
	var hosts []string
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, strings.ToLower(u.Hostname()))
	}
	return settings.NormalizeDomains(append(hosts, s.ResourceDomains...))
}

// CookieHeader joins cookies as name=value pairs separated by ';'.
func CookieHeader(cookies []mirror.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, ";")
}

// OutputDir is the directory the crawler creates for rawURL under scratch.
// Ports are kept in the name with ':' replaced the way windows-safe file
// name restriction does.
func OutputDir(scratch, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return filepath.Join(scratch, "invalid-url")
	}
	return filepath.Join(scratch, strings.ReplaceAll(strings.ToLower(u.Host), ":", "+"))
}

// CommandLine renders binary and args as a copy-pasteable shell command.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(binary))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_=./:,@%+", r)
}
