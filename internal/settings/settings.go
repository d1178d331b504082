// Package settings resolves operator Settings from the key-value
// configuration store, filling defaults and normalizing line-oriented fields.
package settings

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// Keys understood by the configuration store.
const (
	KeyStartingURLs        = "starting_urls"
	KeyUserAgent           = "user_agent"
	KeyCrawlerCookies      = "crawler_cookies"
	KeyRobotsOn            = "robots_on"
	KeyVerifyTLS           = "verify_tls"
	KeyRejectPatterns      = "reject_patterns"
	KeyResourceDomains     = "resource_domains"
	KeyWaitSeconds         = "wait_seconds"
	KeyRandomWait          = "random_wait"
	KeyCrawlDepth          = "crawl_depth"
	KeyRecursiveOnSchedule = "recursive_on_schedule"
	KeyRecursiveOnManual   = "recursive_on_manual"
	KeyScheduleTime        = "schedule_time"
	KeyScheduleFrequency   = "schedule_frequency"
)

// Older field names still honoured on read.
const (
	legacyBaseURLs           = "base_urls"
	legacyNoCheckCertificate = "no_check_certificate"
	legacyLevel              = "level"
	legacyRecursiveScheduled = "recursive_scheduled"
	legacyRecursiveImmediate = "recursive_immediate"
)

// UserAgentMarker prefixes the default crawler user agent. Requests carrying
// it come from the mirror itself and must not trigger new mirrors.
const UserAgentMarker = "SiteMirror/1.0"

// DefaultScheduleTime is used when no valid HH:MM is stored.
const DefaultScheduleTime = "23:59"

var (
	lineSplit    = regexp.MustCompile(`\r\n|\r|\n`)
	schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	clockTime    = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Store is the key-value configuration store holding raw settings.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// Resolver merges stored settings with defaults.
type Resolver struct {
	store   Store
	homeURL string
	logger  *zap.Logger
}

// NewResolver builds a Resolver. homeURL seeds the default starting URL and
// user agent.
func NewResolver(store Store, homeURL string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, homeURL: homeURL, logger: logger}
}

// HomeURL returns the site home URL the resolver was built with.
func (r *Resolver) HomeURL() string {
	return r.homeURL
}

// Resolve returns normalized Settings. It never fails: a store error is
// logged and defaults are used.
func (r *Resolver) Resolve(ctx context.Context) mirror.Settings {
	var raw map[string]string
	if r.store != nil {
		values, err := r.store.Load(ctx)
		if err != nil {
			r.logger.Warn("settings store read failed; using defaults", zap.Error(err))
		} else {
			raw = values
		}
	}
	return Merge(raw, r.homeURL)
}

// Save sanitizes and persists raw values, returning what was stored.
func (r *Resolver) Save(ctx context.Context, input map[string]string) (map[string]string, error) {
	if r.store == nil {
		return nil, fmt.Errorf("settings store is not configured")
	}
	clean := Sanitize(input)
	if err := r.store.Save(ctx, clean); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return clean, nil
}

// Defaults returns the settings used when nothing is stored.
func Defaults(homeURL string) mirror.Settings {
	var urls []string
	if homeURL != "" {
		urls = []string{homeURL}
	}
	return mirror.Settings{
		StartingURLs:        urls,
		UserAgent:           DefaultUserAgent(homeURL),
		VerifyTLS:           true,
		RecursiveOnSchedule: true,
		ScheduleTime:        DefaultScheduleTime,
		ScheduleFrequency:   mirror.FrequencyDaily,
	}
}

// DefaultUserAgent embeds the site home URL in the mirror's user agent.
func DefaultUserAgent(homeURL string) string {
	if homeURL == "" {
		return UserAgentMarker
	}
	return UserAgentMarker + "; " + homeURL
}

// Merge overlays raw store values onto Defaults(homeURL).
func Merge(raw map[string]string, homeURL string) mirror.Settings {
	s := Defaults(homeURL)
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := raw[k]; ok {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := get(KeyStartingURLs, legacyBaseURLs); ok {
		if urls := ParseURLs(v); len(urls) > 0 {
			s.StartingURLs = urls
		}
	}
	if v, ok := get(KeyUserAgent); ok && strings.TrimSpace(v) != "" {
		s.UserAgent = strings.TrimSpace(v)
	}
	if v, ok := get(KeyCrawlerCookies); ok {
		s.CrawlerCookies = ParseCookies(v)
	}
	if v, ok := get(KeyRobotsOn); ok {
		s.RobotsOn = parseBool(v, s.RobotsOn)
	}
	if v, ok := get(KeyVerifyTLS); ok {
		s.VerifyTLS = parseBool(v, s.VerifyTLS)
	} else if v, ok := get(legacyNoCheckCertificate); ok {
		s.VerifyTLS = !parseBool(v, !s.VerifyTLS)
	}
	if v, ok := get(KeyRejectPatterns); ok {
		s.RejectPatterns = ParseLines(v)
	}
	if v, ok := get(KeyResourceDomains); ok {
		s.ResourceDomains = NormalizeDomains(ParseLines(v))
	}
	if v, ok := get(KeyWaitSeconds); ok {
		s.WaitSeconds = parseNonNegative(v, s.WaitSeconds)
	}
	if v, ok := get(KeyRandomWait); ok {
		s.RandomWait = parseBool(v, s.RandomWait)
	}
	if v, ok := get(KeyCrawlDepth, legacyLevel); ok {
		s.CrawlDepth = parseNonNegative(v, s.CrawlDepth)
	}
	if v, ok := get(KeyRecursiveOnSchedule, legacyRecursiveScheduled); ok {
		s.RecursiveOnSchedule = parseBool(v, s.RecursiveOnSchedule)
	}
	if v, ok := get(KeyRecursiveOnManual, legacyRecursiveImmediate); ok {
		s.RecursiveOnManual = parseBool(v, s.RecursiveOnManual)
	}
	if v, ok := get(KeyScheduleTime); ok && clockTime.MatchString(strings.TrimSpace(v)) {
		s.ScheduleTime = strings.TrimSpace(v)
	}
	if v, ok := get(KeyScheduleFrequency); ok {
		s.ScheduleFrequency = normalizeFrequency(v)
	}
	return s
}

// Sanitize cleans operator input before it is written to the store. Unknown
// keys are dropped; values are normalized to their canonical text form.
func Sanitize(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for key, value := range input {
		switch key {
		case KeyStartingURLs:
			out[key] = strings.Join(ParseURLs(value), "\n")
		case KeyUserAgent:
			out[key] = strings.Join(strings.Fields(value), " ")
		case KeyCrawlerCookies:
			cookies := ParseCookies(value)
			lines := make([]string, 0, len(cookies))
			for _, c := range cookies {
				lines = append(lines, c.Name+"="+c.Value)
			}
			out[key] = strings.Join(lines, "\n")
		case KeyRejectPatterns:
			out[key] = strings.Join(ParseLines(value), "\n")
		case KeyResourceDomains:
			out[key] = strings.Join(NormalizeDomains(ParseLines(value)), "\n")
		case KeyRobotsOn, KeyVerifyTLS, KeyRandomWait, KeyRecursiveOnSchedule, KeyRecursiveOnManual:
			out[key] = strconv.FormatBool(parseBool(value, false))
		case KeyWaitSeconds, KeyCrawlDepth:
			out[key] = strconv.Itoa(parseNonNegative(value, 0))
		case KeyScheduleTime:
			if t := strings.TrimSpace(value); clockTime.MatchString(t) {
				out[key] = t
			}
		case KeyScheduleFrequency:
			out[key] = normalizeFrequency(value)
		}
	}
	return out
}

// ParseLines splits text on any newline convention, trims each line, and
// drops blanks.
func ParseLines(text string) []string {
	var out []string
	for _, line := range lineSplit.Split(text, -1) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseURLs keeps the lines that are absolute http(s) URLs.
func ParseURLs(text string) []string {
	var out []string
	for _, line := range ParseLines(text) {
		u, err := url.Parse(line)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseCookies reads name=value lines in order. Lines without '=' or with an
// empty name are ignored.
func ParseCookies(text string) []mirror.Cookie {
	var out []mirror.Cookie
	for _, line := range ParseLines(text) {
		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		out = append(out, mirror.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return out
}

// NormalizeDomains strips protocol prefixes and paths, lowercases, and
// removes duplicates while keeping first-seen order.
func NormalizeDomains(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	var out []string
	for _, line := range lines {
		host := schemePrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		host = strings.ToLower(host)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no", "":
		return false
	default:
		return def
	}
}

func parseNonNegative(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	if n < 0 {
		return 0
	}
	return n
}

func normalizeFrequency(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), mirror.FrequencyWeekly) {
		return mirror.FrequencyWeekly
	}
	return mirror.FrequencyDaily
}
