package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

const home = "https://example.com"

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	got := NewResolver(NewMemoryStore(nil), home, nil).Resolve(context.Background())

	require.Equal(t, []string{home}, got.StartingURLs)
	require.Equal(t, "SiteMirror/1.0; https://example.com", got.UserAgent)
	require.True(t, got.VerifyTLS)
	require.False(t, got.RobotsOn)
	require.True(t, got.RecursiveOnSchedule)
	require.False(t, got.RecursiveOnManual)
	require.Equal(t, "23:59", got.ScheduleTime)
	require.Equal(t, mirror.FrequencyDaily, got.ScheduleFrequency)
	require.Zero(t, got.WaitSeconds)
	require.Zero(t, got.CrawlDepth)
}

func TestResolveNormalizesLineFields(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(map[string]string{
		KeyStartingURLs:      "https://example.com/\r\n\n  https://example.com/blog/ \nnot a url\nftp://example.com",
		KeyCrawlerCookies:    "session=abc\r\nbroken line\n=novalue\n theme = dark ",
		KeyResourceDomains:   "https://cdn.example.com/assets\nHTTP://Fonts.Example.com\ncdn.example.com\n\n",
		KeyRejectPatterns:    "  #/page/\\d+/#  \n\n/wp-admin/",
		KeyWaitSeconds:       "-4",
		KeyCrawlDepth:        "3",
		KeyScheduleTime:      "25:00",
		KeyScheduleFrequency: "WEEKLY",
	})

	got := NewResolver(store, home, nil).Resolve(context.Background())

	require.Equal(t, []string{"https://example.com/", "https://example.com/blog/"}, got.StartingURLs)
	require.Equal(t, []mirror.Cookie{{Name: "session", Value: "abc"}, {Name: "theme", Value: "dark"}}, got.CrawlerCookies)
	require.Equal(t, []string{"cdn.example.com", "fonts.example.com"}, got.ResourceDomains)
	require.Equal(t, []string{`#/page/\d+/#`, "/wp-admin/"}, got.RejectPatterns)
	require.Zero(t, got.WaitSeconds)
	require.Equal(t, 3, got.CrawlDepth)
	require.Equal(t, DefaultScheduleTime, got.ScheduleTime)
	require.Equal(t, mirror.FrequencyWeekly, got.ScheduleFrequency)
}

func TestResolveLegacyKeys(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(map[string]string{
		"base_urls":            "https://legacy.example.com",
		"no_check_certificate": "1",
		"level":                "2",
		"recursive_scheduled":  "0",
		"recursive_immediate":  "1",
	})

	got := NewResolver(store, home, nil).Resolve(context.Background())

	require.Equal(t, []string{"https://legacy.example.com"}, got.StartingURLs)
	require.False(t, got.VerifyTLS)
	require.Equal(t, 2, got.CrawlDepth)
	require.False(t, got.RecursiveOnSchedule)
	require.True(t, got.RecursiveOnManual)
}

func TestResolvePrefersCurrentKeysOverLegacy(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(map[string]string{
		KeyVerifyTLS:           "true",
		"no_check_certificate": "1",
		KeyCrawlDepth:          "5",
		"level":                "1",
	})

	got := NewResolver(store, home, nil).Resolve(context.Background())

	require.True(t, got.VerifyTLS)
	require.Equal(t, 5, got.CrawlDepth)
}

type failingStore struct{}

func (failingStore) Load(context.Context) (map[string]string, error) {
	return nil, errors.New("store down")
}

func (failingStore) Save(context.Context, map[string]string) error {
	return errors.New("store down")
}

func TestResolveNeverFails(t *testing.T) {
	t.Parallel()

	r := NewResolver(failingStore{}, home, nil)
	require.Equal(t, Defaults(home), r.Resolve(context.Background()))

	_, err := r.Save(context.Background(), map[string]string{KeyRobotsOn: "1"})
	require.Error(t, err)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	got := Sanitize(map[string]string{
		KeyStartingURLs:      "https://a.example.com\njavascript:alert(1)\n",
		KeyUserAgent:         "  My   Agent  ",
		KeyRobotsOn:          "on",
		KeyWaitSeconds:       "abc",
		KeyCrawlDepth:        "-1",
		KeyScheduleTime:      "7:5",
		KeyScheduleFrequency: "hourly",
		"unknown":            "dropped",
	})

	require.Equal(t, map[string]string{
		KeyStartingURLs:      "https://a.example.com",
		KeyUserAgent:         "My Agent",
		KeyRobotsOn:          "true",
		KeyWaitSeconds:       "0",
		KeyCrawlDepth:        "0",
		KeyScheduleFrequency: mirror.FrequencyDaily,
	}, got)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "mirror:settings")
	resolver := NewResolver(store, home, nil)

	saved, err := resolver.Save(context.Background(), map[string]string{
		KeyResourceDomains: "https://cdn.example.com/",
		KeyRandomWait:      "yes",
	})
	require.NoError(t, err)
	require.Equal(t, "cdn.example.com", saved[KeyResourceDomains])

	got := resolver.Resolve(context.Background())
	require.Equal(t, []string{"cdn.example.com"}, got.ResourceDomains)
	require.True(t, got.RandomWait)
}
