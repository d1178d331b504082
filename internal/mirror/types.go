package mirror

import "time"

// Schedule frequencies accepted for the recurring mirror.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Cookie is a single name=value pair sent to the crawler.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Settings is the normalized operator configuration for one run. It is
// resolved once at run start and never re-read mid-run.
type Settings struct {
	StartingURLs        []string `json:"starting_urls"`
	UserAgent           string   `json:"user_agent"`
	CrawlerCookies      []Cookie `json:"crawler_cookies"`
	RobotsOn            bool     `json:"robots_on"`
	VerifyTLS           bool     `json:"verify_tls"`
	RejectPatterns      []string `json:"reject_patterns"`
	ResourceDomains     []string `json:"resource_domains"`
	WaitSeconds         int      `json:"wait_seconds"`
	RandomWait          bool     `json:"random_wait"`
	CrawlDepth          int      `json:"crawl_depth"`
	RecursiveOnSchedule bool     `json:"recursive_on_schedule"`
	RecursiveOnManual   bool     `json:"recursive_on_manual"`
	ScheduleTime        string   `json:"schedule_time"`
	ScheduleFrequency   string   `json:"schedule_frequency"`
}

// Recursive reports whether a run of the given kind should crawl recursively.
func (s Settings) Recursive(manual bool) bool {
	if manual {
		return s.RecursiveOnManual
	}
	return s.RecursiveOnSchedule
}

// PendingJob accumulates trigger reasons until the debounced run starts.
type PendingJob struct {
	Changelog []string  `json:"changelog"`
	DueAt     time.Time `json:"due_at"`
	Manual    bool      `json:"manual"`
}

// RunLock marks a run in progress. Token identifies the holder so only the
// acquiring run can release it.
type RunLock struct {
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
	Changelog []string  `json:"changelog"`
}

// Artifact is a completed, immutable mirror.
type Artifact struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Changelog   []string  `json:"changelog"`
	StoragePath string    `json:"storage_path"`
	PublicURL   string    `json:"public_url"`
}

// Expired reports whether the artifact's retention window has closed at now.
func (a Artifact) Expired(ttl time.Duration, now time.Time) bool {
	return !a.CreatedAt.Add(ttl).After(now)
}

// CrawlResult captures one crawler invocation within a run.
type CrawlResult struct {
	URL        string `json:"url"`
	ScratchDir string `json:"scratch_dir"`
	Succeeded  bool   `json:"succeeded"`
	RawLog     string `json:"raw_log"`
}

// DryRunSummary is the outcome of a metadata-only crawler probe.
type DryRunSummary struct {
	StatusCodes map[int]int `json:"status_codes"`
	Exclusions  int         `json:"exclusions"`
}

// Status is the operator-facing view of orchestration state.
type Status struct {
	Pending       *PendingJob `json:"pending,omitempty"`
	Lock          *RunLock    `json:"lock,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	NextRun       *time.Time  `json:"next_run,omitempty"`
	NextScheduled *time.Time  `json:"next_scheduled,omitempty"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
