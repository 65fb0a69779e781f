package crawler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RobotsChecker fetches and caches robots.txt per host and evaluates
// Disallow rules for the "*" user-agent group, per spec.md §4.1.
//
// No robots.txt parser ships in the retrieval pack's dependency set, and
// the format is a handful of line-oriented directives — small enough that
// pulling in a dependency for it would not track the corpus's pattern of
// using third-party libraries for substantial protocol/format concerns.
type RobotsChecker struct {
	client *http.Client
	mu     sync.Mutex
	rules  map[string][]string // host -> disallow prefixes
	fetch  map[string]time.Time
}

// NewRobotsChecker builds a RobotsChecker.
func NewRobotsChecker() *RobotsChecker {
	return &RobotsChecker{
		client: &http.Client{Timeout: 10 * time.Second},
		rules:  make(map[string][]string),
		fetch:  make(map[string]time.Time),
	}
}

// Allowed reports whether u's path is permitted by its host's robots.txt.
func (c *RobotsChecker) Allowed(ctx context.Context, u *url.URL) (bool, error) {
	disallow, err := c.rulesFor(ctx, u)
	if err != nil {
		return true, err
	}
	for _, prefix := range disallow {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(u.Path, prefix) {
			return false, nil
		}
	}
	return true, nil
}

func (c *RobotsChecker) rulesFor(ctx context.Context, u *url.URL) ([]string, error) {
	c.mu.Lock()
	if fetched, ok := c.fetch[u.Host]; ok && time.Since(fetched) < time.Hour {
		rules := c.rules[u.Host]
		c.mu.Unlock()
		return rules, nil
	}
	c.mu.Unlock()

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rules []string
	if resp.StatusCode == http.StatusOK {
		rules = parseRobots(resp.Body)
	}

	c.mu.Lock()
	c.rules[u.Host] = rules
	c.fetch[u.Host] = time.Now()
	c.mu.Unlock()
	return rules, nil
}

// parseRobots extracts Disallow prefixes from the "*" user-agent group.
func parseRobots(body interface{ Read([]byte) (int, error) }) []string {
	scanner := bufio.NewScanner(body)
	var disallow []string
	inWildcardGroup := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch directive {
		case "user-agent":
			inWildcardGroup = value == "*"
		case "disallow":
			if inWildcardGroup {
				disallow = append(disallow, value)
			}
		}
	}
	return disallow
}
