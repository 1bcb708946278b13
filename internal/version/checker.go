package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxReleaseBody = 1 << 20

// Release is the part of the GitHub release payload the checker reads.
type Release struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Update is the outcome of a release check.
type Update struct {
	Current   string
	Latest    string
	URL       string
	Available bool
}

// Checker asks a latest-release endpoint whether a newer build exists.
type Checker struct {
	client  *http.Client
	url     string
	current string
}

// NewChecker returns a Checker for url comparing against Version. A nil
// client gets a five second timeout.
func NewChecker(client *http.Client, url string) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{client: client, url: url, current: Version}
}

// Check fetches the latest release. No published release, a draft or a
// prerelease all report no update.
func (c *Checker) Check(ctx context.Context) (Update, error) {
	up := Update{Current: c.current}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return up, err
	}
	req.Header.Set("User-Agent", "corebrain/"+c.current)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return up, fmt.Errorf("release check: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return up, nil
	case resp.StatusCode != http.StatusOK:
		return up, fmt.Errorf("release check: endpoint returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleaseBody)).Decode(&release); err != nil {
		return up, fmt.Errorf("release check: decode: %w", err)
	}
	if release.Draft || release.Prerelease {
		return up, nil
	}

	up.Latest = strings.TrimPrefix(release.TagName, "v")
	up.URL = release.HTMLURL
	up.Available = IsNewer(c.current, up.Latest)
	return up, nil
}

// IsNewer reports whether latest is a higher version than current.
func IsNewer(current, latest string) bool {
	if latest == "" {
		return false
	}
	return Compare(latest, current) > 0
}

// Compare orders dotted versions numerically, missing parts counting as
// zero. With equal numbers a build suffix ("1.2.0-rc1") sorts first.
func Compare(a, b string) int {
	an, apre := parse(a)
	bn, bpre := parse(b)
	for i := 0; i < max(len(an), len(bn)); i++ {
		var x, y int
		if i < len(an) {
			x = an[i]
		}
		if i < len(bn) {
			y = bn[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	switch {
	case apre == bpre:
		return 0
	case apre == "":
		return 1
	case bpre == "":
		return -1
	}
	return strings.Compare(apre, bpre)
}

func parse(v string) ([]int, string) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	core, pre, _ := strings.Cut(v, "-")
	var nums []int
	for _, part := range strings.Split(core, ".") {
		n, _ := strconv.Atoi(part)
		nums = append(nums, n)
	}
	return nums, pre
}
