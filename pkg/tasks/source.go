// Package tasks implements the task projector (C4): periodic refresh of the
// external task list and projection of tasks into ActivityPub Notes
// overlaid with ledger-derived claim state.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Task is the cache record for an externally sourced unit of work, opaque
// outside this package.
type Task struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	URL       string    `json:"url" yaml:"url"`
	Labels    []string  `json:"labels" yaml:"labels"`
	FetchedAt time.Time `json:"fetched_at" yaml:"-"`
}

// Source produces the current external task list.
type Source interface {
	FetchTasks(ctx context.Context) ([]Task, error)
}

// GitHubIssueSource polls a GitHub-issues-shaped feed, treated as an opaque
// external task source (NewRequestWithContext, header setting, status
// check, JSON decode).
type GitHubIssueSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGitHubIssueSource constructs a source polling baseURL (a GitHub issues
// API endpoint). token is optional and, when set, raises the API's rate
// limit (the GITHUB_TOKEN configuration variable).
func NewGitHubIssueSource(baseURL, token string, client *http.Client) *GitHubIssueSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GitHubIssueSource{baseURL: baseURL, token: token, client: client}
}

type githubIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"html_url"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// FetchTasks implements Source.
func (g *GitHubIssueSource) FetchTasks(ctx context.Context) ([]Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tasks: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tasks: upstream returned status %d", resp.StatusCode)
	}

	var issues []githubIssue
	if err := json.NewDecoder(resp.Body).Decode(&issues); err != nil {
		return nil, fmt.Errorf("tasks: decode: %w", err)
	}

	now := time.Now()
	out := make([]Task, 0, len(issues))
	for _, iss := range issues {
		labels := make([]string, 0, len(iss.Labels))
		for _, l := range iss.Labels {
			labels = append(labels, l.Name)
		}
		out = append(out, Task{
			ID:        fmt.Sprintf("QUASI-%03d", iss.Number),
			Title:     iss.Title,
			URL:       iss.URL,
			Labels:    labels,
			FetchedAt: now,
		})
	}
	return out, nil
}

// StaticSource serves a fixed task list — the genesis fallback used when the
// upstream source is unreachable at startup.
type StaticSource struct {
	tasks []Task
}

// NewStaticSource wraps a literal task list.
func NewStaticSource(tasks []Task) *StaticSource {
	return &StaticSource{tasks: tasks}
}

// FetchTasks implements Source.
func (s *StaticSource) FetchTasks(ctx context.Context) ([]Task, error) {
	now := time.Now()
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		t.FetchedAt = now
		out[i] = t
	}
	return out, nil
}

// DefaultGenesisTasks is the hard-coded three-task fallback used when no
// quasi-board.yaml override is present.
func DefaultGenesisTasks() []Task {
	return []Task{
		{ID: "QUASI-001", Title: "Write the canonical hasher", URL: "https://example.com/issues/1", Labels: []string{"good-first-issue"}},
		{ID: "QUASI-002", Title: "Implement ledger chain verification", URL: "https://example.com/issues/2", Labels: []string{"core"}},
		{ID: "QUASI-003", Title: "Wire up HTTP Message Signatures", URL: "https://example.com/issues/3", Labels: []string{"core"}},
	}
}

type genesisFile struct {
	Tasks []Task `yaml:"tasks"`
}

// LoadStaticSourceFromYAML reads a quasi-board.yaml genesis list
// (os.ReadFile + yaml.Unmarshal). Falls back to DefaultGenesisTasks if path
// does not exist.
func LoadStaticSourceFromYAML(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewStaticSource(DefaultGenesisTasks()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: read %s: %w", path, err)
	}

	var gf genesisFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("tasks: parse %s: %w", path, err)
	}
	if len(gf.Tasks) == 0 {
		return NewStaticSource(DefaultGenesisTasks()), nil
	}
	return NewStaticSource(gf.Tasks), nil
}
