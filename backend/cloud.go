package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"gotrack/worklog"
)

const (
	defaultTempoCloudURL = "https://api.tempo.io/4"
	cloudDateLayout      = "2006-01-02"
	cloudTimeLayout      = "15:04:05"
	cloudPageLimit       = 1000
)

// CloudAdapter talks to Tempo Cloud for worklogs and Jira Cloud for issues.
// Tempo only returns numeric issue ids, so keys and names come from the issue cache.
type CloudAdapter struct {
	tempo     *apiClient
	jira      *apiClient
	accountID string
	issues    IssueCache
	loc       *time.Location
	logger    *slog.Logger
}

type cloudIssueRef struct {
	ID int64 `json:"id"`
}

type cloudAuthor struct {
	AccountID string `json:"accountId"`
}

type cloudWorklog struct {
	TempoWorklogID   int64         `json:"tempoWorklogId"`
	Issue            cloudIssueRef `json:"issue"`
	TimeSpentSeconds int           `json:"timeSpentSeconds"`
	StartDate        string        `json:"startDate"`
	StartTime        string        `json:"startTime"`
	Description      string        `json:"description"`
	Author           cloudAuthor   `json:"author"`
}

type cloudWorklogPage struct {
	Metadata struct {
		Count int    `json:"count"`
		Next  string `json:"next"`
	} `json:"metadata"`
	Results []cloudWorklog `json:"results"`
}

type cloudWorklogInput struct {
	IssueID          int64  `json:"issueId"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description"`
	AuthorAccountID  string `json:"authorAccountId"`
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

func (i jiraIssue) toIssue() worklog.Issue {
	return worklog.Issue{ID: i.ID, Key: i.Key, Name: i.Fields.Summary}
}

func NewCloudAdapter(cfg Config) (*CloudAdapter, error) {
	jiraURL := trimBaseURL(cfg.JiraURL)
	if jiraURL == "" {
		return nil, errors.New("jira URL is required")
	}
	if strings.TrimSpace(cfg.TempoToken) == "" {
		return nil, errors.New("tempo token is required for cloud instances")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("account id is required for cloud instances")
	}
	if cfg.Issues == nil {
		return nil, errors.New("issue cache is required for cloud instances")
	}
	tempoURL := trimBaseURL(cfg.TempoURL)
	if tempoURL == "" {
		tempoURL = defaultTempoCloudURL
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.TempoToken), TokenType: "Bearer"})
	tempoDoer := newHTTPClient(&oauth2.Transport{Source: tokenSource, Base: base})

	email := strings.TrimSpace(cfg.Email)
	apiToken := strings.TrimSpace(cfg.APIToken)

	return &CloudAdapter{
		tempo: &apiClient{
			baseURL:   tempoURL,
			doer:      tempoDoer,
			userAgent: strings.TrimSpace(cfg.UserAgent),
		},
		jira: &apiClient{
			baseURL: jiraURL,
			doer:    newHTTPClient(base),
			authorize: func(req *http.Request) {
				if email != "" {
					req.SetBasicAuth(email, apiToken)
				}
			},
			userAgent: strings.TrimSpace(cfg.UserAgent),
		},
		accountID: strings.TrimSpace(cfg.User),
		issues:    cfg.Issues,
		loc:       defaultLocation(cfg.Location),
		logger:    defaultLogger(cfg.Logger),
	}, nil
}

func (a *CloudAdapter) Fetch(ctx context.Context, from, to time.Time) ([]worklog.Worklog, error) {
	query := url.Values{}
	query.Set("from", from.In(a.loc).Format(cloudDateLayout))
	query.Set("to", to.In(a.loc).Format(cloudDateLayout))
	query.Set("limit", strconv.Itoa(cloudPageLimit))
	endpoint := fmt.Sprintf("/worklogs/user/%s?%s", url.PathEscape(a.accountID), query.Encode())

	var all []cloudWorklog
	for endpoint != "" {
		var page cloudWorklogPage
		if err := a.tempo.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		endpoint = page.Metadata.Next
	}

	out := make([]worklog.Worklog, 0, len(all))
	unresolved := map[string]bool{}
	for _, item := range all {
		id := strconv.FormatInt(item.Issue.ID, 10)
		issue := worklog.Issue{ID: id}
		if !unresolved[id] {
			resolved, err := a.issueByID(ctx, id)
			switch {
			case err == nil:
				issue = resolved
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				// Issues the user can no longer read still carry their worklogs.
				a.logger.Warn("issue lookup failed, keeping bare id", slog.String("id", id), slog.String("error", err.Error()))
				unresolved[id] = true
			}
		}
		converted, err := a.toCanonical(item, issue)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (a *CloudAdapter) Create(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error) {
	issue, input, err := a.buildInput(ctx, op)
	if err != nil {
		return worklog.Worklog{}, err
	}
	var created cloudWorklog
	if err := a.tempo.doJSON(ctx, http.MethodPost, "/worklogs", input, &created); err != nil {
		return worklog.Worklog{}, err
	}
	return a.toCanonical(created, issue)
}

// Update changes all fields, including the issue, in one request.
func (a *CloudAdapter) Update(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error) {
	id, err := parseRemoteID(op.ID)
	if err != nil {
		return worklog.Worklog{}, err
	}
	issue, input, err := a.buildInput(ctx, op)
	if err != nil {
		return worklog.Worklog{}, err
	}
	var updated cloudWorklog
	if err := a.tempo.doJSON(ctx, http.MethodPut, fmt.Sprintf("/worklogs/%d", id), input, &updated); err != nil {
		return worklog.Worklog{}, err
	}
	return a.toCanonical(updated, issue)
}

func (a *CloudAdapter) Delete(ctx context.Context, id string) error {
	remoteID, err := parseRemoteID(id)
	if err != nil {
		return err
	}
	err = a.tempo.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/worklogs/%d", remoteID), nil, nil)
	if isWorklogGone(err) {
		a.logger.Info("worklog already deleted", slog.String("id", id))
		return nil
	}
	return err
}

func (a *CloudAdapter) LookupIssue(ctx context.Context, key string) (worklog.Issue, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return worklog.Issue{}, errors.New("issue key is required")
	}
	var found jiraIssue
	endpoint := fmt.Sprintf("/rest/api/3/issue/%s?fields=summary", url.PathEscape(key))
	if err := a.jira.doJSON(ctx, http.MethodGet, endpoint, nil, &found); err != nil {
		return worklog.Issue{}, err
	}
	issue := found.toIssue()
	if err := a.issues.Remember(ctx, issue); err != nil {
		a.logger.Warn("remember issue failed", slog.String("key", issue.Key), slog.String("error", err.Error()))
	}
	return issue, nil
}

func (a *CloudAdapter) issueByID(ctx context.Context, id string) (worklog.Issue, error) {
	issue, ok, err := a.issues.Lookup(ctx, id)
	if err != nil {
		return worklog.Issue{}, err
	}
	if ok {
		return issue, nil
	}
	return a.LookupIssue(ctx, id)
}

func (a *CloudAdapter) resolveIssue(ctx context.Context, issue worklog.Issue) (worklog.Issue, int64, error) {
	if id, err := strconv.ParseInt(strings.TrimSpace(issue.ID), 10, 64); err == nil && id > 0 && issue.Key != "" {
		return issue, id, nil
	}
	ref := issue.Key
	if ref == "" {
		ref = issue.ID
	}
	resolved, err := a.LookupIssue(ctx, ref)
	if err != nil {
		return worklog.Issue{}, 0, fmt.Errorf("resolve issue %s: %w", ref, err)
	}
	id, err := strconv.ParseInt(resolved.ID, 10, 64)
	if err != nil {
		return worklog.Issue{}, 0, fmt.Errorf("issue %s has non-numeric id %q", resolved.Key, resolved.ID)
	}
	return resolved, id, nil
}

func (a *CloudAdapter) buildInput(ctx context.Context, op worklog.Temporary) (worklog.Issue, cloudWorklogInput, error) {
	issue, issueID, err := a.resolveIssue(ctx, op.Issue)
	if err != nil {
		return worklog.Issue{}, cloudWorklogInput{}, err
	}
	start := op.Start.In(a.loc)
	return issue, cloudWorklogInput{
		IssueID:          issueID,
		TimeSpentSeconds: spentSeconds(op.Start, op.End),
		StartDate:        start.Format(cloudDateLayout),
		StartTime:        start.Format(cloudTimeLayout),
		Description:      strings.TrimSpace(op.Comment),
		AuthorAccountID:  a.accountID,
	}, nil
}

func (a *CloudAdapter) toCanonical(item cloudWorklog, issue worklog.Issue) (worklog.Worklog, error) {
	start, err := time.ParseInLocation(cloudDateLayout+" "+cloudTimeLayout, item.StartDate+" "+item.StartTime, a.loc)
	if err != nil {
		return worklog.Worklog{}, fmt.Errorf("parse tempo start %q %q: %w", item.StartDate, item.StartTime, err)
	}
	return worklog.Worklog{
		ID:      strconv.FormatInt(item.TempoWorklogID, 10),
		Issue:   issue,
		Comment: item.Description,
		Start:   start,
		End:     start.Add(time.Duration(item.TimeSpentSeconds) * time.Second),
		Synced:  true,
	}, nil
}

func parseRemoteID(id string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%w: invalid worklog id %q", ErrRemoteRejected, id)
	}
	return parsed, nil
}
