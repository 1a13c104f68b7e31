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

	"gotrack/worklog"
)

const (
	tempoServerPath     = "/rest/tempo-timesheets/4"
	datacenterDayLayout = "2006-01-02"
	datacenterStarted   = "2006-01-02 15:04:05.000"
)

// DatacenterAdapter talks to Tempo Timesheets inside a Jira Data Center
// instance. Issues are addressed by key. The server refuses to move a worklog
// to another issue through a plain update; that takes the move endpoint.
type DatacenterAdapter struct {
	tempo  *apiClient
	jira   *apiClient
	worker string
	loc    *time.Location
	logger *slog.Logger
}

type datacenterIssue struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

type datacenterWorklog struct {
	TempoWorklogID   int64           `json:"tempoWorklogId"`
	OriginTaskID     string          `json:"originTaskId"`
	Issue            datacenterIssue `json:"issue"`
	Comment          string          `json:"comment"`
	Started          string          `json:"started"`
	TimeSpentSeconds int             `json:"timeSpentSeconds"`
	Worker           string          `json:"worker"`
}

type datacenterWorklogInput struct {
	Worker           string `json:"worker"`
	Comment          string `json:"comment"`
	Started          string `json:"started"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	OriginTaskID     string `json:"originTaskId"`
}

type datacenterSearch struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Worker []string `json:"worker"`
}

func NewDatacenterAdapter(cfg Config) (*DatacenterAdapter, error) {
	jiraURL := trimBaseURL(cfg.JiraURL)
	if jiraURL == "" {
		return nil, errors.New("jira URL is required")
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		return nil, errors.New("user name is required for datacenter instances")
	}
	password := strings.TrimSpace(cfg.APIToken)
	authorize := func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
	doer := newHTTPClient(cfg.Transport)

	return &DatacenterAdapter{
		tempo: &apiClient{
			baseURL:   jiraURL + tempoServerPath,
			doer:      doer,
			authorize: authorize,
			userAgent: strings.TrimSpace(cfg.UserAgent),
		},
		jira: &apiClient{
			baseURL:   jiraURL,
			doer:      doer,
			authorize: authorize,
			userAgent: strings.TrimSpace(cfg.UserAgent),
		},
		worker: user,
		loc:    defaultLocation(cfg.Location),
		logger: defaultLogger(cfg.Logger),
	}, nil
}

func (a *DatacenterAdapter) Fetch(ctx context.Context, from, to time.Time) ([]worklog.Worklog, error) {
	search := datacenterSearch{
		From:   from.In(a.loc).Format(datacenterDayLayout),
		To:     to.In(a.loc).Format(datacenterDayLayout),
		Worker: []string{a.worker},
	}
	var found []datacenterWorklog
	if err := a.tempo.doJSON(ctx, http.MethodPost, "/worklogs/search", search, &found); err != nil {
		return nil, err
	}

	out := make([]worklog.Worklog, 0, len(found))
	for _, item := range found {
		converted, err := a.toCanonical(item)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (a *DatacenterAdapter) Create(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error) {
	input, err := a.buildInput(op)
	if err != nil {
		return worklog.Worklog{}, err
	}
	var created []datacenterWorklog
	if err := a.tempo.doJSON(ctx, http.MethodPost, "/worklogs", input, &created); err != nil {
		return worklog.Worklog{}, err
	}
	if len(created) == 0 {
		return worklog.Worklog{}, fmt.Errorf("%w: create returned no worklog", ErrRemoteRejected)
	}
	return a.toCanonical(created[0])
}

// Update sends the changed worklog. When the server rejects it and the issue
// changed, a second request moves the worklog to the new issue.
func (a *DatacenterAdapter) Update(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error) {
	id, err := parseRemoteID(op.ID)
	if err != nil {
		return worklog.Worklog{}, err
	}
	input, err := a.buildInput(op)
	if err != nil {
		return worklog.Worklog{}, err
	}

	var updated datacenterWorklog
	err = a.tempo.doJSON(ctx, http.MethodPut, fmt.Sprintf("/worklogs/%d", id), input, &updated)
	if err == nil {
		return a.toCanonical(updated)
	}
	if !errors.Is(err, ErrRemoteRejected) || !op.ChangesIssue() {
		return worklog.Worklog{}, err
	}

	a.logger.Info(
		"moving worklog to new issue",
		slog.String("id", op.ID),
		slog.String("from", op.OriginIssue.String()),
		slog.String("to", op.Issue.String()),
	)
	var moved datacenterWorklog
	if moveErr := a.tempo.doJSON(ctx, http.MethodPut, fmt.Sprintf("/worklogs/%d/move", id), input, &moved); moveErr != nil {
		return worklog.Worklog{}, fmt.Errorf("move worklog %s to %s: %w", op.ID, op.Issue, moveErr)
	}
	return a.toCanonical(moved)
}

func (a *DatacenterAdapter) Delete(ctx context.Context, id string) error {
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

func (a *DatacenterAdapter) LookupIssue(ctx context.Context, key string) (worklog.Issue, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return worklog.Issue{}, errors.New("issue key is required")
	}
	var found jiraIssue
	endpoint := fmt.Sprintf("/rest/api/2/issue/%s?fields=summary", url.PathEscape(key))
	if err := a.jira.doJSON(ctx, http.MethodGet, endpoint, nil, &found); err != nil {
		return worklog.Issue{}, err
	}
	return found.toIssue(), nil
}

func (a *DatacenterAdapter) buildInput(op worklog.Temporary) (datacenterWorklogInput, error) {
	taskID := strings.TrimSpace(op.Issue.Key)
	if taskID == "" {
		taskID = strings.TrimSpace(op.Issue.ID)
	}
	if taskID == "" {
		return datacenterWorklogInput{}, fmt.Errorf("%w: worklog %s has no issue", ErrRemoteRejected, op.Key())
	}
	return datacenterWorklogInput{
		Worker:           a.worker,
		Comment:          strings.TrimSpace(op.Comment),
		Started:          op.Start.In(a.loc).Format(datacenterStarted),
		TimeSpentSeconds: spentSeconds(op.Start, op.End),
		OriginTaskID:     taskID,
	}, nil
}

func (a *DatacenterAdapter) toCanonical(item datacenterWorklog) (worklog.Worklog, error) {
	start, err := time.ParseInLocation(datacenterStarted, item.Started, a.loc)
	if err != nil {
		return worklog.Worklog{}, fmt.Errorf("parse tempo started %q: %w", item.Started, err)
	}
	issue := worklog.Issue{Key: item.Issue.Key, Name: item.Issue.Summary}
	if item.Issue.ID > 0 {
		issue.ID = strconv.FormatInt(item.Issue.ID, 10)
	}
	if issue.Key == "" {
		issue.Key = item.OriginTaskID
	}
	return worklog.Worklog{
		ID:      strconv.FormatInt(item.TempoWorklogID, 10),
		Issue:   issue,
		Comment: item.Comment,
		Start:   start,
		End:     start.Add(time.Duration(item.TimeSpentSeconds) * time.Second),
		Synced:  true,
	}, nil
}
