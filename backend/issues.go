package backend

import (
	"context"
	"fmt"

	"gotrack/storage"
	"gotrack/worklog"
)

// IssueCache maps remote issue ids to issue keys and names.
type IssueCache interface {
	Lookup(ctx context.Context, id string) (worklog.Issue, bool, error)
	Remember(ctx context.Context, issues ...worklog.Issue) error
}

// StoreIssueCache keeps the lookup table in the durable store.
type StoreIssueCache struct {
	store storage.Store
}

func NewStoreIssueCache(store storage.Store) *StoreIssueCache {
	return &StoreIssueCache{store: store}
}

func (c *StoreIssueCache) Lookup(ctx context.Context, id string) (worklog.Issue, bool, error) {
	issues, err := storage.GetJSON[map[string]worklog.Issue](ctx, c.store, storage.KeyIssues)
	if err != nil {
		return worklog.Issue{}, false, fmt.Errorf("read issue cache: %w", err)
	}
	issue, ok := issues[id]
	return issue, ok, nil
}

func (c *StoreIssueCache) Remember(ctx context.Context, issues ...worklog.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return storage.UpdateJSON(ctx, c.store, storage.KeyIssues, func(known *map[string]worklog.Issue) error {
		if *known == nil {
			*known = make(map[string]worklog.Issue, len(issues))
		}
		for _, issue := range issues {
			if issue.ID == "" || issue.Key == "" {
				continue
			}
			(*known)[issue.ID] = issue
		}
		return nil
	})
}
