package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/taskbridge/internal/codec"
)

// Fixture is a provider data set loaded from TOML:
//
//	authority = "org.dmfs.tasks"
//	version = "v1.2.0"
//
//	[[list]]
//	account_name = "alice@example.com"
//	account_type = "bitfire.at.davdroid"
//	name = "Work"
//	sync_id = "/calendars/alice/work/"
//	ctag = "v1"
//
//	  [[list.task]]
//	  uid = "a1"
//	  title = "Write report"
//	  tags = ["office"]
//	  order = 3
type Fixture struct {
	Authority string        `toml:"authority"`
	Version   string        `toml:"version"`
	Lists     []FixtureList `toml:"list"`
}

// FixtureList is one task list of a fixture.
type FixtureList struct {
	AccountName string        `toml:"account_name"`
	AccountType string        `toml:"account_type"`
	Name        string        `toml:"name"`
	Color       int64         `toml:"color"`
	SyncID      string        `toml:"sync_id"`
	CTag        string        `toml:"ctag"`
	Disabled    bool          `toml:"disabled"`
	Tasks       []FixtureTask `toml:"task"`
}

// FixtureTask is one task of a fixture list. Parent names the uid of another
// task in the same list.
type FixtureTask struct {
	UID         string     `toml:"uid"`
	SyncID      string     `toml:"sync_id"`
	ETag        string     `toml:"etag"`
	Title       string     `toml:"title"`
	Description string     `toml:"description"`
	Status      int64      `toml:"status"`
	Priority    int64      `toml:"priority"`
	Due         *time.Time `toml:"due"`
	Tags        []string   `toml:"tags"`
	Order       *int64     `toml:"order"`
	Parent      string     `toml:"parent"`
}

// DefaultFixtureVersion is the provider version of fixtures that name none.
const DefaultFixtureVersion = "v1.0.0"

// SeedResult reports what Seed inserted.
type SeedResult struct {
	Lists      int
	Tasks      int
	Properties int
}

// LoadFixture reads a TOML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	var fx Fixture
	md, err := toml.DecodeFile(path, &fx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fixture %s: unknown keys %v", path, undecoded)
	}
	if fx.Authority == "" {
		return nil, fmt.Errorf("fixture %s: authority is required", path)
	}
	return &fx, nil
}

// Seed installs the fixture's authority and inserts its lists, tasks and
// properties through a client writing as origin. An empty version installs
// as DefaultFixtureVersion.
func (s *Store) Seed(ctx context.Context, fx *Fixture, origin string) (SeedResult, error) {
	var result SeedResult
	version := fx.Version
	if version == "" {
		version = DefaultFixtureVersion
	}
	if err := s.Install(ctx, fx.Authority, version); err != nil {
		return result, err
	}
	client := s.Client(origin)
	listsURI := ContentURI(fx.Authority, TableTaskLists)
	tasksURI := ContentURI(fx.Authority, TableTasks)
	propsURI := ContentURI(fx.Authority, TableProperties)

	for _, l := range fx.Lists {
		values := Values{
			ListAccountName: l.AccountName,
			ListAccountType: l.AccountType,
			ListName:        l.Name,
			ListColor:       l.Color,
			ListSyncID:      l.SyncID,
			ListSyncEnabled: int64(1),
		}
		if l.Disabled {
			values[ListSyncEnabled] = int64(0)
		}
		if l.CTag != "" {
			token, err := codec.EncodeVersionToken(l.CTag)
			if err != nil {
				return result, err
			}
			values[ListSyncVersion] = token
		}
		listID, err := client.Insert(ctx, listsURI, values)
		if err != nil {
			return result, fmt.Errorf("failed to seed list %q: %w", l.Name, err)
		}
		result.Lists++

		ids := make(map[string]int64, len(l.Tasks))
		for _, t := range l.Tasks {
			values := Values{
				TaskListID:      listID,
				TaskUID:         t.UID,
				TaskTitle:       t.Title,
				TaskDescription: t.Description,
				TaskStatus:      t.Status,
				TaskPriority:    t.Priority,
			}
			if t.SyncID != "" {
				values[TaskSyncID] = t.SyncID
			} else {
				values[TaskSyncID] = t.UID + ".ics"
			}
			if t.ETag != "" {
				values[TaskSync1] = t.ETag
			}
			if t.Due != nil {
				values[TaskDue] = t.Due.UnixMilli()
			}
			taskID, err := client.Insert(ctx, tasksURI, values)
			if err != nil {
				return result, fmt.Errorf("failed to seed task %q: %w", t.UID, err)
			}
			ids[t.UID] = taskID
			result.Tasks++

			for _, tag := range t.Tags {
				if _, err := client.Insert(ctx, propsURI, Values{
					PropertyTaskID:   taskID,
					PropertyMimetype: MimeCategory,
					CategoryName:     tag,
				}); err != nil {
					return result, fmt.Errorf("failed to seed tag %q: %w", tag, err)
				}
				result.Properties++
			}
			if t.Order != nil {
				blob, err := codec.EncodeOrder(*t.Order)
				if err != nil {
					return result, err
				}
				if _, err := client.Insert(ctx, propsURI, Values{
					PropertyTaskID:      taskID,
					PropertyMimetype:    MimeUnknownProperty,
					UnknownPropertyData: blob,
				}); err != nil {
					return result, fmt.Errorf("failed to seed order for %q: %w", t.UID, err)
				}
				result.Properties++
			}
		}

		// Parents may appear after their children, so links go in a second pass.
		for _, t := range l.Tasks {
			if t.Parent == "" {
				continue
			}
			values := Values{
				PropertyTaskID:      ids[t.UID],
				PropertyMimetype:    MimeRelation,
				RelationRelatedType: int64(codec.RelTypeParent),
				RelationRelatedUID:  t.Parent,
			}
			if parentID, ok := ids[t.Parent]; ok {
				values[RelationRelatedID] = parentID
			}
			if _, err := client.Insert(ctx, propsURI, values); err != nil {
				return result, fmt.Errorf("failed to seed parent of %q: %w", t.UID, err)
			}
			result.Properties++
		}
	}
	return result, nil
}
