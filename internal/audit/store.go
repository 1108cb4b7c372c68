package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valinor-ai/kycgate/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(id, actor_id, action, resource_type, resource_id, metadata, source, created_at)"
	const width = 8
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*width)

	for i, e := range events {
		base := i * width
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		args = append(args, e.ID, nullable(e.ActorID), e.Action, nullable(e.ResourceType),
			nullable(e.ResourceID), metaJSON, e.Source, e.OccurredAt)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListEventsParams defines filters for querying audit events.
type ListEventsParams struct {
	Action       *string
	ResourceType *string
	ResourceID   *string
	ActorID      *string
	Source       *string
	After        *time.Time
	Before       *time.Time
	Limit        int
}

// matches reports whether e passes every filter in p.
func (p ListEventsParams) matches(e Event) bool {
	switch {
	case p.Action != nil && e.Action != *p.Action:
		return false
	case p.ResourceType != nil && e.ResourceType != *p.ResourceType:
		return false
	case p.ResourceID != nil && e.ResourceID != *p.ResourceID:
		return false
	case p.ActorID != nil && e.ActorID != *p.ActorID:
		return false
	case p.Source != nil && e.Source != *p.Source:
		return false
	case p.After != nil && !e.OccurredAt.After(*p.After):
		return false
	case p.Before != nil && !e.OccurredAt.Before(*p.Before):
		return false
	}
	return true
}

// buildListQuery constructs a parameterized SELECT for audit events.
func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any
	argN := 1

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argN))
		args = append(args, v)
		argN++
	}

	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.ResourceID != nil {
		add("resource_id = $%d", *p.ResourceID)
	}
	if p.ActorID != nil {
		add("actor_id = $%d", *p.ActorID)
	}
	if p.Source != nil {
		add("source = $%d", *p.Source)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sql := fmt.Sprintf(
		`SELECT id, actor_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		where, argN,
	)
	args = append(args, p.Limit)

	return sql, args
}

// ListEvents returns events matching p, newest first.
func (s *Store) ListEvents(ctx context.Context, db database.Querier, p ListEventsParams) ([]Event, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                       Event
			actorID, resType, resID *string
			metadata                []byte
		)
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &resType, &resID, &metadata, &e.Source, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.ActorID = deref(actorID)
		e.ResourceType = deref(resType)
		e.ResourceID = deref(resID)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StoreReader adapts a Store and a connection to the Reader interface.
type StoreReader struct {
	db    database.Querier
	store *Store
}

func NewStoreReader(db database.Querier, store *Store) *StoreReader {
	return &StoreReader{db: db, store: store}
}

func (r *StoreReader) ListEvents(ctx context.Context, p ListEventsParams) ([]Event, error) {
	return r.store.ListEvents(ctx, r.db, p)
}
