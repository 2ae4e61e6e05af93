package alumni

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// MasterListTable holds the institutional roster.
const MasterListTable = "master_list"

var masterListColumns = []string{"student_id", "last_name", "first_name", "course", "batch_year"}

// RosterMatch is an advisory hint comparing a profile to the roster. It
// never changes the approval status.
type RosterMatch struct {
	Found     bool     `json:"found"`
	Matches   bool     `json:"matches"`
	Mismatch  []string `json:"mismatch,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
}

// ImportResult summarizes a roster upload.
type ImportResult struct {
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	Errors   map[int]string `json:"errors,omitempty"`
	Entries  []RosterEntry  `json:"-"`
}

// MasterList manages the roster table.
type MasterList struct {
	db           baas.Database
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// MasterListOption customizes MasterList.
type MasterListOption func(*MasterList)

// WithMasterListActivitySink sets the activity sink.
func WithMasterListActivitySink(sink ActivitySink) MasterListOption {
	return func(m *MasterList) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithMasterListLogger sets the logger.
func WithMasterListLogger(logger Logger) MasterListOption {
	return func(m *MasterList) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMasterListClock injects a clock.
func WithMasterListClock(now func() time.Time) MasterListOption {
	return func(m *MasterList) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMasterList returns a MasterList over db.
func NewMasterList(db baas.Database, opts ...MasterListOption) *MasterList {
	m := &MasterList{
		db:           db,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ParseRoster reads CSV rows with a header naming at least student_id,
// last_name and first_name. Column order is free. Invalid rows are reported
// by line number and skipped.
func ParseRoster(r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, validationErr(map[string]string{"file": "is empty"})
		}
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid roster file").
			WithTextCode(string(KindValidation)).
			WithCode(errors.CodeBadRequest)
	}

	index := map[string]int{}
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	var missing []string
	for _, col := range masterListColumns[:3] {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, validationErr(map[string]string{
			"file": fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")),
		})
	}

	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	result := &ImportResult{Errors: map[int]string{}}
	seen := map[string]int{}
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			result.Errors[line] = err.Error()
			continue
		}

		entry := RosterEntry{
			StudentID: field(row, "student_id"),
			LastName:  field(row, "last_name"),
			FirstName: field(row, "first_name"),
			Course:    field(row, "course"),
			BatchYear: field(row, "batch_year"),
		}

		switch {
		case entry.StudentID == "":
			result.Skipped++
			result.Errors[line] = "student_id is required"
			continue
		case entry.LastName == "" || entry.FirstName == "":
			result.Skipped++
			result.Errors[line] = "first_name and last_name are required"
			continue
		}

		if prev, dup := seen[entry.StudentID]; dup {
			result.Entries[prev] = entry
			result.Skipped++
			result.Errors[line] = fmt.Sprintf("duplicate student_id %s, last row wins", entry.StudentID)
			continue
		}
		seen[entry.StudentID] = len(result.Entries)
		result.Entries = append(result.Entries, entry)
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	result.Imported = len(result.Entries)
	return result, nil
}

// Import parses r and upserts its rows by student_id.
func (m *MasterList) Import(ctx context.Context, actor *SessionUser, r io.Reader) (*ImportResult, error) {
	if actor == nil || !actor.Role.In(RoleAdmin, RoleSuperAdmin) {
		return nil, ErrForbidden
	}

	result, err := ParseRoster(r)
	if err != nil {
		return nil, err
	}

	if len(result.Entries) > 0 {
		now := m.now()
		for i := range result.Entries {
			result.Entries[i].ImportedAt = now
		}
		if err := m.db.From(MasterListTable).Upsert(ctx, &result.Entries, "student_id"); err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to store master list").
				WithTextCode(string(KindUnavailable)).
				WithCode(ErrUnavailable.Code)
		}
	}

	m.logger.Info("master list imported", "imported", result.Imported, "skipped", result.Skipped)

	recordActivity(ctx, m.activitySink, m.logger, m.now, ActivityEvent{
		EventType: ActivityEventMasterListImported,
		Actor:     ActorFromUser(actor),
		Metadata: map[string]any{
			"imported": result.Imported,
			"skipped":  result.Skipped,
		},
	})

	return result, nil
}

// Lookup returns roster rows keyed by student id.
func (m *MasterList) Lookup(ctx context.Context, studentIDs ...string) (map[string]RosterEntry, error) {
	out := map[string]RosterEntry{}
	values := make([]any, 0, len(studentIDs))
	for _, id := range studentIDs {
		if id = strings.TrimSpace(id); id != "" {
			values = append(values, id)
		}
	}
	if len(values) == 0 {
		return out, nil
	}

	var rows []RosterEntry
	if err := m.db.From(MasterListTable).Select("*").In("student_id", values...).Execute(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to read master list").
			WithTextCode(string(KindUnavailable))
	}
	for _, row := range rows {
		out[row.StudentID] = row
	}
	return out, nil
}

// MatchRoster compares profile to entry. A nil entry yields Found false.
func MatchRoster(profile Profile, entry *RosterEntry) RosterMatch {
	match := RosterMatch{StudentID: profile.StudentID}
	if entry == nil {
		return match
	}
	match.Found = true

	cmp := func(field, a, b string) {
		if b == "" {
			return
		}
		if !strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
			match.Mismatch = append(match.Mismatch, field)
		}
	}
	cmp("last_name", profile.LastName, entry.LastName)
	cmp("first_name", profile.FirstName, entry.FirstName)
	cmp("course", profile.Course, entry.Course)
	cmp("batch_year", profile.BatchYear, entry.BatchYear)

	match.Matches = len(match.Mismatch) == 0
	return match
}
