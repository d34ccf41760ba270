package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestMessagePatchCommand(t *testing.T) {
	cmd, err := MessagePatch{Read: boolPtr(true)}.Command()
	require.NoError(t, err)
	assert.Equal(t, SetRead{Read: true}, cmd)

	cmd, err = MessagePatch{Starred: boolPtr(false)}.Command()
	require.NoError(t, err)
	assert.Equal(t, SetStarred{Starred: false}, cmd)

	archive := Folder("Archive")
	cmd, err = MessagePatch{Folder: &archive}.Command()
	require.NoError(t, err)
	assert.Equal(t, MoveFolder{To: FolderArchive}, cmd)

	_, err = MessagePatch{}.Command()
	assert.Equal(t, ReasonInvalidInput, reasonOf(t, err))

	_, err = MessagePatch{Read: boolPtr(true), Starred: boolPtr(true)}.Command()
	assert.Equal(t, ReasonInvalidInput, reasonOf(t, err))
}

func TestBulkActionCommand(t *testing.T) {
	tests := []struct {
		action    BulkAction
		current   Folder
		cmd       Command
		permanent bool
	}{
		{BulkRead, FolderInbox, SetRead{Read: true}, false},
		{BulkUnread, FolderInbox, SetRead{Read: false}, false},
		{BulkStar, FolderInbox, SetStarred{Starred: true}, false},
		{BulkUnstar, FolderInbox, SetStarred{Starred: false}, false},
		{BulkArchive, FolderInbox, MoveFolder{To: FolderArchive}, false},
		{BulkSpam, FolderInbox, MoveFolder{To: FolderSpam}, false},
		{BulkDelete, FolderInbox, MoveFolder{To: FolderTrash}, false},
		{BulkDelete, FolderTrash, nil, true},
		{BulkDelete, FolderSpam, nil, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.action)+" from "+string(tt.current), func(t *testing.T) {
			cmd, permanent, err := tt.action.Command(tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.permanent, permanent)
		})
	}

	_, _, err := BulkAction("explode").Command(FolderInbox)
	assert.Equal(t, ReasonUnknownAction, reasonOf(t, err))
}

func TestParseBulkAction(t *testing.T) {
	a, err := ParseBulkAction(" Archive ")
	require.NoError(t, err)
	assert.Equal(t, BulkArchive, a)
	assert.True(t, a.ChangesFolder())
	assert.False(t, BulkRead.ChangesFolder())

	_, err = ParseBulkAction("move")
	assert.Equal(t, ReasonUnknownAction, reasonOf(t, err))
}

func TestDedupeIDs(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, DedupeIDs([]string{"b", "a", "", "b", " c ", "a"}))
	assert.Empty(t, DedupeIDs(nil))
}

func TestBulkResultSummary(t *testing.T) {
	r := &BulkResult{
		Updated: []string{"1", "2", "3"},
		Failed:  []BulkFailure{{ID: "4", Reason: ReasonNotFound}},
	}
	assert.Equal(t, "3 of 4 updated", r.Summary())
}

func TestMessageChangeApply(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trash := FolderTrash
	msg := &Message{ID: "m1", Folder: FolderInbox, Labels: []string{"x"}}

	MessageChange{Read: boolPtr(true), Folder: &trash, Labels: []string{"b", "a", "b"}}.Apply(msg, now)

	assert.True(t, msg.Read)
	assert.Equal(t, FolderTrash, msg.Folder)
	assert.Equal(t, []string{"a", "b"}, msg.Labels)
	assert.Equal(t, now, msg.UpdatedAt)
	assert.True(t, MessageChange{}.Empty())
}

func TestLabelPatchApply(t *testing.T) {
	next := LabelPatch{Add: []string{"c", "a"}, Remove: []string{"b"}}.Apply([]string{"a", "b"})
	assert.Equal(t, []string{"a", "c"}, next)
}

func TestSortDraftsNewestFirst(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	drafts := []Draft{
		{ID: "old", UpdatedAt: t0},
		{ID: "b", UpdatedAt: t0.Add(time.Hour)},
		{ID: "a", UpdatedAt: t0.Add(time.Hour)},
	}
	SortDraftsNewestFirst(drafts)
	assert.Equal(t, "a", drafts[0].ID)
	assert.Equal(t, "b", drafts[1].ID)
	assert.Equal(t, "old", drafts[2].ID)
}
