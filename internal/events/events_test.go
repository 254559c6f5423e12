package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRoundTrip(t *testing.T) {
	lst := List{
		NewIssueNotif(1, "velma", "/u/velma", "Crowdlink", "/p/velma/crowdlink",
			"Fix the thing", "/p/velma/crowdlink/i/fix-the-thing"),
		NewComment(2, "shaggy", "/u/shaggy", "like, zoinks", "<p>like, zoinks</p>"),
	}
	lst[0].Base().Origin = 7

	raw, err := lst.Value()
	require.NoError(t, err)

	var decoded List
	require.NoError(t, decoded.Scan(raw))
	require.Len(t, decoded, 2)

	notif, ok := decoded[0].(*IssueNotif)
	require.True(t, ok)
	assert.Equal(t, "velma", notif.UName)
	assert.Equal(t, uint(7), notif.Origin)
	assert.Equal(t, lst[0].Base().Time, notif.Time)

	comment, ok := decoded[1].(*Comment)
	require.True(t, ok)
	assert.Equal(t, "<p>like, zoinks</p>", comment.MDBody)
}

func TestScanDropsUnknownKinds(t *testing.T) {
	var decoded List
	raw := `[{"_cls":"RetiredEvent","time":1},{"_cls":"Comment","time":2,"uname":"fred"}]`
	require.NoError(t, decoded.Scan(raw))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Comment", decoded[0].Kind())
}

func TestScanNilAndEmpty(t *testing.T) {
	var decoded List
	require.NoError(t, decoded.Scan(nil))
	assert.Empty(t, decoded)
	require.NoError(t, decoded.Scan(""))
	assert.Empty(t, decoded)
}

func TestCloneIsIndependent(t *testing.T) {
	ev := NewCommentNotif(3, "daphne", "/u/daphne", "a title", "/p/x")
	cp := Clone(ev)
	cp.Base().Origin = 42

	assert.Equal(t, uint(0), ev.Base().Origin)
	assert.Equal(t, uint(42), cp.Base().Origin)
	assert.Equal(t, ev.Base().Time, cp.Base().Time)
}

func TestSortByTimeOldestFirst(t *testing.T) {
	a := NewComment(1, "a", "", "", "")
	b := NewComment(1, "b", "", "", "")
	c := NewComment(1, "c", "", "", "")
	a.Time, b.Time, c.Time = 30, 10, 20

	lst := List{a, b, c}
	SortByTime(lst)
	assert.Equal(t, int64(10), lst[0].Base().Time)
	assert.Equal(t, int64(20), lst[1].Base().Time)
	assert.Equal(t, int64(30), lst[2].Base().Time)
}

func TestSendableToSkipsOwnActivity(t *testing.T) {
	ev := NewComment(5, "scooby", "", "", "")
	assert.False(t, ev.Base().SendableTo(5))
	assert.True(t, ev.Base().SendableTo(6))
}

func TestDictCarriesTypeTag(t *testing.T) {
	dct := Dict(NewComment(1, "fred", "/u/fred", "hi", "<p>hi</p>"))
	assert.Equal(t, "Comment", dct["_cls"])
	assert.Equal(t, "events/comment.html", dct["template"])
	assert.Equal(t, "fred", dct["uname"])
}
