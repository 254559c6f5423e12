package events

import (
	"sort"
	"time"
)

// Eventer is implemented by every notification type that can live in an
// event feed. Concrete types carry their own display fields; Base carries
// the bookkeeping the fan-out and unsubscribe logic needs.
type Eventer interface {
	Base() *EventBase
	Kind() string
	Template() string
}

// Base holds the fields shared by all feed events. Time is milliseconds
// since epoch so feeds sort and serialize without conversion. Origin is the
// id of the thing the event was delivered through; unsubscribing from that
// thing purges feed entries by matching it.
type EventBase struct {
	Time    int64 `json:"time"`
	Origin  uint  `json:"origin,omitempty"`
	ActorID uint  `json:"actor_id,omitempty"`
}

func (b *EventBase) Base() *EventBase { return b }

// Originates reports whether the event was delivered through the given
// thing.
func (b *EventBase) Originates(id uint) bool { return b.Origin == id }

// SendableTo reports whether the event is worth back-filling into a user's
// feed. Users don't need copies of their own activity.
func (b *EventBase) SendableTo(userID uint) bool { return b.ActorID != userID }

func now() int64 { return time.Now().UnixMilli() }

// IssueNotif announces a newly filed issue.
type IssueNotif struct {
	EventBase
	UName    string `json:"uname"`
	UserURL  string `json:"user_p"`
	PName    string `json:"pname"`
	ProjURL  string `json:"proj_p"`
	IName    string `json:"iname"`
	IssueURL string `json:"issue_p"`
}

func (*IssueNotif) Kind() string     { return "IssueNotif" }
func (*IssueNotif) Template() string { return "events/issue.html" }

func NewIssueNotif(actorID uint, uname, userURL, pname, projURL, iname, issueURL string) *IssueNotif {
	return &IssueNotif{
		EventBase: EventBase{Time: now(), ActorID: actorID},
		UName:     uname,
		UserURL:   userURL,
		PName:     pname,
		ProjURL:   projURL,
		IName:     iname,
		IssueURL:  issueURL,
	}
}

// CommentNotif announces that a comment was posted somewhere.
type CommentNotif struct {
	EventBase
	UName    string `json:"uname"`
	UserURL  string `json:"user_p"`
	Title    string `json:"title"`
	ThingURL string `json:"thing_p"`
}

func (*CommentNotif) Kind() string     { return "CommentNotif" }
func (*CommentNotif) Template() string { return "events/comment_not.html" }

func NewCommentNotif(actorID uint, uname, userURL, title, thingURL string) *CommentNotif {
	return &CommentNotif{
		EventBase: EventBase{Time: now(), ActorID: actorID},
		UName:     uname,
		UserURL:   userURL,
		Title:     title,
		ThingURL:  thingURL,
	}
}

// Comment is not strictly a notification: comments are stored in the
// target's event feed to keep display in one place.
type Comment struct {
	EventBase
	UName   string `json:"uname"`
	UserURL string `json:"user_p"`
	Body    string `json:"body"`
	MDBody  string `json:"md_body"`
}

func (*Comment) Kind() string     { return "Comment" }
func (*Comment) Template() string { return "events/comment.html" }

func NewComment(actorID uint, uname, userURL, body, mdBody string) *Comment {
	return &Comment{
		EventBase: EventBase{Time: now(), ActorID: actorID},
		UName:     uname,
		UserURL:   userURL,
		Body:      body,
		MDBody:    mdBody,
	}
}

// SortByTime orders a feed oldest first, the order feeds are stored in.
func SortByTime(lst List) {
	sort.SliceStable(lst, func(i, j int) bool {
		return lst[i].Base().Time < lst[j].Base().Time
	})
}
