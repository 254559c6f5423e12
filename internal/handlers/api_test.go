package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crowdlink/internal/acl"
	"crowdlink/internal/db"
	"crowdlink/internal/middleware"
	"crowdlink/internal/models"
	"crowdlink/internal/router"
	"crowdlink/internal/utils"
)

type app struct {
	engine *gin.Engine
	gdb    *gorm.DB
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.GetCache().Purge()

	path := filepath.Join(t.TempDir(), "app.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	db.DB = gdb

	ix, err := acl.LoadFile("../../configs/acl.yml")
	require.NoError(t, err)
	acl.SetDefault(ix)

	engine := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	engine.Use(sessions.Sessions("crowdlink_session", store))
	engine.Use(middleware.LoadUser())
	router.RegisterRoutes(engine)

	return &app{engine: engine, gdb: gdb}
}

// client is one browser-like session: it carries cookies between calls.
type client struct {
	t       *testing.T
	app     *app
	cookies []*http.Cookie
}

func (a *app) client(t *testing.T) *client {
	return &client{t: t, app: a}
}

func (c *client) do(method, path string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		buf = bytes.NewBuffer(raw)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.app.engine.ServeHTTP(rec, req)
	if fresh := rec.Result().Cookies(); len(fresh) > 0 {
		c.cookies = fresh
	}
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (c *client) signup(username string) {
	c.t.Helper()
	code, _ := c.do(http.MethodPost, "/signup", gin.H{
		"username":      username,
		"password":      "testing123",
		"email_address": username + "@example.com",
	})
	require.Equal(c.t, http.StatusOK, code)
}

func objects(t *testing.T, out map[string]interface{}) []map[string]interface{} {
	t.Helper()
	raw, ok := out["objects"].([]interface{})
	require.True(t, ok, "response carries no objects: %v", out)
	objs := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		objs = append(objs, item.(map[string]interface{}))
	}
	return objs
}

func TestSignupLoginLogout(t *testing.T) {
	a := newTestApp(t)
	c := a.client(t)
	c.signup("scooby")

	code, out := c.do(http.MethodGet, "/api/user?username=scooby", nil)
	require.Equal(t, http.StatusOK, code)
	objs := objects(t, out)
	require.Len(t, objs, 1)
	assert.Equal(t, "scooby", objs[0]["username"])
	assert.Equal(t, "User", objs[0]["_cls"])
	assert.NotContains(t, objs[0], "password")
	assert.NotContains(t, objs[0], "available_balance")
	assert.Equal(t, false, objs[0]["gh_linked"])

	code, _ = c.do(http.MethodGet, "/logout", nil)
	require.Equal(t, http.StatusOK, code)

	fresh := a.client(t)
	code, _ = fresh.do(http.MethodPost, "/login", gin.H{
		"username": "SCOOBY", "password": "testing123",
	})
	assert.Equal(t, http.StatusOK, code)

	code, _ = fresh.do(http.MethodPost, "/login", gin.H{
		"username": "scooby", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSettingsJoinIsOwnerOnly(t *testing.T) {
	a := newTestApp(t)
	owner := a.client(t)
	owner.signup("velma")

	code, out := owner.do(http.MethodGet, "/api/user?username=velma&join_prof=settings_join", nil)
	require.Equal(t, http.StatusOK, code)
	objs := objects(t, out)
	require.Len(t, objs, 1)
	assert.Contains(t, objs[0], "available_balance")
	assert.Contains(t, objs[0], "emails")

	anon := a.client(t)
	code, _ = anon.do(http.MethodGet, "/api/user?username=velma&join_prof=settings_join", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestProjectAndIssueCreation(t *testing.T) {
	a := newTestApp(t)
	c := a.client(t)
	c.signup("velma")

	anon := a.client(t)
	code, _ := anon.do(http.MethodPost, "/api/project", gin.H{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, code)

	code, out := c.do(http.MethodPost, "/api/project", gin.H{"name": "Mystery Machine"})
	require.Equal(t, http.StatusOK, code)
	project := objects(t, out)[0]
	assert.Equal(t, "mystery-machine", project["url_key"])
	assert.Equal(t, "/p/velma/mystery-machine", project["get_abs_url"])

	code, _ = c.do(http.MethodPost, "/api/project", gin.H{"name": "Mystery Machine"})
	assert.Equal(t, http.StatusConflict, code)

	projectID := project["id"]
	code, out = c.do(http.MethodPost, "/api/issue", gin.H{
		"project_id": projectID, "title": "Fix the brakes", "desc": "They squeak.",
	})
	require.Equal(t, http.StatusOK, code)
	issue := objects(t, out)[0]
	assert.Equal(t, "fix-the-brakes", issue["url_key"])
	assert.Equal(t, "Discussion", issue["status"])
	nested, ok := issue["project"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mystery-machine", nested["url_key"])

	// the creation was announced on the project feed
	code, out = c.do(http.MethodGet,
		"/api/project?username=velma&url_key=mystery-machine&join_prof=page_join", nil)
	require.Equal(t, http.StatusOK, code)
	page := objects(t, out)[0]
	feed, ok := page["events"].([]interface{})
	require.True(t, ok)
	require.Len(t, feed, 1)
	assert.Equal(t, "IssueNotif", feed[0].(map[string]interface{})["_cls"])

	// composite lookup resolves the issue
	code, out = c.do(http.MethodGet,
		"/api/issue?username=velma&purl_key=mystery-machine&url_key=fix-the-brakes", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, objects(t, out), 1)
}

func TestCollectionFiltersAndPaging(t *testing.T) {
	a := newTestApp(t)
	c := a.client(t)
	c.signup("velma")

	_, out := c.do(http.MethodPost, "/api/project", gin.H{"name": "P"})
	projectID := objects(t, out)[0]["id"]
	for _, title := range []string{"Alpha", "Beta", "Gamma"} {
		code, _ := c.do(http.MethodPost, "/api/issue", gin.H{
			"project_id": projectID, "title": title,
		})
		require.Equal(t, http.StatusOK, code)
	}

	filterBy := url.QueryEscape(fmt.Sprintf(`{"project_id":%v}`, projectID))
	orderBy := url.QueryEscape(`["-id"]`)

	code, out := c.do(http.MethodGet,
		"/api/issue?__filter_by="+filterBy+"&__order_by="+orderBy, nil)
	require.Equal(t, http.StatusOK, code)
	objs := objects(t, out)
	require.Len(t, objs, 3)
	assert.Equal(t, "Gamma", objs[0]["title"])
	assert.Equal(t, "Alpha", objs[2]["title"])

	code, out = c.do(http.MethodGet, "/api/issue?pg_size=2&pg=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, objects(t, out), 1)

	filters := url.QueryEscape(`[{"op":"like","name":"title","val":"%am%"}]`)
	code, out = c.do(http.MethodGet, "/api/issue?__filters="+filters, nil)
	require.Equal(t, http.StatusOK, code)
	objs = objects(t, out)
	require.Len(t, objs, 1)
	assert.Equal(t, "Gamma", objs[0]["title"])

	// exactly-one semantics
	one := url.QueryEscape(`{"url_key":"alpha"}`)
	code, out = c.do(http.MethodGet, "/api/issue?__one=true&__filter_by="+one, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, objects(t, out), 1)

	missing := url.QueryEscape(`{"url_key":"nope"}`)
	code, _ = c.do(http.MethodGet, "/api/issue?__one=true&__filter_by="+missing, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = c.do(http.MethodGet, "/api/issue?__one=true", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// bad field names are syntax errors, not empty results
	bad := url.QueryEscape(`{"no_such_column":1}`)
	code, _ = c.do(http.MethodGet, "/api/issue?__filter_by="+bad, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	badOp := url.QueryEscape(`[{"op":"resembles","name":"title","val":"x"}]`)
	code, _ = c.do(http.MethodGet, "/api/issue?__filters="+badOp, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func makeIssue(t *testing.T, c *client) (interface{}, interface{}) {
	t.Helper()
	code, out := c.do(http.MethodPost, "/api/project", gin.H{"name": "P"})
	require.Equal(t, http.StatusOK, code)
	projectID := objects(t, out)[0]["id"]
	code, out = c.do(http.MethodPost, "/api/issue", gin.H{
		"project_id": projectID, "title": "The Issue",
	})
	require.Equal(t, http.StatusOK, code)
	return projectID, objects(t, out)[0]["id"]
}

func TestPutFieldPermissions(t *testing.T) {
	a := newTestApp(t)
	maintainer := a.client(t)
	maintainer.signup("velma")
	_, issueID := makeIssue(t, maintainer)

	stranger := a.client(t)
	stranger.signup("shaggy")

	// plain users cannot edit another creator's title
	code, _ := stranger.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "title": "Hijacked",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = maintainer.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "title": "Renamed",
	})
	require.Equal(t, http.StatusOK, code)

	// a forbidden field anywhere in the body rejects the whole request
	code, _ = stranger.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "vote_status": true, "title": "Sneaky",
	})
	assert.Equal(t, http.StatusForbidden, code)

	var fresh models.Issue
	require.NoError(t, a.gdb.First(&fresh, issueID).Error)
	assert.Equal(t, "Renamed", fresh.Title)
	assert.Equal(t, 0, fresh.VoteCount)

	// status transitions are the maintainer's call
	code, _ = stranger.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "status": "Completed",
	})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = maintainer.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "status": "Completed",
	})
	require.Equal(t, http.StatusOK, code)

	code, out := maintainer.do(http.MethodGet, fmt.Sprintf("/api/issue?id=%v", issueID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Completed", objects(t, out)[0]["status"])
}

func TestVoteAndSubscribeViaPut(t *testing.T) {
	a := newTestApp(t)
	creator := a.client(t)
	creator.signup("velma")
	_, issueID := makeIssue(t, creator)

	voter := a.client(t)
	voter.signup("shaggy")

	code, _ := voter.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "vote_status": true,
	})
	require.Equal(t, http.StatusOK, code)

	code, out := voter.do(http.MethodGet, fmt.Sprintf("/api/issue?id=%v", issueID), nil)
	require.Equal(t, http.StatusOK, code)
	obj := objects(t, out)[0]
	assert.Equal(t, true, obj["vote_status"])
	assert.Equal(t, float64(1), obj["vote_count"])

	// voting twice is a conflict
	code, _ = voter.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "vote_status": true,
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = voter.do(http.MethodPut, "/api/issue", gin.H{
		"id": issueID, "subscribed": true,
	})
	require.Equal(t, http.StatusOK, code)
	code, out = voter.do(http.MethodGet, fmt.Sprintf("/api/issue?id=%v", issueID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, objects(t, out)[0]["subscribed"])
}

func TestCommentAction(t *testing.T) {
	a := newTestApp(t)
	c := a.client(t)
	c.signup("velma")
	_, issueID := makeIssue(t, c)

	// missing required argument
	code, _ := c.do(http.MethodPatch, "/api/issue", gin.H{
		"id": issueID, "__action": "comment",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// unexpected argument
	code, _ = c.do(http.MethodPatch, "/api/issue", gin.H{
		"id": issueID, "__action": "comment", "body": "hi", "color": "red",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// anonymous callers hold no action token
	anon := a.client(t)
	code, _ = anon.do(http.MethodPatch, "/api/issue", gin.H{
		"id": issueID, "__action": "comment", "body": "hi",
	})
	assert.Equal(t, http.StatusForbidden, code)

	// unknown actions fail the permission check before dispatch
	code, _ = c.do(http.MethodPatch, "/api/issue", gin.H{
		"id": issueID, "__action": "frobnicate",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = c.do(http.MethodPatch, "/api/issue", gin.H{
		"id": issueID, "__action": "comment", "body": "some **bold** text",
	})
	require.Equal(t, http.StatusOK, code)

	code, out := c.do(http.MethodGet,
		fmt.Sprintf("/api/issue?id=%v&join_prof=page_join", issueID), nil)
	require.Equal(t, http.StatusOK, code)
	feed := objects(t, out)[0]["events"].([]interface{})
	require.Len(t, feed, 1)
	comment := feed[0].(map[string]interface{})
	assert.Equal(t, "Comment", comment["_cls"])
	assert.Contains(t, comment["md_body"], "<strong>bold</strong>")
}

func TestDeleteRequiresPermission(t *testing.T) {
	a := newTestApp(t)
	maintainer := a.client(t)
	maintainer.signup("velma")
	_, issueID := makeIssue(t, maintainer)

	stranger := a.client(t)
	stranger.signup("shaggy")
	code, _ := stranger.do(http.MethodDelete, "/api/issue", gin.H{"id": issueID})
	assert.Equal(t, http.StatusForbidden, code)

	code, out := maintainer.do(http.MethodDelete, "/api/issue", gin.H{"id": issueID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["count"])

	code, _ = maintainer.do(http.MethodGet, fmt.Sprintf("/api/issue?id=%v", issueID), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestChargeIsPrivate(t *testing.T) {
	a := newTestApp(t)
	payer := a.client(t)
	payer.signup("velma")

	code, out := payer.do(http.MethodPost, "/api/charge", gin.H{
		"token": "tok_visa", "amount": 10000,
	})
	require.Equal(t, http.StatusOK, code)
	charge := objects(t, out)[0]
	assert.Equal(t, "Cleared", charge["status"])
	assert.Equal(t, "0000", charge["last_four"])
	assert.NotContains(t, charge, "processor_id")
	chargeID := charge["id"]

	code, out = payer.do(http.MethodGet, fmt.Sprintf("/api/charge?id=%v", chargeID), nil)
	assert.Equal(t, http.StatusOK, code)

	other := a.client(t)
	other.signup("shaggy")
	code, _ = other.do(http.MethodGet, fmt.Sprintf("/api/charge?id=%v", chargeID), nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCreateForOtherUser(t *testing.T) {
	a := newTestApp(t)
	actor := a.client(t)
	actor.signup("daphne")
	target := a.client(t)
	target.signup("fred")

	// plain users cannot create on someone else's behalf
	code, _ := actor.do(http.MethodPost, "/api/project", gin.H{
		"name": "Trap Door", "__username": "fred",
	})
	assert.Equal(t, http.StatusForbidden, code)

	require.NoError(t, a.gdb.Model(&models.User{}).
		Where("username = ?", "daphne").Update("role", "admin").Error)
	utils.GetCache().Purge()

	// target usernames match case-insensitively, like login does
	code, out := actor.do(http.MethodPost, "/api/project", gin.H{
		"name": "Trap Door", "__username": "FRED",
	})
	require.Equal(t, http.StatusOK, code)
	project := objects(t, out)[0]
	assert.Equal(t, "/p/fred/trap-door", project["get_abs_url"])
	maintainer := project["maintainer"].(map[string]interface{})
	assert.Equal(t, "fred", maintainer["username"])
	assert.NotContains(t, project, "__username")

	var fred models.User
	require.NoError(t, a.gdb.Where("username = ?", "fred").First(&fred).Error)
	var stored models.Project
	require.NoError(t, a.gdb.First(&stored, project["id"]).Error)
	assert.Equal(t, fred.ID, stored.MaintainerID)

	// the numeric form resolves the same way
	code, out = actor.do(http.MethodPost, "/api/project", gin.H{
		"name": "Second", "__user_id": fred.ID,
	})
	require.Equal(t, http.StatusOK, code)
	stored = models.Project{}
	require.NoError(t, a.gdb.First(&stored, objects(t, out)[0]["id"]).Error)
	assert.Equal(t, fred.ID, stored.MaintainerID)

	code, _ = actor.do(http.MethodPost, "/api/project", gin.H{
		"name": "Third", "__username": "nobody",
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUnknownResourceAndBody(t *testing.T) {
	a := newTestApp(t)
	c := a.client(t)

	code, out := c.do(http.MethodGet, "/api/gadget", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No such resource type", out["message"])

	code, _ = c.do(http.MethodPost, "/api/project", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
