package handlers

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crowdlink/internal/api"
	"crowdlink/internal/apperror"
	"crowdlink/internal/events"
	"crowdlink/internal/models"
	"crowdlink/internal/services"
	"crowdlink/internal/utils"
)

// Every dispatched entity is declared here: its join profiles, computed
// attributes, editable virtual fields, actions, and creation path.
// RegisterResources runs once at boot and panics on a profile referencing
// an attribute nothing computes.

var registerOnce sync.Once

func RegisterResources() {
	registerOnce.Do(func() {
		registerUser()
		registerEmail()
		registerProject()
		registerIssue()
		registerSolution()
		registerCharge()
		registerEarmark()
		registerMark()
		registerRecipient()
		registerTransfer()
	})
}

// ---- parameter coercion -------------------------------------------------

func paramString(params map[string]interface{}, key string) (string, bool) {
	raw, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func paramUint(params map[string]interface{}, key string) (uint, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case string:
		parsed, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return uint(parsed), true
	}
	return 0, false
}

func paramInt64(params map[string]interface{}, key string) (int64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func paramBool(raw interface{}) bool {
	switch b := raw.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return false
}

// ---- shared attribute and setter builders -------------------------------

func attrUserACL(c *api.Ctx, obj api.Resource) (interface{}, error) {
	return models.UserACL(obj, c.User), nil
}

func attrVoteStatus(c *api.Ctx, obj api.Resource) (interface{}, error) {
	thing, ok := obj.(models.Thingy)
	if !ok || c.User == nil {
		return false, nil
	}
	return services.VoteStatus(c.DB, c.User, thing)
}

func attrSubscribed(c *api.Ctx, obj api.Resource) (interface{}, error) {
	thing, ok := obj.(models.Thingy)
	if !ok || c.User == nil {
		return false, nil
	}
	return services.Subscribed(c.DB, c.User, thing)
}

func attrReportStatus(c *api.Ctx, obj api.Resource) (interface{}, error) {
	thing, ok := obj.(models.Thingy)
	if !ok || c.User == nil {
		return "", nil
	}
	return services.ReportStatus(c.DB, c.User, thing)
}

func setVoteStatus(c *api.Ctx, obj api.Resource, val interface{}) error {
	return services.SetVote(c.DB, c.User, obj.(models.Thingy), paramBool(val))
}

func setSubscribed(c *api.Ctx, obj api.Resource, val interface{}) error {
	return services.SetSubscribed(c.DB, c.User, obj.(models.Thingy), paramBool(val))
}

func setReportStatus(c *api.Ctx, obj api.Resource, val interface{}) error {
	reason, _ := val.(string)
	return services.SetReport(c.DB, c.User, obj.(models.Thingy), reason)
}

// commentAction appends a rendered comment to the thing's event feed and
// notifies its subscribers.
var commentAction = api.Action{
	Required: []string{"body"},
	Optional: []string{"title"},
	Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
		if c.User == nil {
			return nil, apperror.Forbidden()
		}
		body, ok := paramString(params, "body")
		if !ok || strings.TrimSpace(body) == "" {
			return nil, apperror.Validation("a comment body is required")
		}
		title, _ := paramString(params, "title")
		return nil, services.PostComment(c.DB, c.User, obj.(models.Thingy), title, body)
	},
}

// resolveThing loads a polymorphic target with whatever relations its
// AbsURL and Roles need.
func resolveThing(db *gorm.DB, thingType string, thingID uint) (models.Thingy, error) {
	var (
		obj models.Thingy
		err error
	)
	switch thingType {
	case models.ThingUser:
		user := &models.User{}
		err = db.First(user, thingID).Error
		obj = user
	case models.ThingProject:
		project := &models.Project{}
		err = db.Preload("Maintainer").First(project, thingID).Error
		obj = project
	case models.ThingIssue:
		issue := &models.Issue{}
		err = db.Preload("Project.Maintainer").Preload("Creator").First(issue, thingID).Error
		obj = issue
	case models.ThingSolution:
		solution := &models.Solution{}
		err = db.Preload("Issue.Project.Maintainer").Preload("Creator").First(solution, thingID).Error
		obj = solution
	default:
		return nil, apperror.Syntax("unknown thing type %q", thingType)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound(strings.ToLower(thingType))
		}
		return nil, err
	}
	return obj, nil
}

// ---- user ---------------------------------------------------------------

func registerUser() {
	api.Register(&api.Meta{
		Name:    "user",
		New:     func() api.Resource { return &models.User{} },
		Preload: []string{"Emails"},
		Joins: map[string][]string{
			"standard_join": {
				"-available_balance", "-current_balance",
				"gh_linked", "tw_linked", "go_linked",
				"user_acl", "get_abs_url",
			},
			"page_join": {
				"-available_balance", "-current_balance",
				"gh_linked", "tw_linked", "go_linked",
				"user_acl", "get_abs_url", "subscribed", "public_events",
			},
			"home_join": {
				"-available_balance", "-current_balance",
				"gh_linked", "tw_linked", "go_linked",
				"user_acl", "get_abs_url", "events", "public_events",
			},
			"settings_join": {
				"gh_linked", "tw_linked", "go_linked",
				"user_acl", "get_abs_url", "emails:standard_join",
			},
			"disp_join": {api.NoBase, "id", "username", "get_abs_url"},
		},
		Attrs: map[string]api.AttrFunc{
			"id": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.PrimaryID(), nil
			},
			"username": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.User).Username, nil
			},
			"get_abs_url": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.User).AbsURL(), nil
			},
			"gh_linked": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.User).GhID != "", nil
			},
			"tw_linked": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.User).TwID != "", nil
			},
			"go_linked": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.User).GoID != "", nil
			},
			"user_acl":   attrUserACL,
			"subscribed": attrSubscribed,
			"events": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return events.Dicts(obj.(*models.User).Events), nil
			},
			"public_events": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return events.Dicts(obj.(*models.User).PublicEvents), nil
			},
			"emails": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				user := obj.(*models.User)
				out := make([]api.Resource, 0, len(user.Emails))
				for i := range user.Emails {
					out = append(out, &user.Emails[i])
				}
				return out, nil
			},
		},
		Editable: map[string]api.SetFunc{
			"subscribed": setSubscribed,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			username, _ := paramString(params, "username")
			password, _ := paramString(params, "password")
			email, _ := paramString(params, "email_address")
			user, err := services.CreateUser(c.DB, username, password, email)
			if err != nil {
				return nil, err
			}
			return user, nil
		},
		Lookup: func(c *api.Ctx, params map[string]interface{}) (api.Resource, bool, error) {
			username, ok := paramString(params, "username")
			if !ok {
				return nil, false, nil
			}
			user := &models.User{}
			err := c.DB.Preload("Emails").
				Where("username = ?", strings.ToLower(username)).First(user).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, apperror.NotFound("user")
			}
			return user, true, err
		},
		LookupKeys: []string{"username"},
		ClassActions: map[string]api.Action{
			"send_test_email": {
				Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
					if c.User == nil {
						return nil, apperror.Forbidden()
					}
					var email models.EmailAddress
					err := c.DB.Where("user_id = ?", c.User.ID).
						Order("is_primary DESC").First(&email).Error
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return nil, apperror.Validation("no email address on file")
					}
					if err != nil {
						return nil, err
					}
					services.GetMailService().SendTestEmail(email.Address)
					return nil, nil
				},
			},
		},
	})
}

// ---- email --------------------------------------------------------------

func registerEmail() {
	api.Register(&api.Meta{
		Name: "email",
		New:  func() api.Resource { return &models.EmailAddress{} },
		Joins: map[string][]string{
			"standard_join": {"user_acl"},
		},
		Attrs: map[string]api.AttrFunc{
			"user_acl": attrUserACL,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			address, ok := paramString(params, "address")
			if !ok || !strings.Contains(address, "@") {
				return nil, apperror.Validation("a valid email address is required")
			}
			address = strings.ToLower(strings.TrimSpace(address))
			var count int64
			if err := c.DB.Model(&models.EmailAddress{}).
				Where("address = ?", address).Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, apperror.Conflict("that email address is already registered")
			}
			email := &models.EmailAddress{
				UserID:     owner.ID,
				Address:    address,
				VerifyCode: utils.GenerateRandomCode(20),
			}
			if err := c.DB.Create(email).Error; err != nil {
				return nil, err
			}
			services.GetMailService().SendConfirmEmail(address, owner.Username, email.VerifyCode)
			return email, nil
		},
	})
}

// ---- project ------------------------------------------------------------

func registerProject() {
	api.Register(&api.Meta{
		Name:    "project",
		New:     func() api.Resource { return &models.Project{} },
		Preload: []string{"Maintainer"},
		Joins: map[string][]string{
			"standard_join": {
				"get_abs_url", "user_acl", "vote_status", "subscribed",
				"maintainer:disp_join",
			},
			"page_join": {
				"get_abs_url", "user_acl", "vote_status", "subscribed",
				"report_status", "desc_md", "events", "maintainer:disp_join",
			},
			"disp_join": {api.NoBase, "id", "name", "url_key", "get_abs_url"},
		},
		Attrs: map[string]api.AttrFunc{
			"id": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.PrimaryID(), nil
			},
			"name": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Project).Name, nil
			},
			"url_key": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Project).URLKey, nil
			},
			"get_abs_url": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Project).AbsURL(), nil
			},
			"desc_md": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return utils.RenderMarkdown(obj.(*models.Project).Desc), nil
			},
			"events": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return events.Dicts(obj.(*models.Project).Events), nil
			},
			"maintainer": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return &obj.(*models.Project).Maintainer, nil
			},
			"user_acl":      attrUserACL,
			"vote_status":   attrVoteStatus,
			"subscribed":    attrSubscribed,
			"report_status": attrReportStatus,
		},
		Editable: map[string]api.SetFunc{
			"vote_status":   setVoteStatus,
			"subscribed":    setSubscribed,
			"report_status": setReportStatus,
		},
		Actions: map[string]api.Action{
			"comment": commentAction,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			name, ok := paramString(params, "name")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, apperror.Validation("a project name is required")
			}
			urlKey, ok := paramString(params, "url_key")
			if !ok || urlKey == "" {
				urlKey = utils.URLKey(name)
			}
			website, _ := paramString(params, "website")
			desc, _ := paramString(params, "desc")

			var count int64
			if err := c.DB.Model(&models.Project{}).
				Where("maintainer_id = ? AND url_key = ?", owner.ID, urlKey).
				Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, apperror.Conflict("you already have a project with that url key")
			}
			project := &models.Project{
				MaintainerID: owner.ID,
				Maintainer:   *owner,
				URLKey:       urlKey,
				Name:         name,
				Website:      website,
				Desc:         desc,
			}
			if err := c.DB.Omit(clause.Associations).Create(project).Error; err != nil {
				return nil, err
			}
			return project, nil
		},
		Lookup: func(c *api.Ctx, params map[string]interface{}) (api.Resource, bool, error) {
			username, okUser := paramString(params, "username")
			urlKey, okKey := paramString(params, "url_key")
			if !okUser || !okKey {
				return nil, false, nil
			}
			project := &models.Project{}
			err := c.DB.Preload("Maintainer").
				Joins("JOIN users ON users.id = projects.maintainer_id").
				Where("users.username = ? AND projects.url_key = ?",
					strings.ToLower(username), urlKey).
				First(project).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, apperror.NotFound("project")
			}
			return project, true, err
		},
		LookupKeys: []string{"username", "url_key"},
	})
}

// ---- issue --------------------------------------------------------------

func registerIssue() {
	api.Register(&api.Meta{
		Name:    "issue",
		New:     func() api.Resource { return &models.Issue{} },
		Preload: []string{"Project.Maintainer", "Creator"},
		Joins: map[string][]string{
			"standard_join": {
				"status", "statuses", "get_abs_url", "user_acl",
				"vote_status", "subscribed",
				"project:disp_join", "creator:disp_join",
			},
			"page_join": {
				"status", "statuses", "get_abs_url", "user_acl",
				"vote_status", "subscribed", "report_status", "desc_md",
				"events", "project:disp_join", "creator:disp_join",
			},
			"brief_join": {api.NoBase, "id", "title", "url_key", "get_abs_url", "status"},
			"disp_join":  {api.NoBase, "id", "title", "url_key", "get_abs_url", "status"},
		},
		Attrs: map[string]api.AttrFunc{
			"id": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.PrimaryID(), nil
			},
			"title": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Issue).Title, nil
			},
			"url_key": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Issue).URLKey, nil
			},
			"status": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Issue).StatusName(), nil
			},
			"statuses": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return models.IssueStatuses.Map(), nil
			},
			"get_abs_url": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Issue).AbsURL(), nil
			},
			"desc_md": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return utils.RenderMarkdown(obj.(*models.Issue).Desc), nil
			},
			"events": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return events.Dicts(obj.(*models.Issue).Events), nil
			},
			"project": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return &obj.(*models.Issue).Project, nil
			},
			"creator": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return &obj.(*models.Issue).Creator, nil
			},
			"user_acl":      attrUserACL,
			"vote_status":   attrVoteStatus,
			"subscribed":    attrSubscribed,
			"report_status": attrReportStatus,
		},
		Editable: map[string]api.SetFunc{
			"vote_status":   setVoteStatus,
			"subscribed":    setSubscribed,
			"report_status": setReportStatus,
			// status arrives as a name, not an index
			"status": func(c *api.Ctx, obj api.Resource, val interface{}) error {
				name, ok := val.(string)
				if !ok {
					return apperror.Syntax("status must be a string")
				}
				idx := models.IssueStatuses.Index(name)
				if idx < 0 {
					return apperror.Validation("unknown issue status " + name)
				}
				issue := obj.(*models.Issue)
				if err := c.DB.Model(issue).UpdateColumn("status", idx).Error; err != nil {
					return err
				}
				issue.Status = idx
				return nil
			},
		},
		Actions: map[string]api.Action{
			"comment": commentAction,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			projectID, ok := paramUint(params, "project_id")
			if !ok {
				return nil, apperror.Syntax("project_id is required")
			}
			title, ok := paramString(params, "title")
			if !ok || strings.TrimSpace(title) == "" {
				return nil, apperror.Validation("an issue title is required")
			}
			desc, _ := paramString(params, "desc")

			project := &models.Project{}
			err := c.DB.Preload("Maintainer").First(project, projectID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NotFound("project")
			}
			if err != nil {
				return nil, err
			}

			urlKey := utils.URLKey(title)
			var count int64
			if err := c.DB.Model(&models.Issue{}).
				Where("project_id = ? AND url_key = ?", project.ID, urlKey).
				Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, apperror.Conflict("an issue with that title already exists in this project")
			}

			issue := &models.Issue{
				ProjectID: project.ID,
				Project:   *project,
				CreatorID: owner.ID,
				Creator:   *owner,
				URLKey:    urlKey,
				Title:     title,
				Desc:      desc,
			}
			if err := c.DB.Omit(clause.Associations).Create(issue).Error; err != nil {
				return nil, err
			}
			if err := services.NotifyNewIssue(c.DB, issue); err != nil {
				return nil, err
			}
			return issue, nil
		},
		Lookup: func(c *api.Ctx, params map[string]interface{}) (api.Resource, bool, error) {
			username, okUser := paramString(params, "username")
			purlKey, okProj := paramString(params, "purl_key")
			urlKey, okKey := paramString(params, "url_key")
			if !okUser || !okProj || !okKey {
				return nil, false, nil
			}
			issue := &models.Issue{}
			err := c.DB.Preload("Project.Maintainer").Preload("Creator").
				Joins("JOIN projects ON projects.id = issues.project_id").
				Joins("JOIN users ON users.id = projects.maintainer_id").
				Where("users.username = ? AND projects.url_key = ? AND issues.url_key = ?",
					strings.ToLower(username), purlKey, urlKey).
				First(issue).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, apperror.NotFound("issue")
			}
			return issue, true, err
		},
		LookupKeys: []string{"username", "purl_key", "url_key"},
	})
}

// ---- solution -----------------------------------------------------------

func registerSolution() {
	api.Register(&api.Meta{
		Name:    "solution",
		New:     func() api.Resource { return &models.Solution{} },
		Preload: []string{"Issue.Project.Maintainer", "Creator"},
		Joins: map[string][]string{
			"standard_join": {
				"get_abs_url", "user_acl", "vote_status", "subscribed",
				"issue:disp_join", "creator:disp_join",
			},
			"page_join": {
				"get_abs_url", "user_acl", "vote_status", "subscribed",
				"report_status", "desc_md", "events",
				"issue:disp_join", "creator:disp_join",
			},
			"disp_join": {api.NoBase, "id", "title", "url_key", "get_abs_url"},
		},
		Attrs: map[string]api.AttrFunc{
			"id": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.PrimaryID(), nil
			},
			"title": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Solution).Title, nil
			},
			"url_key": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Solution).URLKey, nil
			},
			"get_abs_url": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Solution).AbsURL(), nil
			},
			"desc_md": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return utils.RenderMarkdown(obj.(*models.Solution).Desc), nil
			},
			"events": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return events.Dicts(obj.(*models.Solution).Events), nil
			},
			"issue": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return &obj.(*models.Solution).Issue, nil
			},
			"creator": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return &obj.(*models.Solution).Creator, nil
			},
			"user_acl":      attrUserACL,
			"vote_status":   attrVoteStatus,
			"subscribed":    attrSubscribed,
			"report_status": attrReportStatus,
		},
		Editable: map[string]api.SetFunc{
			"vote_status":   setVoteStatus,
			"subscribed":    setSubscribed,
			"report_status": setReportStatus,
		},
		Actions: map[string]api.Action{
			"comment": commentAction,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			issueID, ok := paramUint(params, "issue_id")
			if !ok {
				return nil, apperror.Syntax("issue_id is required")
			}
			title, ok := paramString(params, "title")
			if !ok || strings.TrimSpace(title) == "" {
				return nil, apperror.Validation("a solution title is required")
			}
			desc, _ := paramString(params, "desc")

			issue := &models.Issue{}
			err := c.DB.Preload("Project.Maintainer").First(issue, issueID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NotFound("issue")
			}
			if err != nil {
				return nil, err
			}

			urlKey := utils.URLKey(title)
			var count int64
			if err := c.DB.Model(&models.Solution{}).
				Where("issue_id = ? AND url_key = ?", issue.ID, urlKey).
				Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, apperror.Conflict("a solution with that title already exists on this issue")
			}

			solution := &models.Solution{
				IssueID:   issue.ID,
				Issue:     *issue,
				CreatorID: owner.ID,
				Creator:   *owner,
				URLKey:    urlKey,
				Title:     title,
				Desc:      desc,
			}
			if err := c.DB.Omit(clause.Associations).Create(solution).Error; err != nil {
				return nil, err
			}
			return solution, nil
		},
	})
}

// ---- charge -------------------------------------------------------------

func registerCharge() {
	api.Register(&api.Meta{
		Name: "charge",
		New:  func() api.Resource { return &models.Charge{} },
		Joins: map[string][]string{
			"standard_join": {"status", "statuses", "user_acl"},
		},
		Attrs: map[string]api.AttrFunc{
			"status": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Charge).StatusName(), nil
			},
			"statuses": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return models.ChargeStatuses.Map(), nil
			},
			"user_acl": attrUserACL,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			token, ok := paramString(params, "token")
			if !ok || token == "" {
				return nil, apperror.Syntax("a card token is required")
			}
			amount, ok := paramInt64(params, "amount")
			if !ok {
				return nil, apperror.Syntax("amount is required")
			}
			livemode := paramBool(params["livemode"])
			return services.GetFundingService().CreateCharge(c.DB, owner, token, livemode, amount)
		},
	})
}

// ---- earmark ------------------------------------------------------------

func registerEarmark() {
	api.Register(&api.Meta{
		Name:    "earmark",
		New:     func() api.Resource { return &models.Earmark{} },
		Preload: []string{"Marks"},
		Joins: map[string][]string{
			"standard_join": {
				"status", "statuses", "user_acl",
				"thing:disp_join", "marks:standard_join",
			},
		},
		Attrs: map[string]api.AttrFunc{
			"status": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Earmark).StatusName(), nil
			},
			"statuses": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return models.EarmarkStatuses.Map(), nil
			},
			"user_acl": attrUserACL,
			"thing": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				earmark := obj.(*models.Earmark)
				thing, err := resolveThing(c.DB, earmark.ThingType, earmark.ThingID)
				if err != nil {
					return nil, err
				}
				return thing.(api.Resource), nil
			},
			"marks": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				earmark := obj.(*models.Earmark)
				out := make([]api.Resource, 0, len(earmark.Marks))
				for i := range earmark.Marks {
					out = append(out, &earmark.Marks[i])
				}
				return out, nil
			},
		},
		Actions: map[string]api.Action{
			"mature": {
				Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
					return nil, services.GetFundingService().
						MatureEarmark(c.DB, c.User, obj.(*models.Earmark))
				},
			},
			"assign": {
				Required: []string{"shares"},
				Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
					shares, err := parseShares(params["shares"])
					if err != nil {
						return nil, err
					}
					return nil, services.GetFundingService().
						AssignEarmark(c.DB, c.User, obj.(*models.Earmark), shares)
				},
			},
			"clear": {
				Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
					return nil, services.GetFundingService().
						ClearEarmark(c.DB, c.User, obj.(*models.Earmark))
				},
			},
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			thingType, ok := paramString(params, "thing_type")
			if !ok {
				return nil, apperror.Syntax("thing_type is required")
			}
			thingID, ok := paramUint(params, "thing_id")
			if !ok {
				return nil, apperror.Syntax("thing_id is required")
			}
			amount, ok := paramInt64(params, "amount")
			if !ok {
				return nil, apperror.Syntax("amount is required")
			}
			thing, err := resolveThing(c.DB, thingType, thingID)
			if err != nil {
				return nil, err
			}
			return services.GetFundingService().CreateEarmark(c.DB, owner, thing, amount)
		},
	})
}

// parseShares decodes an assign action's recipient split. Shares arrive as
// a list of {user_id, perc} objects.
func parseShares(raw interface{}) ([]services.MarkShare, error) {
	items, ok := raw.([]interface{})
	if !ok || len(items) == 0 {
		return nil, apperror.Syntax("shares must be a non-empty list")
	}
	shares := make([]services.MarkShare, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, apperror.Syntax("each share must be an object")
		}
		userID, ok := paramUint(entry, "user_id")
		if !ok {
			return nil, apperror.Syntax("each share requires a user_id")
		}
		perc, ok := paramInt64(entry, "perc")
		if !ok {
			return nil, apperror.Syntax("each share requires a perc")
		}
		shares = append(shares, services.MarkShare{UserID: userID, Perc: int(perc)})
	}
	return shares, nil
}

// ---- mark ---------------------------------------------------------------

func registerMark() {
	api.Register(&api.Meta{
		Name: "mark",
		New:  func() api.Resource { return &models.Mark{} },
		Joins: map[string][]string{
			"standard_join": {"user_acl"},
		},
		Attrs: map[string]api.AttrFunc{
			"user_acl": attrUserACL,
		},
	})
}

// ---- recipient ----------------------------------------------------------

func registerRecipient() {
	api.Register(&api.Meta{
		Name: "recipient",
		New:  func() api.Resource { return &models.Recipient{} },
		Joins: map[string][]string{
			"standard_join": {"user_acl"},
		},
		Attrs: map[string]api.AttrFunc{
			"user_acl": attrUserACL,
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			token, ok := paramString(params, "token")
			if !ok || token == "" {
				return nil, apperror.Syntax("a bank account token is required")
			}
			name, ok := paramString(params, "name")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, apperror.Validation("a recipient name is required")
			}
			corporation := paramBool(params["corporation"])
			taxID, _ := paramString(params, "tax_id")
			return services.GetFundingService().
				CreateRecipient(c.DB, owner, token, name, corporation, taxID)
		},
	})
}

// ---- transfer -----------------------------------------------------------

func registerTransfer() {
	api.Register(&api.Meta{
		Name: "transfer",
		New:  func() api.Resource { return &models.Transfer{} },
		Joins: map[string][]string{
			"standard_join": {"status", "statuses", "user_acl"},
		},
		Attrs: map[string]api.AttrFunc{
			"status": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return obj.(*models.Transfer).StatusName(), nil
			},
			"statuses": func(c *api.Ctx, obj api.Resource) (interface{}, error) {
				return models.TransferStatuses.Map(), nil
			},
			"user_acl": attrUserACL,
		},
		Actions: map[string]api.Action{
			"clear": {
				Fn: func(c *api.Ctx, obj api.Resource, params map[string]interface{}) (interface{}, error) {
					return nil, services.GetFundingService().
						ClearTransfer(c.DB, c.User, obj.(*models.Transfer))
				},
			},
		},
		Create: func(c *api.Ctx, owner *models.User, params map[string]interface{}) (api.Resource, error) {
			recipientID, ok := paramUint(params, "recipient_id")
			if !ok {
				return nil, apperror.Syntax("recipient_id is required")
			}
			amount, ok := paramInt64(params, "amount")
			if !ok {
				return nil, apperror.Syntax("amount is required")
			}
			recipient := &models.Recipient{}
			err := c.DB.First(recipient, recipientID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.NotFound("recipient")
			}
			if err != nil {
				return nil, err
			}
			return services.GetFundingService().
				CreateTransfer(c.DB, owner, recipient, amount)
		},
	})
}
