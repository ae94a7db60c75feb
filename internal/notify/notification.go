// Package notify renders and dispatches the messages the engine sends at
// activation state transitions: asking reviewers for approval, confirming an
// approval to the beneficiary, and confirming a self-approval. Delivery runs
// through pluggable transports; a notification failure never fails the
// activation it reports on.
package notify

import (
	"fmt"
	"strings"
	"time"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/resource"
)

// Type tags a notification with the state transition it reports.
type Type string

const (
	// TypeRequestActivation asks the reviewers of a peer-approval request to
	// approve it.
	TypeRequestActivation Type = "RequestActivation"

	// TypeActivationApproved tells the beneficiary that a reviewer approved.
	TypeActivationApproved Type = "ActivationApproved"

	// TypeActivationSelfApproved confirms a self-approved activation to the
	// beneficiary.
	TypeActivationSelfApproved Type = "ActivationSelfApproved"
)

// Notification is one message to deliver. Properties feed the {{KEY}}
// placeholders of the configured template.
type Notification struct {
	Type Type

	To []auth.UserID
	CC []auth.UserID

	Subject string

	// Reply marks messages that continue an earlier notification's thread.
	Reply bool

	Properties map[string]string
}

const timeFormat = time.RFC3339

// NewRequestActivation builds the notification asking the request's reviewers
// for approval. The beneficiary is kept on CC; actionURL carries the signed
// activation token, and requestExpiry is the token's expiry.
func NewRequestActivation(req *catalog.Request, requestExpiry time.Time, actionURL, baseURL string) *Notification {
	return &Notification{
		Type:    TypeRequestActivation,
		To:      req.Reviewers,
		CC:      []auth.UserID{req.User},
		Subject: fmt.Sprintf("%s requests access to project %s", req.User, req.Project),
		Properties: map[string]string{
			"BENEFICIARY":         req.User.Email,
			"REVIEWERS":           joinUsers(req.Reviewers),
			"PROJECT_ID":          req.Project.String(),
			"ROLE":                req.Bindings[0].Role,
			"START_TIME":          req.StartTime.UTC().Format(timeFormat),
			"END_TIME":            req.EndTime.UTC().Format(timeFormat),
			"REQUEST_EXPIRY_TIME": requestExpiry.UTC().Format(timeFormat),
			"JUSTIFICATION":       req.Justification,
			"BASE_URL":            baseURL,
			"ACTION_URL":          actionURL,
		},
	}
}

// NewActivationApproved builds the notification telling the beneficiary that
// approver granted the request. Reviewers move to CC so everybody learns the
// request is settled.
func NewActivationApproved(req *catalog.Request, approver auth.UserID, baseURL string) *Notification {
	return &Notification{
		Type:    TypeActivationApproved,
		To:      []auth.UserID{req.User},
		CC:      req.Reviewers,
		Subject: fmt.Sprintf("%s requests access to project %s", req.User, req.Project),
		Reply:   true,
		Properties: map[string]string{
			"APPROVER":      approver.Email,
			"BENEFICIARY":   req.User.Email,
			"REVIEWERS":     joinUsers(req.Reviewers),
			"PROJECT_ID":    req.Project.String(),
			"ROLE":          req.Bindings[0].Role,
			"START_TIME":    req.StartTime.UTC().Format(timeFormat),
			"END_TIME":      req.EndTime.UTC().Format(timeFormat),
			"JUSTIFICATION": req.Justification,
			"BASE_URL":      baseURL,
			"ACTION_URL":    baseURL,
		},
	}
}

// NewActivationSelfApproved builds the confirmation for a self-approved
// activation.
func NewActivationSelfApproved(req *catalog.Request, baseURL string) *Notification {
	return &Notification{
		Type:    TypeActivationSelfApproved,
		To:      []auth.UserID{req.User},
		Subject: fmt.Sprintf("Activated roles %s on '%s'", joinRoles(req.Bindings), req.Project),
		Reply:   true,
		Properties: map[string]string{
			"BENEFICIARY":   req.User.Email,
			"PROJECT_ID":    req.Project.String(),
			"ROLE":          req.Bindings[0].Role,
			"ROLES":         joinRoles(req.Bindings),
			"START_TIME":    req.StartTime.UTC().Format(timeFormat),
			"END_TIME":      req.EndTime.UTC().Format(timeFormat),
			"JUSTIFICATION": req.Justification,
			"BASE_URL":      baseURL,
			"ACTION_URL":    baseURL,
		},
	}
}

// PropertyKeys lists every property the notification builders set. Custom
// templates may reference any subset.
func PropertyKeys() []string {
	return []string{
		"ACTION_URL",
		"APPROVER",
		"BASE_URL",
		"BENEFICIARY",
		"END_TIME",
		"JUSTIFICATION",
		"PROJECT_ID",
		"REQUEST_EXPIRY_TIME",
		"REVIEWERS",
		"ROLE",
		"ROLES",
		"START_TIME",
		"SUBJECT",
	}
}

func joinUsers(users []auth.UserID) string {
	emails := make([]string, len(users))
	for i, user := range users {
		emails[i] = user.Email
	}
	return strings.Join(emails, ", ")
}

func joinRoles(bindings []resource.RoleBinding) string {
	roles := make([]string, len(bindings))
	for i, binding := range bindings {
		roles[i] = "'" + binding.Role + "'"
	}
	return strings.Join(roles, ", ")
}
