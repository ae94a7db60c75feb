package web

import (
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
)

// Response shapes follow the frontend contract: camel-cased fields, users as
// objects with an email field, times as epoch seconds.

type userInfo struct {
	Email string `json:"email"`
}

type roleBindingInfo struct {
	FullResourceName string `json:"fullResourceName"`
	Role             string `json:"role"`
}

type policyResponse struct {
	JustificationHint  string   `json:"justificationHint"`
	SignedInUser       userInfo `json:"signedInUser"`
	ApplicationVersion string   `json:"applicationVersion"`

	// Timeouts are minutes.
	DefaultActivationTimeout int `json:"defaultActivationTimeout"`
	MaxActivationTimeout     int `json:"maxActivationTimeout"`
}

type projectsResponse struct {
	Projects []string `json:"projects"`
}

type projectRole struct {
	RoleBinding    roleBindingInfo `json:"roleBinding"`
	ActivationType string          `json:"activationType"`
	Status         string          `json:"status"`
}

type projectRolesResponse struct {
	Warnings []string      `json:"warnings"`
	Roles    []projectRole `json:"roles"`
}

type peersResponse struct {
	Peers []userInfo `json:"peers"`
}

type selfActivationRequest struct {
	Roles             []string `json:"roles"`
	Justification     string   `json:"justification"`
	ActivationTimeout int      `json:"activationTimeout"` // minutes
}

type activationRequest struct {
	Role              string   `json:"role"`
	Justification     string   `json:"justification"`
	Peers             []string `json:"peers"`
	ActivationTimeout int      `json:"activationTimeout"` // minutes
}

type activationStatus struct {
	ActivationID string          `json:"activationId"`
	ProjectID    string          `json:"projectId"`
	RoleBinding  roleBindingInfo `json:"roleBinding"`
	Status       string          `json:"status"`
	StartTime    int64           `json:"startTime"`
	EndTime      int64           `json:"endTime"`
}

type activationStatusResponse struct {
	Beneficiary   userInfo           `json:"beneficiary"`
	Reviewers     []userInfo         `json:"reviewers"`
	IsBeneficiary bool               `json:"isBeneficiary"`
	IsReviewer    bool               `json:"isReviewer"`
	Justification string             `json:"justification"`
	Items         []activationStatus `json:"items"`
}

func userInfos(users []auth.UserID) []userInfo {
	infos := make([]userInfo, len(users))
	for i, user := range users {
		infos[i] = userInfo{Email: user.Email}
	}
	return infos
}

// newActivationStatusResponse renders a request from the caller's
// perspective, with every item in the given status.
func newActivationStatusResponse(caller auth.UserID, req *catalog.Request, status catalog.Status) activationStatusResponse {
	items := make([]activationStatus, len(req.Bindings))
	for i, binding := range req.Bindings {
		items[i] = activationStatus{
			ActivationID: req.ID.String(),
			ProjectID:    req.Project.String(),
			RoleBinding: roleBindingInfo{
				FullResourceName: binding.Resource,
				Role:             binding.Role,
			},
			Status:    string(status),
			StartTime: req.StartTime.Unix(),
			EndTime:   req.EndTime.Unix(),
		}
	}
	return activationStatusResponse{
		Beneficiary:   userInfo{Email: req.User.Email},
		Reviewers:     userInfos(req.Reviewers),
		IsBeneficiary: req.User == caller,
		IsReviewer:    req.HasReviewer(caller),
		Justification: req.Justification,
		Items:         items,
	}
}
