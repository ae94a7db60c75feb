// Package resource models the Google Cloud resources the engine grants
// access on: projects, and the role bindings attached to them.
package resource

import "strings"

const projectResourcePrefix = "//cloudresourcemanager.googleapis.com/projects/"

// ProjectID is the short id of a Google Cloud project, e.g. `my-project-123`.
type ProjectID string

func (p ProjectID) String() string {
	return string(p)
}

// FullResourceName returns the asset-inventory full resource name of the
// project.
func (p ProjectID) FullResourceName() string {
	return projectResourcePrefix + string(p)
}

// Path returns the resource-manager API path of the project, `projects/<id>`.
func (p ProjectID) Path() string {
	return "projects/" + string(p)
}

// ParseProjectFullResourceName maps a full resource name back to a project
// id. Only names of exactly the form
// `//cloudresourcemanager.googleapis.com/projects/<id>` qualify; names with
// further path segments, or naming any other resource type, do not.
func ParseProjectFullResourceName(name string) (ProjectID, bool) {
	id, ok := strings.CutPrefix(name, projectResourcePrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return ProjectID(id), true
}

// RoleBinding pairs a resource with an IAM role granted on it. Value
// semantics; usable as a map key.
type RoleBinding struct {
	// Resource is the full resource name the role is granted on.
	Resource string

	// Role is the IAM role name, e.g. `roles/compute.admin`.
	Role string
}

// NewRoleBinding builds a binding for a role granted on a project.
func NewRoleBinding(project ProjectID, role string) RoleBinding {
	return RoleBinding{
		Resource: project.FullResourceName(),
		Role:     role,
	}
}

func (b RoleBinding) String() string {
	return b.Role + " on " + b.Resource
}

// ProjectID maps the binding's resource back to a project id, if the
// resource is a project.
func (b RoleBinding) ProjectID() (ProjectID, bool) {
	return ParseProjectFullResourceName(b.Resource)
}

// Compare orders bindings by resource, then role.
func (b RoleBinding) Compare(other RoleBinding) int {
	if c := strings.Compare(b.Resource, other.Resource); c != 0 {
		return c
	}
	return strings.Compare(b.Role, other.Role)
}
