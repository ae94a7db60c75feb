package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectFullResourceName(t *testing.T) {
	p := ProjectID("project-1")
	assert.Equal(t, "//cloudresourcemanager.googleapis.com/projects/project-1", p.FullResourceName())
	assert.Equal(t, "projects/project-1", p.Path())
}

func TestParseProjectFullResourceName(t *testing.T) {
	id, ok := ParseProjectFullResourceName("//cloudresourcemanager.googleapis.com/projects/project-1")
	assert.True(t, ok)
	assert.Equal(t, ProjectID("project-1"), id)
}

func TestParseProjectFullResourceNameRejectsOtherResources(t *testing.T) {
	for _, name := range []string{
		"",
		"project-1",
		"projects/project-1",
		"//cloudresourcemanager.googleapis.com/projects/",
		"//cloudresourcemanager.googleapis.com/projects/project-1/subresource",
		"//cloudresourcemanager.googleapis.com/folders/folder-1",
		"//compute.googleapis.com/projects/project-1/zones/us-central1-a/instances/vm-1",
	} {
		_, ok := ParseProjectFullResourceName(name)
		assert.False(t, ok, "name %q", name)
	}
}

func TestRoleBindingCompare(t *testing.T) {
	a := NewRoleBinding("project-a", "roles/viewer")
	b := NewRoleBinding("project-a", "roles/owner")
	c := NewRoleBinding("project-b", "roles/editor")

	assert.Positive(t, a.Compare(b), "roles/viewer sorts after roles/owner")
	assert.Negative(t, a.Compare(c), "project-a sorts before project-b")
	assert.Zero(t, a.Compare(a))
}

func TestRoleBindingProjectID(t *testing.T) {
	b := NewRoleBinding("project-1", "roles/compute.admin")
	id, ok := b.ProjectID()
	assert.True(t, ok)
	assert.Equal(t, ProjectID("project-1"), id)

	_, ok = RoleBinding{Resource: "//cloudresourcemanager.googleapis.com/folders/1", Role: "roles/viewer"}.ProjectID()
	assert.False(t, ok)
}
