// Package resourcemanager adapts the Cloud Resource Manager API: searching
// projects, and reading and writing project IAM policies on behalf of the
// provisioner.
package resourcemanager

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"cloud.google.com/go/iam/apiv1/iampb"
	rmapi "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/resource"
)

// Client wraps the resource-manager projects client.
type Client struct {
	projects *rmapi.ProjectsClient
}

// NewClient builds a resource-manager client.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	projects, err := rmapi.NewProjectsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating resource manager client: %w", err)
	}
	return &Client{projects: projects}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.projects.Close()
}

// SearchProjectIDs lists the ids of the projects matching query that the
// engine's service account can see, sorted.
func (c *Client) SearchProjectIDs(ctx context.Context, query string) ([]resource.ProjectID, error) {
	it := c.projects.SearchProjects(ctx, &resourcemanagerpb.SearchProjectsRequest{
		Query: query,
	})

	var ids []resource.ProjectID
	for {
		project, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("searching projects with query %q: %w", query, apierror.FromGRPC(err))
		}
		ids = append(ids, resource.ProjectID(project.GetProjectId()))
	}
	slices.Sort(ids)
	return ids, nil
}

// GetIamPolicy reads a project's IAM policy.
func (c *Client) GetIamPolicy(ctx context.Context, req *iampb.GetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error) {
	return c.projects.GetIamPolicy(ctx, req, opts...)
}

// SetIamPolicy replaces a project's IAM policy.
func (c *Client) SetIamPolicy(ctx context.Context, req *iampb.SetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error) {
	return c.projects.SetIamPolicy(ctx, req, opts...)
}
