package client

import (
	"context"
	"net/http"
	"strings"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
)

type commentList []models.Comment

type partialComment models.Comment

func (l commentList) Validate() error {
	for _, c := range l {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Comments returns the flat comment collection of an advice item in server order.
func (c *Client) Comments(ctx context.Context, adviceID models.ID) ([]models.Comment, error) {
	const op = "comments"
	if adviceID.IsZero() {
		return nil, apperr.Validation(op, "advice id is required")
	}

	var list commentList
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   []string{"comment", adviceID.String()},
		auth:   true,
	}, &list)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = commentList{}
	}
	return list, nil
}

func (c *Client) CreateComment(ctx context.Context, nc models.NewComment) (models.Comment, error) {
	const op = "create comment"
	nc.Content = strings.TrimSpace(nc.Content)
	if nc.Content == "" {
		return models.Comment{}, apperr.Validation(op, "comment cannot be empty")
	}
	if nc.AdviceID.IsZero() {
		return models.Comment{}, apperr.Validation(op, "advice id is required")
	}

	var cm models.Comment
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   []string{"comment"},
		auth:   true,
		body:   nc,
	}, &cm)
	return cm, err
}

// UpdateComment replaces the body of a comment. Servers that answer with a bare confirmation
// instead of the updated row get the id and body filled in from the request.
func (c *Client) UpdateComment(ctx context.Context, id models.ID, content string) (models.Comment, error) {
	const op = "update comment"
	content = strings.TrimSpace(content)
	if id.IsZero() {
		return models.Comment{}, apperr.Validation(op, "comment id is required")
	}
	if content == "" {
		return models.Comment{}, apperr.Validation(op, "comment cannot be empty")
	}

	// Decoded without Comment.Validate so that a partial confirmation is accepted.
	var cm partialComment
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		path:   []string{"comment", id.String()},
		auth:   true,
		body:   models.CommentUpdate{Content: content},
	}, &cm)
	if err != nil {
		return models.Comment{}, err
	}

	if cm.ID.IsZero() {
		cm.ID = id
	}
	if cm.Body == "" {
		cm.Body = content
	}
	return models.Comment(cm), nil
}

func (c *Client) DeleteComment(ctx context.Context, id models.ID) error {
	const op = "delete comment"
	if id.IsZero() {
		return apperr.Validation(op, "comment id is required")
	}

	return c.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		path:   []string{"comment", id.String()},
		auth:   true,
	}, nil)
}

func (c *Client) LikeComment(ctx context.Context, id models.ID) error {
	return c.toggleLike(ctx, "like", id)
}

func (c *Client) UnlikeComment(ctx context.Context, id models.ID) error {
	return c.toggleLike(ctx, "unlike", id)
}

func (c *Client) toggleLike(ctx context.Context, action string, id models.ID) error {
	if id.IsZero() {
		return apperr.Validation(action, "comment id is required")
	}

	return c.do(ctx, request{
		op:     action,
		method: http.MethodPost,
		path:   []string{"comment", id.String(), action},
		auth:   true,
	}, nil)
}
