package models

import (
	"fmt"
	"time"
)

var ErrShape = fmt.Errorf("unexpected response shape")

type Comment struct {
	ID            ID        `json:"id"`
	AdviceID      ID        `json:"advice_id,omitempty"`
	AuthorID      ID        `json:"user_id"`
	AuthorName    string    `json:"user_name"`
	Body          string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	LikeCount     Count     `json:"like_count"`
	LikedByViewer bool      `json:"liked_by_current_user"`
	ParentID      ID        `json:"parent_comment_id,omitempty"`
}

// IsRoot reports whether the comment declares no parent. A comment whose parent is missing from
// the collection is also rendered as a root, see tree.Build.
func (c Comment) IsRoot() bool {
	return c.ParentID.IsZero()
}

func (c Comment) Validate() error {
	if c.ID.IsZero() {
		return fmt.Errorf("%w: comment without id", ErrShape)
	}
	return nil
}

// NewComment is the body of a comment creation request.
type NewComment struct {
	Content         string `json:"content"`
	AdviceID        ID     `json:"adviceId"`
	ParentCommentID *ID    `json:"parentCommentId"`
}

type CommentUpdate struct {
	Content string `json:"content"`
}

// DeletedComment is the payload broadcast after a comment is removed.
type DeletedComment struct {
	CommentID ID `json:"commentId"`
}

// NewCommentEvent is the payload broadcast after a comment is created.
type NewCommentEvent struct {
	AdviceID ID      `json:"adviceId"`
	Comment  Comment `json:"comment"`
}

type Advice struct {
	ID         ID        `json:"id"`
	AuthorID   ID        `json:"author_id"`
	AuthorName string    `json:"owner_name,omitempty"`
	Body       string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a Advice) Validate() error {
	if a.ID.IsZero() {
		return fmt.Errorf("%w: advice without id", ErrShape)
	}
	return nil
}

type NewAdvice struct {
	Content string `json:"content"`
}

// AdviceCreated is the response to an advice submission; Message is the server's confirmation.
type AdviceCreated struct {
	Message string `json:"message,omitempty"`
	Advice  Advice `json:"advice"`
}

type PublicUser struct {
	ID        ID        `json:"id"`
	Username  string    `json:"username"`
	Photo     string    `json:"photo,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Country   string    `json:"pays,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Advices   []Advice  `json:"advices,omitempty"`
}

func (u PublicUser) Validate() error {
	if u.ID.IsZero() {
		return fmt.Errorf("%w: user without id", ErrShape)
	}
	for _, a := range u.Advices {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type Profile struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Photo   string `json:"photo,omitempty"`
	Bio     string `json:"bio,omitempty"`
	Country string `json:"pays,omitempty"`
}

func (p Profile) Validate() error {
	if p.ID.IsZero() {
		return fmt.Errorf("%w: profile without id", ErrShape)
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func (r LoginResponse) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("%w: login response without token", ErrShape)
	}
	return nil
}

type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrorResponse is the error payload returned by the API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns the most specific message of the payload.
func (e ErrorResponse) Text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
