// Package advice implements the advice exchange: a user receives one random advice item from
// someone else for every advice item they submit.
package advice

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/client"
	"seertix/pkg/models"
	"seertix/pkg/session"
)

const submittedKey = "hasSubmittedAdvice"

type API interface {
	CreateAdvice(ctx context.Context, content string) (models.AdviceCreated, error)
	RandomAdvice(ctx context.Context) (models.Advice, error)
}

// Viewer identifies the user whose exchange state is kept.
type Viewer interface {
	UserID() models.ID
}

type Exchange struct {
	api    API
	store  session.Store
	viewer Viewer
}

func NewExchange(api API, store session.Store, viewer Viewer) *Exchange {
	return &Exchange{api: api, store: store, viewer: viewer}
}

func (e *Exchange) key() string {
	return submittedKey + ":" + e.viewer.UserID().String()
}

// Submit publishes an advice item and unlocks one draw.
func (e *Exchange) Submit(ctx context.Context, content string) (models.AdviceCreated, error) {
	if err := client.ValidateAdvice(content); err != nil {
		return models.AdviceCreated{}, err
	}

	created, err := e.api.CreateAdvice(ctx, content)
	if err != nil {
		return models.AdviceCreated{}, err
	}

	if err := e.store.Set(ctx, e.key(), "true"); err != nil {
		return created, fmt.Errorf("save exchange state: %w", err)
	}
	return created, nil
}

// CanDraw reports whether a submitted advice item is waiting to be exchanged.
func (e *Exchange) CanDraw(ctx context.Context) (bool, error) {
	v, err := e.store.Get(ctx, e.key())
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load exchange state: %w", err)
	}
	return v == "true", nil
}

// Draw returns a random advice item and consumes the pending submission. A failed draw keeps it.
func (e *Exchange) Draw(ctx context.Context) (models.Advice, error) {
	ok, err := e.CanDraw(ctx)
	if err != nil {
		return models.Advice{}, err
	}
	if !ok {
		return models.Advice{}, apperr.Validation("random advice", "share an advice first to receive one")
	}

	a, err := e.api.RandomAdvice(ctx)
	if err != nil {
		return models.Advice{}, err
	}

	if err := e.store.Set(ctx, e.key(), "false"); err != nil {
		log.Errorf("[advice] failed to reset exchange state: %v", err)
	}
	return a, nil
}
