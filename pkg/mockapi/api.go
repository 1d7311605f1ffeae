// Package mockapi is an in-memory implementation of the advice REST API, used for local runs and
// integration tests of the client.
package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/models"
)

const (
	tokenTTL        = 24 * time.Hour
	maxRequestBody  = 1 << 20
	minAdviceLength = 3
	maxAdviceLength = 300
)

type API struct {
	ServiceName string
	Router      *mux.Router

	store  *Store
	secret []byte
	kw     *kafka.Writer
	now    func() time.Time
}

// New builds the API over store. Request logs are shipped to kw when it is not nil.
func New(name string, store *Store, secret string, kw *kafka.Writer) *API {
	api := API{
		ServiceName: name,
		Router:      mux.NewRouter(),
		store:       store,
		secret:      []byte(secret),
		kw:          kw,
		now:         time.Now,
	}
	api.endpoints()

	return &api
}

func (api *API) endpoints() {
	api.Router.Use(api.requestIDMiddleware)
	api.Router.Use(api.headerMiddleware)
	if api.kw != nil {
		api.Router.Use(api.loggingMiddleware(api.kw))
	}

	api.Router.HandleFunc("/auth/register", api.registerHandler).Methods(http.MethodPost)
	api.Router.HandleFunc("/auth/login", api.loginHandler).Methods(http.MethodPost)

	auth := api.Router.NewRoute().Subrouter()
	auth.Use(api.authMiddleware)

	auth.HandleFunc("/auth/profile", api.profileHandler).Methods(http.MethodGet)
	auth.HandleFunc("/user/{id}", api.userHandler).Methods(http.MethodGet)

	auth.HandleFunc("/advice", api.advicesHandler).Methods(http.MethodGet)
	auth.HandleFunc("/advice", api.createAdviceHandler).Methods(http.MethodPost)
	auth.HandleFunc("/advice/random", api.randomAdviceHandler).Methods(http.MethodGet)
	auth.HandleFunc("/advice/{id}", api.adviceHandler).Methods(http.MethodGet)

	auth.HandleFunc("/comment", api.createCommentHandler).Methods(http.MethodPost)
	auth.HandleFunc("/comment/{id}", api.commentsHandler).Methods(http.MethodGet)
	auth.HandleFunc("/comment/{id}", api.updateCommentHandler).Methods(http.MethodPut)
	auth.HandleFunc("/comment/{id}", api.deleteCommentHandler).Methods(http.MethodDelete)
	auth.HandleFunc("/comment/{id}/like", api.likeHandler(true)).Methods(http.MethodPost)
	auth.HandleFunc("/comment/{id}/unlike", api.likeHandler(false)).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[mockapi] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// storeError maps store errors to API errors.
func storeError(w http.ResponseWriter, sID string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "you can only change your own comments")
	case errors.Is(err, ErrInvalidParent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, "email already used")
	default:
		log.Errorf("[mockapi][%s] store error: %v", sID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (api *API) registerHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var reg models.Registration
	if !decode(w, r, &reg) {
		return
	}
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	if utf8.RuneCountInString(reg.Name) < 2 || !strings.Contains(reg.Email, "@") || utf8.RuneCountInString(reg.Password) < 6 {
		writeError(w, http.StatusBadRequest, "invalid registration data")
		return
	}

	id, err := api.store.CreateUser(reg.Name, reg.Email, reg.Password)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	log.Infof("[mockapi][%s] registered user %d", sID, id)

	writeJSON(w, http.StatusCreated, map[string]string{"message": "user created"})
}

func (api *API) loginHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var req models.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	id, name, err := api.store.Authenticate(strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	token, err := api.issueToken(id, name)
	if err != nil {
		log.Errorf("[mockapi][%s] failed to sign token: %v", sID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token})
}

func (api *API) issueToken(userID int64, name string) (string, error) {
	now := api.now()
	claims := jwt.MapClaims{
		"userId": userID,
		"name":   name,
		"iat":    now.Unix(),
		"exp":    now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(api.secret)
}

func (api *API) profileHandler(w http.ResponseWriter, r *http.Request) {
	p, err := api.store.Profile(userID(r.Context()))
	if err != nil {
		storeError(w, shorten(GetRequestID(r.Context())), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (api *API) userHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		storeError(w, sID, err)
		return
	}
	u, err := api.store.PublicUser(id)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (api *API) advicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.store.Advices())
}

func (api *API) createAdviceHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var req models.NewAdvice
	if !decode(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if n := utf8.RuneCountInString(content); n < minAdviceLength || n > maxAdviceLength {
		writeError(w, http.StatusBadRequest, "advice must contain between 3 and 300 characters")
		return
	}

	a, err := api.store.AddAdvice(userID(r.Context()), content)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	log.Debugf("[mockapi][%s] advice %s created", sID, a.ID)

	writeJSON(w, http.StatusCreated, models.AdviceCreated{Message: "advice created", Advice: a})
}

func (api *API) randomAdviceHandler(w http.ResponseWriter, r *http.Request) {
	a, err := api.store.RandomAdvice(userID(r.Context()))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "no advice from other users yet")
			return
		}
		storeError(w, shorten(GetRequestID(r.Context())), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (api *API) adviceHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		storeError(w, sID, err)
		return
	}
	a, err := api.store.Advice(id)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (api *API) commentsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	adviceID, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		storeError(w, sID, err)
		return
	}
	list, err := api.store.Comments(adviceID, userID(r.Context()))
	if err != nil {
		storeError(w, sID, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (api *API) createCommentHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	var req models.NewComment
	if !decode(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "comment cannot be empty")
		return
	}
	adviceID, err := parseID(req.AdviceID.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid adviceId")
		return
	}
	var parentID int64
	if req.ParentCommentID != nil && !req.ParentCommentID.IsZero() {
		if parentID, err = parseID(req.ParentCommentID.String()); err != nil {
			writeError(w, http.StatusBadRequest, "invalid parentCommentId")
			return
		}
	}

	c, err := api.store.AddComment(userID(r.Context()), adviceID, content, parentID)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	log.Debugf("[mockapi][%s] comment %s created on advice %d", sID, c.ID, adviceID)

	writeJSON(w, http.StatusCreated, c)
}

func (api *API) updateCommentHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		storeError(w, sID, err)
		return
	}
	var req models.CommentUpdate
	if !decode(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "comment cannot be empty")
		return
	}

	c, err := api.store.UpdateComment(userID(r.Context()), id, content)
	if err != nil {
		storeError(w, sID, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (api *API) deleteCommentHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		storeError(w, sID, err)
		return
	}
	if err := api.store.DeleteComment(userID(r.Context()), id); err != nil {
		storeError(w, sID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "comment deleted"})
}

func (api *API) likeHandler(like bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sID := shorten(GetRequestID(r.Context()))

		id, err := parseID(mux.Vars(r)["id"])
		if err != nil {
			storeError(w, sID, err)
			return
		}
		if err := api.store.SetLike(userID(r.Context()), id, like); err != nil {
			storeError(w, sID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	}
}
