package mockapi

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"seertix/pkg/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUserExists     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrForbidden      = errors.New("not the author")
	ErrInvalidParent  = errors.New("parent comment does not belong to this advice")
)

type user struct {
	id        int64
	name      string
	email     string
	hash      []byte
	photo     string
	bio       string
	country   string
	createdAt time.Time
}

type advice struct {
	id        int64
	authorID  int64
	content   string
	createdAt time.Time
}

type comment struct {
	id        int64
	adviceID  int64
	userID    int64
	content   string
	parentID  int64
	createdAt time.Time
}

// Store is the in-memory backend state. Rows keep insertion order.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[int64]*user
	byEmail  map[string]int64
	advices  []*advice
	comments []*comment
	likes    map[int64]map[int64]struct{}
	lastID   int64
}

func NewStore() *Store {
	return &Store{
		now:     time.Now,
		users:   make(map[int64]*user),
		byEmail: make(map[string]int64),
		likes:   make(map[int64]map[int64]struct{}),
	}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func formatID(id int64) models.ID {
	return models.ID(strconv.FormatInt(id, 10))
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return n, nil
}

func (s *Store) CreateUser(name, email, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.byEmail[key]; ok {
		return 0, ErrUserExists
	}
	u := &user{id: s.nextID(), name: name, email: email, hash: hash, createdAt: s.now().UTC()}
	s.users[u.id] = u
	s.byEmail[key] = u.id
	return u.id, nil
}

// Authenticate returns the id and name of the user owning the credentials.
func (s *Store) Authenticate(email, password string) (int64, string, error) {
	s.mu.Lock()
	id, ok := s.byEmail[strings.ToLower(email)]
	var u user
	if ok {
		u = *s.users[id]
	}
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return 0, "", ErrBadCredentials
	}
	return u.id, u.name, nil
}

func (s *Store) Profile(userID int64) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return models.Profile{
		ID:      formatID(u.id),
		Name:    u.name,
		Email:   u.email,
		Photo:   u.photo,
		Bio:     u.bio,
		Country: u.country,
	}, nil
}

// PublicUser returns the user with the advice items they published.
func (s *Store) PublicUser(userID int64) (models.PublicUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.PublicUser{}, ErrNotFound
	}
	pu := models.PublicUser{
		ID:        formatID(u.id),
		Username:  u.name,
		Photo:     u.photo,
		Bio:       u.bio,
		Country:   u.country,
		CreatedAt: u.createdAt,
		Advices:   []models.Advice{},
	}
	for _, a := range s.advices {
		if a.authorID == userID {
			pu.Advices = append(pu.Advices, s.adviceModel(a))
		}
	}
	return pu, nil
}

// adviceModel must be called with s.mu held.
func (s *Store) adviceModel(a *advice) models.Advice {
	m := models.Advice{
		ID:        formatID(a.id),
		AuthorID:  formatID(a.authorID),
		Body:      a.content,
		CreatedAt: a.createdAt,
	}
	if u, ok := s.users[a.authorID]; ok {
		m.AuthorName = u.name
	}
	return m
}

func (s *Store) AddAdvice(userID int64, content string) (models.Advice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return models.Advice{}, ErrNotFound
	}
	a := &advice{id: s.nextID(), authorID: userID, content: content, createdAt: s.now().UTC()}
	s.advices = append(s.advices, a)
	return s.adviceModel(a), nil
}

// Advices returns every advice item, newest first.
func (s *Store) Advices() []models.Advice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Advice, 0, len(s.advices))
	for i := len(s.advices) - 1; i >= 0; i-- {
		out = append(out, s.adviceModel(s.advices[i]))
	}
	return out
}

func (s *Store) Advice(id int64) (models.Advice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.advices {
		if a.id == id {
			return s.adviceModel(a), nil
		}
	}
	return models.Advice{}, ErrNotFound
}

// RandomAdvice picks an advice item written by someone other than userID.
func (s *Store) RandomAdvice(userID int64) (models.Advice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pool []*advice
	for _, a := range s.advices {
		if a.authorID != userID {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		return models.Advice{}, ErrNotFound
	}
	return s.adviceModel(pool[rand.IntN(len(pool))]), nil
}

// Comments returns the comments of an advice item in creation order, as seen by viewerID.
func (s *Store) Comments(adviceID, viewerID int64) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.adviceExists(adviceID) {
		return nil, ErrNotFound
	}
	out := []models.Comment{}
	for _, c := range s.comments {
		if c.adviceID == adviceID {
			out = append(out, s.commentModel(c, viewerID))
		}
	}
	return out, nil
}

func (s *Store) adviceExists(id int64) bool {
	for _, a := range s.advices {
		if a.id == id {
			return true
		}
	}
	return false
}

func (s *Store) commentModel(c *comment, viewerID int64) models.Comment {
	m := models.Comment{
		ID:        formatID(c.id),
		AdviceID:  formatID(c.adviceID),
		AuthorID:  formatID(c.userID),
		Body:      c.content,
		CreatedAt: c.createdAt,
		LikeCount: models.Count(len(s.likes[c.id])),
	}
	if u, ok := s.users[c.userID]; ok {
		m.AuthorName = u.name
	}
	if c.parentID != 0 {
		m.ParentID = formatID(c.parentID)
	}
	_, m.LikedByViewer = s.likes[c.id][viewerID]
	return m
}

func (s *Store) findComment(id int64) (int, *comment) {
	for i, c := range s.comments {
		if c.id == id {
			return i, c
		}
	}
	return -1, nil
}

func (s *Store) AddComment(userID, adviceID int64, content string, parentID int64) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.adviceExists(adviceID) {
		return models.Comment{}, ErrNotFound
	}
	if parentID != 0 {
		_, p := s.findComment(parentID)
		if p == nil || p.adviceID != adviceID {
			return models.Comment{}, ErrInvalidParent
		}
	}
	c := &comment{
		id:        s.nextID(),
		adviceID:  adviceID,
		userID:    userID,
		content:   content,
		parentID:  parentID,
		createdAt: s.now().UTC(),
	}
	s.comments = append(s.comments, c)
	return s.commentModel(c, userID), nil
}

func (s *Store) UpdateComment(userID, id int64, content string) (models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c := s.findComment(id)
	if c == nil {
		return models.Comment{}, ErrNotFound
	}
	if c.userID != userID {
		return models.Comment{}, ErrForbidden
	}
	c.content = content
	return s.commentModel(c, userID), nil
}

// DeleteComment removes only the comment; its replies keep their parent id.
func (s *Store) DeleteComment(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, c := s.findComment(id)
	if c == nil {
		return ErrNotFound
	}
	if c.userID != userID {
		return ErrForbidden
	}
	s.comments = append(s.comments[:i], s.comments[i+1:]...)
	delete(s.likes, id)
	return nil
}

// SetLike records or removes the like of userID. Repeating the same call changes nothing.
func (s *Store) SetLike(userID, commentID int64, like bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, c := s.findComment(commentID); c == nil {
		return ErrNotFound
	}
	if !like {
		delete(s.likes[commentID], userID)
		return nil
	}
	if s.likes[commentID] == nil {
		s.likes[commentID] = make(map[int64]struct{})
	}
	s.likes[commentID][userID] = struct{}{}
	return nil
}
