// Package thread keeps the comment collection of one advice discussion in sync with the server.
//
// A Synchronizer merges three sources of change into a single flat collection: full fetches,
// push events from other clients (each triggers a refetch), and the confirmed results of local
// mutations. The collection is replaced wholesale on every fetch, so an event echoing a local
// mutation never produces a duplicate. Completions that belong to an earlier activation are
// discarded.
package thread

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
	"seertix/pkg/push"
	"seertix/pkg/tree"
)

// API is the subset of the REST client used by the Synchronizer.
type API interface {
	Comments(ctx context.Context, adviceID models.ID) ([]models.Comment, error)
	CreateComment(ctx context.Context, nc models.NewComment) (models.Comment, error)
	UpdateComment(ctx context.Context, id models.ID, content string) (models.Comment, error)
	DeleteComment(ctx context.Context, id models.ID) error
	LikeComment(ctx context.Context, id models.ID) error
	UnlikeComment(ctx context.Context, id models.ID) error
}

// Pusher opens the push subscription of a discussion room. *push.Manager implements it.
type Pusher interface {
	Connect(ctx context.Context, topic string, creds push.Credentials) (*push.Handle, error)
	Disconnect(h *push.Handle) error
}

// Credentials identify the viewer. *session.Session implements it.
type Credentials interface {
	Token() (string, error)
	UserID() models.ID
}

type Option func(*Synchronizer)

// OnUnauthorized registers fn to be called whenever an operation fails because the session is
// missing or was rejected. It is called without any lock held.
func OnUnauthorized(fn func(error)) Option {
	return func(s *Synchronizer) { s.onUnauthorized = fn }
}

type Synchronizer struct {
	api            API
	pusher         Pusher
	onUnauthorized func(error)

	mu       sync.Mutex
	epoch    uint64
	adviceID models.ID
	creds    Credentials
	comments []models.Comment
	loading  bool
	err      error
	handle   *push.Handle
	cancel   context.CancelFunc
	likes    map[models.ID]*likeState

	// background counts the listener and the refetches it spawns.
	background sync.WaitGroup
	changes    chan struct{}
}

// likeState tracks the like toggles of one comment that are still waiting for the server.
type likeState struct {
	outstanding int
	intent      bool
	base        models.Count
	delta       int
}

// New creates an inactive Synchronizer. A nil pusher keeps every discussion fetch-only.
func New(api API, pusher Pusher, opts ...Option) *Synchronizer {
	s := Synchronizer{
		api:     api,
		pusher:  pusher,
		likes:   make(map[models.ID]*likeState),
		changes: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

// Activate starts tracking the discussion of adviceID, replacing any active one. It subscribes to
// the discussion room and performs the initial fetch, whose error it returns. A failed
// subscription leaves the discussion fetch-only. A failed initial fetch leaves the discussion
// active, so callers must Deactivate on every path.
func (s *Synchronizer) Activate(ctx context.Context, adviceID models.ID, creds Credentials) error {
	const op = "activate"
	if adviceID.IsZero() {
		return apperr.Validation(op, "discussion id is required")
	}
	if creds == nil {
		return s.fail(apperr.Unauthorized(op, "", nil))
	}
	if _, err := creds.Token(); err != nil {
		if apperr.KindOf(err) != apperr.KindUnauthorized {
			err = apperr.Unauthorized(op, "", err)
		}
		return s.fail(err)
	}

	s.Deactivate()

	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.epoch++
	ep := s.epoch
	s.adviceID = adviceID
	s.creds = creds
	s.comments = nil
	s.loading = true
	s.err = nil
	s.cancel = cancel
	s.likes = make(map[models.ID]*likeState)
	s.mu.Unlock()
	s.notify()

	room := push.Room(adviceID)
	if s.pusher != nil {
		h, err := s.pusher.Connect(actx, room, creds)
		if err != nil {
			log.Warnf("[thread][%s] push unavailable, continuing without live updates: %v", room, err)
		} else {
			s.attach(actx, ep, adviceID, h)
		}
	}

	// The initial fetch ends with the caller's context or with the activation.
	fctx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(actx, stop)
	defer unregister()

	err := s.refetch(fctx, ep, adviceID)

	s.mu.Lock()
	if s.epoch == ep {
		s.loading = false
	}
	s.mu.Unlock()
	s.notify()

	return err
}

func (s *Synchronizer) attach(ctx context.Context, ep uint64, adviceID models.ID, h *push.Handle) {
	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		if err := s.pusher.Disconnect(h); err != nil {
			log.Warnf("[thread][%s] failed to release stale subscription: %v", h.Topic(), err)
		}
		return
	}
	s.handle = h
	s.background.Add(1)
	s.mu.Unlock()

	go s.listen(ctx, ep, adviceID, h)
}

// listen refetches on every comment event of the room until the handle is released.
func (s *Synchronizer) listen(ctx context.Context, ep uint64, adviceID models.ID, h *push.Handle) {
	defer s.background.Done()

	room := push.Room(adviceID)
	for ev := range h.Events() {
		switch ev.Name {
		case push.EventCommentNew, push.EventCommentUpdate, push.EventCommentDelete:
		default:
			continue
		}
		if ev.Room != room {
			continue
		}
		log.Debugf("[thread][%s] %s received, refetching", room, ev.Name)

		s.background.Add(1)
		go func() {
			defer s.background.Done()
			err := s.refetch(ctx, ep, adviceID)
			if err == nil || ctx.Err() != nil {
				return
			}
			log.Errorf("[thread][%s] background refetch failed: %v", room, err)
			s.mu.Lock()
			stale := s.epoch != ep
			if !stale {
				s.err = err
			}
			s.mu.Unlock()
			if !stale {
				s.notify()
			}
		}()
	}
}

// Deactivate stops tracking the active discussion. In-flight requests are cancelled and their
// results discarded. Calling it again is a no-op.
func (s *Synchronizer) Deactivate() {
	s.mu.Lock()
	if s.adviceID.IsZero() && s.handle == nil && s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.epoch++
	h := s.handle
	cancel := s.cancel
	room := push.Room(s.adviceID)
	s.handle = nil
	s.cancel = nil
	s.adviceID = ""
	s.creds = nil
	s.comments = nil
	s.loading = false
	s.err = nil
	s.likes = make(map[models.ID]*likeState)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		if err := s.pusher.Disconnect(h); err != nil {
			log.Warnf("[thread][%s] failed to unsubscribe: %v", room, err)
		}
	}
	log.Debugf("[thread][%s] deactivated", room)
	s.notify()
}

// Refetch replaces the collection with the server's.
func (s *Synchronizer) Refetch(ctx context.Context) error {
	s.mu.Lock()
	ep, adviceID := s.epoch, s.adviceID
	s.mu.Unlock()

	if adviceID.IsZero() {
		return apperr.Validation("refetch", "no active discussion")
	}
	return s.refetch(ctx, ep, adviceID)
}

func (s *Synchronizer) refetch(ctx context.Context, ep uint64, adviceID models.ID) error {
	list, err := s.api.Comments(ctx, adviceID)
	if err != nil {
		return s.fail(err)
	}

	list = dedupe(list)

	s.mu.Lock()
	if s.epoch != ep || s.adviceID != adviceID {
		s.mu.Unlock()
		log.Debugf("[thread][%s] dropping stale fetch result", push.Room(adviceID))
		return nil
	}
	s.comments = list
	s.err = nil
	for id, ls := range s.likes {
		if i := indexOf(list, id); i >= 0 {
			ls.base = list[i].LikeCount
			ls.delta = 0
		}
	}
	s.mu.Unlock()
	s.notify()

	return nil
}

// Submit posts a new comment, a reply when parentID is set, and adds the confirmed comment to
// the collection.
func (s *Synchronizer) Submit(ctx context.Context, body string, parentID models.ID) (models.Comment, error) {
	const op = "submit"
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Comment{}, apperr.Validation(op, "comment cannot be empty")
	}

	s.mu.Lock()
	ep, adviceID := s.epoch, s.adviceID
	s.mu.Unlock()
	if adviceID.IsZero() {
		return models.Comment{}, apperr.Validation(op, "no active discussion")
	}

	cm, err := s.api.CreateComment(ctx, models.NewComment{
		Content:         body,
		AdviceID:        adviceID,
		ParentCommentID: parentID.Ptr(),
	})
	if err != nil {
		return models.Comment{}, s.fail(err)
	}
	if cm.AdviceID.IsZero() {
		cm.AdviceID = adviceID
	}
	if cm.ParentID.IsZero() {
		cm.ParentID = parentID
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return cm, nil
	}
	// A refetch triggered by another event may already have delivered it.
	if i := indexOf(s.comments, cm.ID); i >= 0 {
		s.comments[i] = cm
	} else {
		s.comments = append(s.comments, cm)
	}
	h := s.handle
	s.mu.Unlock()
	s.notify()

	s.emit(ctx, h, push.EventCommentNew, models.NewCommentEvent{AdviceID: adviceID, Comment: cm})
	return cm, nil
}

// Edit replaces the body of one of the viewer's comments.
func (s *Synchronizer) Edit(ctx context.Context, id models.ID, body string) (models.Comment, error) {
	const op = "edit"
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Comment{}, apperr.Validation(op, "comment cannot be empty")
	}

	ep, err := s.checkAuthor(op, id)
	if err != nil {
		return models.Comment{}, err
	}

	updated, err := s.api.UpdateComment(ctx, id, body)
	if err != nil {
		return models.Comment{}, s.fail(err)
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return updated, nil
	}
	i := indexOf(s.comments, id)
	if i < 0 {
		// Removed by a refetch in the meantime.
		s.mu.Unlock()
		return updated, nil
	}
	s.comments[i].Body = updated.Body
	cm := s.comments[i]
	h := s.handle
	s.mu.Unlock()
	s.notify()

	s.emit(ctx, h, push.EventCommentUpdate, cm)
	return cm, nil
}

// Remove deletes one of the viewer's comments. Its replies stay and are shown as roots.
func (s *Synchronizer) Remove(ctx context.Context, id models.ID) error {
	const op = "remove"
	ep, err := s.checkAuthor(op, id)
	if err != nil {
		return err
	}

	if err := s.api.DeleteComment(ctx, id); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if s.epoch != ep {
		s.mu.Unlock()
		return nil
	}
	kept := s.comments[:0:0]
	for _, c := range s.comments {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.comments = kept
	delete(s.likes, id)
	h := s.handle
	s.mu.Unlock()
	s.notify()

	s.emit(ctx, h, push.EventCommentDelete, models.DeletedComment{CommentID: id})
	return nil
}

// ToggleLike likes or unlikes a comment, depending on the viewer's state including the toggles
// still waiting for the server. Likes are not broadcast.
func (s *Synchronizer) ToggleLike(ctx context.Context, id models.ID) error {
	const op = "toggle like"

	s.mu.Lock()
	if s.adviceID.IsZero() {
		s.mu.Unlock()
		return apperr.Validation(op, "no active discussion")
	}
	i := indexOf(s.comments, id)
	if i < 0 {
		s.mu.Unlock()
		return apperr.Validation(op, "unknown comment")
	}
	ls := s.likes[id]
	if ls == nil {
		ls = &likeState{}
		s.likes[id] = ls
	}
	if ls.outstanding == 0 {
		ls.intent = s.comments[i].LikedByViewer
		ls.base = s.comments[i].LikeCount
		ls.delta = 0
	}
	ls.intent = !ls.intent
	ls.outstanding++
	like := ls.intent
	ep := s.epoch
	s.mu.Unlock()

	var err error
	if like {
		err = s.api.LikeComment(ctx, id)
	} else {
		err = s.api.UnlikeComment(ctx, id)
	}

	s.mu.Lock()
	if s.epoch != ep || s.likes[id] != ls {
		s.mu.Unlock()
		if err != nil {
			return s.fail(err)
		}
		return nil
	}
	ls.outstanding--
	changed := false
	if err == nil {
		if like {
			ls.delta++
		} else {
			ls.delta--
		}
		if i := indexOf(s.comments, id); i >= 0 {
			s.comments[i].LikeCount = clamp(int(ls.base) + ls.delta)
			s.comments[i].LikedByViewer = ls.intent
			changed = true
		}
	}
	if ls.outstanding == 0 {
		delete(s.likes, id)
	}
	s.mu.Unlock()

	if err != nil {
		return s.fail(err)
	}
	if changed {
		s.notify()
	}
	return nil
}

// Comments returns a copy of the collection in server order.
func (s *Synchronizer) Comments() []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Comment(nil), s.comments...)
}

func (s *Synchronizer) Tree() []*tree.Node {
	return tree.Build(s.Comments())
}

func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Synchronizer) AdviceID() models.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adviceID
}

// Err returns the error of the last failed background refetch, cleared by the next successful one.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Changes signals after each state change. Signals are coalesced: a slow reader sees one
// pending signal for any number of changes.
func (s *Synchronizer) Changes() <-chan struct{} {
	return s.changes
}

func (s *Synchronizer) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) checkAuthor(op string, id models.ID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adviceID.IsZero() {
		return 0, apperr.Validation(op, "no active discussion")
	}
	i := indexOf(s.comments, id)
	if i < 0 {
		return 0, apperr.Validation(op, "unknown comment")
	}
	if s.creds == nil || s.comments[i].AuthorID != s.creds.UserID() {
		return 0, apperr.Validation(op, "only the author can change this comment")
	}
	return s.epoch, nil
}

func (s *Synchronizer) emit(ctx context.Context, h *push.Handle, name string, payload any) {
	if h == nil {
		return
	}
	if err := h.Emit(ctx, name, payload); err != nil {
		log.Warnf("[thread][%s] failed to broadcast %s: %v", h.Topic(), name, err)
	}
}

func (s *Synchronizer) fail(err error) error {
	if apperr.IsUnauthorized(err) && s.onUnauthorized != nil {
		s.onUnauthorized(err)
	}
	return err
}

func indexOf(list []models.Comment, id models.ID) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// dedupe keeps the first comment of each id.
func dedupe(list []models.Comment) []models.Comment {
	seen := make(map[models.ID]struct{}, len(list))
	out := make([]models.Comment, 0, len(list))
	for _, c := range list {
		if _, ok := seen[c.ID]; ok {
			log.Warnf("[thread] duplicate comment %s in fetch result", c.ID)
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func clamp(n int) models.Count {
	if n < 0 {
		return 0
	}
	return models.Count(n)
}
