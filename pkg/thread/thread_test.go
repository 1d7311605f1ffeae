package thread

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
	"seertix/pkg/push"
	"seertix/pkg/tree"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

type viewer struct {
	id  models.ID
	err error
}

func (v viewer) Token() (string, error) { return "tok", v.err }
func (v viewer) UserID() models.ID      { return v.id }

type likeCall struct {
	like bool
	done chan error
}

// fakeAPI is an in-memory comments backend shared by the synchronizers of a test.
type fakeAPI struct {
	mu       sync.Mutex
	comments map[models.ID][]models.Comment
	nextID   int
	calls    map[string]int
	errs     map[string]error
	gates    map[models.ID]chan struct{}
	onCreate func(models.Comment)
	likes    chan *likeCall
	// fetches, when set, lets the test answer each Comments call itself.
	fetches chan chan []models.Comment
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		comments: make(map[models.ID][]models.Comment),
		nextID:   100,
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		gates:    make(map[models.ID]chan struct{}),
	}
}

func (f *fakeAPI) seed(adviceID models.ID, list ...models.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[adviceID] = append(f.comments[adviceID], list...)
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeAPI) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeAPI) Comments(ctx context.Context, adviceID models.ID) ([]models.Comment, error) {
	if err := f.begin("comments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	gate, fetches := f.gates[adviceID], f.fetches
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fetches != nil {
		reply := make(chan []models.Comment)
		fetches <- reply
		return <-reply, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Comment(nil), f.comments[adviceID]...), nil
}

func (f *fakeAPI) CreateComment(ctx context.Context, nc models.NewComment) (models.Comment, error) {
	if err := f.begin("create"); err != nil {
		return models.Comment{}, err
	}

	f.mu.Lock()
	f.nextID++
	cm := models.Comment{
		ID:         models.ID(strconv.Itoa(f.nextID)),
		AdviceID:   nc.AdviceID,
		AuthorID:   "u1",
		AuthorName: "ana",
		Body:       nc.Content,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, f.nextID, 0, time.UTC),
	}
	if nc.ParentCommentID != nil {
		cm.ParentID = *nc.ParentCommentID
	}
	f.comments[nc.AdviceID] = append(f.comments[nc.AdviceID], cm)
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook(cm)
	}
	return cm, nil
}

func (f *fakeAPI) UpdateComment(ctx context.Context, id models.ID, content string) (models.Comment, error) {
	if err := f.begin("update"); err != nil {
		return models.Comment{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for adviceID, list := range f.comments {
		for i := range list {
			if list[i].ID == id {
				f.comments[adviceID][i].Body = content
				return f.comments[adviceID][i], nil
			}
		}
	}
	return models.Comment{}, apperr.Server("update comment", 404, "Comment not found", nil)
}

func (f *fakeAPI) DeleteComment(ctx context.Context, id models.ID) error {
	if err := f.begin("delete"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for adviceID, list := range f.comments {
		var kept []models.Comment
		for _, c := range list {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		f.comments[adviceID] = kept
	}
	return nil
}

func (f *fakeAPI) LikeComment(ctx context.Context, id models.ID) error {
	return f.toggle("like", id, true)
}

func (f *fakeAPI) UnlikeComment(ctx context.Context, id models.ID) error {
	return f.toggle("unlike", id, false)
}

func (f *fakeAPI) toggle(op string, id models.ID, like bool) error {
	if err := f.begin(op); err != nil {
		return err
	}
	if f.likes != nil {
		call := &likeCall{like: like, done: make(chan error)}
		f.likes <- call
		if err := <-call.done; err != nil {
			return err
		}
	}
	return nil
}

// countingTransport counts released subscriptions.
type countingTransport struct {
	push.Transport
	closes atomic.Int32
}

type countingSub struct {
	push.Subscription
	t *countingTransport
}

func (s countingSub) Close() error {
	s.t.closes.Add(1)
	return s.Subscription.Close()
}

func (t *countingTransport) Subscribe(ctx context.Context, room string) (push.Subscription, error) {
	sub, err := t.Transport.Subscribe(ctx, room)
	if err != nil {
		return nil, err
	}
	return countingSub{Subscription: sub, t: t}, nil
}

type failingPusher struct{}

func (failingPusher) Connect(context.Context, string, push.Credentials) (*push.Handle, error) {
	return nil, errors.New("connection refused")
}

func (failingPusher) Disconnect(*push.Handle) error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ids(list []models.Comment) []models.ID {
	out := make([]models.ID, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func comment(id, author, parent string, likes int, liked bool) models.Comment {
	return models.Comment{
		ID:            models.ID(id),
		AdviceID:      "1",
		AuthorID:      models.ID(author),
		Body:          "comment " + id,
		LikeCount:     models.Count(likes),
		LikedByViewer: liked,
		ParentID:      models.ID(parent),
	}
}

func activated(t *testing.T, api *fakeAPI, pusher Pusher, opts ...Option) *Synchronizer {
	t.Helper()
	s := New(api, pusher, opts...)
	if err := s.Activate(context.Background(), "1", viewer{id: "u1"}); err != nil {
		t.Fatalf("unexpected activate error: %v", err)
	}
	t.Cleanup(s.Deactivate)
	return s
}

func TestActivate_initialFetch(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u1", "", 0, false), comment("2", "u2", "1", 0, false))

	s := activated(t, api, push.NewManager(push.NewHub()))

	if s.Loading() {
		t.Error("want loading finished")
	}
	if s.AdviceID() != "1" {
		t.Errorf("want advice 1, got %q", s.AdviceID())
	}
	if got := ids(s.Comments()); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("want comments [1 2], got %v", got)
	}
	if forest := s.Tree(); len(forest) != 1 || len(forest[0].Replies) != 1 {
		t.Errorf("want one root with one reply, got %d roots", len(forest))
	}
}

func TestActivate_rejectsInput(t *testing.T) {
	api := newFakeAPI()
	var calls int
	s := New(api, nil, OnUnauthorized(func(error) { calls++ }))

	if err := s.Activate(context.Background(), "", viewer{id: "u1"}); !apperr.IsValidation(err) {
		t.Errorf("want validation error, got %v", err)
	}
	if err := s.Activate(context.Background(), "1", viewer{err: errors.New("expired")}); !apperr.IsUnauthorized(err) {
		t.Errorf("want unauthorized error, got %v", err)
	}
	if err := s.Activate(context.Background(), "1", nil); !apperr.IsUnauthorized(err) {
		t.Errorf("want unauthorized error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("want 2 unauthorized callbacks, got %d", calls)
	}
	if api.count("comments") != 0 {
		t.Errorf("want no fetch, got %d", api.count("comments"))
	}
}

func TestActivate_fetchOnlyWhenPushUnavailable(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))

	s := activated(t, api, failingPusher{})
	if len(s.Comments()) != 1 {
		t.Errorf("want 1 comment, got %d", len(s.Comments()))
	}

	// Mutations still work without a push channel.
	if _, err := s.Submit(context.Background(), "still here", ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestActivate_dropsStaleFetch(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))
	api.seed("2", models.Comment{ID: "20", AdviceID: "2", AuthorID: "u2", Body: "other"})
	gate := make(chan struct{})
	api.gates["1"] = gate

	s := New(api, nil)
	done := make(chan error)
	go func() {
		done <- s.Activate(context.Background(), "1", viewer{id: "u1"})
	}()
	waitFor(t, "first fetch", func() bool { return api.count("comments") == 1 })

	if err := s.Activate(context.Background(), "2", viewer{id: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(gate)
	<-done

	if s.AdviceID() != "2" {
		t.Errorf("want advice 2, got %q", s.AdviceID())
	}
	if got := ids(s.Comments()); len(got) != 1 || got[0] != "20" {
		t.Errorf("want comments [20], got %v", got)
	}
	s.Deactivate()
}

func TestRefetch_lastResponseWins(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))
	s := activated(t, api, nil)

	fetches := make(chan chan []models.Comment)
	api.mu.Lock()
	api.fetches = fetches
	api.mu.Unlock()

	done := make(chan error, 2)
	for range 2 {
		go func() { done <- s.Refetch(context.Background()) }()
	}
	first, second := <-fetches, <-fetches

	// The request sent last is answered first with the newer snapshot, the earlier request
	// arrives after it with an older one.
	second <- []models.Comment{comment("1", "u2", "", 0, false), comment("2", "u2", "1", 0, false)}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(s.Comments()); len(got) != 2 {
		t.Fatalf("want comments [1 2] after the first response, got %v", got)
	}

	first <- []models.Comment{comment("3", "u2", "", 0, false)}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(s.Comments()); len(got) != 1 || got[0] != "3" {
		t.Errorf("want comments [3] from the response that arrived last, got %v", got)
	}
}

func TestDeactivate_idempotent(t *testing.T) {
	hub := push.NewHub()
	tr := &countingTransport{Transport: hub}
	s := New(newFakeAPI(), push.NewManager(tr))

	s.Deactivate()
	if err := s.Activate(context.Background(), "1", viewer{id: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hub.Subscribers("advice_1") != 1 {
		t.Fatalf("want 1 subscriber, got %d", hub.Subscribers("advice_1"))
	}

	s.Deactivate()
	s.Deactivate()

	if got := tr.closes.Load(); got != 1 {
		t.Errorf("want 1 unsubscription, got %d", got)
	}
	if hub.Subscribers("advice_1") != 0 {
		t.Errorf("want no subscribers, got %d", hub.Subscribers("advice_1"))
	}
	if s.AdviceID() != "" || len(s.Comments()) != 0 {
		t.Error("want inactive synchronizer")
	}

	// Listener goroutines end with the subscription.
	s.background.Wait()
}

func TestActivate_replacesSubscription(t *testing.T) {
	hub := push.NewHub()
	s := New(newFakeAPI(), push.NewManager(hub))
	defer s.Deactivate()

	for _, id := range []models.ID{"1", "2"} {
		if err := s.Activate(context.Background(), id, viewer{id: "u1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if hub.Subscribers("advice_1") != 0 || hub.Subscribers("advice_2") != 1 {
		t.Errorf("want subscription moved to advice_2, got %d and %d", hub.Subscribers("advice_1"), hub.Subscribers("advice_2"))
	}
}

func TestSubmit_emptyBodyRejected(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))
	s := activated(t, api, nil)

	for _, body := range []string{"", "   ", "\n\t"} {
		if _, err := s.Submit(context.Background(), body, ""); !apperr.IsValidation(err) {
			t.Errorf("want validation error for %q, got %v", body, err)
		}
	}
	if api.count("create") != 0 {
		t.Errorf("want no create call, got %d", api.count("create"))
	}
	if got := ids(s.Comments()); len(got) != 1 {
		t.Errorf("want collection unchanged, got %v", got)
	}
}

func TestSubmit_reply(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))
	s := activated(t, api, nil)

	cm, err := s.Submit(context.Background(), "  thanks!  ", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cm.Body != "thanks!" || cm.ParentID != "1" {
		t.Errorf("want trimmed reply to 1, got %+v", cm)
	}
	forest := s.Tree()
	if len(forest) != 1 || len(forest[0].Replies) != 1 || forest[0].Replies[0].ID != cm.ID {
		t.Errorf("want reply under comment 1, got %d roots", len(forest))
	}
}

func TestSubmit_selfEchoNoDuplicates(t *testing.T) {
	hub := push.NewHub()
	api := newFakeAPI()
	s := activated(t, api, push.NewManager(hub))

	cm, err := s.Submit(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The echo of comment:new triggers a refetch that also contains the comment.
	waitFor(t, "echo refetch", func() bool { return api.count("comments") >= 2 })
	if err := s.Refetch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := ids(s.Comments())
	if len(got) != 1 || got[0] != cm.ID {
		t.Errorf("want exactly [%s], got %v", cm.ID, got)
	}
}

func TestSubmit_refetchWinsRace(t *testing.T) {
	api := newFakeAPI()
	s := activated(t, api, nil)

	// The collection already holds the comment when the create response arrives.
	api.onCreate = func(models.Comment) {
		if err := s.Refetch(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	cm, err := s.Submit(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(s.Comments())
	if len(got) != 1 || got[0] != cm.ID {
		t.Errorf("want exactly [%s], got %v", cm.ID, got)
	}
}

func TestSubmit_failureLeavesCollection(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 0, false))
	s := activated(t, api, nil)
	api.setErr("create", apperr.Network("create comment", errors.New("connection refused")))

	if _, err := s.Submit(context.Background(), "hello", ""); !apperr.IsNetwork(err) {
		t.Errorf("want network error, got %v", err)
	}
	if got := ids(s.Comments()); len(got) != 1 || got[0] != "1" {
		t.Errorf("want collection unchanged, got %v", got)
	}
}

func TestPeerEventsTriggerRefetch(t *testing.T) {
	hub := push.NewHub()
	api := newFakeAPI()
	alice := activated(t, api, push.NewManager(hub))
	bob := New(api, push.NewManager(hub))
	if err := bob.Activate(context.Background(), "1", viewer{id: "u2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bob.Deactivate()

	cm, err := alice.Submit(context.Background(), "hello bob", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "bob sees the comment", func() bool { return len(bob.Comments()) == 1 })

	if _, err := alice.Edit(context.Background(), cm.ID, "hello again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "bob sees the edit", func() bool {
		list := bob.Comments()
		return len(list) == 1 && list[0].Body == "hello again"
	})

	if err := alice.Remove(context.Background(), cm.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "bob sees the removal", func() bool { return len(bob.Comments()) == 0 })
}

func TestBroadcastPayloads(t *testing.T) {
	hub := push.NewHub()
	api := newFakeAPI()
	api.seed("1", comment("1", "u1", "", 0, false))
	s := activated(t, api, push.NewManager(hub))

	spy, err := push.NewManager(hub).Connect(context.Background(), "advice_1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := func() push.Event {
		select {
		case ev := <-spy.Events():
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
		return push.Event{}
	}

	cm, err := s.Submit(context.Background(), "new one", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := next()
	var created models.NewCommentEvent
	if err := json.Unmarshal(ev.Payload, &created); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if ev.Name != push.EventCommentNew || created.AdviceID != "1" || created.Comment.ID != cm.ID {
		t.Errorf("want comment:new for %s, got %s %+v", cm.ID, ev.Name, created)
	}

	if _, err := s.Edit(context.Background(), "1", "edited"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev = next()
	var updated models.Comment
	if err := json.Unmarshal(ev.Payload, &updated); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if ev.Name != push.EventCommentUpdate || updated.ID != "1" || updated.Body != "edited" {
		t.Errorf("want comment:update for 1, got %s %+v", ev.Name, updated)
	}

	if err := s.Remove(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev = next()
	var deleted models.DeletedComment
	if err := json.Unmarshal(ev.Payload, &deleted); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if ev.Name != push.EventCommentDelete || deleted.CommentID != "1" {
		t.Errorf("want comment:delete for 1, got %s %+v", ev.Name, deleted)
	}

	if err := s.ToggleLike(context.Background(), cm.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-spy.Events():
		t.Errorf("want likes not broadcast, got %s", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEdit(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u1", "", 2, true), comment("2", "u2", "", 0, false))
	s := activated(t, api, nil)

	got, err := s.Edit(context.Background(), "1", "  better  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Body != "better" || got.LikeCount != 2 || !got.LikedByViewer {
		t.Errorf("want only the body replaced, got %+v", got)
	}
	if list := s.Comments(); list[0].Body != "better" {
		t.Errorf("want body replaced in place, got %q", list[0].Body)
	}

	tests := []struct {
		name string
		id   models.ID
		body string
	}{
		{name: "not author", id: "2", body: "mine now"},
		{name: "unknown", id: "404", body: "hello"},
		{name: "empty", id: "1", body: " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Edit(context.Background(), tt.id, tt.body); !apperr.IsValidation(err) {
				t.Errorf("want validation error, got %v", err)
			}
		})
	}
	if api.count("update") != 1 {
		t.Errorf("want 1 update call, got %d", api.count("update"))
	}
}

func TestRemove_childrenBecomeRoots(t *testing.T) {
	api := newFakeAPI()
	api.seed("1",
		comment("1", "u1", "", 0, false),
		comment("2", "u2", "1", 0, false),
		comment("3", "u2", "1", 0, false),
		comment("4", "u2", "2", 0, false),
	)
	s := activated(t, api, nil)

	if err := s.Remove(context.Background(), "2"); !apperr.IsValidation(err) {
		t.Errorf("want validation error removing another author's comment, got %v", err)
	}
	if err := s.Remove(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	forest := s.Tree()
	var roots []models.ID
	for _, n := range forest {
		roots = append(roots, n.ID)
	}
	if len(roots) != 2 || roots[0] != "2" || roots[1] != "3" {
		t.Errorf("want roots [2 3], got %v", roots)
	}
	if tree.Count(forest) != 3 {
		t.Errorf("want 3 comments, got %d", tree.Count(forest))
	}
}

func TestToggleLike(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 4, false), comment("2", "u2", "", 1, true))
	s := activated(t, api, nil)

	if err := s.ToggleLike(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ToggleLike(context.Background(), "2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := s.Comments()
	if list[0].LikeCount != 5 || !list[0].LikedByViewer {
		t.Errorf("want 5 likes liked, got %d %v", list[0].LikeCount, list[0].LikedByViewer)
	}
	if list[1].LikeCount != 0 || list[1].LikedByViewer {
		t.Errorf("want 0 likes not liked, got %d %v", list[1].LikeCount, list[1].LikedByViewer)
	}
	if api.count("like") != 1 || api.count("unlike") != 1 {
		t.Errorf("want one like and one unlike, got %d and %d", api.count("like"), api.count("unlike"))
	}

	if err := s.ToggleLike(context.Background(), "404"); !apperr.IsValidation(err) {
		t.Errorf("want validation error, got %v", err)
	}
}

func TestToggleLike_failureLeavesState(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u2", "", 4, false))
	s := activated(t, api, nil)
	api.setErr("like", apperr.Server("like", 500, "", nil))

	if err := s.ToggleLike(context.Background(), "1"); !apperr.IsServer(err) {
		t.Errorf("want server error, got %v", err)
	}
	list := s.Comments()
	if list[0].LikeCount != 4 || list[0].LikedByViewer {
		t.Errorf("want state unchanged, got %d %v", list[0].LikeCount, list[0].LikedByViewer)
	}

	// The next toggle starts again from the confirmed state.
	api.setErr("like", nil)
	if err := s.ToggleLike(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list := s.Comments(); list[0].LikeCount != 5 || !list[0].LikedByViewer {
		t.Errorf("want 5 likes liked, got %d %v", list[0].LikeCount, list[0].LikedByViewer)
	}
}

func TestToggleLike_rapidToggleDoesNotDrift(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		liked       bool
		unlikeFirst bool
	}{
		{name: "in order", count: 3, liked: false},
		{name: "reversed", count: 3, liked: false, unlikeFirst: true},
		{name: "zero count reversed", count: 0, liked: false, unlikeFirst: true},
		{name: "liked in order", count: 1, liked: true},
		{name: "liked reversed", count: 1, liked: true, unlikeFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.likes = make(chan *likeCall)
			api.seed("1", comment("1", "u2", "", tt.count, tt.liked))
			s := activated(t, api, nil)

			errs := make(chan error, 2)
			toggle := func() { errs <- s.ToggleLike(context.Background(), "1") }

			go toggle()
			first := <-api.likes
			go toggle()
			second := <-api.likes

			if first.like == tt.liked || second.like != tt.liked {
				t.Fatalf("want opposite requests, got like=%v then like=%v", first.like, second.like)
			}

			like, unlike := first, second
			if !first.like {
				like, unlike = second, first
			}
			order := []*likeCall{like, unlike}
			if tt.unlikeFirst {
				order = []*likeCall{unlike, like}
			}
			for _, call := range order {
				call.done <- nil
				if err := <-errs; err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}

			got := s.Comments()[0]
			if int(got.LikeCount) != tt.count || got.LikedByViewer != tt.liked {
				t.Errorf("want %d likes liked=%v, got %d liked=%v", tt.count, tt.liked, got.LikeCount, got.LikedByViewer)
			}
		})
	}
}

func TestUnauthorizedFiresCallback(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u1", "", 0, false))
	var got atomic.Int32
	s := activated(t, api, nil, OnUnauthorized(func(error) { got.Add(1) }))

	api.setErr("create", apperr.Unauthorized("create comment", "", nil))
	if _, err := s.Submit(context.Background(), "hello", ""); !apperr.IsUnauthorized(err) {
		t.Errorf("want unauthorized error, got %v", err)
	}
	api.setErr("comments", apperr.Unauthorized("comments", "", nil))
	if err := s.Refetch(context.Background()); !apperr.IsUnauthorized(err) {
		t.Errorf("want unauthorized error, got %v", err)
	}

	if got.Load() != 2 {
		t.Errorf("want 2 callbacks, got %d", got.Load())
	}
	if len(s.Comments()) != 1 {
		t.Error("want last known good collection kept")
	}
}

func TestBackgroundRefetchError(t *testing.T) {
	hub := push.NewHub()
	api := newFakeAPI()
	s := activated(t, api, push.NewManager(hub))

	api.setErr("comments", apperr.Network("comments", errors.New("connection refused")))
	peer, err := push.NewManager(hub).Connect(context.Background(), "advice_1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := peer.Emit(context.Background(), push.EventCommentDelete, models.DeletedComment{CommentID: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, "background error", func() bool { return s.Err() != nil })
	if !apperr.IsNetwork(s.Err()) {
		t.Errorf("want network error, got %v", s.Err())
	}

	api.setErr("comments", nil)
	if err := s.Refetch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("want error cleared, got %v", s.Err())
	}
}

func TestChangesCoalesced(t *testing.T) {
	api := newFakeAPI()
	api.seed("1", comment("1", "u1", "", 0, false))
	s := activated(t, api, nil)

	for i := 0; i < 5; i++ {
		if err := s.Refetch(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	select {
	case <-s.Changes():
	default:
		t.Fatal("want pending change signal")
	}
	select {
	case <-s.Changes():
		t.Error("want a single coalesced signal")
	default:
	}
}

func TestRefetch_inactive(t *testing.T) {
	s := New(newFakeAPI(), nil)
	if err := s.Refetch(context.Background()); !apperr.IsValidation(err) {
		t.Errorf("want validation error, got %v", err)
	}
	if _, err := s.Submit(context.Background(), "hi", ""); !apperr.IsValidation(err) {
		t.Errorf("want validation error, got %v", err)
	}
}
