package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephai/jai-chat/internal/auth"
	"github.com/josephai/jai-chat/internal/modes"
	"github.com/josephai/jai-chat/internal/store"
)

func newChatService(t *testing.T, providers ...Provider) (*ChatService, *store.SQLStore) {
	t.Helper()
	db := newTestStore(t)
	o := NewOrchestrator(providers, NewOverrideEngine(db, 0, nil, nil), GenerationSettings{}, nil)
	return NewChatService(db, o, NewChatLocks(), nil), db
}

func TestSendMessage_PersistsBothTurnsAndTitles(t *testing.T) {
	ctx := context.Background()
	svc, db := newChatService(t, succeeding("a", "Hello, human."))
	guest := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(ctx, guest, "")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultChatTitle, chat.Title)

	long := "Tell me everything about the history of the Galactic Republic please"
	turn, err := svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, Message: long})
	require.NoError(t, err)
	assert.Equal(t, "Hello, human.", turn.AIMessage.Content)
	assert.True(t, turn.AIMessage.IsAI)
	assert.Equal(t, OutcomeSuccess, turn.Outcome)
	assert.Equal(t, "a", turn.Provider)

	msgs, err := svc.GetMessages(ctx, guest, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, long, msgs[0].Content)
	assert.False(t, msgs[0].IsAI)
	assert.Equal(t, "Hello, human.", msgs[1].Content)

	stored, err := db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, string([]rune(long)[:40])+"...", stored.Title)

	_, err = svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, Message: "second question"})
	require.NoError(t, err)
	stored, err = db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, string([]rune(long)[:40])+"...", stored.Title, "only the first message names the chat")
}

func TestSendMessage_TotalFailureKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newChatService(t, failing("a"), failing("b"))
	user := auth.UserIdentity("u-1")

	chat, err := svc.CreateChat(ctx, user, "Existing")
	require.NoError(t, err)

	turn, err := svc.SendMessage(ctx, user, SendMessageInput{ChatID: chat.ID, Message: "anyone there?"})
	require.NoError(t, err)
	assert.Equal(t, DegradedResponse, turn.AIMessage.Content)
	assert.Equal(t, OutcomeDegraded, turn.Outcome)

	msgs, err := svc.GetMessages(ctx, user, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "anyone there?", msgs[0].Content)
	assert.Equal(t, DegradedResponse, msgs[1].Content)
}

func TestSendMessage_ValidationAndOwnership(t *testing.T) {
	ctx := context.Background()
	p := succeeding("a", "ok")
	svc, db := newChatService(t, p)
	owner := auth.GuestIdentity("fp-owner")

	chat, err := svc.CreateChat(ctx, owner, "")
	require.NoError(t, err)

	cases := map[string]struct {
		who  auth.Identity
		in   SendMessageInput
		want error
	}{
		"unknown mode":      {owner, SendMessageInput{ChatID: chat.ID, Message: "hi", Mode: "evil"}, ErrInvalidMode},
		"missing chat id":   {owner, SendMessageInput{Message: "hi"}, ErrMissingChatID},
		"empty message":     {owner, SendMessageInput{ChatID: chat.ID, Message: "   "}, ErrEmptyMessage},
		"foreign guest":     {auth.GuestIdentity("fp-other"), SendMessageInput{ChatID: chat.ID, Message: "hi"}, ErrChatNotFound},
		"foreign user":      {auth.UserIdentity("u-9"), SendMessageInput{ChatID: chat.ID, Message: "hi"}, ErrChatNotFound},
		"nonexistent chat":  {owner, SendMessageInput{ChatID: "nope", Message: "hi"}, ErrChatNotFound},
		"file scheme image": {owner, SendMessageInput{ChatID: chat.ID, Message: "hi", ImageURL: "file:///etc/passwd"}, ErrInvalidImage},
		"garbage image":     {owner, SendMessageInput{ChatID: chat.ID, ImageURL: "not a url"}, ErrInvalidImage},
		"bad base64 image":  {owner, SendMessageInput{ChatID: chat.ID, ImageURL: "data:image/png;base64,@@@"}, ErrInvalidImage},
		"non-image data":    {owner, SendMessageInput{ChatID: chat.ID, ImageURL: "data:text/plain;base64,aGk="}, ErrInvalidImage},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tc.who, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	msgs, err := db.GetMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected turns write nothing")
	assert.Zero(t, p.callCount())
}

func TestSendMessage_ImageOnlyTurn(t *testing.T) {
	ctx := context.Background()
	p := succeeding("a", "A cat.")
	svc, db := newChatService(t, p)
	guest := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(ctx, guest, "")
	require.NoError(t, err)

	turn, err := svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, ImageURL: "data:image/png;base64,AAAA", Mode: string(modes.Expert)})
	require.NoError(t, err)
	assert.True(t, turn.UserMessage.HasImage())

	require.Len(t, p.reqs, 1)
	require.Len(t, p.reqs[0].Messages, 1)
	assert.Equal(t, ImageFallbackPrompt, p.reqs[0].Messages[0].Text)
	assert.Equal(t, "data:image/png;base64,AAAA", p.reqs[0].Messages[0].ImageURL)

	stored, err := db.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultChatTitle, stored.Title)
}

func TestSendMessage_ClientGoneStillStoresReply(t *testing.T) {
	p := &fakeProvider{name: "slow", text: "real answer", delay: 50 * time.Millisecond}
	svc, db := newChatService(t, p)
	guest := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(context.Background(), guest, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	turn, err := svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, turn.Outcome)
	assert.Equal(t, "real answer", turn.AIMessage.Content)

	msgs, err := db.GetMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "real answer", msgs[1].Content)
}

func TestSendMessage_RemoteImageAccepted(t *testing.T) {
	ctx := context.Background()
	p := succeeding("a", "A dog.")
	svc, _ := newChatService(t, p)
	guest := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(ctx, guest, "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, Message: "what?", ImageURL: "https://example.com/dog.png"})
	require.NoError(t, err)
	require.Len(t, p.reqs, 1)
	assert.Equal(t, "https://example.com/dog.png", p.reqs[0].Messages[0].ImageURL)
}

func TestSendMessage_SerializesTurnsPerChat(t *testing.T) {
	ctx := context.Background()
	p := succeeding("a", "ok")
	svc, _ := newChatService(t, p)
	guest := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(ctx, guest, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SendMessage(ctx, guest, SendMessageInput{ChatID: chat.ID, Message: "hi"})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, p.reqs, 2)
	seen := []int{len(p.reqs[0].Messages), len(p.reqs[1].Messages)}
	assert.ElementsMatch(t, []int{1, 3}, seen, "the second turn sees the first turn's reply")

	msgs, err := svc.GetMessages(ctx, guest, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i%2 == 1, m.IsAI)
	}
}

func TestChatCRUD_Ownership(t *testing.T) {
	ctx := context.Background()
	svc, _ := newChatService(t)
	owner := auth.UserIdentity("u-1")
	other := auth.GuestIdentity("fp")

	chat, err := svc.CreateChat(ctx, owner, "  Plans  ")
	require.NoError(t, err)
	assert.Equal(t, "Plans", chat.Title)

	chats, err := svc.GetChats(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	_, err = svc.GetMessages(ctx, other, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.ErrorIs(t, svc.DeleteChat(ctx, other, chat.ID), ErrChatNotFound)

	require.NoError(t, svc.DeleteChat(ctx, owner, chat.ID))
	_, err = svc.GetOwnedChat(ctx, owner, chat.ID)
	assert.True(t, errors.Is(err, ErrChatNotFound))
}
