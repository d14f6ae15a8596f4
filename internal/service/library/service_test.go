package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbeez/backend/internal/model/chat"
	"github.com/carbeez/backend/internal/model/profile"
	"github.com/carbeez/backend/internal/store/kv"
)

type fixedTitle string

func (f fixedTitle) Generate(context.Context, []chat.Message) string { return string(f) }

func newService() *Service {
	return NewService(kv.NewMemoryStore(), fixedTitle("Scope 2 basics"))
}

func msg(id, text string) chat.Message {
	return chat.Message{ID: id, Text: text, Sender: chat.SenderBot, Type: chat.TypeText, Timestamp: time.Now()}
}

func TestToggleSavedMessageTwiceRestoresList(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.ToggleSavedMessage(ctx, "ada@example.com", msg("a", "first"))
	require.NoError(t, err)

	before, err := svc.ListSavedMessages(ctx, "ada@example.com")
	require.NoError(t, err)

	saved, err := svc.ToggleSavedMessage(ctx, "ada@example.com", msg("b", "second"))
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = svc.ToggleSavedMessage(ctx, "ADA@example.com ", msg("b", "second"))
	require.NoError(t, err)
	assert.False(t, saved)

	after, err := svc.ListSavedMessages(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, "a", after[0].ID)
}

func TestToggleSavedMessageConcurrent(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.ToggleSavedMessage(ctx, "ada@example.com", msg(string(rune('a'+i)), "x"))
		}(i)
	}
	wg.Wait()

	saved, err := svc.ListSavedMessages(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, saved, 20, "per-user lock must prevent lost updates")
}

func TestConversationLifecycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	email := "ada@example.com"

	_, err := svc.SaveConversation(ctx, email, SaveConversationRequest{})
	require.ErrorIs(t, err, ErrEmptyConversation)

	first, err := svc.SaveConversation(ctx, email, SaveConversationRequest{
		Messages:       []chat.Message{msg("1", "hello")},
		UserName:       "Ada",
		ConsultantType: "carbon",
	})
	require.NoError(t, err)
	assert.Equal(t, "Scope 2 basics", first.Title)

	svc.now = func() time.Time { return first.Timestamp.Add(time.Minute) }
	second, err := svc.SaveConversation(ctx, email, SaveConversationRequest{
		Title:    "My own title",
		Messages: []chat.Message{msg("2", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "My own title", second.Title)

	list, err := svc.ListConversations(ctx, email)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	got, err := svc.GetConversation(ctx, email, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "carbon", got.ConsultantType)

	require.NoError(t, svc.DeleteConversation(ctx, email, first.ID))
	_, err = svc.GetConversation(ctx, email, first.ID)
	require.ErrorIs(t, err, ErrConversationNotFound)
	require.ErrorIs(t, svc.DeleteConversation(ctx, email, first.ID), ErrConversationNotFound)

	other, err := svc.ListConversations(ctx, "someone@else.com")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestProfileLifecycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.GetProfile(ctx, "ada@example.com")
	require.ErrorIs(t, err, ErrProfileNotFound)

	err = svc.SaveProfile(ctx, profile.UserProfile{Name: "", Email: "ada@example.com"})
	require.ErrorIs(t, err, ErrInvalidProfile)

	err = svc.SaveProfile(ctx, profile.UserProfile{Name: "Ada", Email: "not-an-email"})
	require.ErrorIs(t, err, ErrInvalidProfile)

	require.NoError(t, svc.SaveProfile(ctx, profile.UserProfile{Name: "Ada", Email: "Ada@Example.com", PasswordHash: "h"}))

	job := "Sustainability lead"
	age := 36
	updated, err := svc.UpdateProfile(ctx, "ada@example.com", profile.Update{Job: &job, Age: &age})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Name)
	assert.Equal(t, job, updated.Job)
	assert.Equal(t, "h", updated.PasswordHash)

	empty := " "
	_, err = svc.UpdateProfile(ctx, "ada@example.com", profile.Update{Name: &empty})
	require.True(t, errors.Is(err, ErrInvalidProfile))

	require.NoError(t, svc.SetPasswordHash(ctx, "ada@example.com", "h2"))
	stored, err := svc.GetProfile(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "h2", stored.PasswordHash)
	assert.Empty(t, stored.Public().PasswordHash)
}

func TestPremiumDefaultsToFalse(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	status, err := svc.GetPremium(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, status.Premium)

	_, err = svc.SetPremium(ctx, "ada@example.com", true)
	require.NoError(t, err)

	status, err = svc.GetPremium(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, status.Premium)
}

func TestEmailRequired(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.ListSavedMessages(ctx, "  ")
	require.ErrorIs(t, err, ErrEmailRequired)
	_, err = svc.GetPremium(ctx, "")
	require.ErrorIs(t, err, ErrEmailRequired)
}

func TestSaveConversationValidatesMessages(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	alien := msg("y", "beep")
	alien.Sender = "alien"
	video := msg("z", "clip")
	video.Type = "video"

	cases := map[string][]chat.Message{
		"duplicate id":   {msg("x", "one"), msg("x", "two")},
		"unknown sender": {msg("x", "one"), alien},
		"unknown type":   {video},
	}
	for name, messages := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SaveConversation(ctx, "ada@example.com", SaveConversationRequest{Messages: messages})
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	list, err := svc.ListConversations(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Empty(t, list)

	untyped := chat.Message{Text: "hello", Sender: chat.SenderUser}
	conv, err := svc.SaveConversation(ctx, "ada@example.com", SaveConversationRequest{Messages: []chat.Message{untyped, msg("b", "hi")}})
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.NotEmpty(t, conv.Messages[0].ID)
	assert.Equal(t, chat.TypeText, conv.Messages[0].Type)
}

func TestToggleSavedMessageRejectsUnknownSender(t *testing.T) {
	svc := newService()
	bad := msg("a", "text")
	bad.Sender = "alien"

	_, err := svc.ToggleSavedMessage(context.Background(), "ada@example.com", bad)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestUserLocksAreReleased(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	for _, email := range []string{"ada@example.com", "eve@example.com", "bob@example.com"} {
		_, err := svc.ToggleSavedMessage(ctx, email, msg("a", "first"))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, svc.locks.Len())
}
