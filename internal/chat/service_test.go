package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/chat"
)

type capturingPublisher struct {
	class    chat.Class
	event    *chat.Event
	failWith error
}

func (p *capturingPublisher) Publish(_ context.Context, class chat.Class, event *chat.Event) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.class = class
	p.event = event
	return nil
}

func validRequest() chat.SendRequest {
	return chat.SendRequest{
		Content:        "hello",
		OrganizationID: "org-1",
		TeamID:         "team-1",
		SenderID:       "user-1",
	}
}

func TestSendPersistentMessage(t *testing.T) {
	pub := &capturingPublisher{}
	svc := chat.NewService(pub)

	conf, err := svc.Send(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "sent", conf.Status)
	assert.NotEmpty(t, conf.MessageID)
	assert.False(t, conf.Timestamp.IsZero())

	assert.Equal(t, chat.ClassPersistent, pub.class)
	require.NotNil(t, pub.event)
	assert.Equal(t, conf.MessageID, pub.event.ID)
	assert.Equal(t, "team-1", pub.event.TeamID)
}

func TestSendTemporaryMessageRequiresRoom(t *testing.T) {
	pub := &capturingPublisher{}
	svc := chat.NewService(pub)

	req := validRequest()
	req.Temporary = true
	_, err := svc.Send(context.Background(), req)
	assert.ErrorIs(t, err, chat.ErrRoomRequired)

	req.RoomID = "room-1"
	conf, err := svc.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sent", conf.Status)
	assert.Equal(t, chat.ClassEphemeral, pub.class)
	assert.Equal(t, "room-1", pub.event.RoomID)
}

func TestSendValidation(t *testing.T) {
	svc := chat.NewService(&capturingPublisher{})
	ctx := context.Background()

	req := validRequest()
	req.Content = ""
	_, err := svc.Send(ctx, req)
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	// A media reference alone is a valid message.
	req.MediaURL = "https://cdn.example.com/img.png"
	_, err = svc.Send(ctx, req)
	assert.NoError(t, err)

	req = validRequest()
	req.TeamID = ""
	_, err = svc.Send(ctx, req)
	assert.ErrorIs(t, err, chat.ErrMissingFields)
}

func TestSendPublishFailureStillConfirms(t *testing.T) {
	pubErr := errors.New("broker unavailable")
	svc := chat.NewService(&capturingPublisher{failWith: pubErr})

	conf, err := svc.Send(context.Background(), validRequest())
	assert.ErrorIs(t, err, pubErr)
	assert.Equal(t, "failed", conf.Status)
	assert.NotEmpty(t, conf.MessageID, "the sender must learn the id even on failure")
}
