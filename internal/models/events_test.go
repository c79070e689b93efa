package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEvent(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	frame, err := Encode(UserOffline{UserID: "u1", LastSeen: at})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user-offline","data":{"userId":"u1","lastSeen":"2023-11-14T22:13:20Z"}}`, string(frame))

	ev, err := DecodeEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, &UserOffline{UserID: "u1", LastSeen: at}, ev)
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"nope"}`))
	assert.Error(t, err)
}

func TestStatusOrdering(t *testing.T) {
	assert.Nil(t, StatusSent.Before())
	assert.Equal(t, []Status{StatusSent}, StatusDelivered.Before())
	assert.Equal(t, []Status{StatusSent, StatusDelivered}, StatusRead.Before())
	assert.Equal(t, StatusRead, Max(StatusRead, StatusDelivered))
	assert.Equal(t, StatusDelivered, Max(StatusSent, StatusDelivered))
}
