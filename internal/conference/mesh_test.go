package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalingURL(t *testing.T) {
	t.Run("https room url becomes wss", func(t *testing.T) {
		u, err := signalingURL("https://mesh.example.com/rooms/my-space", "tok")
		require.NoError(t, err)
		assert.Equal(t, "wss://mesh.example.com/rooms/my-space/ws?token=tok", u)
	})

	t.Run("http room url becomes ws", func(t *testing.T) {
		u, err := signalingURL("http://localhost:9000/r1", "t")
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:9000/r1/ws?token=t", u)
	})
}

func TestRoomNameFromURL(t *testing.T) {
	name, err := roomNameFromURL("https://mesh.example.com/rooms/my-space")
	require.NoError(t, err)
	assert.Equal(t, "my-space", name)

	_, err = roomNameFromURL("https://mesh.example.com")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "late-night-alpha", slugify("Late Night Alpha"))
	assert.Equal(t, "room", slugify("!!!"))
}
