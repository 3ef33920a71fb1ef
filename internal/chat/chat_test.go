package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookmarksHTML = `
<div class="contact-list">
  <a href="/chat/?node=101" class="contact-item unread" data-id="101">
    <div class="media-user-name">bob</div>
    <div class="contact-item-message">Hi, is the key still available?</div>
    <div class="contact-item-time">12:01</div>
  </a>
  <a href="/chat/?node=102" class="contact-item" data-id="102">
    <div class="media-user-name"> alice </div>
    <div class="contact-item-message">Thanks!</div>
    <div class="contact-item-time">Yesterday</div>
  </a>
  <a href="/chat/?node=103" class="contact-item unread" data-id="103">
    <div class="media-user-name">ghost</div>
  </a>
</div>`

func TestParseBookmarks(t *testing.T) {
	got, err := ParseBookmarks(bookmarksHTML)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Summary{
		User:    "bob",
		Message: "Hi, is the key still available?",
		Time:    "12:01",
		Node:    "101",
		Unread:  true,
	}, got[0])
	assert.Equal(t, "alice", got[1].User)
	assert.False(t, got[1].Unread)
	assert.Equal(t, "102", got[1].Node)
}

func TestParseBookmarksEmpty(t *testing.T) {
	got, err := ParseBookmarks("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
