package chat

import "errors"

var (
	ErrSelfConversation     = errors.New("chat: conversation requires two distinct users")
	ErrSelfBlock            = errors.New("chat: cannot block yourself")
	ErrEmptyBody            = errors.New("chat: message body is empty")
	ErrBodyTooLong          = errors.New("chat: message body exceeds limit")
	ErrInvalidCursor        = errors.New("chat: invalid pagination cursor")
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrNotParticipant       = errors.New("chat: not a conversation participant")
	ErrBlockedByUser        = errors.New("chat: you have blocked this user")
	ErrBlockedByPeer        = errors.New("chat: this user is not accepting messages from you")
)
