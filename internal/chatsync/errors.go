package chatsync

import "errors"

var (
	// ErrNoSession is returned when a command needs a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrNoChat is returned when no chat is given and none is selected.
	ErrNoChat = errors.New("no chat selected")
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message is empty")
)
