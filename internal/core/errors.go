package core

import "errors"

var (
	ErrInvalidMode        = errors.New("invalid mode")
	ErrMissingChatID      = errors.New("chat id is required")
	ErrEmptyMessage       = errors.New("message or image is required")
	ErrInvalidImage       = errors.New("image must be an http(s) URL or an image data URL")
	ErrChatNotFound       = errors.New("chat not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrNotCustomizable    = errors.New("mode does not support customization")
)
