package token

import "errors"

var (
	ErrNotRegistered         = errors.New("token: not registered")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrMintPaused            = errors.New("token: minting paused")
	ErrMintUnauthorized      = errors.New("token: caller lacks mint authority")
	ErrInvalidDefinition     = errors.New("token: invalid definition")
	ErrTokenExists           = errors.New("token: already registered")
)
