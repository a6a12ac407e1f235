package relay

import (
	"errors"

	"github.com/luciancaetano/nyxsignal"
)

var (
	ErrEmptyRoom   = errors.New(nyxsignal.ErrEmptyRoom)
	ErrUnknownConn = errors.New(nyxsignal.ErrUnknownConnection)
)
