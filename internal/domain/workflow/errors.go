package workflow

import "errors"

var (
	ErrEpisodeNotFound        = errors.New("episode not found")
	ErrDuplicateEpisode       = errors.New("episode number already in use")
	ErrActiveEpisodeExists    = errors.New("patient already has an active episode")
	ErrFeeNotPaid             = errors.New("consultation fee not paid")
	ErrFeeAlreadyPaid         = errors.New("consultation fee already paid")
	ErrEpisodeClosed          = errors.New("episode is completed")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrServiceNotSupported    = errors.New("service kind not supported")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConcurrentModification = errors.New("episode was modified concurrently")
)
