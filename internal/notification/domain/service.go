package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Record(ctx context.Context, entry Entry) (Notification, error)
	ListUnresolved(ctx context.Context, limit int) ([]Notification, error)
	MarkResolved(ctx context.Context, id snowflake.ID, by string) error
}

var (
	ErrInvalidStage    = errors.New("invalid_stage")
	ErrInvalidResolver = errors.New("invalid_resolver")
	ErrNotFound        = errors.New("not_found")
	ErrAlreadyResolved = errors.New("already_resolved")
)
