package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/repository"
)

type AutoPlugService interface {
	ListByPost(ctx context.Context, userID, postID int64) ([]*models.AutoPlug, error)
	Remove(ctx context.Context, userID, plugID int64) error
}

type autoPlugService struct {
	ap repository.AutoPlugRepository
	pr repository.PostRepository
}

func NewAutoPlugService(ap repository.AutoPlugRepository, pr repository.PostRepository) AutoPlugService {
	return &autoPlugService{
		ap: ap,
		pr: pr,
	}
}

func (s *autoPlugService) ListByPost(ctx context.Context, userID, postID int64) ([]*models.AutoPlug, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	plugs, err := s.ap.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting plugs")
	}
	return plugs, nil
}

func (s *autoPlugService) Remove(ctx context.Context, userID, plugID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if plugID == 0 {
		err = errors.New("PlugID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.ap.CheckByUserID(ctx, plugID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("Plug doesn't exist")
		slog.Info(err.Error())
		return err
	}

	plug, err := s.ap.GetByID(ctx, plugID)
	if err != nil {
		return err
	}
	if plug != nil && plug.Status == models.PlugStatusFired {
		err = errors.New("Fired plugs cannot be removed")
		slog.Info(err.Error())
		return err
	}

	err = s.ap.Remove(ctx, plugID)
	if err != nil {
		return fmt.Errorf("Error removing plug")
	}

	return nil
}
