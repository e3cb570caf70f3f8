package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/transfer"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	ListTargets(ctx context.Context, postID, userID int64) ([]*models.PostTarget, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db *sql.DB
	pr repository.PostRepository
	tr repository.PostTargetRepository
	ap repository.AutoPlugRepository
	cr repository.ConnectionRepository
	ma repository.MediaAssetRepository
	pm repository.PostMediaRepository
	r2 *R2Service
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	tr repository.PostTargetRepository,
	ap repository.AutoPlugRepository,
	cr repository.ConnectionRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	r2 *R2Service) PostService {
	return &postService{
		db: db,
		pr: pr,
		tr: tr,
		ap: ap,
		cr: cr,
		ma: ma,
		pm: pm,
		r2: r2,
	}
}

// CreatePost persists the post with its targets, plugs and media in a
// single transaction and returns the delay until its scheduled time so
// the caller can enqueue the publish task.
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}
	if pc.Content == "" {
		err := errors.New("content cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}

	scheduledTime, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("invalid scheduled time format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}

	var platforms []string
	if err := json.Unmarshal([]byte(pc.Platforms), &platforms); err != nil {
		err = fmt.Errorf("invalid platforms format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}
	if len(platforms) == 0 {
		err := errors.New("no platforms selected")
		slog.Error(err.Error())
		return 0, 0, err
	}

	var plugs []transfer.AutoPlugCreation
	if pc.Plugs != "" {
		if err := json.Unmarshal([]byte(pc.Plugs), &plugs); err != nil {
			err = fmt.Errorf("invalid plugs format: %w", err)
			slog.Error(err.Error())
			return 0, 0, err
		}
	}

	if err := s.validateTargets(ctx, userID, pc.Content, platforms); err != nil {
		return 0, 0, err
	}
	if err := validatePlugs(plugs, platforms); err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:      userID,
		Content:     pc.Content,
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: scheduledTime, Valid: true},
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating post: %w", err)
	}

	for _, p := range platforms {
		target := models.PostTarget{
			PostID:   postID,
			Platform: p,
		}
		if _, err = s.tr.Create(ctx, tx, &target); err != nil {
			return 0, 0, fmt.Errorf("error saving target %s: %w", p, err)
		}
	}

	for _, in := range plugs {
		plug := models.AutoPlug{
			PostID:       postID,
			Platform:     in.Platform,
			Content:      in.Content,
			TriggerType:  in.TriggerType,
			TriggerValue: in.TriggerValue,
			Status:       models.PlugStatusPending,
		}
		if _, err = s.ap.Create(ctx, tx, &plug); err != nil {
			return 0, 0, fmt.Errorf("error saving plug for %s: %w", in.Platform, err)
		}
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	delay := time.Until(scheduledTime)
	if delay < 0 {
		delay = 0
	}

	return postID, delay, nil
}

// validateTargets rejects unknown platforms, content over a platform's
// cap and platforms the user has no active connection for. Catching
// these at creation keeps doomed posts out of the pipeline.
func (s *postService) validateTargets(ctx context.Context, userID int64, content string, platforms []string) error {
	seen := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		if !platform.IsSupported(p) {
			return fmt.Errorf("unsupported platform: %s", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("platform %s selected twice", p)
		}
		seen[p] = struct{}{}

		if limit := platform.CharacterLimit(p); utf8.RuneCountInString(content) > limit {
			return fmt.Errorf("content exceeds the %d character limit for %s", limit, p)
		}

		conn, err := s.cr.GetActive(ctx, userID, p)
		if err != nil {
			return err
		}
		if conn == nil {
			return fmt.Errorf("no active %s connection", p)
		}
	}
	return nil
}

func validatePlugs(plugs []transfer.AutoPlugCreation, platforms []string) error {
	targeted := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		targeted[p] = struct{}{}
	}

	for _, plug := range plugs {
		if _, ok := targeted[plug.Platform]; !ok {
			return fmt.Errorf("plug for %s has no matching target", plug.Platform)
		}
		if plug.Content == "" {
			return errors.New("plug content cannot be empty")
		}
		if limit := platform.CharacterLimit(plug.Platform); utf8.RuneCountInString(plug.Content) > limit {
			return fmt.Errorf("plug content exceeds the %d character limit for %s", limit, plug.Platform)
		}
		switch plug.TriggerType {
		case models.TriggerLikes, models.TriggerComments, models.TriggerReposts, models.TriggerTimeAfterPublish:
		default:
			return fmt.Errorf("unknown trigger type: %s", plug.TriggerType)
		}
		if plug.TriggerValue <= 0 {
			return errors.New("trigger value must be positive")
		}
	}
	return nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	err = s.r2.UploadToR2(ctx, id, file, fileType)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
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

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post info")
	}

	return post, nil
}

func (s *postService) ListTargets(ctx context.Context, postID, userID int64) ([]*models.PostTarget, error) {
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	targets, err := s.tr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post targets")
	}
	return targets, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posts")
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	err = s.pr.Remove(ctx, postID)
	if err != nil {
		return fmt.Errorf("Error removing post")
	}

	return nil
}
