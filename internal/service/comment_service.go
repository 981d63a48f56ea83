package service

import (
	"context"
	"strings"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/rs/zerolog"
)

const maxCommentLength = 2000

// CommentService lets users review items they have finished renting.
type CommentService struct {
	repo     domain.Repository
	bookings domain.BookingService
	logger   zerolog.Logger
	now      func() time.Time
}

var _ domain.CommentService = (*CommentService)(nil)

func NewCommentService(repo domain.Repository, bookings domain.BookingService, logger *zerolog.Logger) *CommentService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "comment_service").Logger()
	}
	return &CommentService{repo: repo, bookings: bookings, logger: l, now: time.Now}
}

func (s *CommentService) AddComment(ctx context.Context, userID, itemID int64, text string) (*models.Comment, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetItemByID(ctx, itemID); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Validationf("text must not be blank")
	}
	if len([]rune(text)) > maxCommentLength {
		return nil, domain.Validationf("text must not exceed %d characters", maxCommentLength)
	}

	completed, err := s.bookings.HasCompletedRental(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if !completed {
		s.logger.Warn().Int64("user_id", userID).Int64("item_id", itemID).Msg("comment without completed rental")
		return nil, domain.Validationf("user has not completed a rental of this item")
	}

	comment := &models.Comment{
		ItemID:    itemID,
		AuthorID:  userID,
		Text:      text,
		CreatedAt: models.Truncate(s.now()),
	}
	if err := s.repo.CreateComment(ctx, comment); err != nil {
		s.logger.Error().Err(err).Int64("item_id", itemID).Msg("create comment")
		return nil, err
	}
	return comment, nil
}

func (s *CommentService) ListComments(ctx context.Context, itemID int64) ([]*models.Comment, error) {
	if _, err := s.repo.GetItemByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.GetItemComments(ctx, itemID)
}
