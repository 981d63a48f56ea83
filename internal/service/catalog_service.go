package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/rs/zerolog"
)

// CatalogService manages users and items for the reservation engine.
type CatalogService struct {
	repo   domain.CatalogRepository
	logger zerolog.Logger
}

var _ domain.CatalogService = (*CatalogService)(nil)

func NewCatalogService(repo domain.CatalogRepository, logger *zerolog.Logger) *CatalogService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "catalog_service").Logger()
	}
	return &CatalogService{repo: repo, logger: l}
}

func (s *CatalogService) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user == nil {
		return nil, domain.Validationf("user is required")
	}
	user.Name = strings.TrimSpace(user.Name)
	user.Email = strings.TrimSpace(user.Email)
	if user.Name == "" {
		return nil, domain.Validationf("name must not be blank")
	}
	if user.Email == "" {
		return nil, domain.Validationf("email must not be blank")
	}
	if addr, err := mail.ParseAddress(user.Email); err != nil || addr.Address != user.Email {
		return nil, domain.Validationf("email %q is invalid", user.Email)
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.Validationf("email %s is already in use", user.Email)
		}
		s.logger.Error().Err(err).Str("email", user.Email).Msg("create user")
		return nil, err
	}
	s.logger.Info().Int64("user_id", user.ID).Msg("user created")
	return user, nil
}

func (s *CatalogService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *CatalogService) CreateItem(ctx context.Context, ownerID int64, item *models.Item) (*models.Item, error) {
	if _, err := s.repo.GetUserByID(ctx, ownerID); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.Validationf("item is required")
	}
	item.Name = strings.TrimSpace(item.Name)
	item.Description = strings.TrimSpace(item.Description)
	if item.Name == "" {
		return nil, domain.Validationf("name must not be blank")
	}
	if item.Description == "" {
		return nil, domain.Validationf("description must not be blank")
	}

	item.OwnerID = ownerID
	if err := s.repo.CreateItem(ctx, item); err != nil {
		s.logger.Error().Err(err).Int64("owner_id", ownerID).Msg("create item")
		return nil, err
	}
	s.logger.Info().Int64("item_id", item.ID).Int64("owner_id", ownerID).Msg("item created")
	return item, nil
}

func (s *CatalogService) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return s.repo.GetItemByID(ctx, id)
}

// UpdateItem applies an owner's partial update. A patch that sets nothing
// is rejected.
func (s *CatalogService) UpdateItem(ctx context.Context, itemID, callerID int64, patch models.ItemPatch) (*models.Item, error) {
	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != callerID {
		return nil, domain.AccessDeniedf("only the owner may edit item %d", itemID)
	}
	if patch.Empty() {
		return nil, domain.Validationf("nothing to update")
	}
	if patch.Name != nil {
		if item.Name = strings.TrimSpace(*patch.Name); item.Name == "" {
			return nil, domain.Validationf("name must not be blank")
		}
	}
	if patch.Description != nil {
		if item.Description = strings.TrimSpace(*patch.Description); item.Description == "" {
			return nil, domain.Validationf("description must not be blank")
		}
	}
	if patch.Available != nil {
		item.Available = *patch.Available
	}

	if err := s.repo.UpdateItem(ctx, item); err != nil {
		s.logger.Error().Err(err).Int64("item_id", itemID).Msg("update item")
		return nil, err
	}
	s.logger.Info().Int64("item_id", itemID).Bool("available", item.Available).Msg("item updated")
	return item, nil
}

// ListOwnerItems pages through the items owned by ownerID.
func (s *CatalogService) ListOwnerItems(ctx context.Context, ownerID int64, offset, limit int) ([]*models.Item, error) {
	if _, err := s.repo.GetUserByID(ctx, ownerID); err != nil {
		return nil, err
	}
	if err := validatePage(offset, limit); err != nil {
		return nil, err
	}
	return s.repo.ListItemsByOwner(ctx, ownerID, offset, limit)
}

// SearchItems finds available items by name or description. Blank text
// matches nothing.
func (s *CatalogService) SearchItems(ctx context.Context, text string, offset, limit int) ([]*models.Item, error) {
	if err := validatePage(offset, limit); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []*models.Item{}, nil
	}
	return s.repo.SearchItems(ctx, text, offset, limit)
}

func validatePage(offset, limit int) error {
	if offset < 0 {
		return domain.Validationf("from must not be negative")
	}
	if limit <= 0 {
		return domain.Validationf("size must be positive")
	}
	return nil
}
