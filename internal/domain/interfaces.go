package domain

import (
	"context"
	"time"

	"shareit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingRepository is the durable booking store. Implementations must make
// the overlap check and the insert in CreateBookingWithLock one atomic unit
// per item and report write skew as ErrConflict.
type BookingRepository interface {
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status string) error
	ListBookings(ctx context.Context, q models.BookingQuery) ([]*models.Booking, error)
	HasCompletedRental(ctx context.Context, bookerID, itemID int64, now time.Time) (bool, error)
}

type CatalogRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateItem(ctx context.Context, item *models.Item) error
	GetItemByID(ctx context.Context, id int64) (*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	ListItemsByOwner(ctx context.Context, ownerID int64, offset, limit int) ([]*models.Item, error)
	SearchItems(ctx context.Context, text string, offset, limit int) ([]*models.Item, error)
}

type CommentRepository interface {
	CreateComment(ctx context.Context, comment *models.Comment) error
	GetItemComments(ctx context.Context, itemID int64) ([]*models.Comment, error)
}

type SyncQueueRepository interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, now time.Time, limit int) ([]*models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Repository is the full storage surface served by each database backend.
type Repository interface {
	BookingRepository
	CatalogRepository
	CommentRepository
	SyncQueueRepository
	Ping(ctx context.Context) error
	Close() error
}

// ItemLocker serialises check-and-insert per item across processes.
type ItemLocker interface {
	Acquire(ctx context.Context, itemID int64, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, itemID int64, token string) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BookingService is the reservation core consumed by the edges.
type BookingService interface {
	CreateBooking(ctx context.Context, requesterID, itemID int64, start, end time.Time) (*models.Booking, error)
	DecideBooking(ctx context.Context, bookingID, deciderID int64, approve bool) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID, callerID int64) (*models.Booking, error)
	ListBookerBookings(ctx context.Context, bookerID int64, state string, offset, limit int) ([]*models.Booking, error)
	ListOwnerBookings(ctx context.Context, ownerID int64, state string, offset, limit int) ([]*models.Booking, error)
	HasCompletedRental(ctx context.Context, userID, itemID int64) (bool, error)
}

type CatalogService interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateItem(ctx context.Context, ownerID int64, item *models.Item) (*models.Item, error)
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	UpdateItem(ctx context.Context, itemID, callerID int64, patch models.ItemPatch) (*models.Item, error)
	ListOwnerItems(ctx context.Context, ownerID int64, offset, limit int) ([]*models.Item, error)
	SearchItems(ctx context.Context, text string, offset, limit int) ([]*models.Item, error)
}

type CommentService interface {
	AddComment(ctx context.Context, userID, itemID int64, text string) (*models.Comment, error)
	ListComments(ctx context.Context, itemID int64) ([]*models.Comment, error)
}
