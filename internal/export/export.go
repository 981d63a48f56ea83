package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName = "Bookings"
	pageSize  = 100
)

var headers = []string{"ID", "Item ID", "Item", "Booker ID", "Start", "End", "Status", "Created At"}

// Exporter renders an owner's bookings as an XLSX workbook.
type Exporter struct {
	bookings domain.BookingService
	catalog  domain.CatalogService
	dir      string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewExporter(bookings domain.BookingService, catalog domain.CatalogService, dir string, logger *zerolog.Logger) *Exporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "exporter").Logger()
	}
	return &Exporter{bookings: bookings, catalog: catalog, dir: dir, logger: l, now: time.Now}
}

// OwnerBookings builds a workbook with every booking of ownerID matching
// state. The caller must Close the file.
func (e *Exporter) OwnerBookings(ctx context.Context, ownerID int64, state string) (*excelize.File, error) {
	var all []*models.Booking
	for offset := 0; ; offset += pageSize {
		page, err := e.bookings.ListOwnerBookings(ctx, ownerID, state, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	if err := e.fill(ctx, f, all); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (e *Exporter) fill(ctx context.Context, f *excelize.File, bookings []*models.Booking) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	style, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, style)

	names := make(map[int64]string)
	for i, b := range bookings {
		name, ok := names[b.ItemID]
		if !ok {
			item, err := e.catalog.GetItem(ctx, b.ItemID)
			if err != nil {
				e.logger.Warn().Err(err).Int64("item_id", b.ItemID).Msg("item lookup failed")
			} else {
				name = item.Name
			}
			names[b.ItemID] = name
		}

		row := []interface{}{
			b.ID, b.ItemID, name, b.BookerID,
			models.FormatTime(b.Start), models.FormatTime(b.End),
			b.Status, models.FormatTime(b.CreatedAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "C", 25)
	_ = f.SetColWidth(sheetName, "E", "H", 20)
	return nil
}

// Write streams the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, ownerID int64, state string) error {
	f, err := e.OwnerBookings(ctx, ownerID, state)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// Save writes the workbook into the export directory and returns its path.
func (e *Exporter) Save(ctx context.Context, ownerID int64, state string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.OwnerBookings(ctx, ownerID, state)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if state == "" {
		state = string(models.StateAll)
	}
	name := fmt.Sprintf("bookings_owner_%d_%s_%s.xlsx", ownerID, state, e.now().UTC().Format("20060102_150405"))
	path := filepath.Join(e.dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("path", path).Int64("owner_id", ownerID).Msg("bookings exported")
	return path, nil
}
