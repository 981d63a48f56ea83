package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

const maxBodyBytes = 1 << 20

type userDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	TelegramChatID int64  `json:"telegramChatId,omitempty"`
}

type itemDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
	OwnerID     int64  `json:"ownerId"`
}

type bookingDTO struct {
	ID      int64    `json:"id"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Created string   `json:"created"`
	Status  string   `json:"status"`
	Booker  *userDTO `json:"booker,omitempty"`
	Item    *itemDTO `json:"item,omitempty"`
}

type commentDTO struct {
	ID       int64  `json:"id"`
	ItemID   int64  `json:"itemId"`
	AuthorID int64  `json:"authorId"`
	Text     string `json:"text"`
	Created  string `json:"created"`
}

type createBookingRequest struct {
	ItemID int64  `json:"itemId"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

type createUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	TelegramChatID int64  `json:"telegramChatId"`
}

type createItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   *bool  `json:"available"`
}

type updateItemRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Available   *bool   `json:"available,omitempty"`
}

type commentRequest struct {
	Text string `json:"text"`
}

func toUserDTO(u *models.User) *userDTO {
	if u == nil {
		return nil
	}
	return &userDTO{ID: u.ID, Name: u.Name, Email: u.Email, TelegramChatID: u.TelegramChatID}
}

func toItemDTO(i *models.Item) *itemDTO {
	if i == nil {
		return nil
	}
	return &itemDTO{ID: i.ID, Name: i.Name, Description: i.Description, Available: i.Available, OwnerID: i.OwnerID}
}

func toCommentDTO(c *models.Comment) commentDTO {
	return commentDTO{
		ID:       c.ID,
		ItemID:   c.ItemID,
		AuthorID: c.AuthorID,
		Text:     c.Text,
		Created:  models.FormatTime(c.CreatedAt),
	}
}

// bookingView renders bookings with their booker and item, looking each
// referenced record up once per response.
type bookingView struct {
	catalog domain.CatalogService
	users   map[int64]*models.User
	items   map[int64]*models.Item
}

func (s *HTTPServer) newBookingView() *bookingView {
	return &bookingView{
		catalog: s.svc.Catalog,
		users:   make(map[int64]*models.User),
		items:   make(map[int64]*models.Item),
	}
}

func (v *bookingView) render(ctx context.Context, b *models.Booking) (bookingDTO, error) {
	dto := bookingDTO{
		ID:      b.ID,
		Start:   models.FormatTime(b.Start),
		End:     models.FormatTime(b.End),
		Created: models.FormatTime(b.CreatedAt),
		Status:  b.Status,
	}

	user, ok := v.users[b.BookerID]
	if !ok {
		var err error
		if user, err = v.catalog.GetUser(ctx, b.BookerID); err != nil {
			return dto, err
		}
		v.users[b.BookerID] = user
	}
	item, ok := v.items[b.ItemID]
	if !ok {
		var err error
		if item, err = v.catalog.GetItem(ctx, b.ItemID); err != nil {
			return dto, err
		}
		v.items[b.ItemID] = item
	}

	dto.Booker = toUserDTO(user)
	dto.Item = toItemDTO(item)
	return dto, nil
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "itemId is required")
		return
	}
	start, ok := parseInstant(w, "start", req.Start)
	if !ok {
		return
	}
	end, ok := parseInstant(w, "end", req.End)
	if !ok {
		return
	}

	booking, err := s.svc.Bookings.CreateBooking(r.Context(), callerID, req.ItemID, start, end)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeBooking(w, r, http.StatusCreated, booking)
}

func (s *HTTPServer) handleDecideBooking(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}
	approved, err := strconv.ParseBool(r.URL.Query().Get("approved"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "approved must be true or false")
		return
	}

	booking, err := s.svc.Bookings.DecideBooking(r.Context(), bookingID, callerID, approved)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeBooking(w, r, http.StatusOK, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.svc.Bookings.GetBooking(r.Context(), bookingID, callerID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeBooking(w, r, http.StatusOK, booking)
}

func (s *HTTPServer) handleBookerBookings(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, s.svc.Bookings.ListBookerBookings)
}

func (s *HTTPServer) handleOwnerBookings(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, s.svc.Bookings.ListOwnerBookings)
}

type listFunc func(ctx context.Context, subjectID int64, state string, offset, limit int) ([]*models.Booking, error)

func (s *HTTPServer) listBookings(w http.ResponseWriter, r *http.Request, list listFunc) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	state := q.Get("state")
	if state == "" {
		state = string(models.StateAll)
	}

	bookings, err := list(r.Context(), callerID, state, from, size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	view := s.newBookingView()
	out := make([]bookingDTO, 0, len(bookings))
	for _, b := range bookings {
		dto, err := view.render(r.Context(), b)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleOwnerExport(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	if s.svc.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "export is not configured")
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		state = string(models.StateAll)
	}

	var buf bytes.Buffer
	if err := s.svc.Exporter.Write(r.Context(), &buf, callerID, state); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	name := fmt.Sprintf("bookings_owner_%d_%s_%s.xlsx", callerID, state, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.svc.Catalog.CreateUser(r.Context(), &models.User{
		Name:           req.Name,
		Email:          req.Email,
		TelegramChatID: req.TelegramChatID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := s.svc.Catalog.GetUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req createItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Available == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "available is required")
		return
	}

	item, err := s.svc.Catalog.CreateItem(r.Context(), callerID, &models.Item{
		Name:        req.Name,
		Description: req.Description,
		Available:   *req.Available,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

func (s *HTTPServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.callerID(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.svc.Catalog.GetItem(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := s.svc.Catalog.UpdateItem(r.Context(), id, callerID, models.ItemPatch{
		Name:        req.Name,
		Description: req.Description,
		Available:   req.Available,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (s *HTTPServer) handleOwnerItems(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	from, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, err := s.svc.Catalog.ListOwnerItems(r.Context(), callerID, from, size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeItems(w, items)
}

func (s *HTTPServer) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.callerID(w, r); !ok {
		return
	}
	from, size, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, err := s.svc.Catalog.SearchItems(r.Context(), r.URL.Query().Get("text"), from, size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeItems(w, items)
}

func writeItems(w http.ResponseWriter, items []*models.Item) {
	out := make([]*itemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toItemDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	comment, err := s.svc.Comments.AddComment(r.Context(), callerID, itemID, req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentDTO(comment))
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	comments, err := s.svc.Comments.ListComments(r.Context(), itemID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]commentDTO, 0, len(comments))
	for _, c := range comments {
		out = append(out, toCommentDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) writeBooking(w http.ResponseWriter, r *http.Request, status int, b *models.Booking) {
	dto, err := s.newBookingView().render(r.Context(), b)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, dto)
}

// callerID reads the trusted caller id header. Authentication of that id
// happens upstream.
func (s *HTTPServer) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	header := s.cfg.Auth.HeaderUserID
	if header == "" {
		header = "X-Sharer-User-Id"
	}
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", header+" header is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", header+" header must be a positive integer")
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (from, size int, ok bool) {
	q := r.URL.Query()
	if from, ok = queryInt(w, q.Get("from"), "from", 0); !ok {
		return 0, 0, false
	}
	if size, ok = queryInt(w, q.Get("size"), "size", models.DefaultPageSize); !ok {
		return 0, 0, false
	}
	return from, size, true
}

func queryInt(w http.ResponseWriter, raw, name string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", name+" must be an integer")
		return 0, false
	}
	return v, true
}

// parseInstant accepts an empty value so the service reports the missing
// field in its own words.
func parseInstant(w http.ResponseWriter, name, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := models.ParseTime(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed",
			fmt.Sprintf("%s must use format %s", name, models.TimeLayout))
		return time.Time{}, false
	}
	return t, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body")
		return false
	}
	return true
}
