package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newHandlerTest(now time.Time) (*Handler, *holdRepoMock, *bookerMock) {
	holds := newHoldRepoMock()
	booker := newBookerMock()
	svc := newTestService(newScheduleRepoMock(), holds, booker, &eventsMock{}, now)
	return NewHandler(svc), holds, booker
}

func doJSON(e *echo.Echo, method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected an HTTP error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestCreateHoldHandlerRejectsAmbiguousBody(t *testing.T) {
	e := echo.New()
	h, _, _ := newHandlerTest(monday)

	body := fmt.Sprintf(`{"slot_id":"x","start":"%s","end":"%s"}`,
		monday.Format(time.RFC3339), monday.Add(time.Hour).Format(time.RFC3339))
	c, _ := doJSON(e, http.MethodPost, "/availability/holds", body)

	err := h.CreateHold(c)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if msg := err.(*echo.HTTPError).Message; msg != "use slot_id OR start/end" {
		t.Errorf("message = %v", msg)
	}
}

func TestCreateHoldHandlerRequiresSpanOrSlot(t *testing.T) {
	e := echo.New()
	h, _, _ := newHandlerTest(monday)

	c, _ := doJSON(e, http.MethodPost, "/availability/holds", `{}`)
	err := h.CreateHold(c)
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if msg := err.(*echo.HTTPError).Message; msg != "provide slot_id or start/end" {
		t.Errorf("message = %v", msg)
	}
}

func TestCreateHoldHandlerSlotIDPath(t *testing.T) {
	e := echo.New()
	h, holds, _ := newHandlerTest(monday)

	pid, lid := uuid.New(), uuid.New()
	start := monday.Add(9 * time.Hour)
	body := fmt.Sprintf(`{"slot_id":"%s"}`, SlotID(pid, lid, start))
	c, rec := doJSON(e, http.MethodPost, "/availability/holds", body)

	if err := h.CreateHold(c); err != nil {
		t.Fatalf("CreateHold: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp holdResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	stored, ok := holds.holds[resp.HoldToken]
	if !ok {
		t.Fatal("hold not persisted under returned token")
	}
	// Default 30 minute duration when the slot id carries no span.
	if !stored.End.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("hold end = %s, want start+30m", stored.End)
	}
}

func TestCreateHoldHandlerConflictIs409(t *testing.T) {
	e := echo.New()
	h, holds, _ := newHandlerTest(monday)
	holds.apptBusy = []Interval{{
		Start: monday.Add(9 * time.Hour),
		End:   monday.Add(10 * time.Hour),
	}}

	body := fmt.Sprintf(`{"practitioner_id":"%s","location_id":"%s","start":"%s","end":"%s"}`,
		uuid.New(), uuid.New(),
		monday.Add(9*time.Hour).Format(time.RFC3339),
		monday.Add(9*time.Hour+30*time.Minute).Format(time.RFC3339))
	c, _ := doJSON(e, http.MethodPost, "/availability/holds", body)

	err := h.CreateHold(c)
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if msg := err.(*echo.HTTPError).Message; msg != "conflict_appointment" {
		t.Errorf("message = %v, want conflict_appointment", msg)
	}
}

func TestBookHandlerUnknownHoldIs404(t *testing.T) {
	e := echo.New()
	h, _, _ := newHandlerTest(monday)

	body := fmt.Sprintf(`{"hold_token":"nope","patient_id":"%s"}`, uuid.New())
	c, _ := doJSON(e, http.MethodPost, "/availability/book", body)

	err := h.BookWithHold(c)
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestBookHandlerExpiredHoldIs409(t *testing.T) {
	e := echo.New()
	h, holds, _ := newHandlerTest(monday.Add(8 * time.Hour))

	holds.Create(context.Background(), &Hold{
		PractitionerID: uuid.New(), LocationID: uuid.New(),
		Start:     monday.Add(9 * time.Hour),
		End:       monday.Add(9*time.Hour + 30*time.Minute),
		Token:     "tok-old",
		ExpiresAt: monday, // already past
	})

	body := fmt.Sprintf(`{"hold_token":"tok-old","patient_id":"%s"}`, uuid.New())
	c, _ := doJSON(e, http.MethodPost, "/availability/book", body)

	err := h.BookWithHold(c)
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestBookHandlerHappyPath(t *testing.T) {
	e := echo.New()
	h, holds, _ := newHandlerTest(monday.Add(8 * time.Hour))

	start := monday.Add(9 * time.Hour)
	end := start.Add(30 * time.Minute)
	holds.Create(context.Background(), &Hold{
		PractitionerID: uuid.New(), LocationID: uuid.New(),
		Start: start, End: end,
		Token:     "tok-live",
		ExpiresAt: monday.Add(9 * time.Hour),
	})

	body := fmt.Sprintf(`{"hold_token":"tok-live","patient_id":"%s"}`, uuid.New())
	c, rec := doJSON(e, http.MethodPost, "/availability/book", body)

	if err := h.BookWithHold(c); err != nil {
		t.Fatalf("BookWithHold: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "confirmed" {
		t.Errorf("status = %q, want confirmed", resp.Status)
	}
	if resp.Start == nil || !resp.Start.Equal(start) {
		t.Errorf("start = %v, want hold start", resp.Start)
	}
}

func TestBookHandlerRequiresTokenAndPatient(t *testing.T) {
	e := echo.New()
	h, _, _ := newHandlerTest(monday)

	c, _ := doJSON(e, http.MethodPost, "/availability/book", `{}`)
	if code := httpStatus(t, h.BookWithHold(c)); code != http.StatusBadRequest {
		t.Errorf("empty body: status = %d, want 400", code)
	}

	body := fmt.Sprintf(`{"patient_id":"%s"}`, uuid.New())
	c, _ = doJSON(e, http.MethodPost, "/availability/book", body)
	if code := httpStatus(t, h.BookWithHold(c)); code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want 400", code)
	}
}

func TestSearchSlotsHandlerValidatesParams(t *testing.T) {
	e := echo.New()
	h, _, _ := newHandlerTest(monday)

	c, _ := doJSON(e, http.MethodGet, "/availability/slots?practitioner_id=bad", "")
	if code := httpStatus(t, h.SearchSlots(c)); code != http.StatusBadRequest {
		t.Errorf("bad practitioner_id: status = %d, want 400", code)
	}

	path := fmt.Sprintf("/availability/slots?practitioner_id=%s&location_id=%s&start=%s&end=%s&duration=-5",
		uuid.New(), uuid.New(),
		monday.Format(time.RFC3339), monday.Add(time.Hour).Format(time.RFC3339))
	c, _ = doJSON(e, http.MethodGet, path, "")
	if code := httpStatus(t, h.SearchSlots(c)); code != http.StatusBadRequest {
		t.Errorf("negative duration: status = %d, want 400", code)
	}
}
