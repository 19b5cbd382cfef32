package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeDeadLetters struct {
	pending  int
	replayed int
	err      error
}

func (f *fakeDeadLetters) Len(ctx context.Context) (int, error) { return f.pending, nil }

func (f *fakeDeadLetters) ReplayDeadLetters(ctx context.Context) (int, error) {
	return f.replayed, f.err
}

func TestAdminHandler(t *testing.T) {
	t.Run("Pending", func(t *testing.T) {
		dl := &fakeDeadLetters{pending: 3}
		h := NewAdminHandler(dl, dl, testLogger())
		rr := httptest.NewRecorder()
		h.GetDeadLetters(rr, httptest.NewRequest(http.MethodGet, "/admin/deadletters", nil))
		if rr.Code != http.StatusOK || rr.Body.String() != "{\"pending\":3}\n" {
			t.Errorf("unexpected response %d %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Replay", func(t *testing.T) {
		dl := &fakeDeadLetters{replayed: 2}
		h := NewAdminHandler(dl, dl, testLogger())
		rr := httptest.NewRecorder()
		h.ReplayDeadLetters(rr, httptest.NewRequest(http.MethodPost, "/admin/deadletters/replay", nil))
		if rr.Code != http.StatusOK || rr.Body.String() != "{\"replayed\":2}\n" {
			t.Errorf("unexpected response %d %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Replay Failure", func(t *testing.T) {
		dl := &fakeDeadLetters{replayed: 1, err: errors.New("backend down")}
		h := NewAdminHandler(dl, dl, testLogger())
		rr := httptest.NewRecorder()
		h.ReplayDeadLetters(rr, httptest.NewRequest(http.MethodPost, "/admin/deadletters/replay", nil))
		if rr.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rr.Code)
		}
	})
}
