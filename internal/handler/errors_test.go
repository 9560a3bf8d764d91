package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   response.ErrCode
	}{
		{service.ErrSessionFinished, http.StatusConflict, response.ErrSessionFinished},
		{fmt.Errorf("%w: answer 3 has no question id", service.ErrMalformedAnswers), http.StatusBadRequest, response.ErrMalformedAnswers},
		{service.ErrNotPacketOwner, http.StatusForbidden, response.ErrNotPacketOwner},
		{service.ErrTokenExhausted, http.StatusServiceUnavailable, response.ErrTokenExhausted},
		{fmt.Errorf("finalize: %w", service.ErrSessionNotFound), http.StatusNotFound, response.ErrSessionNotFound},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}

func TestToUpserts(t *testing.T) {
	_, err := toUpserts([]model.AnswerInput{
		{QuestionID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", SelectedOption: "A"},
		{QuestionID: "bad"},
	})
	if !errors.Is(err, service.ErrMalformedAnswers) {
		t.Fatalf("err = %v, want ErrMalformedAnswers", err)
	}

	out, err := toUpserts([]model.AnswerInput{
		{QuestionID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", SelectedOption: "B"},
	})
	if err != nil {
		t.Fatalf("toUpserts: %v", err)
	}
	if len(out) != 1 || out[0].SelectedOption != "B" || out[0].QuestionID.String() != "7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Fatalf("out = %+v", out)
	}
}
