package cache

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

func TestDecodeQuestions(t *testing.T) {
	in := []model.QuestionForStudent{{
		ID:           uuid.New(),
		QuestionType: model.QuestionTypeMultipleChoice,
		Prompt:       "2 + 2 = ?",
		Options:      map[string]string{"A": "4", "B": "5"},
		Points:       2,
		OrderNum:     1,
	}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "answer_key") {
		t.Fatal("cached payload carries an answer key")
	}

	out, err := decodeQuestions(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != in[0].ID || out[0].Options["A"] != "4" {
		t.Fatalf("decoded %+v", out)
	}

	empty, err := decodeQuestions([]byte("null"))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("null payload decoded to %#v (err %v)", empty, err)
	}

	if _, err := decodeQuestions([]byte("{broken")); err == nil {
		t.Fatal("corrupt payload decoded without error")
	}
}

func TestNewQuestionCache_DefaultTTL(t *testing.T) {
	c := NewQuestionCache(nil, 0)
	if c.ttl != 10*time.Minute {
		t.Fatalf("ttl = %v", c.ttl)
	}
}

func TestQuestionKeysSeparateGenerations(t *testing.T) {
	id := uuid.New().String()
	v0 := config.CacheKey.PacketQuestionsKey(id, 0)
	v1 := config.CacheKey.PacketQuestionsKey(id, 1)
	if v0 == v1 {
		t.Fatalf("generations share key %q", v0)
	}
	gen := config.CacheKey.PacketQuestionsGenKey(id)
	if gen == v0 || !strings.Contains(gen, id) {
		t.Fatalf("generation key %q", gen)
	}
}
