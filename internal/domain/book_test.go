package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func decodeMap(t *testing.T, b BookResult) map[string]any {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("невалидный JSON %s: %v", data, err)
	}
	return m
}

func TestMarshalAlwaysIncludesCoreFields(t *testing.T) {
	m := decodeMap(t, BookResult{ID: 1, BookID: "00001"})
	core := []string{"id", "bookid", "title", "author", "cover_uri", "translated", "copyrighter", "region", "location"}
	for _, k := range core {
		if _, ok := m[k]; !ok {
			t.Fatalf("ожидали поле %s в %v", k, m)
		}
	}
	if len(m) != len(core) {
		t.Fatalf("ожидали только ядро, получили %v", m)
	}
}

func TestCoverURIDerivedFromBookID(t *testing.T) {
	for _, id := range []string{"00666", "abc", ""} {
		b := BookResult{BookID: id}
		b.SetPrice(12.5)
		want := "https://api.rsywx.com/covers/" + id + ".jpg"
		if b.CoverURI() != want {
			t.Fatalf("ожидали %s, получили %s", want, b.CoverURI())
		}
		if got := decodeMap(t, b)["cover_uri"]; got != want {
			t.Fatalf("ожидали %s в JSON, получили %v", want, got)
		}
	}
}

func TestExplicitNullIsSerialized(t *testing.T) {
	b := BookResult{ID: 2, BookID: "00002"}
	b.SetNull(FieldLastVisited)
	m := decodeMap(t, b)
	v, ok := m["last_visited"]
	if !ok {
		t.Fatalf("ожидали last_visited в выдаче")
	}
	if v != nil {
		t.Fatalf("ожидали null, получили %v", v)
	}
	if _, ok := m["total_visits"]; ok {
		t.Fatalf("не ожидали total_visits")
	}
}

func TestTagsSortedAndDeduplicated(t *testing.T) {
	var b BookResult
	b.SetTags([]string{"经典", "文学", "经典"})
	if len(b.Tags) != 2 || b.Tags[0] != "文学" || b.Tags[1] != "经典" {
		t.Fatalf("неожиданные теги: %v", b.Tags)
	}
}

func TestRoundTripKeepsFieldSet(t *testing.T) {
	b := BookResult{ID: 3, BookID: "00003", Title: "书", Translated: true}
	b.SetPurchDate(time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC))
	b.SetTotalVisits(7)
	b.SetNull(FieldVisitCountry)
	b.SetTags([]string{"a"})
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	var back BookResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if back.Fields() != b.Fields() {
		t.Fatalf("маски полей различаются: %b != %b", back.Fields(), b.Fields())
	}
	if back.PurchDate == nil || back.PurchDate.Format(DateLayout) != "2020-02-29" {
		t.Fatalf("неожиданная дата покупки: %v", back.PurchDate)
	}
	again, _ := json.Marshal(back)
	if string(again) != string(data) {
		t.Fatalf("ожидали идентичный JSON:\n%s\n%s", data, again)
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 20, 41)
	if p.TotalPages != 3 {
		t.Fatalf("ожидали 3 страницы, получили %d", p.TotalPages)
	}
	if NewPagination(1, 20, 0).TotalPages != 0 {
		t.Fatalf("ожидали 0 страниц")
	}
}
