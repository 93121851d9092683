package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func testRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testDB(t)
	return newRouter(db, false, ""), db
}

func doJSON(t *testing.T, r *gin.Engine, method, path, userCookie string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: userCookie})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func grantSubscription(t *testing.T, db *gorm.DB, userID, subjectID uint) {
	t.Helper()
	sub := Subscription{UserID: userID, SubjectID: subjectID, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("grant subscription: %v", err)
	}
}

func TestExamFlow(t *testing.T) {
	r, db := testRouter(t)
	subject, paper, questions := seedCatalog(t, db)
	userA := createUser(t, db, "user-a")
	createUser(t, db, "user-b")
	grantSubscription(t, db, userA.ID, subject.ID)

	// unknown paper
	w := doJSON(t, r, "POST", "/api/v1/exams", "user-a", gin.H{"paperId": 9999})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown paper: expected 404, got %d", w.Code)
	}

	// no subscription
	w = doJSON(t, r, "POST", "/api/v1/exams", "user-b", gin.H{"paperId": paper.ID})
	if w.Code != http.StatusForbidden {
		t.Fatalf("unsubscribed start: expected 403, got %d", w.Code)
	}

	// start
	w = doJSON(t, r, "POST", "/api/v1/exams", "user-a", gin.H{"paperId": paper.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	started := decodeBody(t, w)
	sessionID, _ := started["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("expected a session id")
	}
	if started["questionCount"].(float64) != 2 {
		t.Errorf("expected questionCount=2, got %v", started["questionCount"])
	}

	// progress before any answers
	w = doJSON(t, r, "GET", "/api/v1/exams/"+sessionID+"/progress", "user-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d", w.Code)
	}
	progress := decodeBody(t, w)
	if progress["answeredCount"].(float64) != 0 {
		t.Errorf("expected answeredCount=0, got %v", progress["answeredCount"])
	}

	// submit by the wrong user
	answers := gin.H{"answers": []gin.H{
		{"questionId": questions[0].ID, "answer": "A"},
		{"questionId": questions[1].ID, "answer": "AB"},
	}}
	w = doJSON(t, r, "POST", "/api/v1/exams/"+sessionID+"/submit", "user-b", answers)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign submit: expected 403, got %d", w.Code)
	}

	// submit by the owner: one correct, one wrong
	w = doJSON(t, r, "POST", "/api/v1/exams/"+sessionID+"/submit", "user-a", answers)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decodeBody(t, w)
	if report["correctCount"].(float64) != 1 || report["wrongCount"].(float64) != 1 {
		t.Errorf("expected 1 correct / 1 wrong, got %v / %v", report["correctCount"], report["wrongCount"])
	}
	if report["totalCount"].(float64) != 2 {
		t.Errorf("expected totalCount=2, got %v", report["totalCount"])
	}
	if report["correctRate"].(float64) != 0.5 {
		t.Errorf("expected correctRate=0.5, got %v", report["correctRate"])
	}
	if report["score"].(float64) != 50 {
		t.Errorf("expected score=50, got %v", report["score"])
	}

	// a second submit is rejected, not re-scored
	w = doJSON(t, r, "POST", "/api/v1/exams/"+sessionID+"/submit", "user-a", answers)
	if w.Code != http.StatusConflict {
		t.Fatalf("resubmit: expected 409, got %d", w.Code)
	}

	// the miss landed in the wrong book exactly once
	var entries []WrongBookEntry
	if err := db.Where("user_id = ? AND removed = ?", userA.ID, false).Find(&entries).Error; err != nil {
		t.Fatalf("wrong book: %v", err)
	}
	if len(entries) != 1 || entries[0].QuestionID != questions[1].ID {
		t.Fatalf("expected one wrong-book entry for the missed question, got %+v", entries)
	}

	// replay the report
	w = doJSON(t, r, "GET", "/api/v1/exams/"+sessionID, "user-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", w.Code)
	}
	replay := decodeBody(t, w)
	if replay["correctCount"].(float64) != 1 {
		t.Errorf("replay: expected correctCount=1, got %v", replay["correctCount"])
	}
	if replay["score"].(float64) != 50 {
		t.Errorf("replay: expected score=50, got %v", replay["score"])
	}
}

// Two racing submits of one session: the conditional status flip must let
// exactly one through, so the loser never scores and never bumps the wrong
// book a second time.
func TestSubmitExamConcurrentResubmit(t *testing.T) {
	r, db := testRouter(t)
	subject, paper, questions := seedCatalog(t, db)
	userA := createUser(t, db, "user-a")
	grantSubscription(t, db, userA.ID, subject.ID)

	w := doJSON(t, r, "POST", "/api/v1/exams", "user-a", gin.H{"paperId": paper.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	sessionID := decodeBody(t, w)["sessionId"].(string)

	body, err := json.Marshal(gin.H{"answers": []gin.H{
		{"questionId": questions[0].ID, "answer": "A"},
		{"questionId": questions[1].ID, "answer": "AB"},
	}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/v1/exams/"+sessionID+"/submit", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.AddCookie(&http.Cookie{Name: cookieName, Value: "user-a"})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	okCount, conflictCount := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			okCount++
		case http.StatusConflict:
			conflictCount++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if okCount != 1 || conflictCount != 1 {
		t.Fatalf("expected one 200 and one 409, got %v", codes)
	}

	var entry WrongBookEntry
	if err := db.First(&entry, "user_id = ? AND question_id = ?", userA.ID, questions[1].ID).Error; err != nil {
		t.Fatalf("wrong book: %v", err)
	}
	if entry.WrongCount != 1 {
		t.Errorf("expected wrongCount=1 after racing submits, got %d", entry.WrongCount)
	}
	var events int64
	if err := db.Model(&AnswerEvent{}).Where("session_id = ?", sessionID).Count(&events).Error; err != nil {
		t.Fatalf("events: %v", err)
	}
	if events != 2 {
		t.Errorf("expected 2 answer events (one scoring pass), got %d", events)
	}
}

// Questions left unanswered count wrong in the score but leave no trace in
// the answer history or the wrong book.
func TestSubmitExamUnansweredQuestions(t *testing.T) {
	r, db := testRouter(t)
	subject, paper, questions := seedCatalog(t, db)
	userA := createUser(t, db, "user-a")
	grantSubscription(t, db, userA.ID, subject.ID)

	w := doJSON(t, r, "POST", "/api/v1/exams", "user-a", gin.H{"paperId": paper.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	sessionID := decodeBody(t, w)["sessionId"].(string)

	// answer only the first question
	w = doJSON(t, r, "POST", "/api/v1/exams/"+sessionID+"/submit", "user-a",
		gin.H{"answers": []gin.H{{"questionId": questions[0].ID, "answer": "A"}}})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decodeBody(t, w)
	if report["correctCount"].(float64) != 1 || report["wrongCount"].(float64) != 1 {
		t.Errorf("expected 1 correct / 1 wrong, got %v / %v", report["correctCount"], report["wrongCount"])
	}
	if report["totalCount"].(float64) != 2 {
		t.Errorf("expected totalCount=2, got %v", report["totalCount"])
	}

	var events int64
	if err := db.Model(&AnswerEvent{}).Where("user_id = ?", userA.ID).Count(&events).Error; err != nil {
		t.Fatalf("events: %v", err)
	}
	if events != 1 {
		t.Errorf("expected 1 answer event for 1 submitted answer, got %d", events)
	}
	var wrongs int64
	if err := db.Model(&WrongBookEntry{}).Where("user_id = ?", userA.ID).Count(&wrongs).Error; err != nil {
		t.Fatalf("wrong book: %v", err)
	}
	if wrongs != 0 {
		t.Errorf("unanswered question must not enter the wrong book, got %d entries", wrongs)
	}

	w = doJSON(t, r, "GET", "/api/v1/stats", "user-a", nil)
	stats := decodeBody(t, w)
	if stats["totalAnswered"].(float64) != 1 {
		t.Errorf("expected totalAnswered=1, got %v", stats["totalAnswered"])
	}
	if stats["todayAnswered"].(float64) != 1 {
		t.Errorf("expected todayAnswered=1, got %v", stats["todayAnswered"])
	}
}

// A practice answer carrying a session id may only reference the caller's
// own session; foreign or unknown ids must not feed another user's
// progress and replay views.
func TestPracticeAnswerSessionOwnership(t *testing.T) {
	r, db := testRouter(t)
	subject, paper, questions := seedCatalog(t, db)
	userA := createUser(t, db, "user-a")
	createUser(t, db, "user-b")
	grantSubscription(t, db, userA.ID, subject.ID)

	w := doJSON(t, r, "POST", "/api/v1/exams", "user-a", gin.H{"paperId": paper.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	sessionID := decodeBody(t, w)["sessionId"].(string)

	// another user cannot attach events to A's session
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-b",
		gin.H{"questionId": questions[0].ID, "answer": "A", "sessionId": sessionID})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign session: expected 403, got %d", w.Code)
	}

	// unknown session ids are rejected
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-b",
		gin.H{"questionId": questions[0].ID, "answer": "A", "sessionId": "no-such-session"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", w.Code)
	}

	// the owner may reference their own session
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[0].ID, "answer": "A", "sessionId": sessionID})
	if w.Code != http.StatusOK {
		t.Fatalf("own session: expected 200, got %d", w.Code)
	}

	// A's progress reflects only A's event
	w = doJSON(t, r, "GET", "/api/v1/exams/"+sessionID+"/progress", "user-a", nil)
	progress := decodeBody(t, w)
	if progress["answeredCount"].(float64) != 1 {
		t.Errorf("expected answeredCount=1, got %v", progress["answeredCount"])
	}
}

func TestPracticeAndWrongBookRoundTrip(t *testing.T) {
	r, db := testRouter(t)
	_, _, questions := seedCatalog(t, db)
	createUser(t, db, "user-a")

	// multi-select is order-insensitive: canonical "DB" accepts "BD"
	w := doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[1].ID, "answer": "BD"})
	if w.Code != http.StatusOK {
		t.Fatalf("practice: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["isCorrect"] != true {
		t.Errorf("expected BD to match canonical DB, got %v", resp["isCorrect"])
	}
	if resp["correctOption"] != "DB" {
		t.Errorf("expected correctOption=DB, got %v", resp["correctOption"])
	}

	// two misses on the same question collapse into one entry with count 2
	for i := 0; i < 2; i++ {
		w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
			gin.H{"questionId": questions[0].ID, "answer": "B"})
		if w.Code != http.StatusOK {
			t.Fatalf("practice miss: expected 200, got %d", w.Code)
		}
	}

	w = doJSON(t, r, "GET", "/api/v1/wrongbook", "user-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	list := decodeBody(t, w)
	if list["total"].(float64) != 1 {
		t.Fatalf("expected one wrong-book entry, got %v", list["total"])
	}
	items := list["items"].([]interface{})
	first := items[0].(map[string]interface{})
	if first["wrongCount"].(float64) != 2 {
		t.Errorf("expected wrongCount=2, got %v", first["wrongCount"])
	}
	entryID := uint(first["id"].(float64))

	// another user cannot remove it
	createUser(t, db, "user-b")
	w = doJSON(t, r, "DELETE", "/api/v1/wrongbook/"+itoa(entryID), "user-b", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign remove: expected 404, got %d", w.Code)
	}

	// the owner removes it
	w = doJSON(t, r, "DELETE", "/api/v1/wrongbook/"+itoa(entryID), "user-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", w.Code)
	}
	// removing twice reads as not-found
	w = doJSON(t, r, "DELETE", "/api/v1/wrongbook/"+itoa(entryID), "user-a", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double remove: expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, "GET", "/api/v1/wrongbook", "user-a", nil)
	list = decodeBody(t, w)
	if list["total"].(float64) != 0 {
		t.Fatalf("removed entry still listed: %v", list["total"])
	}

	// a later miss reinstates the entry with a fresh count
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[0].ID, "answer": "C"})
	if w.Code != http.StatusOK {
		t.Fatalf("miss after removal: expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, "GET", "/api/v1/wrongbook", "user-a", nil)
	list = decodeBody(t, w)
	if list["total"].(float64) != 1 {
		t.Fatalf("expected reinstated entry, got %v", list["total"])
	}
	items = list["items"].([]interface{})
	first = items[0].(map[string]interface{})
	if first["wrongCount"].(float64) != 1 {
		t.Errorf("reinstated entry should restart at wrongCount=1, got %v", first["wrongCount"])
	}
}

func TestGenerateWrongPaper(t *testing.T) {
	r, db := testRouter(t)
	subject, _, questions := seedCatalog(t, db)
	userA := createUser(t, db, "user-a")
	createUser(t, db, "user-b")
	grantSubscription(t, db, userA.ID, subject.ID)

	// empty wrong book: empty question list, not an error
	w := doJSON(t, r, "POST", "/api/v1/wrongbook/paper", "user-b", gin.H{"count": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("empty generate: expected 200, got %d", w.Code)
	}
	resp := decodeBody(t, w)
	if qs := resp["questions"].([]interface{}); len(qs) != 0 {
		t.Fatalf("expected no questions, got %d", len(qs))
	}

	// the count cap is enforced, not silently defaulted
	w = doJSON(t, r, "POST", "/api/v1/wrongbook/paper", "user-b", gin.H{"count": 500})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("over-cap count: expected 400, got %d", w.Code)
	}

	// one miss, then generate and submit the review session
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[0].ID, "answer": "B"})
	if w.Code != http.StatusOK {
		t.Fatalf("practice miss: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, "POST", "/api/v1/wrongbook/paper", "user-a", gin.H{"count": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", w.Code)
	}
	resp = decodeBody(t, w)
	sessionID, _ := resp["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("expected a session id")
	}
	qs := resp["questions"].([]interface{})
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}

	w = doJSON(t, r, "POST", "/api/v1/exams/"+sessionID+"/submit", "user-a",
		gin.H{"answers": []gin.H{{"questionId": questions[0].ID, "answer": "A"}}})
	if w.Code != http.StatusOK {
		t.Fatalf("submit review session: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decodeBody(t, w)
	if report["score"].(float64) != 100 {
		t.Errorf("expected score=100, got %v", report["score"])
	}
}

func TestPracticeStatsEndpoint(t *testing.T) {
	r, db := testRouter(t)
	_, _, questions := seedCatalog(t, db)
	createUser(t, db, "user-a")
	createUser(t, db, "user-b")

	// brand-new user: all zeros, no division fault
	w := doJSON(t, r, "GET", "/api/v1/stats", "user-b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	stats := decodeBody(t, w)
	for _, k := range []string{"totalAnswered", "correctCount", "correctRate", "wrongBookCount", "todayAnswered", "streakDays"} {
		if stats[k].(float64) != 0 {
			t.Errorf("new user: expected %s=0, got %v", k, stats[k])
		}
	}

	// one correct and one wrong practice answer today
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[0].ID, "answer": "A"})
	if w.Code != http.StatusOK {
		t.Fatalf("practice: expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, "POST", "/api/v1/practice/answer", "user-a",
		gin.H{"questionId": questions[1].ID, "answer": "A"})
	if w.Code != http.StatusOK {
		t.Fatalf("practice: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, "GET", "/api/v1/stats", "user-a", nil)
	stats = decodeBody(t, w)
	if stats["totalAnswered"].(float64) != 2 {
		t.Errorf("expected totalAnswered=2, got %v", stats["totalAnswered"])
	}
	if stats["correctCount"].(float64) != 1 {
		t.Errorf("expected correctCount=1, got %v", stats["correctCount"])
	}
	if stats["correctRate"].(float64) != 50 {
		t.Errorf("expected correctRate=50, got %v", stats["correctRate"])
	}
	if stats["wrongBookCount"].(float64) != 1 {
		t.Errorf("expected wrongBookCount=1, got %v", stats["wrongBookCount"])
	}
	if stats["todayAnswered"].(float64) != 2 {
		t.Errorf("expected todayAnswered=2, got %v", stats["todayAnswered"])
	}
	if stats["streakDays"].(float64) != 1 {
		t.Errorf("expected streakDays=1, got %v", stats["streakDays"])
	}
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
