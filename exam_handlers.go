package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

/*** Exam mode ***/

type StartExamReq struct {
	PaperID uint `json:"paperId" binding:"required"`
}

// StartExam opens a timed session against a paper. The caller must hold an
// active subscription for the paper's subject. Duration and total score are
// copied onto the session; the paper's question set is snapshotted so later
// catalog edits cannot change a running exam.
func StartExam(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		var req StartExamReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}

		var paper Paper
		if err := db.First(&paper, req.PaperID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
			return
		}
		active, err := hasActiveSubscription(db, uid, paper.SubjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		if !active {
			c.JSON(http.StatusForbidden, gin.H{"error": "no active subscription for subject"})
			return
		}

		var questionIDs []uint
		if err := db.Model(&Question{}).Where("paper_id = ?", paper.ID).
			Order("sort_order").Pluck("id", &questionIDs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		paperID := paper.ID
		session := ExamSession{
			ID:          uuid.New().String(),
			UserID:      uid,
			PaperID:     &paperID,
			DurationMin: paper.DurationMin,
			TotalScore:  paper.TotalScore,
			StartedAt:   time.Now(),
			Status:      SessionInProgress,
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&session).Error; err != nil {
				return err
			}
			for i, qid := range questionIDs {
				sq := SessionQuestion{SessionID: session.ID, QuestionID: qid, Position: i + 1}
				if err := tx.Create(&sq).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessionId":     session.ID,
			"paperName":     paper.Name,
			"duration":      session.DurationMin,
			"questionCount": len(questionIDs),
			"startAt":       session.StartedAt,
		})
	}
}

// Answers may cover only part of the paper; missing questions score as
// unanswered, they are not an error.
type SubmitExamReq struct {
	Answers []SubmittedAnswer `json:"answers"`
}

type SubmittedAnswer struct {
	QuestionID uint   `json:"questionId" binding:"required"`
	Answer     string `json:"answer" binding:"max=10"`
}

type AnswerDetail struct {
	QuestionID    uint   `json:"questionId"`
	Submitted     string `json:"submitted"`
	CorrectOption string `json:"correctOption"`
	IsCorrect     bool   `json:"isCorrect"`
	Analysis      string `json:"analysis"`
}

// errAlreadySubmitted signals a lost race on the in-progress -> submitted
// transition; the handler maps it to 409.
var errAlreadySubmitted = errors.New("session already submitted")

// SubmitExam scores a whole session in one shot. Questions without a
// submitted answer count as wrong in the score, but produce no answer event
// and no wrong-book entry (not answering is not a genuine miss, and a blank
// exam must not inflate the practice statistics). The answer-event batch,
// the wrong-book upserts and the status flip commit together or not at all.
// A session that is already submitted is rejected with 409 and never
// re-scored; the authoritative guard is the conditional status flip inside
// the transaction, so two concurrent submits cannot both score. A late
// submission (past the countdown) still scores normally.
func SubmitExam(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		sessionID := c.Param("id")

		var session ExamSession
		if err := db.First(&session, "id = ?", sessionID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if session.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if session.Status == SessionSubmitted {
			c.JSON(http.StatusConflict, gin.H{"error": "session already submitted"})
			return
		}

		var req SubmitExamReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		submitted := make(map[uint]string, len(req.Answers))
		for _, a := range req.Answers {
			submitted[a.QuestionID] = a.Answer
		}

		questions, err := sessionQuestions(db, session.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		subjectByPaper, err := paperSubjects(db, questions)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		now := time.Now()
		details := make([]AnswerDetail, 0, len(questions))
		correct := 0
		for _, q := range questions {
			answer := submitted[q.ID]
			ok := answer != "" && checkAnswer(q.Type, q.CorrectOption, answer)
			if ok {
				correct++
			}
			details = append(details, AnswerDetail{
				QuestionID:    q.ID,
				Submitted:     answer,
				CorrectOption: q.CorrectOption,
				IsCorrect:     ok,
				Analysis:      q.Analysis,
			})
		}
		total := len(questions)
		score := scorePoints(correct, total, session.TotalScore)

		err = db.Transaction(func(tx *gorm.DB) error {
			// claim the session first: a compare-and-set on status, so the
			// loser of a concurrent resubmit rolls back without scoring
			res := tx.Model(&ExamSession{}).
				Where("id = ? AND status = ?", session.ID, SessionInProgress).
				Updates(map[string]interface{}{
					"status":       SessionSubmitted,
					"score":        score,
					"submitted_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errAlreadySubmitted
			}

			sid := session.ID
			for i, q := range questions {
				if details[i].Submitted == "" {
					continue // unanswered: scored wrong, but no event, no wrong-book row
				}
				event := AnswerEvent{
					UserID:     uid,
					PaperID:    q.PaperID,
					QuestionID: q.ID,
					Submitted:  details[i].Submitted,
					IsCorrect:  details[i].IsCorrect,
					Mode:       ModeExam,
					SessionID:  &sid,
					AnsweredAt: now,
				}
				if err := tx.Create(&event).Error; err != nil {
					return err
				}
				if !details[i].IsCorrect {
					if err := recordWrong(tx, uid, q.ID, subjectByPaper[q.PaperID], now); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if errors.Is(err, errAlreadySubmitted) {
			c.JSON(http.StatusConflict, gin.H{"error": "session already submitted"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"score":        score,
			"correctCount": correct,
			"wrongCount":   total - correct,
			"totalCount":   total,
			"correctRate":  correctRate(correct, total),
			"details":      details,
		})
	}
}

// ExamProgress reports how many session questions have an answer event and
// the clamped countdown. Expiry is informational only: nothing is enforced
// here, a late submit still goes through SubmitExam.
func ExamProgress(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		sessionID := c.Param("id")

		var session ExamSession
		if err := db.First(&session, "id = ?", sessionID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if session.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		var total int64
		if err := db.Model(&SessionQuestion{}).Where("session_id = ?", session.ID).
			Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		var answered int64
		if err := db.Model(&AnswerEvent{}).
			Where("session_id = ?", session.ID).
			Distinct("question_id").
			Count(&answered).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessionId":     session.ID,
			"status":        session.Status,
			"answeredCount": answered,
			"totalCount":    total,
			"remainingSec":  remainingSeconds(session.StartedAt, session.DurationMin, time.Now()),
		})
	}
}

// ===== Session history: list & replay (read-only) =====

// ListMySessions returns the caller's sessions with pagination.
// Query params: ?limit=20&offset=0 (limit default 20, max 100)
func ListMySessions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}

		limit := 20
		offset := 0
		if l := c.Query("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				if n > 100 {
					n = 100
				}
				limit = n
			}
		}
		if o := c.Query("offset"); o != "" {
			if n, err := strconv.Atoi(o); err == nil && n >= 0 {
				offset = n
			}
		}

		var total int64
		if err := db.Model(&ExamSession{}).Where("user_id = ?", uid).Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		var sessions []ExamSession
		if err := db.Where("user_id = ?", uid).
			Order("started_at DESC").
			Limit(limit).Offset(offset).
			Find(&sessions).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		// paper names for paper-backed sessions
		paperIDs := make([]uint, 0, len(sessions))
		for _, s := range sessions {
			if s.PaperID != nil {
				paperIDs = append(paperIDs, *s.PaperID)
			}
		}
		names := map[uint]string{}
		if len(paperIDs) > 0 {
			var papers []Paper
			if err := db.Where("id IN ?", paperIDs).Find(&papers).Error; err == nil {
				for _, p := range papers {
					names[p.ID] = p.Name
				}
			}
		}

		// question count per session
		counts := map[string]int{}
		sessionIDs := make([]string, 0, len(sessions))
		for _, s := range sessions {
			sessionIDs = append(sessionIDs, s.ID)
		}
		if len(sessionIDs) > 0 {
			type Row struct {
				SessionID string
				C         int
			}
			var rows []Row
			if err := db.Table("session_questions").
				Select("session_id as session_id, COUNT(*) as c").
				Where("session_id IN ?", sessionIDs).
				Group("session_id").
				Scan(&rows).Error; err == nil {
				for _, r := range rows {
					counts[r.SessionID] = r.C
				}
			}
		}

		type SessionSummaryDTO struct {
			ID            string     `json:"id"`
			PaperName     string     `json:"paperName,omitempty"`
			StartedAt     time.Time  `json:"startedAt"`
			SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
			DurationMin   int        `json:"durationMin"`
			Status        int        `json:"status"`
			Score         *int       `json:"score,omitempty"`
			QuestionCount int        `json:"questionCount"`
		}

		items := make([]SessionSummaryDTO, 0, len(sessions))
		for _, s := range sessions {
			name := "Wrong-book review"
			if s.PaperID != nil {
				name = names[*s.PaperID]
			}
			items = append(items, SessionSummaryDTO{
				ID:            s.ID,
				PaperName:     name,
				StartedAt:     s.StartedAt,
				SubmittedAt:   s.SubmittedAt,
				DurationMin:   s.DurationMin,
				Status:        s.Status,
				Score:         s.Score,
				QuestionCount: counts[s.ID],
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"total":  total,
			"limit":  limit,
			"offset": offset,
			"items":  items,
		})
	}
}

// GetMySession rebuilds the score report of an owned session from its
// answer events (read-only replay of the SubmitExam response).
func GetMySession(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		sessionID := c.Param("id")

		var session ExamSession
		if err := db.First(&session, "id = ?", sessionID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if session.UserID != uid {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		questions, err := sessionQuestions(db, session.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		var events []AnswerEvent
		if err := db.Where("session_id = ?", session.ID).
			Order("answered_at ASC, id ASC").
			Find(&events).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		// latest event per question wins
		latest := map[uint]AnswerEvent{}
		for _, e := range events {
			latest[e.QuestionID] = e
		}

		details := make([]AnswerDetail, 0, len(questions))
		correct := 0
		for _, q := range questions {
			e := latest[q.ID]
			if e.IsCorrect {
				correct++
			}
			details = append(details, AnswerDetail{
				QuestionID:    q.ID,
				Submitted:     e.Submitted,
				CorrectOption: q.CorrectOption,
				IsCorrect:     e.IsCorrect,
				Analysis:      q.Analysis,
			})
		}
		total := len(questions)

		c.JSON(http.StatusOK, gin.H{
			"sessionId":    session.ID,
			"startedAt":    session.StartedAt,
			"submittedAt":  session.SubmittedAt,
			"durationMin":  session.DurationMin,
			"status":       session.Status,
			"score":        session.Score,
			"correctCount": correct,
			"wrongCount":   total - correct,
			"totalCount":   total,
			"correctRate":  correctRate(correct, total),
			"details":      details,
		})
	}
}

// sessionQuestions loads a session's snapshotted questions in position order.
func sessionQuestions(db *gorm.DB, sessionID string) ([]Question, error) {
	var sqs []SessionQuestion
	if err := db.Where("session_id = ?", sessionID).Order("position").Find(&sqs).Error; err != nil {
		return nil, err
	}
	if len(sqs) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(sqs))
	for _, sq := range sqs {
		ids = append(ids, sq.QuestionID)
	}
	var qs []Question
	if err := db.Where("id IN ?", ids).Find(&qs).Error; err != nil {
		return nil, err
	}
	index := map[uint]Question{}
	for _, q := range qs {
		index[q.ID] = q
	}
	out := make([]Question, 0, len(sqs))
	for _, sq := range sqs {
		if q, ok := index[sq.QuestionID]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// paperSubjects maps each involved paper id to its subject id. Wrong-paper
// sessions mix questions from several papers, so this cannot be read off
// the session itself.
func paperSubjects(db *gorm.DB, questions []Question) (map[uint]uint, error) {
	ids := make([]uint, 0, len(questions))
	seen := map[uint]bool{}
	for _, q := range questions {
		if !seen[q.PaperID] {
			seen[q.PaperID] = true
			ids = append(ids, q.PaperID)
		}
	}
	out := map[uint]uint{}
	if len(ids) == 0 {
		return out, nil
	}
	var papers []Paper
	if err := db.Where("id IN ?", ids).Find(&papers).Error; err != nil {
		return nil, err
	}
	for _, p := range papers {
		out[p.ID] = p.SubjectID
	}
	return out, nil
}
