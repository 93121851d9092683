package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

/*** DTOs shared across handlers ***/

// QuestionDTO is the pre-submission view: correct option and analysis are
// only revealed after an answer (or in a score report).
type QuestionDTO struct {
	ID        uint        `json:"id"`
	Type      string      `json:"type"` // "single" | "multi"
	Content   string      `json:"content"`
	SortOrder int         `json:"sortOrder"`
	Options   []OptionDTO `json:"options"`
}

type OptionDTO struct {
	Key   string `json:"key"` // "A".."D"
	Label string `json:"label"`
}

func toQuestionDTO(q Question) QuestionDTO {
	opts := make([]OptionDTO, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, OptionDTO{Key: o.OptionKey, Label: o.Label})
	}
	return QuestionDTO{
		ID: q.ID, Type: q.Type, Content: q.Content, SortOrder: q.SortOrder, Options: opts,
	}
}

/*** Subscription gate ***/

// hasActiveSubscription is the access check consulted before timed exams
// and subject-scoped listings. Subscription rows come from the payment
// flow; this core only reads them.
func hasActiveSubscription(db *gorm.DB, userID, subjectID uint) (bool, error) {
	var count int64
	err := db.Model(&Subscription{}).
		Where("user_id = ? AND subject_id = ? AND expires_at > ?", userID, subjectID, time.Now()).
		Count(&count).Error
	return count > 0, err
}

/*** Catalog ***/

func ListSubjects(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}

		var subjects []Subject
		if err := db.Order("id").Find(&subjects).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		type SubjectDTO struct {
			ID         uint   `json:"id"`
			Name       string `json:"name"`
			Subscribed bool   `json:"subscribed"`
		}
		out := make([]SubjectDTO, 0, len(subjects))
		for _, s := range subjects {
			active, err := hasActiveSubscription(db, uid, s.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
				return
			}
			out = append(out, SubjectDTO{ID: s.ID, Name: s.Name, Subscribed: active})
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListPapers returns the papers of one subject; requires an active
// subscription for that subject.
func ListPapers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		subjectID, err := strconv.ParseUint(c.Query("subjectId"), 10, 64)
		if err != nil || subjectID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subjectId required"})
			return
		}

		var subject Subject
		if err := db.First(&subject, subjectID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
			return
		}
		active, err := hasActiveSubscription(db, uid, subject.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		if !active {
			c.JSON(http.StatusForbidden, gin.H{"error": "no active subscription for subject"})
			return
		}

		var papers []Paper
		if err := db.Where("subject_id = ? AND type <> ?", subject.ID, PaperTypeWrong).
			Order("year DESC, id").Find(&papers).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		type PaperDTO struct {
			ID            uint   `json:"id"`
			Name          string `json:"name"`
			Type          string `json:"type"`
			Year          int    `json:"year"`
			QuestionCount int    `json:"questionCount"`
			TotalScore    int    `json:"totalScore"`
			DurationMin   int    `json:"durationMin"`
			Difficulty    int    `json:"difficulty"`
		}
		out := make([]PaperDTO, 0, len(papers))
		for _, p := range papers {
			out = append(out, PaperDTO{
				ID: p.ID, Name: p.Name, Type: p.Type, Year: p.Year,
				QuestionCount: p.QuestionCount, TotalScore: p.TotalScore,
				DurationMin: p.DurationMin, Difficulty: p.Difficulty,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// PaperQuestions lists a paper's questions without correct options.
func PaperQuestions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		paperID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad paper id"})
			return
		}

		var paper Paper
		if err := db.First(&paper, paperID).Error; err != nil {
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

		var questions []Question
		if err := db.Preload("Options", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order") }).
			Where("paper_id = ?", paper.ID).Order("sort_order").Find(&questions).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		out := make([]QuestionDTO, 0, len(questions))
		for _, q := range questions {
			out = append(out, toQuestionDTO(q))
		}
		c.JSON(http.StatusOK, gin.H{
			"paperId":   paper.ID,
			"paperName": paper.Name,
			"questions": out,
		})
	}
}

/*** Practice mode ***/

type SubmitAnswerReq struct {
	QuestionID uint    `json:"questionId" binding:"required"`
	Answer     string  `json:"answer" binding:"required,min=1,max=10"`
	SessionID  *string `json:"sessionId"`
}

// SubmitAnswer checks one practice answer, appends the answer event and,
// on a miss, bumps the wrong book, both inside one transaction. The
// correct option and analysis are always revealed once answered.
func SubmitAnswer(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		var req SubmitAnswerReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}

		var q Question
		if err := db.First(&q, req.QuestionID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
			return
		}
		var paper Paper
		if err := db.First(&paper, q.PaperID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
			return
		}

		// a supplied session must exist and belong to the caller; events on
		// a session id feed its owner's progress and replay views
		if req.SessionID != nil {
			var session ExamSession
			if err := db.First(&session, "id = ?", *req.SessionID).Error; err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			if session.UserID != uid {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}

		isCorrect := checkAnswer(q.Type, q.CorrectOption, req.Answer)

		err := db.Transaction(func(tx *gorm.DB) error {
			event := AnswerEvent{
				UserID:     uid,
				PaperID:    q.PaperID,
				QuestionID: q.ID,
				Submitted:  req.Answer,
				IsCorrect:  isCorrect,
				Mode:       ModePractice,
				SessionID:  req.SessionID,
				AnsweredAt: time.Now(),
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}
			if !isCorrect {
				return recordWrong(tx, uid, q.ID, paper.SubjectID, event.AnsweredAt)
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"isCorrect":     isCorrect,
			"correctOption": q.CorrectOption,
			"analysis":      q.Analysis,
		})
	}
}

/*** Subscriptions (dev/admin glue; payment flow lives elsewhere) ***/

type GrantSubscriptionReq struct {
	SubjectID uint `json:"subjectId" binding:"required"`
	Days      int  `json:"days" binding:"required,min=1,max=3650"`
}

func GrantSubscription(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := currentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no user"})
			return
		}
		var req GrantSubscriptionReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		var subject Subject
		if err := db.First(&subject, req.SubjectID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
			return
		}

		sub := Subscription{
			UserID:    uid,
			SubjectID: subject.ID,
			ExpiresAt: time.Now().AddDate(0, 0, req.Days),
		}
		if err := db.Create(&sub).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subjectId": subject.ID, "expiresAt": sub.ExpiresAt})
	}
}
