package main

import (
	"time"
)

// --- User ---

type User struct {
	ID          uint   `gorm:"primaryKey"`
	PublicID    string `gorm:"uniqueIndex;size:36;not null"` // UUID carried in the cookie
	DisplayName *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// --- Catalog ---

type Subject struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

// Subscription grants a user access to one subject until ExpiresAt.
// Rows are created by the payment flow (or the dev grant endpoint);
// this core only reads them.
type Subscription struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	SubjectID uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}

const (
	PaperTypeReal  = "real"
	PaperTypeMock  = "mock"
	PaperTypeWrong = "wrong" // synthesized from the wrong book
)

type Paper struct {
	ID            uint   `gorm:"primaryKey"`
	SubjectID     uint   `gorm:"index;not null"`
	Name          string `gorm:"not null"`
	Type          string `gorm:"size:16;not null"` // "real" | "mock" | "wrong"
	Year          int
	QuestionCount int
	TotalScore    int `gorm:"not null;default:100"`
	DurationMin   int `gorm:"not null"` // 0 = untimed
	Difficulty    int
	Questions     []Question
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	QuestionTypeSingle = "single"
	QuestionTypeMulti  = "multi"
)

type Question struct {
	ID            uint   `gorm:"primaryKey"`
	PaperID       uint   `gorm:"index;not null"`
	Type          string `gorm:"size:16;not null"` // "single" | "multi"
	Content       string `gorm:"not null"`
	Options       []Option
	CorrectOption string `gorm:"size:10;not null"` // concatenated keys, e.g. "A" or "BDC" (unsorted)
	Analysis      string
	SortOrder     int `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Option struct {
	ID         uint   `gorm:"primaryKey"`
	QuestionID uint   `gorm:"index;not null"`
	OptionKey  string `gorm:"size:4;not null"` // "A","B","C","D"
	Label      string `gorm:"not null"`
	SortOrder  int    `gorm:"not null"`
}

// --- Answer history ---

const (
	ModePractice = "practice"
	ModeExam     = "exam"
)

// AnswerEvent is append-only: rows are never updated or deleted, and
// IsCorrect is fixed at insert time even if question content changes later.
type AnswerEvent struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"index;not null"`
	PaperID    uint      `gorm:"not null"`
	QuestionID uint      `gorm:"not null"`
	Submitted  string    `gorm:"size:10;not null"`
	IsCorrect  bool      `gorm:"not null"`
	Mode       string    `gorm:"size:16;not null"` // "practice" | "exam"
	SessionID  *string   `gorm:"index;size:36"`    // nil for pure practice
	AnsweredAt time.Time `gorm:"not null"`
}

// WrongBookEntry keeps one row per (user, question); repeated misses bump
// WrongCount instead of inserting. WrongCount is a lifetime miss counter:
// answering correctly later never decrements it.
type WrongBookEntry struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"uniqueIndex:uq_wrongbook_user_question;not null"`
	QuestionID  uint      `gorm:"uniqueIndex:uq_wrongbook_user_question;not null"`
	SubjectID   uint      `gorm:"index;not null"`
	WrongCount  int       `gorm:"not null;default:1"`
	LastWrongAt time.Time `gorm:"not null"`
	Removed     bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time
}

// --- Exam sessions ---

const (
	SessionInProgress = 1
	SessionSubmitted  = 2
)

type ExamSession struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      uint      `gorm:"index;not null"`
	PaperID     *uint     // nil for wrong-book papers
	DurationMin int       `gorm:"not null"` // 0 = untimed
	TotalScore  int       `gorm:"not null"`
	StartedAt   time.Time `gorm:"not null"`
	Status      int       `gorm:"not null"` // 1 in-progress, 2 submitted
	Score       *int
	SubmittedAt *time.Time
}

// SessionQuestion snapshots the question set of one session so that
// paper-backed exams and synthesized wrong-papers score the same way.
type SessionQuestion struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"index;size:36;not null"`
	QuestionID uint   `gorm:"not null"`
	Position   int    `gorm:"not null"` // 1..N
}
