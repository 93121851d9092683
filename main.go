package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	// optional .env for local development
	_ = godotenv.Load()

	// 1) DB (retried so a container can come up before its volume does)
	dbPath := getenvDefault("DB_PATH", "prep.db")
	var db *gorm.DB
	openRetry := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
	if err := openRetry.Do(func() error {
		var err error
		db, err = OpenDB(dbPath)
		return err
	}); err != nil {
		log.Fatalf("open db: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// 2) Seed the catalog (if empty)
	if isEmpty, _ := IsCatalogEmpty(db); isEmpty {
		path := getenvDefault("SEED_PATH", "data/catalog.json")
		if _, err := os.Stat(path); err == nil {
			if err := SeedFromJSON(db, path); err != nil {
				log.Fatalf("seed: %v", err)
			}
			log.Printf("Seeded catalog from %s", path)
		} else {
			log.Printf("No seed file at %s; running with empty catalog", path)
		}
	}

	// 3) Router
	secureCookies := os.Getenv("SECURE_COOKIES") == "true"
	r := newRouter(db, secureCookies, getenvDefault("ALLOWED_ORIGIN", ""))

	// --- Server ---
	port := getenvDefault("PORT", "8080")
	log.Printf("Listening on :%s (SecureCookies=%v)", port, secureCookies)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func newRouter(db *gorm.DB, secureCookies bool, allowedOrigin string) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if allowedOrigin != "" && origin == allowedOrigin {
				return true
			}
			// allow any http://localhost:PORT during development
			return strings.HasPrefix(origin, "http://localhost:")
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(EnsureUser(db, secureCookies))

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	// --- API routes ---
	api := r.Group("/api/v1")
	{
		// Catalog
		api.GET("/subjects", ListSubjects(db))
		api.GET("/papers", ListPapers(db))
		api.GET("/papers/:id/questions", PaperQuestions(db))

		// Practice mode
		api.POST("/practice/answer", SubmitAnswer(db))

		// Exam mode
		api.POST("/exams", StartExam(db))
		api.POST("/exams/:id/submit", SubmitExam(db))
		api.GET("/exams/:id/progress", ExamProgress(db))
		api.GET("/exams", ListMySessions(db))
		api.GET("/exams/:id", GetMySession(db))

		// Wrong book
		api.GET("/wrongbook", ListWrongBook(db))
		api.DELETE("/wrongbook/:id", RemoveWrongBook(db))
		api.POST("/wrongbook/paper", GenerateWrongPaper(db))

		// Stats
		api.GET("/stats", PracticeStats(db))

		// Subscriptions (dev/admin glue)
		api.POST("/subscriptions", GrantSubscription(db))

		// User profile
		api.GET("/me", GetMe(db))
		api.PUT("/me", UpdateMe(db))
		api.GET("/me/export-key", ExportKey(db))
		api.POST("/me/restore", RestoreAccount(db, secureCookies))
	}

	return r
}

func getenvDefault(k, fallback string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fallback
}
